// Package confidence turns check outcomes into a 0-100 trust score.
//
// Two factor sets exist. Identity documents are scored almost entirely on the
// registry check; everything else on a weighted blend of portal, digital and
// forensic checks. A failed forensic check subtracts in proportion to its risk
// score on the standard path but by a flat penalty on the identity path.
package confidence

import "math"

// Recommendation is the calculator's verdict for a score.
type Recommendation string

const (
	RecommendAccept Recommendation = "ACCEPT"
	RecommendReview Recommendation = "REVIEW"
	RecommendReject Recommendation = "REJECT"
)

const (
	AcceptThreshold = 70.0
	ReviewThreshold = 40.0
	MaxScore        = 100.0
)

// Factor names used in Result.Breakdown.
const (
	FactorIdentity              = "identity"
	FactorPortal                = "issuer_portal"
	FactorDigital               = "digital_authenticity"
	FactorForensic              = "forensic"
	FactorQR                    = "qr_code"
	FactorSignature             = "digital_signature"
	FactorSupplementaryIdentity = "supplementary_identity"
)

// Weights are the points each factor contributes when it passes.
type Weights struct {
	Portal                  float64
	Digital                 float64
	Forensic                float64
	QR                      float64
	Signature               float64
	SupplementaryIdentity   float64
	Identity                float64
	IdentityForensicBonus   float64
	IdentityForensicPenalty float64
}

func DefaultWeights() Weights {
	return Weights{
		Portal:                  50,
		Digital:                 20,
		Forensic:                20,
		QR:                      5,
		Signature:               5,
		SupplementaryIdentity:   10,
		Identity:                80,
		IdentityForensicBonus:   20,
		IdentityForensicPenalty: 10,
	}
}

// Check is the outcome of one check. Ran is false when the check was not
// applicable or never produced a usable answer.
type Check struct {
	Ran    bool
	Passed bool
}

func Passed() Check { return Check{Ran: true, Passed: true} }
func Failed() Check { return Check{Ran: true} }

// ForensicCheck carries the analyzer's risk score (0-100) alongside the outcome.
type ForensicCheck struct {
	Check
	RiskScore float64
}

// FactorSet is implemented by IdentityFactors and StandardFactors only.
type FactorSet interface {
	factorSet()
}

// IdentityFactors scores national identity documents.
type IdentityFactors struct {
	Identity Check
	Forensic *ForensicCheck
}

// StandardFactors scores every other document.
type StandardFactors struct {
	Portal                Check
	Digital               Check
	Forensic              ForensicCheck
	QRValid               bool
	SignatureValid        bool
	SupplementaryIdentity []Check
}

func (IdentityFactors) factorSet() {}
func (StandardFactors) factorSet() {}

// Contribution is one line of the score breakdown.
type Contribution struct {
	Factor string  `json:"factor"`
	Weight float64 `json:"weight"`
	Ran    bool    `json:"ran"`
	Passed bool    `json:"passed"`
	Points float64 `json:"points"`
}

type Result struct {
	Score          float64        `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Breakdown      []Contribution `json:"breakdown"`
}

// Calculator is safe for concurrent use.
type Calculator struct {
	weights Weights
}

func New(weights Weights) *Calculator {
	return &Calculator{weights: weights}
}

func NewDefault() *Calculator {
	return New(DefaultWeights())
}

func (c *Calculator) Weights() Weights { return c.weights }

// Calculate is deterministic: the same factors always give the same result.
func (c *Calculator) Calculate(fs FactorSet) Result {
	var breakdown []Contribution
	switch f := fs.(type) {
	case IdentityFactors:
		breakdown = c.identity(f)
	case *IdentityFactors:
		breakdown = c.identity(*f)
	case StandardFactors:
		breakdown = c.standard(f)
	case *StandardFactors:
		breakdown = c.standard(*f)
	}

	var sum float64
	for _, part := range breakdown {
		sum += part.Points
	}
	score := clamp(round2(sum))
	return Result{
		Score:          score,
		Recommendation: Recommend(score),
		Breakdown:      breakdown,
	}
}

func (c *Calculator) identity(f IdentityFactors) []Contribution {
	out := []Contribution{award(FactorIdentity, c.weights.Identity, f.Identity)}
	if f.Forensic != nil && f.Forensic.Ran {
		part := Contribution{Factor: FactorForensic, Weight: c.weights.IdentityForensicBonus, Ran: true, Passed: f.Forensic.Passed}
		if f.Forensic.Passed {
			part.Points = c.weights.IdentityForensicBonus
		} else {
			part.Points = -c.weights.IdentityForensicPenalty
		}
		out = append(out, part)
	}
	return out
}

func (c *Calculator) standard(f StandardFactors) []Contribution {
	out := []Contribution{
		award(FactorPortal, c.weights.Portal, f.Portal),
		award(FactorDigital, c.weights.Digital, f.Digital),
	}

	forensic := Contribution{Factor: FactorForensic, Weight: c.weights.Forensic, Ran: f.Forensic.Ran, Passed: f.Forensic.Passed}
	switch {
	case f.Forensic.Ran && f.Forensic.Passed:
		forensic.Points = c.weights.Forensic
	case f.Forensic.Ran:
		risk := math.Max(0, math.Min(MaxScore, f.Forensic.RiskScore))
		forensic.Points = -risk / MaxScore * c.weights.Forensic
	}
	out = append(out, forensic,
		award(FactorQR, c.weights.QR, Check{Ran: f.QRValid, Passed: f.QRValid}),
		award(FactorSignature, c.weights.Signature, Check{Ran: f.SignatureValid, Passed: f.SignatureValid}),
	)
	for _, id := range f.SupplementaryIdentity {
		out = append(out, award(FactorSupplementaryIdentity, c.weights.SupplementaryIdentity, id))
	}
	return out
}

func award(factor string, weight float64, chk Check) Contribution {
	part := Contribution{Factor: factor, Weight: weight, Ran: chk.Ran, Passed: chk.Ran && chk.Passed}
	if part.Passed {
		part.Points = weight
	}
	return part
}

// Recommend maps a score onto the accept/review/reject bands.
func Recommend(score float64) Recommendation {
	switch {
	case score >= AcceptThreshold:
		return RecommendAccept
	case score >= ReviewThreshold:
		return RecommendReview
	default:
		return RecommendReject
	}
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(MaxScore, score))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
