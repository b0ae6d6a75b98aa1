package evidence

import (
	"veritas/internal/verification/providers"
)

// Observation is what a pipeline saw from one provider call: a result, an
// error, or both nil when the provider returned nothing.
type Observation[T any] struct {
	Result *T
	Err    error
}

// IdentityObservation tags an identity call with the registry it targeted.
type IdentityObservation struct {
	Kind providers.IdentityKind
	Observation[providers.IdentityResult]
}

// Responses holds whichever checks ran. Nil fields mean the check did not
// apply and are left out of the record.
type Responses struct {
	Digital  *Observation[providers.DigitalResult]
	Portal   *Observation[providers.PortalResult]
	Forensic *Observation[providers.ForensicResult]
	Identity []IdentityObservation
}

// Collect builds the record in a fixed order: digital, portal, forensic, identity.
func Collect(in Responses) Record {
	var rec Record

	if in.Digital != nil {
		rec.add(collect(KindDigital, *in.Digital, func(r *providers.DigitalResult) (Detail, bool) {
			d := DigitalDetail{Status: r.Status, Authentic: r.Authentic, QRValid: r.QRValid, SignatureValid: r.SignatureValid, Reason: r.Reason}
			return d, r.Status == providers.StatusSuccess && r.Authentic
		}, func(r *providers.DigitalResult) []byte { return providers.RawPayload(r.Raw, r) }))
	}

	if in.Portal != nil {
		rec.add(collect(KindPortal, *in.Portal, func(r *providers.PortalResult) (Detail, bool) {
			d := PortalDetail{Status: r.Status, Found: r.Found, IssuerName: r.IssuerName, MatchedFields: r.MatchedFields, Reason: r.Reason}
			return d, r.Found
		}, func(r *providers.PortalResult) []byte { return providers.RawPayload(r.Raw, r) }))
	}

	if in.Forensic != nil {
		rec.add(collect(KindForensic, *in.Forensic, func(r *providers.ForensicResult) (Detail, bool) {
			d := ForensicDetail{Status: r.Status, RiskScore: r.RiskScore, Recommendation: r.Recommendation, Findings: r.Findings, Reason: r.Reason}
			return d, r.Recommendation == providers.RecommendAccept
		}, func(r *providers.ForensicResult) []byte { return providers.RawPayload(r.Raw, r) }))
	}

	for _, obs := range in.Identity {
		item := collect(KindIdentity, obs.Observation, func(r *providers.IdentityResult) (Detail, bool) {
			d := IdentityDetail{IdentityKind: obs.Kind, Status: r.Status, Verified: r.Verified, Reason: r.Reason}
			return d, r.Status == providers.StatusSuccess && r.Verified
		}, func(r *providers.IdentityResult) []byte { return providers.RawPayload(r.Raw, r) })
		if item.Detail == nil {
			item.Detail = IdentityDetail{IdentityKind: obs.Kind}
		}
		rec.add(item)
	}

	return rec
}

func collect[T any](kind Kind, obs Observation[T], classify func(*T) (Detail, bool), raw func(*T) []byte) Item {
	item := Item{Kind: kind}
	switch {
	case obs.Err != nil:
		item.Outcome = OutcomeError
		item.Error = obs.Err.Error()
		item.ErrorCategory = string(providers.GetCategory(obs.Err))
		if obs.Result != nil {
			item.Detail, _ = classify(obs.Result)
			item.Raw = raw(obs.Result)
		}
	case obs.Result == nil:
		item.Outcome = OutcomeError
		item.Error = "provider returned no result"
	default:
		detail, passed := classify(obs.Result)
		item.Detail = detail
		item.Raw = raw(obs.Result)
		item.Outcome = OutcomeFailed
		if passed {
			item.Outcome = OutcomePassed
		}
	}
	return item
}

func (r *Record) add(item Item) {
	r.Items = append(r.Items, item)
	r.TotalChecks++
	if item.Passed() {
		r.PassedChecks++
	} else {
		r.FailedChecks++
	}
}
