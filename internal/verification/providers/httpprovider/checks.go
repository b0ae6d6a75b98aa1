package httpprovider

import (
	"context"

	certModels "veritas/internal/certificate/models"
	"veritas/internal/verification/providers"
)

// Digital checks QR codes and signatures at POST {base}/v1/authenticity.
type Digital struct{ *Client }

func NewDigital(baseURL string, opts ...Option) *Digital {
	return &Digital{New("digital-authenticity", baseURL, opts...)}
}

func (d *Digital) CheckAuthenticity(ctx context.Context, cert *certModels.Certificate) (*providers.DigitalResult, error) {
	var res providers.DigitalResult
	raw, err := d.post(ctx, "/v1/authenticity", newCheckRequest(cert), &res)
	if err != nil {
		return nil, err
	}
	res.Raw = raw
	return &res, nil
}

// Portal queries the issuer registry at POST {base}/v1/lookup.
type Portal struct{ *Client }

func NewPortal(baseURL string, opts ...Option) *Portal {
	return &Portal{New("issuer-portal", baseURL, opts...)}
}

func (p *Portal) Lookup(ctx context.Context, cert *certModels.Certificate) (*providers.PortalResult, error) {
	var res providers.PortalResult
	raw, err := p.post(ctx, "/v1/lookup", newCheckRequest(cert), &res)
	if err != nil {
		return nil, err
	}
	res.Raw = raw
	return &res, nil
}

// Forensic submits the document for analysis at POST {base}/v1/analyze.
type Forensic struct{ *Client }

func NewForensic(baseURL string, opts ...Option) *Forensic {
	return &Forensic{New("forensic-analysis", baseURL, opts...)}
}

func (f *Forensic) Analyze(ctx context.Context, cert *certModels.Certificate) (*providers.ForensicResult, error) {
	var res providers.ForensicResult
	raw, err := f.post(ctx, "/v1/analyze", newCheckRequest(cert), &res)
	if err != nil {
		return nil, err
	}
	res.Raw = raw
	return &res, nil
}

// Identity checks national id and tax id numbers at POST {base}/v1/identity.
type Identity struct{ *Client }

func NewIdentity(baseURL string, opts ...Option) *Identity {
	return &Identity{New("identity-registry", baseURL, opts...)}
}

func (i *Identity) VerifyIdentity(ctx context.Context, kind providers.IdentityKind, number string, cert *certModels.Certificate) (*providers.IdentityResult, error) {
	req := newCheckRequest(cert)
	req.IdentityKind = string(kind)
	req.IdentityNumber = number

	var res providers.IdentityResult
	raw, err := i.post(ctx, "/v1/identity", req, &res)
	if err != nil {
		return nil, err
	}
	if res.Kind == "" {
		res.Kind = kind
	}
	res.Raw = raw
	return &res, nil
}

var (
	_ providers.DigitalAuthenticityChecker = (*Digital)(nil)
	_ providers.IssuerPortal               = (*Portal)(nil)
	_ providers.ForensicAnalyzer           = (*Forensic)(nil)
	_ providers.IdentityVerifier           = (*Identity)(nil)
)
