// Package httpprovider calls external check authorities over JSON/HTTP.
package httpprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-retryablehttp"

	certModels "veritas/internal/certificate/models"
	"veritas/internal/verification/providers"
	"veritas/pkg/platform/circuit"
)

const maxBodyBytes = 1 << 20

// Client is the shared transport for one provider endpoint.
type Client struct {
	id      string
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRetry sets the retry budget and backoff bounds for transient failures.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = retryMax
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.HTTPClient.Timeout = d }
}

// New creates a client for the provider identified by id.
func New(id, baseURL string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 2
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		id:      id,
		baseURL: baseURL,
		http:    rc,
		breaker: circuit.New(id),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger != nil {
		rc.Logger = c.logger
	}
	return c
}

func (c *Client) ID() string { return c.id }

type checkRequest struct {
	CertificateID       string         `json:"certificateId"`
	Type                string         `json:"type"`
	IssuerType          string         `json:"issuerType,omitempty"`
	Payload             map[string]any `json:"payload,omitempty"`
	HasQRCode           bool           `json:"hasQrCode"`
	HasDigitalSignature bool           `json:"hasDigitalSignature"`
	IdentityKind        string         `json:"identityKind,omitempty"`
	IdentityNumber      string         `json:"identityNumber,omitempty"`
}

func newCheckRequest(cert *certModels.Certificate) checkRequest {
	return checkRequest{
		CertificateID:       cert.ID.String(),
		Type:                string(cert.Type),
		IssuerType:          cert.IssuerType,
		Payload:             cert.Payload,
		HasQRCode:           cert.HasQRCode,
		HasDigitalSignature: cert.HasDigitalSignature,
	}
}

// post sends body to path, decodes the response into out, and returns the raw
// response body. Every failure comes back as a *providers.ProviderError.
func (c *Client) post(ctx context.Context, path string, body any, out any) (json.RawMessage, error) {
	if !c.breaker.Allow() {
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, c.id, "circuit open", nil)
	}

	raw, err := c.do(ctx, path, body, out)
	c.record(err)
	return raw, err
}

func (c *Client) do(ctx context.Context, path string, body any, out any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, c.id, "encode request", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, c.id, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set(middleware.RequestIDHeader, reqID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// retries exhausted on a 5xx still hand back the last response
		if resp != nil {
			_ = resp.Body.Close()
			return nil, providers.NewProviderError(categoryForStatus(resp.StatusCode), c.id,
				fmt.Sprintf("unexpected status %d", resp.StatusCode), err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, providers.NewProviderError(providers.ErrorTimeout, c.id, "request timed out", err)
		}
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, c.id, "request failed", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && c.logger != nil {
			c.logger.WarnContext(ctx, "close provider response body", "provider", c.id, "error", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, c.id, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providers.NewProviderError(categoryForStatus(resp.StatusCode), c.id,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, providers.NewProviderError(providers.ErrorBadData, c.id, "decode response", err)
	}
	return raw, nil
}

// record feeds the breaker. Only failures that point at the provider's health count.
func (c *Client) record(err error) {
	if err == nil {
		c.breaker.RecordSuccess()
		return
	}
	switch providers.GetCategory(err) {
	case providers.ErrorProviderOutage, providers.ErrorTimeout:
		if _, change := c.breaker.RecordFailure(); change.Opened && c.logger != nil {
			c.logger.Warn("provider circuit opened", "provider", c.id)
		}
	default:
		c.breaker.RecordSuccess()
	}
}

func categoryForStatus(code int) providers.ErrorCategory {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return providers.ErrorAuthentication
	case code == http.StatusNotFound:
		return providers.ErrorNotFound
	case code == http.StatusTooManyRequests:
		return providers.ErrorRateLimited
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return providers.ErrorTimeout
	case code >= 500:
		return providers.ErrorProviderOutage
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return providers.ErrorContractMismatch
	default:
		return providers.ErrorInternal
	}
}
