// Package cache memoizes issuer portal lookups. Portals are slow and their
// answers for a given document change rarely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	certModels "veritas/internal/certificate/models"
	"veritas/internal/verification/providers"
)

// Store is a byte-oriented TTL cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Metrics interface {
	IncPortalCache(outcome string)
}

// Portal wraps an IssuerPortal with a read-through cache.
type Portal struct {
	next    providers.IssuerPortal
	store   Store
	ttl     time.Duration
	metrics Metrics
	logger  *slog.Logger
}

type Option func(*Portal)

func WithMetrics(m Metrics) Option {
	return func(p *Portal) { p.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Portal) { p.logger = logger }
}

func NewPortal(next providers.IssuerPortal, store Store, ttl time.Duration, opts ...Option) *Portal {
	p := &Portal{next: next, store: store, ttl: ttl}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type entry struct {
	Result providers.PortalResult `json:"result"`
	Raw    json.RawMessage        `json:"raw,omitempty"`
}

// Lookup serves from the cache when possible. Provider errors are never cached;
// cache errors degrade to a direct lookup.
func (p *Portal) Lookup(ctx context.Context, cert *certModels.Certificate) (*providers.PortalResult, error) {
	key, err := Key(cert)
	if err != nil {
		return p.next.Lookup(ctx, cert)
	}

	if b, ok, err := p.store.Get(ctx, key); err != nil {
		p.warn(ctx, "portal cache read failed", err)
	} else if ok {
		var e entry
		if err := json.Unmarshal(b, &e); err == nil {
			p.observe("hit")
			res := e.Result
			res.Raw = e.Raw
			return &res, nil
		}
	}
	p.observe("miss")

	res, err := p.next.Lookup(ctx, cert)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(entry{Result: *res, Raw: res.Raw})
	if err == nil {
		err = p.store.Set(ctx, key, b, p.ttl)
	}
	if err != nil {
		p.warn(ctx, "portal cache write failed", err)
	}
	return res, nil
}

// Key derives the cache key from the fields a portal matches on. encoding/json
// sorts map keys, so equal payloads hash equally.
func Key(cert *certModels.Certificate) (string, error) {
	b, err := json.Marshal(struct {
		Type       certModels.Type `json:"t"`
		IssuerType string          `json:"i"`
		Payload    map[string]any  `json:"p"`
	}{cert.Type, cert.IssuerType, cert.Payload})
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return "portal:" + hex.EncodeToString(sum[:]), nil
}

func (p *Portal) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.IncPortalCache(outcome)
	}
}

func (p *Portal) warn(ctx context.Context, msg string, err error) {
	if p.logger != nil {
		p.logger.WarnContext(ctx, msg, "error", err)
	}
}

var _ providers.IssuerPortal = (*Portal)(nil)
