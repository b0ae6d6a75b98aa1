package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// Store persists entries. Append must run build and the insert atomically with
// respect to other appends: build receives the current head hash and the
// returned entry must be the next head.
type Store interface {
	Append(ctx context.Context, build func(previousHash string) (*Entry, error)) (*Entry, error)
	ListAll(ctx context.Context) ([]*Entry, error)
	List(ctx context.Context, filter Filter) ([]*Entry, error)
}

type Metrics interface {
	IncAuditAppend()
}

// Chain is the single writer of the audit log.
type Chain struct {
	store   Store
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Chain)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(c *Chain) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

func NewChain(store Store, opts ...Option) *Chain {
	c := &Chain{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds an entry at the head of the chain.
func (c *Chain) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	if req.EntityType == "" || req.EntityID == "" || req.Action == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity type, entity id and action are required")
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	entry, err := c.store.Append(ctx, func(previousHash string) (*Entry, error) {
		e := &Entry{
			ID:           id.NewAuditEntryID(),
			EntityType:   req.EntityType,
			EntityID:     req.EntityID,
			Action:       req.Action,
			UserID:       req.UserID,
			Metadata:     metadata,
			CreatedAt:    c.now().UTC().Truncate(TimestampPrecision),
			PreviousHash: previousHash,
		}
		hash, err := ComputeHash(previousHash, e)
		if err != nil {
			return nil, err
		}
		e.Hash = hash
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	if c.metrics != nil {
		c.metrics.IncAuditAppend()
	}
	if c.logger != nil {
		c.logger.DebugContext(ctx, "audit entry appended",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"seq", entry.Seq,
		)
	}
	return entry, nil
}

// Verify loads the whole chain and checks it. Failures are logged at error
// level since they indicate tampering.
func (c *Chain) Verify(ctx context.Context) (bool, error) {
	entries, err := c.store.ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("load audit chain: %w", err)
	}
	ok, err := VerifyChain(entries)
	if !ok && c.logger != nil {
		c.logger.ErrorContext(ctx, "audit chain verification failed", "error", err, "entries", len(entries))
	}
	return ok, err
}

func (c *Chain) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	entries, err := c.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
