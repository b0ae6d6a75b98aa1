// Package notification tells downstream systems that a verification finished.
// Delivery is best effort: callers log failures and move on.
package notification

import (
	"context"
	"log/slog"
	"time"

	id "veritas/pkg/domain"
)

// Completion is the message sent when a verification pipeline ends.
type Completion struct {
	VerificationID id.VerificationID `json:"verification_id"`
	CertificateID  id.CertificateID  `json:"certificate_id"`
	Status         string            `json:"status"`
	Result         *string           `json:"result,omitempty"`
	Score          *float64          `json:"score,omitempty"`
	CompletedAt    time.Time         `json:"completed_at"`
}

type Notifier interface {
	NotifyVerificationComplete(ctx context.Context, c Completion) error
}

// LogNotifier writes completions to the structured log. It is the fallback
// when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyVerificationComplete(ctx context.Context, c Completion) error {
	attrs := []any{
		"verification_id", c.VerificationID,
		"certificate_id", c.CertificateID,
		"status", c.Status,
	}
	if c.Result != nil {
		attrs = append(attrs, "result", *c.Result)
	}
	if c.Score != nil {
		attrs = append(attrs, "score", *c.Score)
	}
	n.logger.InfoContext(ctx, "verification complete", attrs...)
	return nil
}

// Multi fans a completion out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) NotifyVerificationComplete(ctx context.Context, c Completion) error {
	var first error
	for _, n := range m {
		if err := n.NotifyVerificationComplete(ctx, c); err != nil && first == nil {
			first = err
		}
	}
	return first
}
