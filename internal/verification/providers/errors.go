package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for provider calls.
type ErrorCategory string

const (
	ErrorTimeout          ErrorCategory = "timeout"
	ErrorBadData          ErrorCategory = "bad_data"
	ErrorAuthentication   ErrorCategory = "authentication"
	ErrorProviderOutage   ErrorCategory = "provider_outage"
	ErrorNotFound         ErrorCategory = "not_found"
	ErrorRateLimited      ErrorCategory = "rate_limited"
	ErrorNotConfigured    ErrorCategory = "not_configured"
	ErrorInternal         ErrorCategory = "internal"
	ErrorContractMismatch ErrorCategory = "contract_mismatch"
)

// ProviderError wraps provider failures with a category.
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a categorized provider error.
func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	retryable := category == ErrorTimeout ||
		category == ErrorProviderOutage ||
		category == ErrorRateLimited

	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether an operator retry of the check is worthwhile.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the category from err. Context deadlines count as
// timeouts even when the provider did not wrap them.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorInternal
}

var ErrNotConfigured = errors.New("provider not configured")
