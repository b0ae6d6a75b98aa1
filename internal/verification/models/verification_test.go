package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

func newInProgress(t *testing.T, now time.Time) *Verification {
	t.Helper()
	v, err := NewVerification(id.NewVerificationID(), id.NewCertificateID(), TypeCombined, id.UserID{}, now)
	require.NoError(t, err)
	require.NoError(t, v.Begin(now))
	return v
}

func TestVerification_Lifecycle(t *testing.T) {
	now := time.Now()

	t.Run("complete sets result and score together", func(t *testing.T) {
		v := newInProgress(t, now)
		require.NoError(t, v.Complete(ResultVerified, 85, json.RawMessage(`{}`), now.Add(time.Second)))

		assert.Equal(t, StatusCompleted, v.Status)
		require.NotNil(t, v.Result)
		require.NotNil(t, v.ConfidenceScore)
		assert.Equal(t, ResultVerified, *v.Result)
		assert.Equal(t, int64(1000), *v.DurationMs)
	})

	t.Run("fail never carries a result", func(t *testing.T) {
		v := newInProgress(t, now)
		v.Fail(now)
		assert.Equal(t, StatusFailed, v.Status)
		assert.Nil(t, v.Result)
		assert.Nil(t, v.ConfidenceScore)
		assert.True(t, v.IsTerminal())
	})

	t.Run("complete requires in-progress", func(t *testing.T) {
		v := newInProgress(t, now)
		v.Fail(now)
		err := v.Complete(ResultVerified, 90, nil, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func TestVerification_Retry(t *testing.T) {
	now := time.Now()

	t.Run("only failed verifications can retry", func(t *testing.T) {
		v := newInProgress(t, now)
		assert.True(t, dErrors.HasCode(v.CanRetry(), dErrors.CodeInvalidState))

		require.NoError(t, v.Complete(ResultUnverified, 10, nil, now))
		assert.True(t, dErrors.HasCode(v.CanRetry(), dErrors.CodeInvalidState))
	})

	t.Run("reset clears completion fields", func(t *testing.T) {
		v := newInProgress(t, now)
		v.Fail(now)
		require.NoError(t, v.CanRetry())

		later := now.Add(time.Minute)
		v.ResetForRetry(later)
		assert.Equal(t, StatusInProgress, v.Status)
		assert.Nil(t, v.CompletedAt)
		assert.Nil(t, v.DurationMs)
		assert.Equal(t, later, *v.StartedAt)
	})
}

func TestStep_Durations(t *testing.T) {
	now := time.Now()
	step := NewStep(id.NewVerificationID(), 1, StepIssuerPortal, now)
	assert.Equal(t, StepStatusInProgress, step.Status)

	step.Failed("portal timeout", nil, now.Add(250*time.Millisecond))
	assert.Equal(t, StepStatusFailed, step.Status)
	assert.Equal(t, "portal timeout", step.ErrorMessage)
	assert.Equal(t, int64(250), *step.DurationMs)
}
