package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{Queued, Processing, true},
		{Queued, Failed, true},
		{Queued, Completed, false},
		{Processing, Completed, true},
		{Processing, Failed, true},
		{Processing, Queued, false},
		{Completed, Processing, false},
		{Completed, Failed, false},
		{Failed, Processing, false},
		{Failed, Queued, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, Queued.Terminal())
	assert.False(t, Processing.Terminal())
	assert.True(t, Completed.Terminal())
	assert.True(t, Failed.Terminal())
}

func TestJobTypeQueue(t *testing.T) {
	assert.Equal(t, QueueAnalysis, TypeAnalysis.Queue())
	assert.Equal(t, QueueVerification, TypeVerification.Queue())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", NewValidationError("bad input"), KindValidation},
		{"timeout", NewTimeoutError(StageAnalysis, "too slow"), KindTimeout},
		{"capability", NewCapabilityError(StageRisk, errors.New("boom")), KindCapability},
		{"not found", NewNotFoundError("j1"), KindNotFound},
		{"invalid state", NewInvalidTransitionError("j1", Completed), KindInvalidState},
		{"raw error defaults to capability", errors.New("boom"), KindCapability},
		{"wrapped domain error", &wrapped{NewValidationError("inner")}, KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

type wrapped struct{ inner error }

func (w *wrapped) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapped) Unwrap() error { return w.inner }

func TestErrorMessage(t *testing.T) {
	err := NewTimeoutError(StageAnalysis, "stage exceeded timeout of 5s")
	assert.Equal(t, "[timeout] analysis: stage exceeded timeout of 5s", err.Error())

	bare := NewValidationError("empty document: no extractable text")
	assert.Equal(t, "[validation] empty document: no extractable text", bare.Error())
}

func TestStageOrder(t *testing.T) {
	assert.Equal(t, [4]Stage{StageVerification, StageAnalysis, StageInvestment, StageRisk}, Stages)
}
