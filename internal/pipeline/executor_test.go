package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/domain"
)

type fakeCapability struct {
	output string
	err    error
	delay  time.Duration
	calls  []capabilityCall
}

type capabilityCall struct {
	stage domain.Stage
	query string
	text  string
}

func (f *fakeCapability) Invoke(ctx context.Context, stage domain.Stage, query, text string) (string, error) {
	f.calls = append(f.calls, capabilityCall{stage, query, text})
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.output, f.err
}

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func TestExecutorSuccess(t *testing.T) {
	cap := &fakeCapability{output: "looks legitimate"}
	e := NewExecutor(cap, time.Second, testLogger())

	out := e.Execute(context.Background(), domain.StageVerification, Context{Query: "q", DocumentText: "doc"})

	require.True(t, out.Success())
	assert.Equal(t, domain.StageVerification, out.Stage)
	assert.Equal(t, "looks legitimate", out.OutputText)
	require.Len(t, cap.calls, 1)
	assert.Equal(t, "q", cap.calls[0].query)
	assert.Equal(t, "doc", cap.calls[0].text)
}

func TestExecutorTimeout(t *testing.T) {
	cap := &fakeCapability{delay: 200 * time.Millisecond}
	e := NewExecutor(cap, 10*time.Millisecond, testLogger())

	out := e.Execute(context.Background(), domain.StageAnalysis, Context{})

	require.False(t, out.Success())
	assert.Equal(t, domain.KindTimeout, domain.KindOf(out.Err))
	assert.Empty(t, out.OutputText)
}

func TestExecutorCapabilityError(t *testing.T) {
	cap := &fakeCapability{err: errors.New("upstream 503")}
	e := NewExecutor(cap, time.Second, testLogger())

	out := e.Execute(context.Background(), domain.StageRisk, Context{})

	require.False(t, out.Success())
	assert.Equal(t, domain.KindCapability, domain.KindOf(out.Err))
	assert.ErrorContains(t, out.Err, "risk")
}

func TestExecutorPreservesValidationKind(t *testing.T) {
	cap := &fakeCapability{err: domain.NewValidationError("garbage input")}
	e := NewExecutor(cap, time.Second, testLogger())

	out := e.Execute(context.Background(), domain.StageAnalysis, Context{})

	require.False(t, out.Success())
	assert.Equal(t, domain.KindValidation, domain.KindOf(out.Err))
}
