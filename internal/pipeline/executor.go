package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/domain"
)

// Capability produces one stage's report from the shared context. How
// the text is produced is the collaborator's business; it may fail and
// it may be slow.
type Capability interface {
	Invoke(ctx context.Context, stage domain.Stage, query, documentText string) (string, error)
}

// Extractor resolves a document ref to its extracted text.
type Extractor interface {
	ExtractText(ctx context.Context, documentRef string) (string, error)
}

type Outcome struct {
	Stage      domain.Stage
	OutputText string
	Duration   time.Duration
	Err        error
}

func (o Outcome) Success() bool { return o.Err == nil }

// Executor invokes one stage capability under a per-stage timeout. It
// never retries (retry policy belongs to the scheduler) and never
// mutates the shared context.
type Executor struct {
	capability Capability
	timeout    time.Duration
	log        *zap.SugaredLogger
}

func NewExecutor(capability Capability, timeout time.Duration, log *zap.SugaredLogger) *Executor {
	return &Executor{capability: capability, timeout: timeout, log: log}
}

func (e *Executor) Execute(ctx context.Context, stage domain.Stage, shared Context) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	text, err := e.capability.Invoke(ctx, stage, shared.Query, shared.DocumentText)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = domain.NewTimeoutError(stage, "stage exceeded timeout of "+e.timeout.String())
		} else if domain.KindOf(err) == domain.KindCapability {
			err = domain.NewCapabilityError(stage, err)
		}
		e.log.Errorw("stage failed", "stage", stage, "duration", elapsed, "error", err)
		return Outcome{Stage: stage, Duration: elapsed, Err: err}
	}

	e.log.Infow("stage completed", "stage", stage, "duration", elapsed, "chars", len(text))
	return Outcome{Stage: stage, OutputText: text, Duration: elapsed}
}
