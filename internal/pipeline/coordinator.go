package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/domain"
)

// Result aggregates the outcomes of one pipeline run in stage order.
// Outcomes are present for every attempted stage, failed ones
// included, so partial work survives a failed run.
type Result struct {
	Outcomes []Outcome
}

func (r Result) Outcome(stage domain.Stage) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Stage == stage {
			return o, true
		}
	}
	return Outcome{}, false
}

// Coordinator sequences the stages of one job over a shared context.
// All failures crossing this boundary are classified domain errors;
// the scheduler never sees a raw one.
type Coordinator struct {
	extractor Extractor
	executor  *Executor
	log       *zap.SugaredLogger
}

func NewCoordinator(extractor Extractor, executor *Executor, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{extractor: extractor, executor: executor, log: log}
}

// Run extracts the document text, builds the shared context and
// executes the job's stages in fixed order. Verification failing to
// execute aborts the run; any other stage failure is recorded and the
// remaining stages still run, with the first failure reported after
// all four were attempted. Every stage sees the identical context.
func (c *Coordinator) Run(ctx context.Context, job *domain.Job) (Result, error) {
	text, err := c.extractor.ExtractText(ctx, job.DocumentRef)
	if err != nil {
		return Result{}, err
	}
	if text == "" {
		return Result{}, domain.NewValidationError("could not extract text from document")
	}
	shared := BuildContext(job.Query, text)
	c.log.Infow("shared context built", "job_id", job.ID, "chars", len(shared.DocumentText))

	stages := stagesFor(job.Type)
	result := Result{Outcomes: make([]Outcome, 0, len(stages))}
	var firstErr error
	for _, stage := range stages {
		outcome := c.executor.Execute(ctx, stage, shared)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Err == nil {
			continue
		}
		// An execution error on verification means nothing downstream
		// can be trusted to run against a readable document; abort.
		// Later stages do not gate on verification's verdict, only on
		// its ability to execute.
		if stage == domain.StageVerification {
			return result, outcome.Err
		}
		if firstErr == nil {
			firstErr = outcome.Err
		}
	}
	return result, firstErr
}

func stagesFor(t domain.JobType) []domain.Stage {
	if t == domain.TypeVerification {
		return []domain.Stage{domain.StageVerification}
	}
	return domain.Stages[:]
}
