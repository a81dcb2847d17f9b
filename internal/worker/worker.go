package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/domain"
	"github.com/SirClappington/finsight/internal/pipeline"
	"github.com/SirClappington/finsight/internal/reaper"
)

// Queue is the broker surface the worker needs.
type Queue interface {
	Dequeue(ctx context.Context, queues []string, block time.Duration) (string, error)
	EnqueueDelayed(ctx context.Context, queue, jobID string, runAt time.Time) error
}

// Store is the job record surface the worker needs.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	MarkProcessing(ctx context.Context, jobID, taskID string, leaseUntil time.Time) error
	RenewAttempt(ctx context.Context, jobID, taskID string, leaseUntil time.Time) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, errorMessage string) error
	ClearLease(ctx context.Context, jobID string) error
	UpsertStageResult(ctx context.Context, r *domain.StageResult) error
	LogAudit(ctx context.Context, jobID, action, status, details string) error
}

// Sweeper handles the retention sweep dispatched over the maintenance
// queue. Satisfied by reaper.Reaper.
type Sweeper interface {
	Sweep() reaper.SweepResult
}

// Runner executes one job's pipeline. Satisfied by
// pipeline.Coordinator.
type Runner interface {
	Run(ctx context.Context, job *domain.Job) (pipeline.Result, error)
}

// Limits are the per-attempt time bounds for one class of work. The
// soft limit is the deadline the pipeline observes; the hard limit is
// both the abandon point for a hung attempt and the queue lease after
// which the scheduler redelivers it.
type Limits struct {
	Soft time.Duration
	Hard time.Duration
}

type Config struct {
	Queues      []string
	Concurrency int
	// MaxTasksPerUnit recycles a worker goroutine after this many
	// completed units to bound growth from long-lived capability
	// clients.
	MaxTasksPerUnit    int
	DequeueBlock       time.Duration
	AnalysisLimits     Limits
	VerificationLimits Limits
	AnalysisPolicy     Policy
	VerificationPolicy Policy
}

// Pool pulls units of work off the queue and drives each job's
// attempt through the pipeline, the state machine and the retry
// controller. Workers share nothing in process; all coordination goes
// through the queue and the job store.
type Pool struct {
	cfg     Config
	queue   Queue
	store   Store
	runner  Runner
	sweeper Sweeper
	log     *zap.SugaredLogger
}

func NewPool(cfg Config, q Queue, s Store, r Runner, sw Sweeper, log *zap.SugaredLogger) *Pool {
	if cfg.DequeueBlock <= 0 {
		cfg.DequeueBlock = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pool{cfg: cfg, queue: q, store: s, runner: r, sweeper: sw, log: log}
}

// Run blocks until ctx is done. Each worker slot loops: a goroutine
// processes up to MaxTasksPerUnit units, exits, and is respawned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for ctx.Err() == nil {
				p.workerLoop(ctx, slot)
			}
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, slot int) {
	log := p.log.With("worker", slot)
	log.Infow("worker started", "queues", p.cfg.Queues)
	done := 0
	for ctx.Err() == nil {
		if p.cfg.MaxTasksPerUnit > 0 && done >= p.cfg.MaxTasksPerUnit {
			log.Infow("worker recycling", "completed_units", done)
			return
		}
		jobID, err := p.queue.Dequeue(ctx, p.cfg.Queues, p.cfg.DequeueBlock)
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				log.Errorw("dequeue failed", "error", err)
			}
			continue
		}
		if jobID == "" {
			continue
		}
		if jobID == domain.SweepUnit {
			p.runSweep(ctx, log)
		} else {
			p.process(ctx, log, jobID)
		}
		done++
	}
}

// runSweep executes a maintenance unit: sweep stale uploads and record
// the outcome in the audit trail.
func (p *Pool) runSweep(ctx context.Context, log *zap.SugaredLogger) {
	if p.sweeper == nil {
		log.Warnw("maintenance unit dequeued with no sweeper configured")
		return
	}
	res := p.sweeper.Sweep()
	_ = p.store.LogAudit(ctx, "", "cleanup_old_files", "success",
		"removed "+strconv.Itoa(res.Removed)+" files, "+strconv.Itoa(res.Errors)+" errors")
	log.Infow("retention sweep done", "removed", res.Removed, "errors", res.Errors)
}

func (p *Pool) process(ctx context.Context, log *zap.SugaredLogger, jobID string) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		log.Errorw("load job failed", "job_id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		// Stale redelivery of an already-settled job; drop it.
		log.Infow("dropping settled job", "job_id", jobID, "status", job.Status)
		return
	}

	limits, policy := p.forType(job.Type)
	taskID := uuid.NewString()
	leaseUntil := time.Now().Add(limits.Hard)

	switch job.Status {
	case domain.Queued:
		err = p.store.MarkProcessing(ctx, jobID, taskID, leaseUntil)
	case domain.Processing:
		err = p.store.RenewAttempt(ctx, jobID, taskID, leaseUntil)
	}
	if err != nil {
		log.Errorw("attempt bookkeeping failed", "job_id", jobID, "error", err)
		return
	}
	attempt := job.Attempt + 1
	action := "analyze_document"
	if job.Type == domain.TypeVerification {
		action = "verify_document"
	}
	log.Infow("attempt started", "job_id", jobID, "task_id", taskID, "attempt", attempt, "type", job.Type)

	result, runErr := p.runBounded(ctx, job, limits)
	for i := range result.Outcomes {
		o := result.Outcomes[i]
		sr := &domain.StageResult{
			JobID:      jobID,
			Stage:      o.Stage,
			OutputText: o.OutputText,
			Success:    o.Success(),
			Duration:   o.Duration,
		}
		if err := p.store.UpsertStageResult(ctx, sr); err != nil {
			log.Errorw("persist stage result failed", "job_id", jobID, "stage", o.Stage, "error", err)
		}
	}

	if runErr == nil {
		if err := p.store.MarkCompleted(ctx, jobID); err != nil {
			log.Errorw("mark completed failed", "job_id", jobID, "error", err)
			return
		}
		_ = p.store.LogAudit(ctx, jobID, action, "success", "attempt "+taskID+" completed")
		log.Infow("job completed", "job_id", jobID, "attempt", attempt)
		return
	}

	decision := policy.Classify(runErr, attempt)
	if decision.Retry {
		runAt := time.Now().Add(decision.Delay)
		if err := p.queue.EnqueueDelayed(ctx, job.Queue, jobID, runAt); err != nil {
			log.Errorw("schedule retry failed", "job_id", jobID, "error", err)
			return
		}
		// The delayed retry now owns redelivery. Clearing the lease
		// keeps the scheduler from reclaiming the same expiry and
		// burning a second attempt on one timeout.
		if err := p.store.ClearLease(ctx, jobID); err != nil {
			log.Errorw("clear lease failed", "job_id", jobID, "error", err)
		}
		_ = p.store.LogAudit(ctx, jobID, action, "failure",
			"attempt "+taskID+" failed, retrying: "+runErr.Error())
		log.Warnw("attempt failed, retrying", "job_id", jobID, "attempt", attempt, "delay", decision.Delay, "error", runErr)
		return
	}

	if err := p.store.MarkFailed(ctx, jobID, decision.Reason); err != nil {
		log.Errorw("mark failed failed", "job_id", jobID, "error", err)
		return
	}
	_ = p.store.LogAudit(ctx, jobID, action, "failure", decision.Reason)
	log.Errorw("job failed", "job_id", jobID, "attempt", attempt, "reason", decision.Reason)
}

// runBounded runs the pipeline under the soft limit and abandons the
// attempt at the hard limit. An abandoned goroutine is left to drain
// on its own; its terminal writes lose the race harmlessly because
// job transitions are idempotent and stage writes are last-write-wins.
func (p *Pool) runBounded(ctx context.Context, job *domain.Job, limits Limits) (pipeline.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, limits.Soft)
	defer cancel()

	type runOut struct {
		result pipeline.Result
		err    error
	}
	ch := make(chan runOut, 1)
	go func() {
		result, err := p.runner.Run(runCtx, job)
		ch <- runOut{result, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && runCtx.Err() == context.DeadlineExceeded && domain.KindOf(out.err) != domain.KindValidation {
			return out.result, domain.NewTimeoutError("", "soft time limit exceeded")
		}
		return out.result, out.err
	case <-time.After(limits.Hard):
		cancel()
		return pipeline.Result{}, domain.NewTimeoutError("", "hard time limit exceeded")
	}
}

func (p *Pool) forType(t domain.JobType) (Limits, Policy) {
	if t == domain.TypeVerification {
		return p.cfg.VerificationLimits, p.cfg.VerificationPolicy
	}
	return p.cfg.AnalysisLimits, p.cfg.AnalysisPolicy
}
