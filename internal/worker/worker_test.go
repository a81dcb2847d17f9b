package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/domain"
	"github.com/SirClappington/finsight/internal/pipeline"
	"github.com/SirClappington/finsight/internal/reaper"
)

type fakeQueue struct {
	delayed []delayedCall
}

type delayedCall struct {
	queue string
	jobID string
	runAt time.Time
}

func (f *fakeQueue) Dequeue(ctx context.Context, queues []string, block time.Duration) (string, error) {
	return "", nil
}

func (f *fakeQueue) EnqueueDelayed(ctx context.Context, queue, jobID string, runAt time.Time) error {
	f.delayed = append(f.delayed, delayedCall{queue, jobID, runAt})
	return nil
}

type fakeStore struct {
	job          *domain.Job
	stageResults map[domain.Stage]*domain.StageResult
	completed    int
	failedWith   string
	leaseCleared int
	audits       []string
}

func newFakeStore(job *domain.Job) *fakeStore {
	return &fakeStore{job: job, stageResults: make(map[domain.Stage]*domain.StageResult)}
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if f.job == nil || f.job.ID != jobID {
		return nil, domain.NewNotFoundError(jobID)
	}
	copy := *f.job
	return &copy, nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, jobID, taskID string, leaseUntil time.Time) error {
	if f.job.Status != domain.Queued {
		return domain.NewInvalidTransitionError(jobID, domain.Processing)
	}
	f.job.Status = domain.Processing
	f.job.TaskID = &taskID
	f.job.Attempt++
	f.job.LeaseExpiresAt = &leaseUntil
	return nil
}

func (f *fakeStore) RenewAttempt(ctx context.Context, jobID, taskID string, leaseUntil time.Time) error {
	if f.job.Status != domain.Processing {
		return domain.NewInvalidTransitionError(jobID, domain.Processing)
	}
	f.job.TaskID = &taskID
	f.job.Attempt++
	f.job.LeaseExpiresAt = &leaseUntil
	return nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, jobID string) error {
	if f.job.Status == domain.Completed {
		return nil
	}
	if f.job.Status != domain.Processing {
		return domain.NewInvalidTransitionError(jobID, domain.Completed)
	}
	f.job.Status = domain.Completed
	now := time.Now()
	f.job.CompletedAt = &now
	f.completed++
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	if f.job.Status == domain.Failed {
		return nil
	}
	f.job.Status = domain.Failed
	f.job.ErrorMessage = &errorMessage
	f.failedWith = errorMessage
	return nil
}

func (f *fakeStore) ClearLease(ctx context.Context, jobID string) error {
	f.job.LeaseExpiresAt = nil
	f.leaseCleared++
	return nil
}

func (f *fakeStore) UpsertStageResult(ctx context.Context, r *domain.StageResult) error {
	f.stageResults[r.Stage] = r
	return nil
}

func (f *fakeStore) LogAudit(ctx context.Context, jobID, action, status, details string) error {
	f.audits = append(f.audits, action+":"+status)
	return nil
}

type fakeRunner struct {
	result pipeline.Result
	err    error
	delay  time.Duration
	runs   int
}

func (f *fakeRunner) Run(ctx context.Context, job *domain.Job) (pipeline.Result, error) {
	f.runs++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func queuedJob() *domain.Job {
	return &domain.Job{
		ID:          "job-1",
		Type:        domain.TypeAnalysis,
		Query:       "summarize risk",
		DocumentRef: "data/doc.pdf",
		Status:      domain.Queued,
		MaxAttempts: 3,
		Queue:       domain.QueueAnalysis,
	}
}

func fullResult() pipeline.Result {
	outcomes := make([]pipeline.Outcome, 0, len(domain.Stages))
	for _, stage := range domain.Stages {
		outcomes = append(outcomes, pipeline.Outcome{Stage: stage, OutputText: string(stage) + " report", Duration: time.Millisecond})
	}
	return pipeline.Result{Outcomes: outcomes}
}

func testPool(q Queue, s Store, r Runner) *Pool {
	cfg := Config{
		Queues:             []string{domain.QueueAnalysis, domain.QueueVerification},
		Concurrency:        1,
		AnalysisLimits:     Limits{Soft: time.Second, Hard: 2 * time.Second},
		VerificationLimits: Limits{Soft: time.Second, Hard: 2 * time.Second},
		AnalysisPolicy:     Policy{MaxRetries: 3, TimeoutRetryDelay: time.Millisecond, BackoffUnit: time.Millisecond},
		VerificationPolicy: Policy{MaxRetries: 2, TimeoutRetryDelay: time.Millisecond, BackoffUnit: time.Millisecond},
	}
	return NewPool(cfg, q, s, r, nil, zap.NewNop().Sugar())
}

func TestProcessSuccessfulJob(t *testing.T) {
	store := newFakeStore(queuedJob())
	q := &fakeQueue{}
	pool := testPool(q, store, &fakeRunner{result: fullResult()})

	pool.process(context.Background(), pool.log, "job-1")

	assert.Equal(t, domain.Completed, store.job.Status)
	require.NotNil(t, store.job.CompletedAt)
	assert.Equal(t, 1, store.job.Attempt)
	assert.Len(t, store.stageResults, 4)
	for _, stage := range domain.Stages {
		sr := store.stageResults[stage]
		require.NotNil(t, sr, "missing result for stage %s", stage)
		assert.True(t, sr.Success)
		assert.NotEmpty(t, sr.OutputText)
	}
	assert.Empty(t, q.delayed)
	assert.Contains(t, store.audits, "analyze_document:success")
}

func TestProcessValidationFailureIsTerminalWithoutRetry(t *testing.T) {
	store := newFakeStore(queuedJob())
	q := &fakeQueue{}
	runner := &fakeRunner{err: domain.NewValidationError("empty document: no extractable text")}
	pool := testPool(q, store, runner)

	pool.process(context.Background(), pool.log, "job-1")

	assert.Equal(t, domain.Failed, store.job.Status)
	assert.Contains(t, store.failedWith, "empty document")
	assert.Equal(t, 1, store.job.Attempt)
	assert.Empty(t, q.delayed)
	assert.Equal(t, 1, runner.runs)
}

func TestProcessRetryableFailureSchedulesBackoff(t *testing.T) {
	store := newFakeStore(queuedJob())
	q := &fakeQueue{}
	pool := testPool(q, store, &fakeRunner{err: errors.New("upstream 503")})

	before := time.Now()
	pool.process(context.Background(), pool.log, "job-1")

	// still processing; another attempt is scheduled on the same queue
	assert.Equal(t, domain.Processing, store.job.Status)
	require.Len(t, q.delayed, 1)
	assert.Equal(t, domain.QueueAnalysis, q.delayed[0].queue)
	assert.Equal(t, "job-1", q.delayed[0].jobID)
	assert.True(t, q.delayed[0].runAt.After(before))

	// the delayed retry owns redelivery; no lease is left for reclaim
	assert.Equal(t, 1, store.leaseCleared)
	assert.Nil(t, store.job.LeaseExpiresAt)
}

func TestProcessRetriesUntilExhaustedThenFails(t *testing.T) {
	store := newFakeStore(queuedJob())
	q := &fakeQueue{}
	runner := &fakeRunner{err: errors.New("upstream 503")}
	pool := testPool(q, store, runner)

	// initial attempt plus max_retries redeliveries
	for i := 0; i < 4; i++ {
		pool.process(context.Background(), pool.log, "job-1")
	}

	assert.Equal(t, domain.Failed, store.job.Status)
	assert.Contains(t, store.failedWith, "retries exhausted")
	assert.Len(t, q.delayed, 3)
	assert.Equal(t, 4, store.job.Attempt)
}

func TestProcessTimeoutRetriesWithFixedDelayThenExhausts(t *testing.T) {
	store := newFakeStore(queuedJob())
	q := &fakeQueue{}
	runner := &fakeRunner{err: domain.NewTimeoutError("", "soft time limit exceeded")}
	pool := testPool(q, store, runner)

	for i := 0; i < 4; i++ {
		pool.process(context.Background(), pool.log, "job-1")
	}

	assert.Equal(t, domain.Failed, store.job.Status)
	assert.Equal(t, "timeout, retries exhausted", store.failedWith)
	assert.Len(t, q.delayed, 3)
}

func TestProcessDropsSettledJob(t *testing.T) {
	job := queuedJob()
	job.Status = domain.Completed
	store := newFakeStore(job)
	runner := &fakeRunner{result: fullResult()}
	pool := testPool(&fakeQueue{}, store, runner)

	pool.process(context.Background(), pool.log, "job-1")

	// a stale redelivery never reruns stage work
	assert.Equal(t, 0, runner.runs)
	assert.Equal(t, 0, store.completed)
}

func TestProcessRedeliveryRenewsAttempt(t *testing.T) {
	job := queuedJob()
	job.Status = domain.Processing
	job.Attempt = 1
	store := newFakeStore(job)
	pool := testPool(&fakeQueue{}, store, &fakeRunner{result: fullResult()})

	pool.process(context.Background(), pool.log, "job-1")

	assert.Equal(t, domain.Completed, store.job.Status)
	assert.Equal(t, 2, store.job.Attempt)
}

func TestRunBoundedSoftLimit(t *testing.T) {
	store := newFakeStore(queuedJob())
	pool := testPool(&fakeQueue{}, store, nil)
	runner := &fakeRunner{delay: 500 * time.Millisecond}

	pool.runner = runner
	_, err := pool.runBounded(context.Background(), store.job, Limits{Soft: 10 * time.Millisecond, Hard: 5 * time.Second})

	require.Error(t, err)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
	assert.ErrorContains(t, err, "soft time limit")
}

func TestRunBoundedHardLimitAbandonsAttempt(t *testing.T) {
	store := newFakeStore(queuedJob())
	pool := testPool(&fakeQueue{}, store, nil)
	// runner ignores its context: only the hard limit can stop it
	pool.runner = runnerFunc(func(ctx context.Context, job *domain.Job) (pipeline.Result, error) {
		time.Sleep(300 * time.Millisecond)
		return fullResult(), nil
	})

	start := time.Now()
	_, err := pool.runBounded(context.Background(), store.job, Limits{Soft: 20 * time.Millisecond, Hard: 50 * time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
	assert.ErrorContains(t, err, "hard time limit")
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

type runnerFunc func(ctx context.Context, job *domain.Job) (pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, job *domain.Job) (pipeline.Result, error) {
	return f(ctx, job)
}

func TestProcessHardLimitReleasesLeaseBeforeRetry(t *testing.T) {
	store := newFakeStore(queuedJob())
	q := &fakeQueue{}
	pool := testPool(q, store, nil)
	pool.cfg.AnalysisLimits = Limits{Soft: 20 * time.Millisecond, Hard: 50 * time.Millisecond}
	// runner ignores its context: the attempt is abandoned at the hard limit
	pool.runner = runnerFunc(func(ctx context.Context, job *domain.Job) (pipeline.Result, error) {
		time.Sleep(300 * time.Millisecond)
		return fullResult(), nil
	})

	pool.process(context.Background(), pool.log, "job-1")

	// one hard timeout yields exactly one redelivery: the worker's own
	// delayed retry, with the expired lease released so the scheduler
	// has nothing to reclaim
	assert.Equal(t, domain.Processing, store.job.Status)
	require.Len(t, q.delayed, 1)
	assert.Equal(t, 1, store.leaseCleared)
	assert.Nil(t, store.job.LeaseExpiresAt)
}

type fakeSweeper struct {
	sweeps int
}

func (f *fakeSweeper) Sweep() reaper.SweepResult {
	f.sweeps++
	return reaper.SweepResult{Removed: 2, Errors: 1}
}

type scriptedQueue struct {
	ids    []string
	cancel context.CancelFunc
}

func (q *scriptedQueue) Dequeue(ctx context.Context, queues []string, block time.Duration) (string, error) {
	if len(q.ids) == 0 {
		q.cancel()
		return "", redis.Nil
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, nil
}

func (q *scriptedQueue) EnqueueDelayed(ctx context.Context, queue, jobID string, runAt time.Time) error {
	return nil
}

func TestWorkerLoopRunsMaintenanceSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newFakeStore(queuedJob())
	q := &scriptedQueue{ids: []string{domain.SweepUnit}, cancel: cancel}
	sweeper := &fakeSweeper{}
	pool := testPool(q, store, &fakeRunner{result: fullResult()})
	pool.sweeper = sweeper

	pool.workerLoop(ctx, 0)

	assert.Equal(t, 1, sweeper.sweeps)
	assert.Contains(t, store.audits, "cleanup_old_files:success")
	// the sweep unit never touches the job store's state machine
	assert.Equal(t, domain.Queued, store.job.Status)
}

func TestMarkCompletedIdempotentOnRedelivery(t *testing.T) {
	store := newFakeStore(queuedJob())
	pool := testPool(&fakeQueue{}, store, &fakeRunner{result: fullResult()})

	pool.process(context.Background(), pool.log, "job-1")
	first := *store.job.CompletedAt

	pool.process(context.Background(), pool.log, "job-1")

	assert.Equal(t, domain.Completed, store.job.Status)
	assert.Equal(t, first, *store.job.CompletedAt)
	assert.Equal(t, 1, store.completed)
}
