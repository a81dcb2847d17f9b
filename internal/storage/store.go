package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SirClappington/finsight/internal/domain"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// InsertJob persists job metadata (source of truth) and returns the new
// job id. Every submission gets a fresh id; re-submitting the same file
// is a new job.
func (s *Store) InsertJob(ctx context.Context, p *InsertJobParams) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `insert into jobs(
id, type, query, document_ref, filename, status, attempt, max_attempts, queue
) values ($1,$2,$3,$4,$5,'queued',0,$6,$7)`,
		id, p.Type, p.Query, p.DocumentRef, p.Filename, p.MaxAttempts, p.Queue,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert job")
	}
	return id, nil
}

type InsertJobParams struct {
	Type        domain.JobType
	Query       string
	DocumentRef string
	Filename    string
	MaxAttempts int
	Queue       string
}

const jobColumns = `id, type, query, document_ref, filename, status, task_id,
error_message, attempt, max_attempts, queue, lease_expires_at,
created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.Type, &j.Query, &j.DocumentRef, &j.Filename,
		&j.Status, &j.TaskID, &j.ErrorMessage, &j.Attempt, &j.MaxAttempts,
		&j.Queue, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1`, jobID))
	if err == pgx.ErrNoRows {
		return nil, domain.NewNotFoundError(jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	return j, nil
}

// MarkProcessing moves a queued job to processing, recording the
// attempt handle and the lease for the first attempt. Illegal unless
// the job is still queued.
func (s *Store) MarkProcessing(ctx context.Context, jobID, taskID string, leaseUntil time.Time) error {
	tag, err := s.db.Exec(ctx, `update jobs
set status = 'processing', task_id = $2, attempt = attempt + 1,
    lease_expires_at = $3, updated_at = now()
where id = $1 and status = 'queued'`, jobID, taskID, leaseUntil)
	if err != nil {
		return errors.Wrap(err, "mark processing")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewInvalidTransitionError(jobID, domain.Processing)
	}
	return nil
}

// RenewAttempt records a retry attempt on a job that is already
// processing: fresh task handle, incremented attempt counter, new
// lease. Status does not move; retries never revisit queued.
func (s *Store) RenewAttempt(ctx context.Context, jobID, taskID string, leaseUntil time.Time) error {
	tag, err := s.db.Exec(ctx, `update jobs
set task_id = $2, attempt = attempt + 1, lease_expires_at = $3, updated_at = now()
where id = $1 and status = 'processing'`, jobID, taskID, leaseUntil)
	if err != nil {
		return errors.Wrap(err, "renew attempt")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewInvalidTransitionError(jobID, domain.Processing)
	}
	return nil
}

// MarkCompleted moves a processing job to completed and sets
// completed_at. Re-applying it to an already-completed job is a no-op:
// at-least-once delivery may finish the same job twice.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	tag, err := s.db.Exec(ctx, `update jobs
set status = 'completed', completed_at = now(), lease_expires_at = null,
    error_message = null, updated_at = now()
where id = $1 and status = 'processing'`, jobID)
	if err != nil {
		return errors.Wrap(err, "mark completed")
	}
	if tag.RowsAffected() == 0 {
		var status domain.Status
		if err := s.db.QueryRow(ctx, `select status from jobs where id = $1`, jobID).Scan(&status); err != nil {
			if err == pgx.ErrNoRows {
				return domain.NewNotFoundError(jobID)
			}
			return errors.Wrap(err, "mark completed")
		}
		if status == domain.Completed {
			return nil
		}
		return domain.NewInvalidTransitionError(jobID, domain.Completed)
	}
	return nil
}

// MarkFailed records a terminal failure. Legal from processing, and
// from queued for pre-dispatch validation errors. A job already failed
// with the same outcome is left untouched.
func (s *Store) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `update jobs
set status = 'failed', error_message = $2, lease_expires_at = null, updated_at = now()
where id = $1 and status in ('queued','processing')`, jobID, errorMessage)
	if err != nil {
		return errors.Wrap(err, "mark failed")
	}
	if tag.RowsAffected() == 0 {
		var status domain.Status
		if err := s.db.QueryRow(ctx, `select status from jobs where id = $1`, jobID).Scan(&status); err != nil {
			if err == pgx.ErrNoRows {
				return domain.NewNotFoundError(jobID)
			}
			return errors.Wrap(err, "mark failed")
		}
		if status == domain.Failed {
			return nil
		}
		return domain.NewInvalidTransitionError(jobID, domain.Failed)
	}
	return nil
}

// UpsertStageResult writes one stage's output. Last write per
// (job, stage) wins so a redelivered attempt can safely redo stage
// work.
func (s *Store) UpsertStageResult(ctx context.Context, r *domain.StageResult) error {
	_, err := s.db.Exec(ctx, `insert into stage_results(job_id, stage, output_text, success, duration_ms)
values ($1,$2,$3,$4,$5)
on conflict (job_id, stage) do update
set output_text = excluded.output_text, success = excluded.success,
    duration_ms = excluded.duration_ms, created_at = now()`,
		r.JobID, r.Stage, r.OutputText, r.Success, r.Duration.Milliseconds())
	return errors.Wrap(err, "upsert stage result")
}

func (s *Store) StageResults(ctx context.Context, jobID string) ([]domain.StageResult, error) {
	rows, err := s.db.Query(ctx, `select job_id, stage, output_text, success, duration_ms, created_at
from stage_results where job_id = $1 order by stage`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "stage results")
	}
	defer rows.Close()

	var out []domain.StageResult
	for rows.Next() {
		var r domain.StageResult
		var ms int64
		if err := rows.Scan(&r.JobID, &r.Stage, &r.OutputText, &r.Success, &ms, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "stage results")
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExpiredLeases lists processing jobs whose lease has lapsed, i.e.
// attempts that blew the hard limit or whose worker died. The
// scheduler reclaims these.
func (s *Store) ExpiredLeases(ctx context.Context, batch int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from jobs
where status = 'processing' and lease_expires_at is not null and lease_expires_at < now()
order by lease_expires_at asc limit $1`, batch)
	if err != nil {
		return nil, errors.Wrap(err, "expired leases")
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "expired leases")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClearLease releases a reclaimed job for redelivery without touching
// its status; the next worker attempt renews it.
func (s *Store) ClearLease(ctx context.Context, jobID string) error {
	_, err := s.db.Exec(ctx, `update jobs set lease_expires_at = null, updated_at = now()
where id = $1 and status = 'processing'`, jobID)
	return errors.Wrap(err, "clear lease")
}
