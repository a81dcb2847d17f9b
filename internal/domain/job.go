package domain

import "time"

type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// CanTransition reports whether moving from s to next is a legal
// lifecycle step. Transitions are monotonic: queued -> processing ->
// {completed, failed}, plus queued -> failed for pre-dispatch
// validation errors.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Queued:
		return next == Processing || next == Failed
	case Processing:
		return next == Completed || next == Failed
	default:
		return false
	}
}

func (s Status) Terminal() bool { return s == Completed || s == Failed }

type JobType string

const (
	TypeAnalysis     JobType = "analysis"
	TypeVerification JobType = "verification"
)

// Queue returns the broker queue a job type is routed to. Slow
// analysis work never shares a queue with cheap verification or
// maintenance work.
func (t JobType) Queue() string {
	if t == TypeVerification {
		return QueueVerification
	}
	return QueueAnalysis
}

const (
	QueueAnalysis     = "analysis"
	QueueVerification = "verification"
	QueueMaintenance  = "maintenance"
)

// SweepUnit is the maintenance unit of work the scheduler dispatches
// over QueueMaintenance. It has no job record behind it.
const SweepUnit = "cleanup_old_files"

type Job struct {
	ID             string
	Type           JobType
	Query          string
	DocumentRef    string
	Filename       string
	Status         Status
	TaskID         *string
	ErrorMessage   *string
	Attempt        int
	MaxAttempts    int
	Queue          string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

type Stage string

const (
	StageVerification Stage = "verification"
	StageAnalysis     Stage = "analysis"
	StageInvestment   Stage = "investment"
	StageRisk         Stage = "risk"
)

// Stages is the fixed execution order of the full pipeline.
var Stages = [4]Stage{StageVerification, StageAnalysis, StageInvestment, StageRisk}

type StageResult struct {
	JobID      string
	Stage      Stage
	OutputText string
	Success    bool
	Duration   time.Duration
	CreatedAt  time.Time
}
