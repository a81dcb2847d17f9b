package domain

import "fmt"

// Kind classifies a failure for the retry controller. Every error that
// crosses the pipeline boundary carries exactly one kind; the scheduler
// never sees a raw, unclassified error.
type Kind string

const (
	// KindValidation covers malformed, unreadable or oversized input.
	// Terminal: retrying cannot fix a structurally invalid document.
	KindValidation Kind = "validation"
	// KindTimeout covers soft or hard limit expiry. Retried with a
	// fixed delay up to the attempt ceiling.
	KindTimeout Kind = "timeout"
	// KindCapability covers any other failure of an external stage or
	// extraction capability. Retried with exponential backoff.
	KindCapability Kind = "capability"
	// KindNotFound covers status queries for unknown job ids.
	KindNotFound Kind = "not_found"
	// KindInvalidState marks an illegal job state transition. A
	// programming-contract violation, surfaced loudly, never retried.
	KindInvalidState Kind = "invalid_state"
)

type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NewTimeoutError(stage Stage, message string) *Error {
	return &Error{Kind: KindTimeout, Stage: stage, Message: message}
}

func NewCapabilityError(stage Stage, cause error) *Error {
	return &Error{Kind: KindCapability, Stage: stage, Message: "capability invocation failed", Cause: cause}
}

func NewNotFoundError(jobID string) *Error {
	return &Error{Kind: KindNotFound, Message: "job not found: " + jobID}
}

func NewInvalidTransitionError(jobID string, to Status) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf("job %s: illegal transition to %s", jobID, to)}
}

// KindOf extracts the classification from err, walking the wrap chain.
// Unclassified errors default to KindCapability so the retry policy
// treats them as transient external failures.
func KindOf(err error) Kind {
	for err != nil {
		if de, ok := err.(*Error); ok {
			return de.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindCapability
		}
		err = u.Unwrap()
	}
	return KindCapability
}
