package worker

import (
	"fmt"
	"time"

	"github.com/SirClappington/finsight/internal/domain"
)

// Decision is the retry controller's verdict on one failed attempt:
// either schedule another attempt after Delay, or fail the job
// terminally with Reason.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// Policy holds the retry knobs for one class of work. BackoffUnit
// exists so tests can run with fast timers; production uses one
// second.
type Policy struct {
	MaxRetries        int
	TimeoutRetryDelay time.Duration
	BackoffUnit       time.Duration
}

func (p Policy) backoffUnit() time.Duration {
	if p.BackoffUnit > 0 {
		return p.BackoffUnit
	}
	return time.Second
}

// Classify maps a classified failure and the attempt number that just
// failed (1-based) to a retry decision. Pure function: no queue, no
// clock.
//
//   - validation and invalid-state errors are terminal; retrying
//     cannot change a structurally invalid input or a broken contract
//   - timeouts retry after a fixed short delay up to the ceiling
//   - capability and unclassified errors retry with exponential
//     backoff (1, 2, 4... units) up to the same ceiling
func (p Policy) Classify(err error, attempt int) Decision {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation, domain.KindInvalidState, domain.KindNotFound:
		return Decision{Reason: err.Error()}
	case domain.KindTimeout:
		if attempt > p.MaxRetries {
			return Decision{Reason: "timeout, retries exhausted"}
		}
		return Decision{Retry: true, Delay: p.TimeoutRetryDelay}
	default:
		if attempt > p.MaxRetries {
			return Decision{Reason: fmt.Sprintf("retries exhausted: %s", err.Error())}
		}
		return Decision{Retry: true, Delay: p.backoffUnit() << (attempt - 1)}
	}
}
