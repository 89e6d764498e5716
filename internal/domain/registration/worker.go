package registration

import (
	"time"

	"github.com/google/uuid"
)

// WorkerHandle tracks one dispatched registration attempt from launch to its
// terminal outcome.
type WorkerHandle struct {
	ID         uuid.UUID
	Phone      PhoneNumber
	PID        int
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Outcome    Outcome
	Err        error
	Result     *RegistrationResult
}

// NewWorkerHandle creates a PENDING handle for phone.
func NewWorkerHandle(phone PhoneNumber, startedAt time.Time) *WorkerHandle {
	return &WorkerHandle{
		ID:        uuid.New(),
		Phone:     phone,
		StartedAt: startedAt,
		ExitCode:  -1,
		Outcome:   OutcomePending,
	}
}

// Complete moves the handle to a terminal outcome. Only PENDING handles can
// complete, and only into a terminal outcome.
func (h *WorkerHandle) Complete(outcome Outcome, exitCode int, finishedAt time.Time, err error) error {
	if h.Outcome != OutcomePending || !outcome.IsTerminal() {
		return newInvalidTransitionError(h.Outcome, outcome)
	}
	h.Outcome = outcome
	h.ExitCode = exitCode
	h.FinishedAt = finishedAt
	h.Err = err
	return nil
}

// Duration returns how long the worker ran, or zero if it is still pending.
func (h *WorkerHandle) Duration() time.Duration {
	if h.FinishedAt.IsZero() {
		return 0
	}
	return h.FinishedAt.Sub(h.StartedAt)
}
