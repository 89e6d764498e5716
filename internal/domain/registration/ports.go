package registration

import (
	"context"
	"time"
)

// PhoneSource yields the numbers currently offered by the coordination server.
type PhoneSource interface {
	FetchPhones(ctx context.Context) ([]PhoneNumber, error)
}

// PhoneCache is the durable copy of the last non-empty phone list.
type PhoneCache interface {
	Load(ctx context.Context) ([]PhoneNumber, error)
	Save(ctx context.Context, phones []PhoneNumber) error
}

// DispatchLedger remembers which numbers were handed to a worker so that a
// later run does not dispatch them again. Only numbers whose worker actually
// started count as consumed.
type DispatchLedger interface {
	MarkDispatched(ctx context.Context, runID string, phone PhoneNumber, at time.Time) error
	MarkLaunched(ctx context.Context, phone PhoneNumber, at time.Time) error
	RecordOutcome(ctx context.Context, phone PhoneNumber, outcome Outcome, at time.Time) error
	Consumed(ctx context.Context) (map[string]struct{}, error)
	Close() error
}

// OutcomeReporter sends attempt classifications to the coordination server.
// Implementations must never fail the caller.
type OutcomeReporter interface {
	ReportRateLimited(ctx context.Context, phone PhoneNumber)
	ReportInvalidPhone(ctx context.Context, phone PhoneNumber)
	ReportRegisteredAccount(ctx context.Context, result RegistrationResult)
}
