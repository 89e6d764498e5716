package registration

// Outcome is the classification of a single registration attempt.
type Outcome string

const (
	// OutcomePending indicates the worker process is still running.
	OutcomePending Outcome = "PENDING"

	// OutcomeRateLimited indicates the phone hit an upstream SMS rate limit.
	OutcomeRateLimited Outcome = "RATE_LIMITED"

	// OutcomeInvalidPhone indicates the phone cannot be used.
	OutcomeInvalidPhone Outcome = "INVALID_PHONE"

	// OutcomeSucceeded indicates an account was registered.
	OutcomeSucceeded Outcome = "SUCCEEDED"

	// OutcomeCrashed indicates the worker failed without a usable classification.
	OutcomeCrashed Outcome = "CRASHED"
)

// Worker exit codes understood by the orchestrator. They mirror the report
// classification codes sent to the server.
const (
	ExitSucceeded    = 0
	ExitRateLimited  = 2
	ExitInvalidPhone = 3
)

// String returns the string representation of the Outcome.
func (o Outcome) String() string { return string(o) }

// IsTerminal reports whether o is a final classification.
func (o Outcome) IsTerminal() bool { return o != OutcomePending && o != "" }

// OutcomeFromExitCode maps a worker exit status to an Outcome.
func OutcomeFromExitCode(code int) Outcome {
	switch code {
	case ExitSucceeded:
		return OutcomeSucceeded
	case ExitRateLimited:
		return OutcomeRateLimited
	case ExitInvalidPhone:
		return OutcomeInvalidPhone
	default:
		return OutcomeCrashed
	}
}

// ParseOutcome converts a string to an Outcome, returning OutcomeCrashed for
// unknown values.
func ParseOutcome(s string) Outcome {
	switch Outcome(s) {
	case OutcomePending, OutcomeRateLimited, OutcomeInvalidPhone, OutcomeSucceeded, OutcomeCrashed:
		return Outcome(s)
	default:
		return OutcomeCrashed
	}
}
