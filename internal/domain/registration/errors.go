package registration

import "fmt"

// ErrorKind identifies the class of a registration failure so callers can
// decide between aborting the run and carrying on.
type ErrorKind int

const (
	// ErrKindTooManyAttempts indicates the login challenge budget was exhausted.
	ErrKindTooManyAttempts ErrorKind = iota

	// ErrKindAuthorizationFailed indicates the server rejected the credentials.
	ErrKindAuthorizationFailed

	// ErrKindNoAvailablePhones indicates the inventory was empty when dispatch began.
	ErrKindNoAvailablePhones

	// ErrKindUnexpectedResponse indicates a malformed or unknown server reply.
	ErrKindUnexpectedResponse

	// ErrKindSMSCodeTimeout indicates the SMS code never arrived within the deadline.
	ErrKindSMSCodeTimeout

	// ErrKindSessionExists indicates a second session was registered for a client.
	ErrKindSessionExists

	// ErrKindInvalidTransition indicates an illegal worker outcome transition.
	ErrKindInvalidTransition
)

// RegistrationError is the domain error type. Two errors match under errors.Is
// when they share a kind, so wrapped errors with extra context still compare
// equal to the exported sentinels.
type RegistrationError struct {
	msg  string
	kind ErrorKind
}

// Error returns the error message.
func (e *RegistrationError) Error() string { return e.msg }

// Kind returns the error classification.
func (e *RegistrationError) Kind() ErrorKind { return e.kind }

// Is compares error kinds.
func (e *RegistrationError) Is(target error) bool {
	t, ok := target.(*RegistrationError)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

var (
	ErrTooManyAttempts = &RegistrationError{
		msg:  "login has been tried too many times",
		kind: ErrKindTooManyAttempts,
	}
	ErrAuthorizationFailed = &RegistrationError{
		msg:  "authorized failure",
		kind: ErrKindAuthorizationFailed,
	}
	ErrNoAvailablePhones = &RegistrationError{
		msg:  "no available phone numbers",
		kind: ErrKindNoAvailablePhones,
	}
	ErrUnexpectedResponse = &RegistrationError{
		msg:  "unexpected server response",
		kind: ErrKindUnexpectedResponse,
	}
	ErrSMSCodeTimeout = &RegistrationError{
		msg:  "timed out waiting for sms code",
		kind: ErrKindSMSCodeTimeout,
	}
	ErrSessionExists = &RegistrationError{
		msg:  "client already has an authenticated session",
		kind: ErrKindSessionExists,
	}
	ErrInvalidTransition = &RegistrationError{
		msg:  "invalid outcome transition",
		kind: ErrKindInvalidTransition,
	}
)

// NewUnexpectedResponseError wraps a protocol violation with the offending detail.
func NewUnexpectedResponseError(format string, args ...any) error {
	return &RegistrationError{
		msg:  fmt.Sprintf("unexpected server response: "+format, args...),
		kind: ErrKindUnexpectedResponse,
	}
}

func newInvalidTransitionError(from, to Outcome) error {
	return &RegistrationError{
		msg:  fmt.Sprintf("cannot transition worker outcome from %s to %s", from, to),
		kind: ErrKindInvalidTransition,
	}
}
