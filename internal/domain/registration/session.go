package registration

// AuthState represents where a client is in the login handshake.
type AuthState string

const (
	// AuthStateUnauthenticated is the state of a freshly constructed session.
	AuthStateUnauthenticated AuthState = "UNAUTHENTICATED"

	// AuthStateChallenged indicates the server issued a nonce and expects a proof.
	AuthStateChallenged AuthState = "CHALLENGED"

	// AuthStateAuthenticated indicates the session token has been issued.
	AuthStateAuthenticated AuthState = "AUTHENTICATED"

	// AuthStateFailed indicates the server refused the client or the budget ran out.
	AuthStateFailed AuthState = "FAILED"
)

// String returns the string representation of the AuthState.
func (s AuthState) String() string { return string(s) }

// MaxLoginRoundTrips bounds the number of challenge round trips per login.
const MaxLoginRoundTrips = 2

// Session is the client's view of its standing with the coordination server.
type Session struct {
	clientName string
	token      string
	state      AuthState
	attempts   int
	proof      string
}

// NewSession creates an unauthenticated session for clientName.
func NewSession(clientName string) *Session {
	return &Session{clientName: clientName, state: AuthStateUnauthenticated}
}

// NewAuthenticatedSession reconstitutes a session from a token handed over by
// a parent process. Worker-side commands use this instead of logging in again.
func NewAuthenticatedSession(clientName, token string) *Session {
	return &Session{clientName: clientName, token: token, state: AuthStateAuthenticated}
}

// ClientName returns the name the session was created for.
func (s *Session) ClientName() string { return s.clientName }

// Token returns the session token, empty until authenticated.
func (s *Session) Token() string { return s.token }

// State returns the current handshake state.
func (s *Session) State() AuthState { return s.state }

// Attempts returns the number of login round trips made against the current budget.
func (s *Session) Attempts() int { return s.attempts }

// Proof returns the last computed challenge proof.
func (s *Session) Proof() string { return s.proof }

// IsAuthenticated reports whether a token has been issued.
func (s *Session) IsAuthenticated() bool { return s.state == AuthStateAuthenticated }

// BeginAttempt consumes one round trip from the budget. It returns
// ErrTooManyAttempts and resets the counter once the budget is exceeded, so the
// next call starts fresh.
func (s *Session) BeginAttempt() error {
	s.attempts++
	if s.attempts > MaxLoginRoundTrips {
		s.attempts = 0
		s.state = AuthStateFailed
		return ErrTooManyAttempts
	}
	return nil
}

// Challenge records the proof computed for a server nonce.
func (s *Session) Challenge(proof string) {
	s.proof = proof
	s.state = AuthStateChallenged
}

// Authenticate sets the token. The token is immutable once set.
func (s *Session) Authenticate(token string) {
	if s.token != "" {
		return
	}
	s.token = token
	s.state = AuthStateAuthenticated
}

// Fail marks the session as rejected.
func (s *Session) Fail() {
	if s.state == AuthStateAuthenticated {
		return
	}
	s.state = AuthStateFailed
}
