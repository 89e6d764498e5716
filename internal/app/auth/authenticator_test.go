package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/reg-armada/internal/app/clients"
	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/transport"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

const testPassword = "secret"

// loginReply scripts one server response to a login request.
type loginReply struct {
	body    string
	cookies []*http.Cookie
}

type scriptedServer struct {
	mu      sync.Mutex
	replies []loginReply
	proofs  []string
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proofs = append(s.proofs, r.URL.Query().Get("p"))
	if len(s.replies) == 0 {
		http.Error(w, "script exhausted", http.StatusInternalServerError)
		return
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	for _, c := range reply.cookies {
		http.SetCookie(w, c)
	}
	_, _ = io.WriteString(w, reply.body)
}

type authTestSuite struct {
	server   *scriptedServer
	session  *registration.Session
	registry *clients.Registry
	auth     *Authenticator
}

func newAuthTestSuite(t *testing.T, replies ...loginReply) *authTestSuite {
	t.Helper()

	script := &scriptedServer{replies: replies}
	srv := httptest.NewServer(script)
	t.Cleanup(srv.Close)

	tracer := noop.NewTracerProvider().Tracer("test")
	client, err := transport.New(transport.Config{BaseURL: srv.URL, ClientName: "client-a"}, logger.Noop(), tracer)
	require.NoError(t, err)

	session := registration.NewSession("client-a")
	registry := clients.NewRegistry()

	return &authTestSuite{
		server:   script,
		session:  session,
		registry: registry,
		auth:     NewAuthenticator(session, testPassword, client, registry, logger.Noop(), tracer),
	}
}

func cookie(name, value string) *http.Cookie {
	return &http.Cookie{Name: name, Value: value, Path: "/"}
}

func TestProof_Fixture(t *testing.T) {
	assert.Equal(t, "rqNZTaARL8g2IS4WWhqNMw==", Proof("abc123", "secret"))
	assert.Equal(t, Proof("abc123", "secret"), Proof("abc123", "secret"))
	assert.NotEqual(t, Proof("abc123", "secret"), Proof("abc124", "secret"))
}

func TestLogin_DirectOK(t *testing.T) {
	s := newAuthTestSuite(t, loginReply{body: "ok", cookies: []*http.Cookie{cookie("s", "tok-1")}})

	state, err := s.auth.Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, registration.AuthStateAuthenticated, state)
	assert.Equal(t, "tok-1", s.session.Token())
	assert.Equal(t, []string{""}, s.server.proofs, "first request carries an empty proof")

	assert.Equal(t, 1, s.registry.Len())
	assert.ErrorIs(t,
		s.registry.Register(registration.NewAuthenticatedSession("client-a", "other")),
		registration.ErrSessionExists,
		"the logged-in session holds the client name")
}

func TestLogin_ChallengeThenOK(t *testing.T) {
	s := newAuthTestSuite(t,
		loginReply{body: "need authorization", cookies: []*http.Cookie{cookie("n", "abc123")}},
		loginReply{body: "ok", cookies: []*http.Cookie{cookie("s", "tok-2")}},
	)

	state, err := s.auth.Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, registration.AuthStateAuthenticated, state)
	assert.Equal(t, "tok-2", s.session.Token())
	assert.Equal(t, []string{"", "rqNZTaARL8g2IS4WWhqNMw=="}, s.server.proofs)
	assert.Equal(t, 2, s.session.Attempts())
}

func TestLogin_AuthorizedFailure(t *testing.T) {
	s := newAuthTestSuite(t, loginReply{body: "authorized failure"})

	state, err := s.auth.Login(context.Background())
	require.NoError(t, err, "a refusal is reported through the state, not an error")
	assert.Equal(t, registration.AuthStateFailed, state)
	assert.Empty(t, s.session.Token())
	assert.Zero(t, s.registry.Len())
}

func TestLogin_TooManyAttempts(t *testing.T) {
	challenge := loginReply{body: "need authorization", cookies: []*http.Cookie{cookie("n", "abc123")}}
	s := newAuthTestSuite(t, challenge, challenge, challenge, challenge)

	state, err := s.auth.Login(context.Background())
	require.ErrorIs(t, err, registration.ErrTooManyAttempts)
	assert.Equal(t, registration.AuthStateFailed, state)
	assert.Len(t, s.server.proofs, registration.MaxLoginRoundTrips)
	assert.Zero(t, s.session.Attempts(), "counter resets after the budget is exceeded")

	// A fresh call gets a fresh budget.
	_, err = s.auth.Login(context.Background())
	require.ErrorIs(t, err, registration.ErrTooManyAttempts)
	assert.Len(t, s.server.proofs, 2*registration.MaxLoginRoundTrips)
}

func TestLogin_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply loginReply
	}{
		{name: "ok without session cookie", reply: loginReply{body: "ok"}},
		{name: "challenge without nonce", reply: loginReply{body: "need authorization"}},
		{name: "unknown reply", reply: loginReply{body: "maintenance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newAuthTestSuite(t, tt.reply)

			_, err := s.auth.Login(context.Background())
			require.ErrorIs(t, err, registration.ErrUnexpectedResponse)
			assert.False(t, s.session.IsAuthenticated())
		})
	}
}

func TestLogin_TransportErrorPropagates(t *testing.T) {
	s := newAuthTestSuite(t)

	_, err := s.auth.Login(context.Background())
	require.Error(t, err)

	var statusErr *transport.StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Len(t, s.server.proofs, 1, "transport errors are not retried")
}

func TestLogin_AlreadyAuthenticated(t *testing.T) {
	s := newAuthTestSuite(t, loginReply{body: "ok", cookies: []*http.Cookie{cookie("s", "tok-1")}})

	_, err := s.auth.Login(context.Background())
	require.NoError(t, err)

	state, err := s.auth.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, registration.AuthStateAuthenticated, state)
	assert.Len(t, s.server.proofs, 1)
}

func TestLogin_SecondSessionForClientRejected(t *testing.T) {
	s := newAuthTestSuite(t, loginReply{body: "ok", cookies: []*http.Cookie{cookie("s", "tok-1")}})
	require.NoError(t, s.registry.Register(registration.NewAuthenticatedSession("client-a", "other")))

	_, err := s.auth.Login(context.Background())
	assert.ErrorIs(t, err, registration.ErrSessionExists)
}
