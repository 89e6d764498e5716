// Package auth performs the challenge-response login against the coordination
// server.
package auth

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/reg-armada/internal/app/clients"
	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/transport"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// Server replies to a login request.
const (
	replyOK                = "ok"
	replyNeedAuthorization = "need authorization"
	replyAuthorizedFailure = "authorized failure"
)

// Requester is the subset of the server transport used for login.
type Requester interface {
	Get(ctx context.Context, op int, query url.Values) (*transport.Response, error)
}

// Authenticator drives a Session through the login handshake.
type Authenticator struct {
	session  *registration.Session
	password string

	transport Requester
	registry  *clients.Registry

	logger *logger.Logger
	tracer trace.Tracer
}

// NewAuthenticator creates an Authenticator for session. registry may be nil;
// when set, a successful login is registered there.
func NewAuthenticator(
	session *registration.Session,
	password string,
	transport Requester,
	registry *clients.Registry,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Authenticator {
	return &Authenticator{
		session:   session,
		password:  password,
		transport: transport,
		registry:  registry,
		logger:    logger.With("component", "authenticator", "client", session.ClientName()),
		tracer:    tracer,
	}
}

// Session returns the session being authenticated.
func (a *Authenticator) Session() *registration.Session { return a.session }

// Login runs the handshake until the server accepts or rejects the client.
// A rejection returns AuthStateFailed with a nil error. Exceeding
// MaxLoginRoundTrips returns ErrTooManyAttempts. Transport errors are returned
// as is and not retried.
func (a *Authenticator) Login(ctx context.Context) (registration.AuthState, error) {
	ctx, span := a.tracer.Start(ctx, "authenticator.login",
		trace.WithAttributes(attribute.String("client", a.session.ClientName())))
	defer span.End()

	if a.session.IsAuthenticated() {
		return registration.AuthStateAuthenticated, nil
	}

	for {
		if err := a.session.BeginAttempt(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login budget exhausted")
			a.logger.Error(ctx, "login budget exhausted", "max_round_trips", registration.MaxLoginRoundTrips)
			return a.session.State(), err
		}

		resp, err := a.transport.Get(ctx, transport.OpLogin, url.Values{"p": {a.session.Proof()}})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login request failed")
			return a.session.State(), fmt.Errorf("login request failed: %w", err)
		}

		switch resp.Body {
		case replyOK:
			token, ok := resp.Cookie(transport.SessionCookie)
			if !ok || token == "" {
				err := registration.NewUnexpectedResponseError("login accepted without a %q cookie", transport.SessionCookie)
				span.RecordError(err)
				span.SetStatus(codes.Error, "missing session cookie")
				return a.session.State(), err
			}
			a.session.Authenticate(token)
			if a.registry != nil {
				if err := a.registry.Register(a.session); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "session already registered")
					return a.session.State(), err
				}
			}
			span.SetStatus(codes.Ok, "login succeeded")
			a.logger.Info(ctx, "login succeeded", "attempts", a.session.Attempts())
			return registration.AuthStateAuthenticated, nil

		case replyNeedAuthorization:
			nonce, ok := resp.Cookie(transport.NonceCookie)
			if !ok || nonce == "" {
				err := registration.NewUnexpectedResponseError("challenge issued without a %q cookie", transport.NonceCookie)
				span.RecordError(err)
				span.SetStatus(codes.Error, "missing nonce cookie")
				return a.session.State(), err
			}
			a.session.Challenge(Proof(nonce, a.password))
			a.logger.Debug(ctx, "login challenged", "attempt", a.session.Attempts())

		case replyAuthorizedFailure:
			a.session.Fail()
			span.SetStatus(codes.Error, "authorization refused")
			a.logger.Warn(ctx, "server refused authorization")
			return registration.AuthStateFailed, nil

		default:
			err := registration.NewUnexpectedResponseError("login reply %q", resp.Body)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unexpected login reply")
			return a.session.State(), err
		}
	}
}

// Proof computes base64(md5("{nonce}-{password}")).
func Proof(nonce, password string) string {
	sum := md5.Sum([]byte(nonce + "-" + password))
	return base64.StdEncoding.EncodeToString(sum[:])
}
