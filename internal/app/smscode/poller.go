// Package smscode waits for the SMS verification code the server relays for a
// phone number.
package smscode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/transport"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// replyTimeout is the server's "not yet" answer.
const replyTimeout = "timeout"

var errNotYet = errors.New("sms code not yet available")

// Requester is the subset of the server transport used for polling.
type Requester interface {
	Get(ctx context.Context, op int, query url.Values) (*transport.Response, error)
}

// Config bounds the polling loop.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// MaxWait is the hard deadline for one Poll call.
	MaxWait time.Duration
}

// Poller asks the server for an SMS code until one arrives.
type Poller struct {
	transport Requester
	cfg       Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPoller creates a Poller.
func NewPoller(transport Requester, cfg Config, logger *logger.Logger, tracer trace.Tracer) *Poller {
	return &Poller{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("component", "sms_code_poller"),
		tracer:    tracer,
	}
}

// Poll returns the code for phone. when is forwarded to the server as the w
// parameter. A "timeout" reply is retried with exponential backoff until
// MaxWait elapses, after which ErrSMSCodeTimeout is returned. Any other
// failure ends polling immediately.
func (p *Poller) Poll(ctx context.Context, phone, when string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "sms_code_poller.poll",
		trace.WithAttributes(attribute.String("phone", phone)))
	defer span.End()

	// MaxWait is enforced through pollCtx rather than MaxElapsedTime so the
	// two deadlines can be told apart afterwards.
	pollCtx := ctx
	if p.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.cfg.MaxWait)
		defer cancel()
	}

	expBackoff := backoff.NewExponentialBackOff()
	if p.cfg.InitialInterval > 0 {
		expBackoff.InitialInterval = p.cfg.InitialInterval
	}
	if p.cfg.MaxInterval > 0 {
		expBackoff.MaxInterval = p.cfg.MaxInterval
	}
	expBackoff.MaxElapsedTime = 0

	query := url.Values{"p": {phone}, "w": {when}}
	attempts := 0
	var code string

	operation := func() error {
		attempts++
		resp, err := p.transport.Get(pollCtx, transport.OpSMSCode, query)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch resp.Body {
		case replyTimeout:
			return errNotYet
		case "":
			return backoff.Permanent(registration.NewUnexpectedResponseError("empty sms code reply"))
		}
		code = resp.Body
		return nil
	}

	notify := func(err error, next time.Duration) {
		p.logger.Debug(ctx, "sms code not ready, retrying", "phone", phone, "attempt", attempts, "next", next)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, pollCtx), notify)
	span.SetAttributes(attribute.Int("attempts", attempts))

	// The backoff stops early once the next interval would overrun a
	// deadline, so ctx may not be done yet even when its deadline decided.
	expired := err != nil && (pollCtx.Err() != nil || errors.Is(err, errNotYet))
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "sms code received")
		p.logger.Info(ctx, "sms code received", "phone", phone, "attempts", attempts)
		return code, nil
	case ctx.Err() != nil:
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "polling canceled")
		return "", ctx.Err()
	case expired && callerDeadlineFirst(ctx, pollCtx):
		span.RecordError(context.DeadlineExceeded)
		span.SetStatus(codes.Error, "polling deadline exceeded")
		return "", fmt.Errorf("sms code not received before caller deadline: %w", context.DeadlineExceeded)
	case expired:
		span.RecordError(registration.ErrSMSCodeTimeout)
		span.SetStatus(codes.Error, "sms code timed out")
		p.logger.Warn(ctx, "gave up waiting for sms code", "phone", phone, "attempts", attempts, "max_wait", p.cfg.MaxWait)
		return "", fmt.Errorf("%w after %d attempts", registration.ErrSMSCodeTimeout, attempts)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "sms code request failed")
		return "", fmt.Errorf("sms code request failed: %w", err)
	}
}

// callerDeadlineFirst reports whether ctx's own deadline bounds pollCtx.
func callerDeadlineFirst(ctx, pollCtx context.Context) bool {
	callerDeadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	pollDeadline, _ := pollCtx.Deadline()
	return !callerDeadline.After(pollDeadline)
}
