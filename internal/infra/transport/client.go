// Package transport speaks HTTP to the coordination server. Every endpoint is
// addressed as /1/{client}/{op}; replies are either a bare status word or a
// JSON document.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/ahrav/reg-armada/pkg/common"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// Server operations. The numeric value is the last path segment.
const (
	OpLogin   = 4
	OpPhones  = 5
	OpSMSCode = 7
	OpReport  = 8
)

// Cookie names used by the server.
const (
	SessionCookie = "s"
	NonceCookie   = "n"
)

const protocolVersion = "1"

// maxBodySize caps how much of a reply is read.
const maxBodySize = 4 << 20

// Pacing applied after the server answers 429. An unlimited client drops to
// throttledRPS; a paced one halves its rate, never going below minRPS.
const (
	throttledRPS = 1.0
	minRPS       = 0.2
)

// Config configures a Client.
type Config struct {
	// BaseURL is scheme://host[:port] of the coordination server.
	BaseURL string

	// ClientName is the path segment that identifies this client.
	ClientName string

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	Timeout time.Duration

	// HTTPClient overrides the default client. Its Jar is replaced when nil.
	HTTPClient *http.Client
}

// Client issues requests to the coordination server and keeps its cookies.
type Client struct {
	base       *url.URL
	clientName string

	httpClient  *http.Client
	rateLimiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a Client. The underlying transport is instrumented with
// otelhttp and carries a public-suffix aware cookie jar.
func New(cfg Config, log *logger.Logger, tracer trace.Tracer) (*Client, error) {
	if cfg.ClientName == "" {
		return nil, fmt.Errorf("client name is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host are required", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	return &Client{
		base:        base,
		clientName:  cfg.ClientName,
		httpClient:  httpClient,
		rateLimiter: common.NewRateLimiter(cfg.RequestsPerSecond, 1),
		logger:      log.With("component", "server_transport"),
		tracer:      tracer,
	}, nil
}

// ClientName returns the client path segment.
func (c *Client) ClientName() string { return c.clientName }

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// SetSession seeds the session cookie. Workers that receive a token from the
// orchestrator use this instead of logging in again.
func (c *Client) SetSession(token string) {
	c.httpClient.Jar.SetCookies(c.base, []*http.Cookie{{Name: SessionCookie, Value: token, Path: "/"}})
}

// Cookie returns the named cookie from the jar.
func (c *Client) Cookie(name string) (string, bool) {
	for _, ck := range c.httpClient.Jar.Cookies(c.endpoint(0, nil)) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// Get issues GET /1/{client}/{op}?{query}.
func (c *Client) Get(ctx context.Context, op int, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, op, query, nil)
}

// PostForm issues POST /1/{client}/{op} with a form-encoded body.
func (c *Client) PostForm(ctx context.Context, op int, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, op, nil, form)
}

func (c *Client) endpoint(op int, query url.Values) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + protocolVersion + "/" + url.PathEscape(c.clientName) + "/"
	if op > 0 {
		u.Path += strconv.Itoa(op)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return &u
}

func (c *Client) do(ctx context.Context, method string, op int, query, form url.Values) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "server_transport.do",
		trace.WithAttributes(
			attribute.String("client", c.clientName),
			attribute.String("method", method),
			attribute.Int("op", op),
		))
	defer span.End()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait failed")
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	target := c.endpoint(op, query)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("%s op %d failed: %w", method, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read response")
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusTooManyRequests {
		c.throttle(ctx)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return nil, err
	}

	c.logger.Debug(ctx, "server replied", "op", op, "status", resp.StatusCode, "bytes", len(raw))
	span.SetStatus(codes.Ok, "request completed")

	return &Response{
		Status:  resp.StatusCode,
		Body:    strings.TrimSpace(string(raw)),
		Cookies: resp.Cookies(),
		jar:     c,
	}, nil
}

// throttle slows every later request down after a 429 reply.
func (c *Client) throttle(ctx context.Context) {
	next := throttledRPS
	if current := c.rateLimiter.Limit(); current != rate.Inf {
		next = max(float64(current)/2, minRPS)
	}
	c.rateLimiter.UpdateLimits(next, 1)
	c.logger.Warn(ctx, "server is throttling requests, slowing down", "requests_per_second", next)
}

// Response is a server reply with its body already read.
type Response struct {
	Status  int
	Body    string
	Cookies []*http.Cookie

	jar *Client
}

// Cookie returns the named cookie set by this response, falling back to the
// client's jar.
func (r *Response) Cookie(name string) (string, bool) {
	for _, ck := range r.Cookies {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	if r.jar != nil {
		return r.jar.Cookie(name)
	}
	return "", false
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal([]byte(r.Body), v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Op         int
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d for op %d: %s", e.StatusCode, e.Op, e.Body)
}
