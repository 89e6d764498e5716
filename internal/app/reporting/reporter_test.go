package reporting

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/rsakey"
	"github.com/ahrav/reg-armada/internal/infra/transport"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// brokenTransport fails every request.
type brokenTransport struct{}

func (brokenTransport) Get(context.Context, int, url.Values) (*transport.Response, error) {
	return nil, errors.New("connection reset by peer")
}

func (brokenTransport) PostForm(context.Context, int, url.Values) (*transport.Response, error) {
	return nil, errors.New("connection reset by peer")
}

type recordedRequest struct {
	method string
	path   string
	query  url.Values
	form   url.Values
}

type reporterTestSuite struct {
	mu       sync.Mutex
	requests []recordedRequest
	priv     *rsa.PrivateKey
	reporter *Reporter
}

func newReporterTestSuite(t *testing.T) *reporterTestSuite {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := &reporterTestSuite{priv: priv}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			form:   r.PostForm,
		})
		s.mu.Unlock()
	}))
	t.Cleanup(srv.Close)

	tracer := noop.NewTracerProvider().Tracer("test")
	client, err := transport.New(transport.Config{BaseURL: srv.URL, ClientName: "client-a"}, logger.Noop(), tracer)
	require.NoError(t, err)

	s.reporter = NewReporter(client, rsakey.NewStaticSource(&priv.PublicKey), "cn", logger.Noop(), tracer)
	return s
}

func TestReporter_Classifications(t *testing.T) {
	s := newReporterTestSuite(t)
	ctx := context.Background()

	s.reporter.ReportRateLimited(ctx, registration.NewPhoneNumber("111"))
	s.reporter.ReportInvalidPhone(ctx, registration.NewPhoneNumber("222"))

	require.Len(t, s.requests, 2)
	assert.Equal(t, http.MethodGet, s.requests[0].method)
	assert.Equal(t, "/1/client-a/8", s.requests[0].path)
	assert.Equal(t, "111", s.requests[0].query.Get("p"))
	assert.Equal(t, "2", s.requests[0].query.Get("t"))
	assert.Equal(t, "222", s.requests[1].query.Get("p"))
	assert.Equal(t, "3", s.requests[1].query.Get("t"))
}

func TestReporter_RegisteredAccount(t *testing.T) {
	s := newReporterTestSuite(t)

	s.reporter.ReportRegisteredAccount(context.Background(), registration.RegistrationResult{
		UIN:      "10001",
		Password: "hunter2",
		Phone:    "111",
		Nickname: "nick",
		Demographics: registration.Demographics{
			City: "5",
		},
	})

	require.Len(t, s.requests, 1)
	req := s.requests[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/1/client-a/8", req.path)

	assert.Equal(t, "10001", req.form.Get("uin"))
	assert.Equal(t, "nick", req.form.Get("nick"))
	assert.Equal(t, "111", req.form.Get("phone"))
	assert.Equal(t, "5", req.form.Get("city"))
	assert.Equal(t, registration.DefaultCountry, req.form.Get("country"))
	assert.Equal(t, registration.DefaultProvince, req.form.Get("province"))
	assert.Equal(t, registration.DefaultBirth, req.form.Get("birth"))
	assert.Equal(t, registration.DefaultGender, req.form.Get("gender"))
	assert.Equal(t, registration.DefaultNongli, req.form.Get("nongli"))
	assert.Equal(t, "cn", req.form.Get("region"))

	enc := req.form.Get("password")
	assert.NotEqual(t, "hunter2", enc)
	ct, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, s.priv, ct)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(pt))
}

func TestReporter_BrokenTransportNeverFails(t *testing.T) {
	var (
		buf    bytes.Buffer
		mu     sync.Mutex
		errRecords []logger.Record
	)
	log := logger.NewWithEvents(&buf, logger.LevelDebug, "test", nil, logger.Events{
		Error: func(_ context.Context, r logger.Record) {
			mu.Lock()
			errRecords = append(errRecords, r)
			mu.Unlock()
		},
	})

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	r := NewReporter(brokenTransport{}, rsakey.NewStaticSource(&priv.PublicKey), "", log, noop.NewTracerProvider().Tracer("test"))

	ctx := context.Background()
	assert.NotPanics(t, func() {
		r.ReportRateLimited(ctx, registration.NewPhoneNumber("111"))
		r.ReportInvalidPhone(ctx, registration.NewPhoneNumber("111"))
		r.ReportRegisteredAccount(ctx, registration.RegistrationResult{UIN: "1", Password: "p", Phone: "111"})
	})

	require.Len(t, errRecords, 3)
	assert.Equal(t, "failed to report phone outcome", errRecords[0].Message)
	assert.Equal(t, "failed to report registered account", errRecords[2].Message)
	assert.Contains(t, buf.String(), "connection reset by peer")
}

func TestReporter_MissingKeyIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelDebug, "test", nil)
	r := NewReporter(brokenTransport{}, rsakey.NewFileSource(""), "", log, noop.NewTracerProvider().Tracer("test"))

	r.ReportRegisteredAccount(context.Background(), registration.RegistrationResult{UIN: "1", Password: "p"})
	assert.Contains(t, buf.String(), "failed to encrypt account password")
}

func TestAccountForm(t *testing.T) {
	res := registration.RegistrationResult{UIN: "1", Phone: "111", Nickname: "n"}.WithDefaults("us")
	form := AccountForm(res, "ENC")

	want := []string{"uin", "password", "nick", "country", "province", "city", "birth", "gender", "phone", "nongli", "region"}
	for _, k := range want {
		assert.Contains(t, form, k)
	}
	assert.Len(t, form, len(want))
	assert.Equal(t, "ENC", form.Get("password"))
	assert.Equal(t, "us", form.Get("region"))
}
