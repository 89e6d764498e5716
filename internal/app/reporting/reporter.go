// Package reporting sends attempt outcomes back to the coordination server.
// Every report is best effort: failures are logged and never returned.
package reporting

import (
	"context"
	"crypto/rand"
	"io"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/rsakey"
	"github.com/ahrav/reg-armada/internal/infra/transport"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// Classification codes understood by the report endpoint.
const (
	ClassRateLimited  = 2
	ClassInvalidPhone = 3
)

// Requester is the subset of the server transport used for reports.
type Requester interface {
	Get(ctx context.Context, op int, query url.Values) (*transport.Response, error)
	PostForm(ctx context.Context, op int, form url.Values) (*transport.Response, error)
}

var _ registration.OutcomeReporter = (*Reporter)(nil)

// Reporter implements registration.OutcomeReporter over the server transport.
type Reporter struct {
	transport Requester
	keys      rsakey.Source
	region    string
	random    io.Reader

	logger *logger.Logger
	tracer trace.Tracer
}

// NewReporter creates a Reporter. region fills the region field of account
// reports that do not carry one.
func NewReporter(
	transport Requester,
	keys rsakey.Source,
	region string,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Reporter {
	return &Reporter{
		transport: transport,
		keys:      keys,
		region:    region,
		random:    rand.Reader,
		logger:    logger.With("component", "outcome_reporter"),
		tracer:    tracer,
	}
}

// ReportRateLimited tells the server phone hit an upstream SMS rate limit.
func (r *Reporter) ReportRateLimited(ctx context.Context, phone registration.PhoneNumber) {
	r.reportClassification(ctx, phone, ClassRateLimited)
}

// ReportInvalidPhone tells the server phone cannot be used.
func (r *Reporter) ReportInvalidPhone(ctx context.Context, phone registration.PhoneNumber) {
	r.reportClassification(ctx, phone, ClassInvalidPhone)
}

func (r *Reporter) reportClassification(ctx context.Context, phone registration.PhoneNumber, class int) {
	ctx, span := r.tracer.Start(ctx, "outcome_reporter.report_classification",
		trace.WithAttributes(
			attribute.String("phone", phone.Number),
			attribute.Int("class", class),
		))
	defer span.End()

	query := url.Values{"p": {phone.Number}, "t": {strconv.Itoa(class)}}
	if _, err := r.transport.Get(ctx, transport.OpReport, query); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report failed")
		r.logger.Error(ctx, "failed to report phone outcome", "phone", phone.Number, "class", class, "error", err)
		return
	}
	span.SetStatus(codes.Ok, "reported")
	r.logger.Info(ctx, "phone outcome reported", "phone", phone.Number, "class", class)
}

// ReportRegisteredAccount submits new credentials. The password is encrypted
// under the server's public key before it leaves the process.
func (r *Reporter) ReportRegisteredAccount(ctx context.Context, result registration.RegistrationResult) {
	ctx, span := r.tracer.Start(ctx, "outcome_reporter.report_registered_account",
		trace.WithAttributes(
			attribute.String("uin", result.UIN),
			attribute.String("phone", result.Phone),
		))
	defer span.End()

	log := r.logger.With("uin", result.UIN, "phone", result.Phone)

	encrypted, err := r.encryptPassword(result.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password encryption failed")
		log.Error(ctx, "failed to encrypt account password", "error", err)
		return
	}

	form := AccountForm(result.WithDefaults(r.region), encrypted)
	if _, err := r.transport.PostForm(ctx, transport.OpReport, form); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report failed")
		log.Error(ctx, "failed to report registered account", "error", err)
		return
	}
	span.SetStatus(codes.Ok, "reported")
	log.Info(ctx, "registered account reported")
}

func (r *Reporter) encryptPassword(password string) (string, error) {
	key, release, err := r.keys.Acquire()
	if err != nil {
		return "", err
	}
	defer release()
	return rsakey.EncryptPassword(key, password, r.random)
}

// AccountForm builds the form body of an account report. encryptedPassword
// must already be encrypted and encoded.
func AccountForm(result registration.RegistrationResult, encryptedPassword string) url.Values {
	return url.Values{
		"uin":      {result.UIN},
		"password": {encryptedPassword},
		"nick":     {result.Nickname},
		"country":  {result.Country},
		"province": {result.Province},
		"city":     {result.City},
		"birth":    {result.Birth},
		"gender":   {result.Gender},
		"phone":    {result.Phone},
		"nongli":   {result.Nongli},
		"region":   {result.Region},
	}
}
