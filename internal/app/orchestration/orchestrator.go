// Package orchestration drains the phone inventory into worker processes at a
// throttled rate and joins every worker before returning.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/worker"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// Launcher starts one worker process.
type Launcher interface {
	Launch(ctx context.Context, spec worker.Spec) (*worker.Process, error)
}

// Pool is the inventory as seen by the dispatch loop.
type Pool interface {
	Len() int
	Claim(ctx context.Context) (registration.PhoneNumber, bool, error)
}

// Config controls dispatch.
type Config struct {
	RunID string

	// DispatchInterval is the minimum time between two consecutive launches.
	DispatchInterval time.Duration

	// MaxConcurrent bounds live workers. Zero means unbounded.
	MaxConcurrent int

	// SkipOutcomeReports leaves reporting to the workers themselves.
	SkipOutcomeReports bool
}

// Orchestrator runs the dispatch loop and the join phase.
type Orchestrator struct {
	cfg      Config
	template worker.Template

	launcher Launcher
	reporter registration.OutcomeReporter
	ledger   registration.DispatchLedger

	metrics OrchestratorMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewOrchestrator creates an Orchestrator. ledger may be nil.
func NewOrchestrator(
	cfg Config,
	template worker.Template,
	launcher Launcher,
	reporter registration.OutcomeReporter,
	ledger registration.DispatchLedger,
	metrics OrchestratorMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		template: template,
		launcher: launcher,
		reporter: reporter,
		ledger:   ledger,
		metrics:  metrics,
		logger:   logger.With("component", "orchestrator", "run_id", cfg.RunID),
		tracer:   tracer,
	}
}

// Run launches one worker per phone in pool order, waiting DispatchInterval
// between launches, then blocks until every launched worker has exited.
//
// An empty pool fails with ErrNoAvailablePhones before anything is launched.
// Cancelling ctx stops further dispatch; workers already running are still
// joined and, if phones were left undispatched, ctx's error is returned with
// their handles. A failure to record a claim in the ledger also stops dispatch
// and is returned the same way.
func (o *Orchestrator) Run(
	ctx context.Context,
	session *registration.Session,
	pool Pool,
) ([]*registration.WorkerHandle, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run_id", o.cfg.RunID),
			attribute.String("client", session.ClientName()),
			attribute.Int("pool_size", pool.Len()),
		))
	defer span.End()

	if !session.IsAuthenticated() {
		err := fmt.Errorf("session for %s is %s", session.ClientName(), session.State())
		span.RecordError(err)
		span.SetStatus(codes.Error, "session not authenticated")
		return nil, err
	}

	if pool.Len() == 0 {
		span.RecordError(registration.ErrNoAvailablePhones)
		span.SetStatus(codes.Error, "no available phones")
		o.logger.Error(ctx, "no available phone numbers, nothing to dispatch")
		return nil, registration.ErrNoAvailablePhones
	}

	var sem *semaphore.Weighted
	if o.cfg.MaxConcurrent > 0 {
		sem = semaphore.NewWeighted(int64(o.cfg.MaxConcurrent))
	}

	// Joins outlive dispatch: reports and ledger writes must still go out
	// after ctx is cancelled.
	joinCtx := context.WithoutCancel(ctx)

	var (
		g       errgroup.Group
		handles []*registration.WorkerHandle
		fatal   error
		stopped error
	)

	o.logger.Info(ctx, "dispatch started",
		"pool_size", pool.Len(),
		"interval", o.cfg.DispatchInterval,
		"max_concurrent", o.cfg.MaxConcurrent,
	)

	for i := 0; pool.Len() > 0; i++ {
		if i > 0 {
			if err := o.pause(ctx); err != nil {
				stopped = err
				o.logger.Warn(ctx, "dispatch stopped", "reason", err, "remaining", pool.Len())
				break
			}
		} else if err := ctx.Err(); err != nil {
			stopped = err
			o.logger.Warn(ctx, "dispatch stopped", "reason", err, "remaining", pool.Len())
			break
		}

		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				stopped = err
				o.logger.Warn(ctx, "dispatch stopped while waiting for a worker slot", "reason", err)
				break
			}
		}

		phone, ok, err := pool.Claim(ctx)
		if err != nil || !ok {
			if sem != nil {
				sem.Release(1)
			}
			if err != nil {
				fatal = err
				o.logger.Error(ctx, "failed to claim phone, stopping dispatch", "phone", phone.Number, "error", err)
			}
			break
		}

		handles = append(handles, o.dispatch(ctx, joinCtx, &g, sem, session, phone))
	}

	// Waiters never return errors; worker failures stay isolated.
	_ = g.Wait()

	span.SetAttributes(attribute.Int("dispatched", len(handles)))
	o.logSummary(ctx, handles)

	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "dispatch aborted")
		return handles, fatal
	}
	if stopped != nil {
		err := fmt.Errorf("dispatch interrupted with %d phones left: %w", pool.Len(), stopped)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch interrupted")
		return handles, err
	}
	span.SetStatus(codes.Ok, "run completed")
	return handles, nil
}

// pause waits DispatchInterval or until ctx is done.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.cfg.DispatchInterval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.cfg.DispatchInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// dispatch launches one worker and schedules its join. A failed launch yields
// a CRASHED handle straight away.
func (o *Orchestrator) dispatch(
	ctx, joinCtx context.Context,
	g *errgroup.Group,
	sem *semaphore.Weighted,
	session *registration.Session,
	phone registration.PhoneNumber,
) *registration.WorkerHandle {
	ctx, span := o.tracer.Start(ctx, "orchestrator.dispatch",
		trace.WithAttributes(attribute.String("phone", phone.Number)))
	defer span.End()

	log := logger.NewLoggerContext(o.logger.With("phone", phone.Number))
	spec := o.template.Spec(o.cfg.RunID, session.Token(), phone)
	handle := registration.NewWorkerHandle(phone, time.Now())

	proc, err := o.launcher.Launch(ctx, spec)
	if err != nil {
		if sem != nil {
			sem.Release(1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		log.Error(ctx, "failed to launch worker", "error", err)
		o.metrics.IncLaunchFailures(ctx)

		finished := time.Now()
		_ = handle.Complete(registration.OutcomeCrashed, -1, finished, err)
		o.recordOutcome(joinCtx, log.Logger, handle)
		return handle
	}

	handle.PID = proc.PID
	handle.StartedAt = proc.StartedAt
	if o.ledger != nil {
		if err := o.ledger.MarkLaunched(joinCtx, phone, proc.StartedAt); err != nil {
			log.Warn(ctx, "failed to record launch in ledger", "error", err)
		}
	}
	o.metrics.IncWorkersDispatched(ctx)
	o.metrics.AddActiveWorkers(ctx, 1)
	span.SetAttributes(attribute.Int("pid", proc.PID))
	log.Add("pid", proc.PID, "worker_id", handle.ID.String())
	log.Info(ctx, "worker dispatched")

	g.Go(func() error {
		if sem != nil {
			defer sem.Release(1)
		}
		o.join(joinCtx, log.Logger, handle, proc, spec)
		return nil
	})
	return handle
}

// join waits for proc, classifies its exit and hands the result on.
func (o *Orchestrator) join(
	ctx context.Context,
	log *logger.Logger,
	handle *registration.WorkerHandle,
	proc *worker.Process,
	spec worker.Spec,
) {
	exit, ok := <-proc.Done()
	o.metrics.AddActiveWorkers(ctx, -1)
	if !ok {
		exit = worker.Exit{Code: -1, Err: errors.New("worker exited without a status"), FinishedAt: time.Now()}
	}

	outcome := registration.OutcomeFromExitCode(exit.Code)
	if exit.TimedOut {
		outcome = registration.OutcomeCrashed
	}
	var exitErr error
	if outcome != registration.OutcomeSucceeded {
		exitErr = exit.Err
	}
	if err := handle.Complete(outcome, exit.Code, exit.FinishedAt, exitErr); err != nil {
		log.Error(ctx, "failed to complete worker handle", "error", err)
		return
	}

	if outcome == registration.OutcomeSucceeded {
		result, err := worker.ReadResult(spec.ResultFile)
		if err != nil {
			log.Warn(ctx, "ignoring unreadable worker result", "error", err)
		}
		if result != nil {
			if result.Phone == "" {
				result.Phone = handle.Phone.Number
			}
			handle.Result = result
		}
	}

	log.Info(ctx, "worker finished",
		"exit_code", exit.Code,
		"outcome", outcome,
		"timed_out", exit.TimedOut,
		"duration", handle.Duration(),
	)

	o.report(ctx, handle)
	o.recordOutcome(ctx, log, handle)
}

func (o *Orchestrator) report(ctx context.Context, handle *registration.WorkerHandle) {
	if o.cfg.SkipOutcomeReports || o.reporter == nil {
		return
	}
	switch handle.Outcome {
	case registration.OutcomeRateLimited:
		o.reporter.ReportRateLimited(ctx, handle.Phone)
	case registration.OutcomeInvalidPhone:
		o.reporter.ReportInvalidPhone(ctx, handle.Phone)
	case registration.OutcomeSucceeded:
		if handle.Result != nil {
			o.reporter.ReportRegisteredAccount(ctx, *handle.Result)
		}
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, log *logger.Logger, handle *registration.WorkerHandle) {
	o.metrics.ObserveOutcome(ctx, handle.Outcome, handle.Duration())
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordOutcome(ctx, handle.Phone, handle.Outcome, handle.FinishedAt); err != nil {
		log.Warn(ctx, "failed to record outcome in ledger", "error", err)
	}
}

func (o *Orchestrator) logSummary(ctx context.Context, handles []*registration.WorkerHandle) {
	counts := make(map[registration.Outcome]int)
	for _, h := range handles {
		counts[h.Outcome]++
	}
	o.logger.Info(ctx, "run finished",
		"dispatched", len(handles),
		"succeeded", counts[registration.OutcomeSucceeded],
		"rate_limited", counts[registration.OutcomeRateLimited],
		"invalid_phone", counts[registration.OutcomeInvalidPhone],
		"crashed", counts[registration.OutcomeCrashed],
	)
}
