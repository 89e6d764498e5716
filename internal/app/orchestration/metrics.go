package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/reg-armada/internal/domain/registration"
)

// OrchestratorMetrics defines metrics operations needed by the orchestrator.
type OrchestratorMetrics interface {
	IncWorkersDispatched(ctx context.Context)
	IncLaunchFailures(ctx context.Context)
	AddActiveWorkers(ctx context.Context, delta int)
	ObserveOutcome(ctx context.Context, outcome registration.Outcome, duration time.Duration)
}

// orchestratorMetrics implements OrchestratorMetrics.
type orchestratorMetrics struct {
	workersDispatched metric.Int64Counter
	launchFailures    metric.Int64Counter
	activeWorkers     metric.Int64UpDownCounter
	outcomes          metric.Int64Counter
	workerDuration    metric.Float64Histogram
}

const namespace = "orchestrator"

// NewOrchestratorMetrics creates a new orchestrator metrics instance.
func NewOrchestratorMetrics(mp metric.MeterProvider) (*orchestratorMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(orchestratorMetrics)
	var err error

	if m.workersDispatched, err = meter.Int64Counter(
		"workers_dispatched_total",
		metric.WithDescription("Total number of worker processes launched"),
	); err != nil {
		return nil, err
	}

	if m.launchFailures, err = meter.Int64Counter(
		"worker_launch_failures_total",
		metric.WithDescription("Total number of worker processes that failed to start"),
	); err != nil {
		return nil, err
	}

	if m.activeWorkers, err = meter.Int64UpDownCounter(
		"active_workers",
		metric.WithDescription("Number of worker processes currently running"),
	); err != nil {
		return nil, err
	}

	if m.outcomes, err = meter.Int64Counter(
		"worker_outcomes_total",
		metric.WithDescription("Total number of finished attempts by outcome"),
	); err != nil {
		return nil, err
	}

	if m.workerDuration, err = meter.Float64Histogram(
		"worker_duration_seconds",
		metric.WithDescription("Wall time of worker processes"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestratorMetrics) IncWorkersDispatched(ctx context.Context) {
	m.workersDispatched.Add(ctx, 1)
}

func (m *orchestratorMetrics) IncLaunchFailures(ctx context.Context) {
	m.launchFailures.Add(ctx, 1)
}

func (m *orchestratorMetrics) AddActiveWorkers(ctx context.Context, delta int) {
	m.activeWorkers.Add(ctx, int64(delta))
}

func (m *orchestratorMetrics) ObserveOutcome(ctx context.Context, outcome registration.Outcome, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome.String()))
	m.outcomes.Add(ctx, 1, attrs)
	m.workerDuration.Record(ctx, duration.Seconds(), attrs)
}
