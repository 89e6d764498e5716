package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/reg-armada/internal/app/clients"
	"github.com/ahrav/reg-armada/internal/config"
	"github.com/ahrav/reg-armada/internal/config/loaders"
	"github.com/ahrav/reg-armada/internal/infra/transport"
	"github.com/ahrav/reg-armada/pkg/common/logger"
	"github.com/ahrav/reg-armada/pkg/common/otel"
)

// app carries what every subcommand needs once the configuration is loaded.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	providers otel.Providers
	tracer    trace.Tracer
	client    *transport.Client
	sessions  *clients.Registry

	teardown func(ctx context.Context)
}

// loadConfig reads the configuration and applies the --log-level override.
func loadConfig(ctx context.Context, opts *rootOptions) (*config.Config, error) {
	cfg, err := loaders.Load(ctx, opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

// newApp wires logging, telemetry and the server transport. Logs go to
// logOut so stdout stays free for command output.
func newApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("%s-%s", serviceType, cfg.Server.Client)
	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
		"client":   cfg.Server.Client,
	}
	log := logger.NewWithMetadata(logOut, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logger.Events{}, metadata)

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		Probability:      cfg.Telemetry.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
			"client.name":      cfg.Server.Client,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	tracer := providers.Tracer.Tracer(serviceType)

	client, err := transport.New(transport.Config{
		BaseURL:           cfg.Server.BaseURL(),
		ClientName:        cfg.Server.Client,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Timeout:           cfg.Server.Timeout,
	}, log, tracer)
	if err != nil {
		teardown(ctx)
		return nil, fmt.Errorf("create server transport: %w", err)
	}

	return &app{
		cfg:       cfg,
		log:       log,
		providers: providers,
		tracer:    tracer,
		client:    client,
		sessions:  opts.sessions,
		teardown:  teardown,
	}, nil
}

// Close flushes telemetry. It does not honor cancellation of ctx so spans
// recorded during an interrupted run are still exported.
func (a *app) Close(ctx context.Context) {
	a.teardown(context.WithoutCancel(ctx))
}
