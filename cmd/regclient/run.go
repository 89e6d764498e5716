package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ahrav/reg-armada/internal/app/auth"
	"github.com/ahrav/reg-armada/internal/app/inventory"
	"github.com/ahrav/reg-armada/internal/app/orchestration"
	"github.com/ahrav/reg-armada/internal/app/reporting"
	"github.com/ahrav/reg-armada/internal/config"
	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/rsakey"
	"github.com/ahrav/reg-armada/internal/infra/storage/ledger"
	"github.com/ahrav/reg-armada/internal/infra/storage/phonecache"
	"github.com/ahrav/reg-armada/internal/infra/worker"
)

type runOptions struct {
	runID     string
	skipFetch bool
	noLedger  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log in, fetch phones and dispatch one worker per phone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			return runRegistration(ctx, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run-id", "", "identifier for this run (random when empty)")
	cmd.Flags().BoolVar(&opts.skipFetch, "skip-fetch", false, "start from the phone cache without asking the server")
	cmd.Flags().BoolVar(&opts.noLedger, "no-ledger", false, "keep the dispatch ledger in memory only")
	return cmd
}

// runRegistration is the whole client flow: login, inventory, dispatch, join.
func runRegistration(ctx context.Context, a *app, opts *runOptions) (err error) {
	cfg := a.cfg

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := a.log.With("run_id", runID)

	session := registration.NewSession(cfg.Server.Client)
	authn := auth.NewAuthenticator(session, cfg.Server.Password, a.client, a.sessions, log, a.tracer)

	state, err := authn.Login(ctx)
	if err != nil {
		return fmt.Errorf("login as %s: %w", cfg.Server.Client, err)
	}
	if state != registration.AuthStateAuthenticated {
		return fmt.Errorf("login as %s: %w", cfg.Server.Client, registration.ErrAuthorizationFailed)
	}
	if a.sessions != nil {
		defer a.sessions.Remove(session.ClientName())
	}

	dispatchLedger, closeLedger, err := openLedger(a, opts.noLedger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeLedger()) }()

	inv := inventory.New(
		phoneSource(a, cfg),
		phonecache.NewFileStore(cfg.Inventory.CacheFile),
		dispatchLedger,
		inventory.Options{
			RunID:              runID,
			MergePolicy:        inventory.MergePolicy(cfg.Inventory.MergePolicy),
			RedispatchConsumed: cfg.Inventory.RedispatchConsumed,
		},
		log,
		a.tracer,
	)

	// A failed fetch falls back to the durable cache; the run only fails if
	// that leaves nothing to dispatch.
	var fetchErr error
	if !opts.skipFetch && !cfg.Inventory.SkipFetch {
		if _, fetchErr = inv.Refresh(ctx); fetchErr != nil {
			log.Warn(ctx, "phone fetch failed, falling back to the cache", "error", fetchErr)
		}
	}
	if _, err := inv.LoadCache(ctx); err != nil {
		return err
	}
	if err := inv.Require(); err != nil {
		if fetchErr != nil {
			return fmt.Errorf("%w: %w", err, fetchErr)
		}
		return err
	}

	tmpl, err := workerTemplate(cfg)
	if err != nil {
		return err
	}

	metrics, err := orchestration.NewOrchestratorMetrics(a.providers.Meter)
	if err != nil {
		return fmt.Errorf("create orchestrator metrics: %w", err)
	}

	reporter := reporting.NewReporter(
		a.client,
		rsakey.NewFileSource(cfg.Reporter.PublicKeyFile),
		cfg.Registration.Region,
		log,
		a.tracer,
	)

	orch := orchestration.NewOrchestrator(
		orchestration.Config{
			RunID:              runID,
			DispatchInterval:   cfg.Worker.DispatchInterval,
			MaxConcurrent:      cfg.Worker.MaxConcurrent,
			SkipOutcomeReports: cfg.Worker.SkipOutcomeReports,
		},
		tmpl,
		worker.NewLauncher(log),
		reporter,
		dispatchLedger,
		metrics,
		log,
		a.tracer,
	)

	handles, err := orch.Run(ctx, session, inv)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	log.Info(ctx, "registration run complete", "workers", len(handles))
	return nil
}

// phoneSource picks the server or the configured local list.
func phoneSource(a *app, cfg *config.Config) registration.PhoneSource {
	if cfg.Registration.Phone == config.PhoneSourceLocal {
		return inventory.NewStaticSource(cfg.Registration.PhoneList...)
	}
	return inventory.NewRemoteSource(a.client)
}

// openLedger opens the SQLite ledger, or an in-memory one when disabled.
func openLedger(a *app, inMemory bool) (registration.DispatchLedger, func() error, error) {
	cfg := a.cfg
	if inMemory || cfg.Inventory.LedgerFile == "" {
		mem := ledger.NewMemory()
		return mem, mem.Close, nil
	}
	db, err := ledger.OpenSQLite(cfg.Inventory.LedgerFile, a.tracer)
	if err != nil {
		return nil, nil, fmt.Errorf("open dispatch ledger %s: %w", cfg.Inventory.LedgerFile, err)
	}
	return db, db.Close, nil
}

// workerTemplate maps the configuration onto the worker argument convention.
func workerTemplate(cfg *config.Config) (worker.Template, error) {
	tmpl := worker.Template{
		Command:        cfg.Worker.Command,
		Args:           cfg.Worker.Args,
		Dir:            cfg.Worker.Dir,
		Env:            cfg.Worker.Env,
		ResultDir:      cfg.Worker.ResultDir,
		Timeout:        cfg.Worker.Timeout,
		Random:         cfg.Registration.Random,
		CaptchaBackend: cfg.Captcha.Backend,
		Server:         cfg.Server.Address(),
		ClientName:     cfg.Server.Client,
	}
	if creds, ok := cfg.CaptchaCredentials(); ok {
		tmpl.CaptchaUser = creds.User
		tmpl.CaptchaPassword = creds.Password
	}
	if tmpl.ResultDir != "" {
		if err := os.MkdirAll(tmpl.ResultDir, 0o755); err != nil {
			return worker.Template{}, fmt.Errorf("create result dir: %w", err)
		}
	}
	return tmpl, nil
}
