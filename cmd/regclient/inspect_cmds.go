package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/reg-armada/internal/config"
	"github.com/ahrav/reg-armada/internal/infra/storage/ledger"
	"github.com/ahrav/reg-armada/pkg/common/otel"
)

const redacted = "********"

func newConfigCmd(root *rootOptions) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `config loads the configuration file, overlays REG_* environment variables
and defaults, validates the result and prints it. Passwords are masked unless
--show-secrets is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context(), root)
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = redact(cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			return multierr.Append(enc.Encode(cfg), enc.Close())
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print passwords in clear text")
	return cmd
}

// redact returns a copy of cfg with every password masked.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Server.Password != "" {
		out.Server.Password = redacted
	}
	if len(cfg.Captcha.Backends) > 0 {
		out.Captcha.Backends = make(map[string]config.CaptchaAuth, len(cfg.Captcha.Backends))
		for name, auth := range cfg.Captcha.Backends {
			if auth.Password != "" {
				auth.Password = redacted
			}
			out.Captcha.Backends[name] = auth
		}
	}
	return &out
}

func newLedgerCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the dispatch ledger",
	}

	var runID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List dispatched phones and their outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := loadConfig(cmd.Context(), root)
			if err != nil {
				return err
			}
			if cfg.Inventory.LedgerFile == "" {
				return fmt.Errorf("inventory.ledger_file is not set")
			}

			db, err := ledger.OpenSQLite(cfg.Inventory.LedgerFile, otel.NoopProviders().Tracer.Tracer(serviceType))
			if err != nil {
				return fmt.Errorf("open dispatch ledger %s: %w", cfg.Inventory.LedgerFile, err)
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			entries, err := db.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PHONE\tRUN\tDISPATCHED\tLAUNCHED\tOUTCOME\tFINISHED")
			for _, e := range entries {
				if runID != "" && e.RunID != runID {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Phone, e.RunID, formatTime(e.DispatchedAt), formatTime(e.LaunchedAt), e.Outcome, formatTime(e.FinishedAt))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&runID, "run-id", "", "only show entries from this run")

	cmd.AddCommand(list)
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
