package main

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/reg-armada/internal/app/clients"
)

// rootOptions holds the persistent flags shared by every subcommand and the
// state scoped to the whole process.
type rootOptions struct {
	configPath string
	logLevel   string

	// sessions holds at most one authenticated session per client name.
	sessions *clients.Registry
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{sessions: clients.NewRegistry()}

	cmd := &cobra.Command{
		Use:   serviceType,
		Short: "Bulk registration client for the coordination server",
		Long: `regclient logs in to the coordination server, fetches the phone pool,
launches one registration worker per number at a throttled rate and reports
how each attempt ended.

The worker-side subcommands (sms-code, report) let a worker reuse the
orchestrator's session token instead of logging in again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "f", "client.yaml",
		"configuration file (.yaml, or the legacy .ini layout)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(opts),
		newSMSCodeCmd(opts),
		newReportCmd(opts),
		newLedgerCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}
