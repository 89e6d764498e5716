package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/reg-armada/internal/app/reporting"
	"github.com/ahrav/reg-armada/internal/app/smscode"
	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/rsakey"
	"github.com/ahrav/reg-armada/internal/infra/worker"
)

// sessionOptions identify the session a worker was launched with.
type sessionOptions struct {
	token string
	phone string
}

func (o *sessionOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.token, "session", "", "session token issued to the orchestrator")
	cmd.Flags().StringVar(&o.phone, "phone", "", "phone number the worker is registering")
	_ = cmd.MarkFlagRequired("session")
}

// newSessionApp builds an app whose transport reuses an existing session.
func newSessionApp(cmd *cobra.Command, root *rootOptions, token string) (*app, error) {
	a, err := newApp(cmd.Context(), root, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	a.client.SetSession(token)
	return a, nil
}

func newSMSCodeCmd(root *rootOptions) *cobra.Command {
	var (
		sess sessionOptions
		when string
	)

	cmd := &cobra.Command{
		Use:   "sms-code",
		Short: "Wait for the SMS verification code relayed for a phone",
		Long: `sms-code polls the server until the verification code for --phone arrives
and prints it on stdout. It gives up after sms.max_wait.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sess.phone == "" {
				return errors.New("--phone is required")
			}
			a, err := newSessionApp(cmd, root, sess.token)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			if when == "" {
				when = strconv.FormatInt(time.Now().Unix(), 10)
			}
			poller := smscode.NewPoller(a.client, smscode.Config{
				InitialInterval: a.cfg.SMS.InitialInterval,
				MaxInterval:     a.cfg.SMS.MaxInterval,
				MaxWait:         a.cfg.SMS.MaxWait,
			}, a.log, a.tracer)

			code, err := poller.Poll(ctx, sess.phone, when)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
			return err
		},
	}
	sess.bind(cmd)
	cmd.Flags().StringVar(&when, "when", "", "send time forwarded to the server (unix seconds, now when empty)")
	return cmd
}

func newReportCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report the outcome of a registration attempt",
	}
	cmd.AddCommand(
		newClassificationReportCmd(root, "rate-limited", "Report a phone that hit an SMS rate limit",
			func(r *reporting.Reporter) func(context.Context, registration.PhoneNumber) { return r.ReportRateLimited }),
		newClassificationReportCmd(root, "invalid", "Report a phone that cannot be used",
			func(r *reporting.Reporter) func(context.Context, registration.PhoneNumber) { return r.ReportInvalidPhone }),
		newRegisteredReportCmd(root),
	)
	return cmd
}

func newReporter(a *app) *reporting.Reporter {
	return reporting.NewReporter(
		a.client,
		rsakey.NewFileSource(a.cfg.Reporter.PublicKeyFile),
		a.cfg.Registration.Region,
		a.log,
		a.tracer,
	)
}

func newClassificationReportCmd(
	root *rootOptions,
	use, short string,
	pick func(*reporting.Reporter) func(context.Context, registration.PhoneNumber),
) *cobra.Command {
	var sess sessionOptions

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sess.phone == "" {
				return errors.New("--phone is required")
			}
			a, err := newSessionApp(cmd, root, sess.token)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			pick(newReporter(a))(ctx, registration.NewPhoneNumber(sess.phone))
			return nil
		},
	}
	sess.bind(cmd)
	return cmd
}

func newRegisteredReportCmd(root *rootOptions) *cobra.Command {
	var (
		sess       sessionOptions
		resultFile string
		result     registration.RegistrationResult
	)

	cmd := &cobra.Command{
		Use:   "registered",
		Short: "Report a freshly registered account",
		Long: `registered sends the account to the server with its password encrypted
under reporter.public_key_file. The account is read from --result, a worker
result file, or assembled from the individual flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			account := result
			if resultFile != "" {
				fromFile, err := worker.ReadResult(resultFile)
				if err != nil {
					return err
				}
				if fromFile == nil {
					return fmt.Errorf("result file %s is empty", resultFile)
				}
				account = *fromFile
			}
			if account.Phone == "" {
				account.Phone = sess.phone
			}
			if account.UIN == "" {
				return errors.New("an account needs --uin or --result")
			}

			a, err := newSessionApp(cmd, root, sess.token)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			newReporter(a).ReportRegisteredAccount(ctx, account)
			return nil
		},
	}
	sess.bind(cmd)
	cmd.Flags().StringVar(&resultFile, "result", "", "worker result file (JSON)")
	cmd.Flags().StringVar(&result.UIN, "uin", "", "account number")
	cmd.Flags().StringVar(&result.Password, "password", "", "account password (sent encrypted)")
	cmd.Flags().StringVar(&result.Nickname, "nick", "", "account nickname")
	return cmd
}
