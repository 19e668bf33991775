package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/journal"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/notify"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/renewal"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/runlock"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/telemetry"
)

var renewDryRun bool

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Renew due certificates and refresh the HAProxy bundles",
	Long: `Run the full renewal pipeline once: scan the certificate store, renew
every certificate that is due (or all of them with --force), rebuild the
combined bundles HAProxy reads, rewrite the crt-list file and reload the
proxy if anything changed.

A failing renewal for one domain does not stop the others; the run finishes
its remaining work and exits non-zero at the end so cron reports it.

Examples:
  certrenewal renew                 # renew what is due
  certrenewal renew --dry-run       # show the plan, touch nothing
  certrenewal renew --force         # renew everything regardless of expiry`,
	RunE: runRenew,
}

func init() {
	rootCmd.AddCommand(renewCmd)
	renewCmd.Flags().BoolVar(&renewDryRun, "dry-run", false, "compute and print the plan without renewing anything")
}

func runRenew(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	runner := renewal.NewRunner(cfg, logger)

	if renewDryRun {
		plan, err := runner.Plan(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(plan.FormatPlan())
		return nil
	}

	if err := cfg.RequireEmail(); err != nil {
		return err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = Version
	if err := telemetry.Init(tcfg); err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(ctx)
	}()

	// One run at a time; cron has no idea how long the previous one took.
	lock := runlock.New(cfg.LockFile)
	holder, err := lock.Acquire("renew")
	if err != nil {
		return err
	}
	defer lock.Release(holder)

	notifier := notify.NewNotifier(cfg.WebhookURL, logger)
	jrnl := journal.New(cfg.JournalFile)

	result, runErr := runner.Run(cmd.Context())
	if runErr != nil {
		sendEvent(cmd.Context(), logger, notifier,
			notify.RunFailedEvent(changedDomains(result), failedDomains(result), runErr))
		recordRun(logger, jrnl, journal.Entry{
			Event:   journal.EventRunFailed,
			Renewed: changedDomains(result),
			Failed:  failedDomains(result),
			Error:   runErr.Error(),
		})
		return runErr
	}

	sendEvent(cmd.Context(), logger, notifier,
		notify.RunSucceededEvent(result.Changed, result.Reloaded, result.Duration))
	recordRun(logger, jrnl, journal.Entry{
		Event:    journal.EventRunSucceeded,
		Renewed:  result.Changed,
		Reloaded: result.Reloaded,
		Duration: result.Duration,
	})
	return nil
}

// recordRun appends the run outcome to the journal; journal problems are
// logged, never turned into a run failure.
func recordRun(logger *slog.Logger, jrnl *journal.Journal, entry journal.Entry) {
	entry.Timestamp = time.Now()
	if err := jrnl.Append(entry); err != nil {
		logger.Warn("journal append failed", "error", err)
	}
}

// sendEvent delivers the run summary webhook; delivery problems are logged,
// never turned into a run failure.
func sendEvent(ctx context.Context, logger *slog.Logger, notifier *notify.Notifier, event notify.Event) {
	if err := notifier.Notify(ctx, event); err != nil {
		logger.Warn("webhook notification failed", "error", err)
	}
}

func changedDomains(result *renewal.RunResult) []string {
	if result == nil {
		return nil
	}
	return result.Changed
}

func failedDomains(result *renewal.RunResult) []string {
	if result == nil {
		return nil
	}
	var failed []string
	for _, o := range result.Outcomes {
		if o.Status == renewal.StatusFailure {
			failed = append(failed, o.Domain)
		}
	}
	return failed
}
