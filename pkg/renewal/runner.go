package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/config"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/haproxy"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/inspect"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/reconcile"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/staple"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/telemetry"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/utils"
)

// Renewer runs the CA client for one plan entry.
type Renewer interface {
	Renew(ctx context.Context, entry reconcile.Entry) Outcome
}

// ProxyReloader triggers the proxy reload command.
type ProxyReloader interface {
	Reload(ctx context.Context) error
}

// Stapler refreshes OCSP staples for composed bundles.
type Stapler interface {
	Refresh(ctx context.Context, scan *certstore.ScanResult) error
}

// Runner executes the renewal pipeline: scan the store, compute the plan,
// renew due certificates one at a time, recompose the bundles and the
// certificate list, then reload the proxy when anything changed.
type Runner struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *certstore.Store
	inspector *inspect.Inspector
	extractor *haproxy.Extractor
	composer  *haproxy.Composer
	invoker   Renewer
	reloader  ProxyReloader
	stapler   Stapler
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithInvoker replaces the CA client invoker.
func WithInvoker(inv Renewer) RunnerOption {
	return func(r *Runner) {
		r.invoker = inv
	}
}

// WithReloader replaces the proxy reloader.
func WithReloader(rel ProxyReloader) RunnerOption {
	return func(r *Runner) {
		r.reloader = rel
	}
}

// WithStapler replaces the staple refresher.
func WithStapler(st Stapler) RunnerOption {
	return func(r *Runner) {
		r.stapler = st
	}
}

// NewRunner wires the pipeline from the configuration.
func NewRunner(cfg *config.Config, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		logger:    logger.With("component", "run"),
		store:     certstore.New(cfg.LiveDir, logger),
		inspector: inspect.New(cfg.ExpLimitDays),
		extractor: haproxy.NewExtractor(logger),
		composer:  haproxy.NewComposer(cfg.CrtList, logger),
		invoker:   NewInvoker(cfg, logger),
		reloader:  haproxy.NewReloader(cfg.ReloadCmd, logger),
	}
	if cfg.OCSP {
		r.stapler = staple.NewRefresher(logger)
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RunResult summarizes a completed run for reporting and notifications.
type RunResult struct {
	Plan     *reconcile.Plan
	Outcomes []Outcome
	// Changed holds the primary names of certificates whose bundles the
	// proxy must pick up; non-empty means a reload happened.
	Changed  []string
	Written  []string
	Removed  []string
	Reloaded bool
	Duration time.Duration
}

// Plan scans the certificate store and the proxy configuration and computes
// the renewal plan without executing it.
func (r *Runner) Plan(ctx context.Context) (*reconcile.Plan, error) {
	_, span := telemetry.TracePhase(ctx, "plan")
	defer span.End()

	scan, err := r.store.Scan()
	if err != nil {
		return nil, err
	}

	plan := reconcile.ComputePlan(scan.Records, r.inspector, r.references(), r.cfg.Force, r.logger)

	r.logger.Info("renewal plan computed",
		"records", plan.Summary.Records,
		"expiring", plan.Summary.ExpiringSoon,
		"forced", plan.Summary.Forced,
		"missing", plan.Summary.DeclaredMissing,
		"up_to_date", plan.Summary.UpToDate)

	return plan, nil
}

// references extracts crt declarations from the proxy configuration. An
// unreadable configuration only disables the declared-but-missing check;
// renewing what the store already holds is still worthwhile.
func (r *Runner) references() []haproxy.CertReference {
	refs, err := r.extractor.Extract(r.cfg.HAProxyCfg)
	if err != nil {
		r.logger.Warn("proxy configuration not readable, skipping reference check",
			"path", r.cfg.HAProxyCfg, "error", err)
		return nil
	}
	return refs
}

// Run executes the full pipeline. Renewal failures are isolated per domain
// and aggregated into the returned error once everything else finished;
// store, bundle and reload failures abort immediately. Either way a non-nil
// error means the run must exit non-zero.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "certrenewal.run")
	defer span.End()

	plan, err := r.Plan(ctx)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Plan: plan}
	failures := &utils.MultiError{}
	for _, inspFail := range plan.InspectionFailures {
		failures.Add(utils.NewError(fmt.Sprintf("inspect %s", inspFail.Domain), inspFail.Err))
	}

	// Every renewal attempt completes before any bundle is rewritten, and
	// every bundle is rewritten before the reload decision, so the proxy
	// only ever observes the final state.
	r.renewAll(ctx, plan, result, failures)

	scan, err := r.rescan(ctx)
	if err != nil {
		return result, err
	}

	composed, err := r.compose(ctx, scan)
	if err != nil {
		return result, err
	}
	result.Written = composed.Written
	result.Removed = composed.Removed

	if r.stapler != nil {
		if err := r.refreshStaples(ctx, scan); err != nil {
			return result, err
		}
	}

	if len(result.Changed) > 0 {
		if err := r.reload(ctx); err != nil {
			return result, err
		}
		result.Reloaded = true
	} else {
		r.logger.Info("no certificates changed, reload skipped")
	}

	result.Duration = time.Since(start)
	return result, failures.ErrorOrNil()
}

func (r *Runner) renewAll(ctx context.Context, plan *reconcile.Plan, result *RunResult, failures *utils.MultiError) {
	if !plan.NeedsAction() {
		r.logger.Info("all certificates are current")
		return
	}

	for _, entry := range plan.Entries {
		if entry.Reason == reconcile.ReasonDeclaredButMissing && entry.HasCertificate {
			// The raw certificate exists and only the bundle is missing.
			// Composition recreates it; the CA client has nothing to do,
			// but the proxy must still be reloaded to pick it up.
			r.logger.Info("bundle missing but certificate present, skipping CA client",
				"domain", entry.Domain)
			result.Outcomes = append(result.Outcomes, Outcome{
				Domain: entry.Domain,
				Status: StatusSkipped,
				Names:  entry.RequestedNames,
			})
			result.Changed = append(result.Changed, entry.Domain)
			continue
		}

		entryCtx, span := telemetry.TraceRenewal(ctx, entry.Domain, string(entry.Reason))
		outcome := r.invoker.Renew(entryCtx, entry)
		if outcome.Err != nil {
			telemetry.RecordError(entryCtx, outcome.Err)
		}
		span.End()

		result.Outcomes = append(result.Outcomes, outcome)
		switch outcome.Status {
		case StatusSuccess:
			primary := entry.Domain
			if len(outcome.Names) > 0 {
				primary = outcome.Names[0]
			}
			result.Changed = append(result.Changed, primary)
		case StatusFailure:
			failures.Add(outcome.Err)
		}
	}
}

// rescan re-reads the store after the renewals so composition sees the
// folders the CA client just wrote.
func (r *Runner) rescan(ctx context.Context) (*certstore.ScanResult, error) {
	_, span := telemetry.TracePhase(ctx, "rescan")
	defer span.End()

	scan, err := r.store.Scan()
	if err != nil {
		return nil, utils.Wrapf(err, "store rescan after renewals failed")
	}
	return scan, nil
}

func (r *Runner) compose(ctx context.Context, scan *certstore.ScanResult) (*haproxy.ComposeResult, error) {
	_, span := telemetry.TracePhase(ctx, "compose")
	defer span.End()

	composed, err := r.composer.Compose(scan)
	if err != nil {
		return nil, utils.Wrapf(err, "bundle composition failed")
	}
	return composed, nil
}

func (r *Runner) refreshStaples(ctx context.Context, scan *certstore.ScanResult) error {
	ctx, span := telemetry.TracePhase(ctx, "staple")
	defer span.End()

	return r.stapler.Refresh(ctx, scan)
}

func (r *Runner) reload(ctx context.Context) error {
	ctx, span := telemetry.TracePhase(ctx, "reload")
	defer span.End()

	if err := r.reloader.Reload(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}
