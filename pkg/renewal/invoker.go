// Package renewal drives the external CA client and orchestrates a full
// renewal run: plan, renew, recompose bundles, reload the proxy.
package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/config"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/reconcile"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/resilience"
)

// CommandRunner executes an external command and returns its combined
// output. Tests replace it to intercept CA client invocations.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Status classifies the result of one renewal attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Outcome is the result of processing one plan entry.
type Outcome struct {
	Domain string
	Status Status
	// Names are the names actually requested, www sibling included.
	Names    []string
	Err      error
	Output   string
	Duration time.Duration
}

// Invoker executes one CA client command per plan entry.
type Invoker struct {
	binary     string
	email      string
	webroot    string
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
	run        CommandRunner
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithCommandRunner replaces the process executor, for tests.
func WithCommandRunner(run CommandRunner) InvokerOption {
	return func(i *Invoker) {
		i.run = run
	}
}

// WithRetryDelay overrides the initial delay between CA client attempts.
func WithRetryDelay(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		i.retryDelay = d
	}
}

// NewInvoker creates an invoker from the run configuration.
func NewInvoker(cfg *config.Config, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		binary:     cfg.LEClient,
		email:      cfg.Email,
		webroot:    cfg.Webroot,
		retries:    cfg.RenewRetries,
		retryDelay: 5 * time.Second,
		logger:     logger.With("component", "renewal"),
		run:        defaultRunner,
	}

	for _, opt := range opts {
		opt(inv)
	}

	return inv
}

// RequestNames expands a plan entry's name set for the CA client. When the
// first name is a bare second-level domain (exactly one dot) a www sibling
// is added, unless the certificate already carries it.
func RequestNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}

	out := make([]string, len(names))
	copy(out, names)

	if strings.Count(out[0], ".") == 1 {
		www := "www." + out[0]
		present := false
		for _, name := range out {
			if name == www {
				present = true
				break
			}
		}
		if !present {
			out = append(out, www)
		}
	}

	return out
}

// commandArgs builds the CA client argument list for a name set.
func (i *Invoker) commandArgs(names []string) []string {
	args := []string{
		"certonly",
		"--webroot", "-w", i.webroot,
		"--renew-by-default",
		"--non-interactive",
		"--agree-tos",
		"--email", i.email,
	}
	for _, name := range names {
		args = append(args, "-d", name)
	}
	return args
}

// Renew runs the CA client for one plan entry. A non-zero exit is reported
// in the outcome, never returned, so the caller can continue with the
// remaining entries.
func (i *Invoker) Renew(ctx context.Context, entry reconcile.Entry) Outcome {
	names := RequestNames(entry.RequestedNames)
	args := i.commandArgs(names)

	i.logger.Info("invoking CA client",
		"domain", entry.Domain,
		"reason", string(entry.Reason),
		"names", strings.Join(names, ","))
	i.logger.Debug("CA client command", "binary", i.binary, "args", strings.Join(args, " "))

	start := time.Now()
	var output []byte

	invoke := func() error {
		var err error
		output, err = i.run(ctx, i.binary, args...)
		return err
	}

	var err error
	if i.retries > 0 {
		err = resilience.RetryWithBackoff(ctx, invoke,
			resilience.WithMaxRetries(uint64(i.retries)),
			resilience.WithInitialDelay(i.retryDelay),
			resilience.WithMaxElapsed(10*time.Minute),
			resilience.WithOnRetry(func(attemptErr error, delay time.Duration) {
				i.logger.Warn("CA client attempt failed, retrying",
					"domain", entry.Domain, "delay", delay, "error", attemptErr)
			}),
		)
	} else {
		err = invoke()
	}

	outcome := Outcome{
		Domain:   entry.Domain,
		Names:    names,
		Output:   strings.TrimSpace(string(output)),
		Duration: time.Since(start),
	}

	if err != nil {
		outcome.Status = StatusFailure
		outcome.Err = fmt.Errorf("CA client failed for %s: %w", entry.Domain, err)
		i.logger.Error("renewal failed",
			"domain", entry.Domain,
			"duration", outcome.Duration.Round(time.Millisecond),
			"error", err,
			"output", outcome.Output)
		return outcome
	}

	outcome.Status = StatusSuccess
	i.logger.Info("renewal succeeded",
		"domain", entry.Domain,
		"duration", outcome.Duration.Round(time.Millisecond))
	return outcome
}
