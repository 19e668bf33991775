package haproxy

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ReloadRunner executes the reload command string and returns its combined
// output. Tests substitute this to observe invocations.
type ReloadRunner func(ctx context.Context, command string) ([]byte, error)

func shellRunner(ctx context.Context, command string) ([]byte, error) {
	return exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithReloadRunner overrides command execution.
func WithReloadRunner(run ReloadRunner) ReloaderOption {
	return func(r *Reloader) {
		r.run = run
	}
}

// Reloader invokes the configured proxy reload command.
type Reloader struct {
	command string
	logger  *slog.Logger
	run     ReloadRunner
}

// NewReloader creates a reloader for the given command string. The command
// runs through the shell, matching how operators configure it.
func NewReloader(command string, logger *slog.Logger, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		command: command,
		logger:  logger.With("component", "reload"),
		run:     shellRunner,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload runs the reload command once. A non-zero exit is an error the
// caller must treat as fatal: the bundles on disk are already correct, but
// the proxy would keep serving the old certificate set.
func (r *Reloader) Reload(ctx context.Context) error {
	r.logger.Info("reloading proxy", "command", r.command)

	output, err := r.run(ctx, r.command)
	if err != nil {
		return fmt.Errorf("reload command failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	r.logger.Info("proxy reloaded")
	return nil
}
