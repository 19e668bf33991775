// Package config loads the renewal tool configuration from an optional YAML
// file overlaid with CERTRENEWAL_-prefixed environment variables. The result
// is one explicit struct handed to every component; there is no ambient
// global configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables read by the tool.
const EnvPrefix = "CERTRENEWAL_"

// DefaultConfigPaths are searched in order when no --config flag is given.
var DefaultConfigPaths = []string{
	"certrenewal.yaml",
	"/etc/certrenewal/certrenewal.yaml",
}

// Config holds every setting of a renewal run. Field names mirror the
// variables of the classic shell renewal script with a CERTRENEWAL_ prefix.
type Config struct {
	// Email is the CA account contact, required for renewals.
	Email string `yaml:"email" env:"EMAIL"`
	// Force renews every known certificate regardless of expiry.
	Force bool `yaml:"force" env:"FORCE"`
	// ExpLimitDays is the renewal threshold: certificates with strictly
	// less than this many days of validity left are due.
	ExpLimitDays int `yaml:"exp_limit" env:"EXP_LIMIT"`
	// LEClient is the external CA client binary.
	LEClient string `yaml:"le_client" env:"LE_CLIENT"`
	// ReloadCmd is the proxy reload command, run through the shell.
	ReloadCmd string `yaml:"reload_cmd" env:"RELOAD_CMD"`
	// Webroot is the directory the CA client uses for webroot validation.
	Webroot string `yaml:"webroot" env:"WEBROOT"`
	// LogFile redirects logging to a file; empty means console.
	LogFile string `yaml:"logfile" env:"LOGFILE"`
	// Verbose lowers the log level to debug.
	Verbose bool `yaml:"verbose" env:"VERBOSE"`
	// LiveDir is the certificate store root.
	LiveDir string `yaml:"live_dir" env:"LIVE_DIR"`
	// HAProxyCfg is the proxy configuration scanned for crt references.
	HAProxyCfg string `yaml:"haproxy_cfg" env:"HAPROXY_CFG"`
	// CrtList is the aggregate certificate-list file maintained for the proxy.
	CrtList string `yaml:"crt_list" env:"CRT_LIST"`
	// RenewRetries is the number of extra CA client attempts per domain.
	RenewRetries int `yaml:"renew_retries" env:"RENEW_RETRIES"`
	// OCSP enables refreshing .ocsp staple files next to the bundles.
	OCSP bool `yaml:"ocsp" env:"OCSP"`
	// LockFile guards against overlapping cron runs.
	LockFile string `yaml:"lock_file" env:"LOCK_FILE"`
	// WebhookURL receives a JSON summary after each run when set.
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	// JournalFile records each run's outcome as a JSON line when set.
	JournalFile string `yaml:"journal_file" env:"JOURNAL_FILE"`
}

// Default returns the configuration the tool starts from before any file or
// environment overrides.
func Default() *Config {
	return &Config{
		ExpLimitDays: 30,
		LEClient:     "certbot",
		ReloadCmd:    "service haproxy reload",
		Webroot:      "/var/lib/haproxy",
		LiveDir:      "/etc/letsencrypt/live",
		HAProxyCfg:   "/etc/haproxy/haproxy.cfg",
		CrtList:      "/etc/haproxy/crt-list.txt",
		LockFile:     filepath.Join(os.TempDir(), "certrenewal.lock"),
	}
}

// LoadConfig builds the effective configuration: defaults, then the YAML file
// (explicit path, or the first default path that exists), then environment
// variables. An explicitly given path must exist; default paths are optional.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	filePath := path
	if filePath == "" {
		for _, candidate := range DefaultConfigPaths {
			if _, err := os.Stat(candidate); err == nil {
				filePath = candidate
				break
			}
		}
	} else if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("config file not found: %s", filePath)
	}

	if filePath != "" {
		if err := loadFile(cfg, filePath); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile reads a YAML config file with environment expansion and strict
// field checking, so typos in the file surface as errors instead of being
// silently ignored.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvWithTrim(string(data))

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return nil
}

// expandEnvWithTrim expands ${VAR} references, trimming whitespace from the
// values so trailing newlines in secrets do not corrupt paths or commands.
func expandEnvWithTrim(s string) string {
	return os.Expand(s, func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	})
}

// Validate checks the structural settings every command depends on. The
// contact email is checked separately by commands that actually renew.
func (c *Config) Validate() error {
	if c.ExpLimitDays < 1 {
		return fmt.Errorf("exp_limit must be at least 1 day, got %d", c.ExpLimitDays)
	}
	if c.LiveDir == "" {
		return fmt.Errorf("live_dir must not be empty")
	}
	if c.LEClient == "" {
		return fmt.Errorf("le_client must not be empty")
	}
	if c.ReloadCmd == "" {
		return fmt.Errorf("reload_cmd must not be empty")
	}
	if c.CrtList == "" {
		return fmt.Errorf("crt_list must not be empty")
	}
	return nil
}

// RequireEmail returns an error unless a contact email is configured.
// Renewal commands call this before invoking the CA client.
func (c *Config) RequireEmail() error {
	if c.Email == "" {
		return fmt.Errorf("email is required for renewals (set CERTRENEWAL_EMAIL or the email key)")
	}
	return nil
}

// Threshold converts the configured day limit into a duration.
func (c *Config) Threshold() time.Duration {
	return time.Duration(c.ExpLimitDays) * 24 * time.Hour
}
