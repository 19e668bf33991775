package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/config"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/logging"
)

var (
	cfgFile   string
	verbose   bool
	forceFlag bool
	// Version, GitCommit, and BuildTime are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "certrenewal",
	Short: "Renew Let's Encrypt certificates behind HAProxy",
	Long: `certrenewal keeps the certificates HAProxy serves up to date. Each run
scans the certificate store, renews everything close to expiry through the
configured ACME client, rebuilds the combined key+chain bundles HAProxy
reads, rewrites the crt-list file and reloads the proxy when anything
changed.

It is built to run unattended from cron: runs are serialized through a lock
file, failures for one domain never block the others, and the exit code
tells cron whether everything succeeded.`,
	Version: Version,
}

// GetVersionInfo returns formatted version information
func GetVersionInfo() string {
	info := fmt.Sprintf("certrenewal %s", Version)
	if GitCommit != "unknown" && GitCommit != "" {
		info += fmt.Sprintf(" (commit: %s)", GitCommit)
	}
	if BuildTime != "unknown" && BuildTime != "" {
		info += fmt.Sprintf("\nBuilt: %s", BuildTime)
	}
	return info
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(fmt.Sprintf(`certrenewal {{.Version}}
Commit:  %s
Built:   %s
`, GitCommit, BuildTime))

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./certrenewal.yaml or /etc/certrenewal/certrenewal.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&forceFlag, "force", false, "renew every stored certificate regardless of expiry")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

// findEnvFile searches for .env file in current directory and parent directories
func findEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Search up to 10 levels up
	for i := 0; i < 10; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return ""
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	// Load .env file from current or parent directories
	envFile := findEnvFile()
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search the same locations config.LoadConfig falls back to
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/certrenewal")
		viper.SetConfigType("yaml")
		viper.SetConfigName("certrenewal")
	}

	viper.AutomaticEnv() // read in environment variables that match
	viper.SetEnvPrefix("CERTRENEWAL")

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	// Flag wins, then the config file, then CERTRENEWAL_VERBOSE
	verbose = viper.GetBool("verbose")
}

// loadConfig builds the effective configuration for a command, folding the
// --force flag into it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if forceFlag {
		cfg.Force = true
	}
	return cfg, nil
}

// newLogger builds the run logger from the configuration and the verbosity
// flag. The returned close function releases the log file, if any.
func newLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	return logging.New(logging.Options{
		LogFile: cfg.LogFile,
		Verbose: verbose || cfg.Verbose,
	})
}
