package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Resolve the configuration the way every other command does (defaults,
then the YAML file, then CERTRENEWAL_* environment variables, then flags)
and print the result. Useful for debugging a cron setup that behaves
differently from an interactive shell.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("Config file: %s\n\n", used)
	} else {
		fmt.Print("Config file: none (defaults and environment only)\n\n")
	}

	fmt.Printf("  email:         %s\n", valueOrUnset(cfg.Email))
	fmt.Printf("  exp_limit:     %d days\n", cfg.ExpLimitDays)
	fmt.Printf("  force:         %t\n", cfg.Force)
	fmt.Printf("  le_client:     %s\n", cfg.LEClient)
	fmt.Printf("  reload_cmd:    %s\n", cfg.ReloadCmd)
	fmt.Printf("  webroot:       %s\n", cfg.Webroot)
	fmt.Printf("  live_dir:      %s\n", cfg.LiveDir)
	fmt.Printf("  haproxy_cfg:   %s\n", cfg.HAProxyCfg)
	fmt.Printf("  crt_list:      %s\n", cfg.CrtList)
	fmt.Printf("  renew_retries: %d\n", cfg.RenewRetries)
	fmt.Printf("  ocsp:          %t\n", cfg.OCSP)
	fmt.Printf("  lock_file:     %s\n", cfg.LockFile)
	fmt.Printf("  logfile:       %s\n", valueOrUnset(cfg.LogFile))
	fmt.Printf("  webhook_url:   %s\n", valueOrUnset(cfg.WebhookURL))
	return nil
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}
