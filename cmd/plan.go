package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/renewal"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what the next renewal run would do",
	Long: `Scan the certificate store and the HAProxy configuration and print the
resulting renewal plan. Nothing is renewed, written or reloaded.

Examples:
  certrenewal plan            # what is due within the configured window
  certrenewal plan --force    # what a forced run would renew`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	plan, err := renewal.NewRunner(cfg, logger).Plan(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Print(plan.FormatPlan())
	return nil
}
