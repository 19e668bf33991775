package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/syscheck"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment a renewal run depends on",
	Long: `Probe everything a renewal run needs before it starts: the ACME client
binary, the reload command, the certificate store, the HAProxy configuration,
the ACME webroot and the crt-list directory.

Checks performed:
  - CA client binary resolvable in PATH
  - reload command resolvable in PATH
  - certificate store root exists
  - HAProxy configuration readable
  - ACME webroot writable
  - crt-list directory writable
  - no other renewal run holding the lock

Examples:
  certrenewal doctor            # run all checks`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := syscheck.NewSystemChecker(cfg)
	result := checker.CheckAll()
	checker.PrintResults(result)

	if !result.AllRequired {
		failed := 0
		for _, c := range result.Checks {
			if c.Required && !c.Passed {
				failed++
			}
		}
		return fmt.Errorf("doctor found %d issue(s)", failed)
	}
	return nil
}
