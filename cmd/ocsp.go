package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/staple"
)

var ocspCmd = &cobra.Command{
	Use:   "ocsp",
	Short: "Refresh the OCSP staple files next to the bundles",
	Long: `Fetch a fresh OCSP response for every stored certificate and write it to
the .ocsp file HAProxy picks up next to the bundle. Staples that are still
fresh are left alone; unreachable responders are logged and skipped.

Renewal runs refresh staples automatically when ocsp is enabled in the
configuration; this command forces a refresh outside a run.`,
	RunE: runOCSP,
}

func init() {
	rootCmd.AddCommand(ocspCmd)
}

func runOCSP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	scan, err := certstore.New(cfg.LiveDir, logger).Scan()
	if err != nil {
		return err
	}

	if err := staple.NewRefresher(logger).Refresh(cmd.Context(), scan); err != nil {
		return err
	}

	fmt.Printf("Checked staples for %d certificate(s)\n", len(scan.Records))
	return nil
}
