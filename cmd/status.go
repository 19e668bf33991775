package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/inspect"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the certificate store inventory and expiry dates",
	Long: `List every certificate in the store with its expiry date, the days of
validity left and whether the combined HAProxy bundle exists.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("\nCertificate store: %s\n", cfg.LiveDir)
	fmt.Println(strings.Repeat("─", 78))

	if len(scan.Records) == 0 {
		fmt.Println("No certificates found.")
		return nil
	}

	fmt.Printf("%-30s %-12s %-10s %-8s %s\n", "DOMAIN", "EXPIRES", "DAYS LEFT", "BUNDLE", "NAMES")
	fmt.Println(strings.Repeat("─", 78))

	inspector := inspect.New(cfg.ExpLimitDays)
	due := 0
	for _, rec := range scan.Records {
		details, err := inspector.Inspect(rec.CertPath)
		if err != nil {
			fmt.Printf("%-30s %s\n", rec.BaseDomain, fmt.Sprintf("✗ unreadable: %v", err))
			continue
		}

		daysLeft := fmt.Sprintf("%d", int(details.Remaining.Hours()/24))
		switch {
		case details.Remaining < 0:
			daysLeft = "expired"
			due++
		case details.ExpiresWithin:
			daysLeft += " (due)"
			due++
		}

		bundle := "missing"
		if _, err := os.Stat(rec.BundlePath); err == nil {
			bundle = "✓"
		}

		fmt.Printf("%-30s %-12s %-10s %-8s %s\n",
			rec.BaseDomain,
			details.NotAfter.Format("2006-01-02"),
			daysLeft,
			bundle,
			strings.Join(details.Names(), ", "))
	}

	fmt.Println(strings.Repeat("─", 78))
	fmt.Printf("%d certificate(s), %d due within %d days", len(scan.Records), due, cfg.ExpLimitDays)
	if scan.Skipped > 0 {
		fmt.Printf(", %d folder(s) without a certificate skipped", scan.Skipped)
	}
	fmt.Println()
	return nil
}
