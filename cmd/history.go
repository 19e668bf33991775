package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the outcome of recent renewal runs",
	Long: `Read the run journal and print what the last runs renewed, whether the
proxy was reloaded and how failed runs failed. Requires journal_file to be
set in the configuration.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jrnl := journal.New(cfg.JournalFile)
	if !jrnl.Enabled() {
		fmt.Println("Run journal is disabled; set journal_file in the configuration to record runs.")
		return nil
	}

	entries, err := jrnl.Last(historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("\n%-20s %-8s %-8s %-7s %s\n", "WHEN", "RESULT", "RENEWED", "RELOAD", "DETAIL")
	fmt.Println(strings.Repeat("─", 78))

	for _, e := range entries {
		result := "✓ ok"
		detail := strings.Join(e.Renewed, ", ")
		if e.Event == journal.EventRunFailed {
			result = "✗ fail"
			detail = e.Error
		}
		reload := "-"
		if e.Reloaded {
			reload = "yes"
		}
		fmt.Printf("%-20s %-8s %-8d %-7s %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			result,
			len(e.Renewed),
			reload,
			detail)
	}
	return nil
}
