package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/trafficlight/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent builds",
	Long: `List the most recent builds recorded in the history store, newest first.

Examples:
  trafficlight history                 # Last 20 builds
  trafficlight history --limit 5
  trafficlight history --format json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyLimit  int
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of builds to show")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "Output format (table, json)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("build history is disabled (history.enabled)")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	switch historyFormat {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	case "table":
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No builds recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tOUTCOME\tDURATION\tPAGES\tDOCUMENTS\tFAILURES\tBUILD")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				rec.Started.Format(time.DateTime), rec.Outcome, rec.Duration,
				rec.Pages, rec.Documents, len(rec.Failures), rec.BuildID)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json)", historyFormat)
	}
}
