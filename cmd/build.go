package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/trafficlight/internal/build"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Run one build",
	Long: `Run one complete build: compile the stylesheet, refresh the message
catalogs, render every page for every locale and convert the pages to PDF.

Failures of single pages or documents are reported and leave a degraded
build behind. Only a fatal failure makes the command exit with an error.

Examples:
  trafficlight build                   # Build into the configured directories
  trafficlight build --atomic          # Publish the output only once complete
  trafficlight build --format json     # Print the build report as JSON`,
	RunE: runBuild,
}

var buildFormat string

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().Bool("atomic", false, "Build into staging directories and publish when complete")
	buildCmd.Flags().StringVarP(&buildFormat, "format", "f", "text", "Report format (text, json)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{"atomic": "build.atomic_publish"})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if buildFormat != "text" && buildFormat != "json" {
		return fmt.Errorf("unsupported format: %s (supported: text, json)", buildFormat)
	}

	a, err := newApp(cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, buildErr := a.pipeline.Process(cmd.Context())

	if err := printReport(cmd.OutOrStdout(), report, buildFormat); err != nil {
		return err
	}

	return buildErr
}

// printReport writes a summary of report.
func printReport(w io.Writer, report *build.Report, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report.Record())
	}

	fmt.Fprintf(w, "Build %s: %s in %s\n", report.BuildID, report.Outcome, report.Duration.Round(time.Millisecond))
	if report.Stylesheet != "" {
		fmt.Fprintf(w, "Stylesheet: %s\n", report.Stylesheet)
	}
	fmt.Fprintf(w, "Pages: %d\n", len(report.Pages))
	for _, page := range report.Pages {
		fmt.Fprintf(w, "  %s\n", filepath.Base(page))
	}
	fmt.Fprintf(w, "Documents: %d\n", len(report.Documents))
	for _, doc := range report.Documents {
		fmt.Fprintf(w, "  %s\n", filepath.Base(doc))
	}
	if len(report.Failures) > 0 {
		fmt.Fprintf(w, "Failures: %d\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s\n", f.Error())
		}
	}

	return nil
}
