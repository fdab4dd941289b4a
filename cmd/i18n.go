package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/trafficlight/internal/i18n"
)

var i18nCmd = &cobra.Command{
	Use:   "i18n",
	Short: "Manage the message catalogs",
	Long: `Maintain the message catalogs outside of a build. Every build already runs
extract, update and compile; these commands run a single step.

Examples:
  trafficlight i18n extract          # Rewrite the template catalog
  trafficlight i18n update de_DE     # Merge new messages into one catalog
  trafficlight i18n compile          # Compile every catalog
  trafficlight i18n init fr_FR       # Start a catalog for a new locale`,
}

var i18nExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract translatable messages from the templates",
	Args:  cobra.NoArgs,
	RunE: withCatalogs(func(cmd *cobra.Command, m *i18n.Manager, args []string) error {
		tmpl, skipped, err := m.Extract(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d messages into %s\n", len(tmpl.Messages), m.TemplatePath())
		for _, se := range skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipped: %v\n", se)
		}
		return nil
	}),
}

var i18nUpdateCmd = &cobra.Command{
	Use:   "update [locale...]",
	Short: "Merge the template catalog into locale catalogs",
	RunE: withCatalogs(func(cmd *cobra.Command, m *i18n.Manager, args []string) error {
		locales, err := localesOrAll(m, args)
		if err != nil {
			return err
		}
		for _, locale := range locales {
			stats, err := m.Update(cmd.Context(), locale)
			if err != nil {
				return fmt.Errorf("updating %s: %w", locale, err)
			}
			printStats(cmd.OutOrStdout(), *stats)
		}
		return nil
	}),
}

var i18nCompileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile every locale catalog",
	Args:  cobra.NoArgs,
	RunE: withCatalogs(func(cmd *cobra.Command, m *i18n.Manager, args []string) error {
		all, err := m.Compile(cmd.Context())
		if err != nil {
			return err
		}
		for _, stats := range all {
			printStats(cmd.OutOrStdout(), stats)
		}
		return nil
	}),
}

var i18nInitCmd = &cobra.Command{
	Use:   "init <locale>",
	Short: "Create the catalog of a new locale",
	Args:  cobra.ExactArgs(1),
	RunE: withCatalogs(func(cmd *cobra.Command, m *i18n.Manager, args []string) error {
		stats, err := m.Init(cmd.Context(), i18n.Locale(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", m.CatalogPath(stats.Locale))
		printStats(cmd.OutOrStdout(), *stats)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(i18nCmd)

	i18nCmd.AddCommand(i18nExtractCmd, i18nUpdateCmd, i18nCompileCmd, i18nInitCmd)
}

// withCatalogs loads the configuration and hands a catalog manager to run.
func withCatalogs(run func(cmd *cobra.Command, m *i18n.Manager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}

		m := i18n.NewManager(cfg.Inputs.Locales, cfg.Inputs.Templates, cfg.Localization.Domain, logger)
		return run(cmd, m, args)
	}
}

func localesOrAll(m *i18n.Manager, args []string) ([]i18n.Locale, error) {
	if len(args) == 0 {
		return m.Locales()
	}

	locales := make([]i18n.Locale, 0, len(args))
	for _, arg := range args {
		locales = append(locales, i18n.Locale(arg))
	}

	return locales, nil
}

func printStats(w io.Writer, stats i18n.LocaleStats) {
	state := "unchanged"
	if stats.Changed {
		state = "written"
	}
	fmt.Fprintf(w, "%-8s translated=%d missing=%d obsolete=%d (%s)\n",
		stats.Locale, stats.Translated, stats.Missing, stats.Obsolete, state)
}
