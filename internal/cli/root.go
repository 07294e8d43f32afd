// Package cli provides the command-line interface for the alerting tool.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"covid-alerts/internal/config"
	"covid-alerts/internal/logging"
	"covid-alerts/internal/models"
	"covid-alerts/internal/monitor"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2020-11-02"
)

// App holds the application dependencies. Config and Logger are set once the
// flags have been parsed.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// colorEnabled reports whether coloured output is configured.
func (a *App) colorEnabled() bool {
	return a.Config != nil && a.Config.UI.ColorEnabled
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "covidalerts",
		Short: "COVID-19 case and death alerts",
		Long: `covidalerts checks UK coronavirus dashboard data and NHS England trust deaths
against configured ceilings and reports rolling-window breaches.

Run 'covidalerts general' for the UK overview and the configured LTLA areas,
and 'covidalerts trusts' for deaths by NHS trust.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(app.ConfigDir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(cfg.LoggingConfig())

			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&app.ConfigDir, "config", config.DefaultConfigDir(), "config directory")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newGeneralCmd(app))
	rootCmd.AddCommand(newTrustsCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newVersionCmd(app))

	return rootCmd
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd, true)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("covidalerts v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the settings and alert configuration files.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.colorEnabled())
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd, app.colorEnabled())
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Dir})
			} else {
				output.Println(app.Config.Dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate settings and alert configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.colorEnabled())
			skipped, err := validateFiles(app.Config)
			if err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				msgs := make([]string, len(skipped))
				for i, s := range skipped {
					msgs[i] = s.Error()
				}
				return output.JSON(map[string]interface{}{"valid": true, "skipped": msgs})
			}
			for _, s := range skipped {
				output.Warning("! skipped: %v", s)
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "thresholds",
		Short: "Show the effective thresholds for every monitored entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.colorEnabled())
			return showThresholds(output, app.Config)
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Sources")
	output.Printf("  Dashboard API:   %s (timeout %s)\n", cfg.API.BaseURL, cfg.API.Timeout)
	output.Printf("  NHS page:        %s (timeout %s)\n", cfg.NHS.PageURL, cfg.NHS.Timeout)
	output.Printf("  Workbook sheet:  %s\n", cfg.NHS.Sheet)
	output.Printf("  Fetch attempts:  %d\n", cfg.Fetch.Attempts)
	output.Println()

	output.Bold("Files")
	output.Printf("  Config dir:      %s\n", cfg.Dir)
	output.Printf("  General alerts:  %s\n", cfg.ConfigPath(cfg.Paths.GeneralFile))
	output.Printf("  Thresholds:      %s\n", cfg.ConfigPath(cfg.Paths.ThresholdsFile))
	output.Printf("  Trusts:          %s\n", cfg.ConfigPath(cfg.Paths.TrustsFile))
	output.Printf("  Data dir:        %s\n", cfg.Paths.DataDir)
	output.Printf("  Log file:        %s (level %s)\n", cfg.Log.Path, cfg.Log.Level)
	if cfg.Metrics.TextfilePath != "" {
		output.Printf("  Metrics:         %s\n", cfg.Metrics.TextfilePath)
	}
	output.Println()

	output.Bold("Trusts")
	output.Printf("  Window:          %d days\n", cfg.Trusts.Window)
	output.Printf("  Absolute:        %s\n", cfg.Trusts.AbsoluteCeiling)
	output.Printf("  Rate:            %s\n", cfg.Trusts.RateCeiling)
	output.Printf("  Increase:        %s\n", cfg.Trusts.IncreaseCeiling)
	output.Printf("  Recent days:     %d\n", cfg.Trusts.RecentDays)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
	output.Printf("  Email:           %v\n", cfg.Notifications.Email.Enabled)
}

// redacted returns a copy of cfg without secrets.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.Notifications.Telegram.BotToken != "" {
		out.Notifications.Telegram.BotToken = "********"
	}
	if out.Notifications.Email.Password != "" {
		out.Notifications.Email.Password = "********"
	}
	return out
}

// validateFiles loads every alert configuration file and returns the rows
// that would be skipped.
func validateFiles(cfg *config.Config) ([]error, error) {
	_, _, skipped, err := loadGeneral(cfg)
	if err != nil {
		return nil, err
	}

	_, _, trustSkipped, err := loadTrusts(cfg)
	if err != nil {
		return nil, err
	}
	return append(skipped, trustSkipped...), nil
}

func showThresholds(output *Output, cfg *config.Config) error {
	general, thresholds, _, err := loadGeneral(cfg)
	if err != nil {
		return err
	}

	output.Bold("%s", ThresholdsHeader())
	for _, metric := range []models.MetricKind{models.MetricCases, models.MetricDeaths, models.MetricPositivity} {
		output.Println(FormatThresholds(models.OverviewEntity, metric,
			thresholds.For(models.ScopeOverview, models.OverviewEntity, metric)))
	}
	for _, area := range general.Areas {
		for _, metric := range []models.MetricKind{models.MetricCases, models.MetricDeaths} {
			output.Println(FormatThresholds(area, metric, thresholds.For(monitor.ScopeOf(area), area, metric)))
		}
	}

	trusts, trustThresholds, _, err := loadTrusts(cfg)
	if err != nil {
		return err
	}
	for _, trust := range trusts {
		output.Println(FormatThresholds(trust, models.MetricDeaths,
			trustThresholds.For(models.ScopeTrust, trust, models.MetricDeaths)))
	}
	if len(general.Areas) == 0 && len(trusts) == 0 {
		output.Dim("No areas or trusts configured")
	}
	return nil
}
