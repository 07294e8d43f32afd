package cli

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"covid-alerts/internal/config"
	"covid-alerts/internal/logging"
	"covid-alerts/internal/metrics"
	"covid-alerts/internal/models"
	"covid-alerts/internal/monitor"
	"covid-alerts/internal/notify"
	"covid-alerts/internal/source"
)

func newGeneralCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "general",
		Short: "Check the UK overview and the configured LTLA areas",
		Long: `Fetches cases, deaths and tests from the coronavirus dashboard API for the
UK overview and every area listed in general_alerts.csv, and reports rolling
window breaches of the configured ceilings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runGeneral(cmd)
		},
	}
}

func newTrustsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trusts",
		Short: "Check deaths for the configured NHS trusts",
		Long: `Downloads the latest announced deaths workbook from NHS England, reports
rolling window breaches for every trust listed in trust_deaths.csv and writes
the selected rows to a dated csv file in the data directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runTrusts(cmd)
		},
	}
}

// loadGeneral reads the general alerts file and the optional threshold
// overrides.
func loadGeneral(cfg *config.Config) (*config.GeneralConfig, models.ThresholdSet, []error, error) {
	general, err := config.LoadGeneral(cfg.ConfigPath(cfg.Paths.GeneralFile))
	if err != nil {
		return nil, models.ThresholdSet{}, nil, err
	}

	b := models.NewThresholdSetBuilder()
	general.ApplyDefaults(b)

	skipped, err := config.LoadThresholds(cfg.ConfigPath(cfg.Paths.ThresholdsFile), b, monitor.ScopeOf)
	if err != nil {
		return nil, models.ThresholdSet{}, nil, err
	}
	return general, b.Build(), append(general.Skipped, skipped...), nil
}

// loadTrusts reads the trust list and the optional threshold overrides.
func loadTrusts(cfg *config.Config) ([]string, models.ThresholdSet, []error, error) {
	trusts, skipped, err := config.LoadTrusts(cfg.ConfigPath(cfg.Paths.TrustsFile))
	if err != nil {
		return nil, models.ThresholdSet{}, nil, err
	}

	defaults, err := cfg.TrustThresholds()
	if err != nil {
		return nil, models.ThresholdSet{}, nil, err
	}
	b := models.NewThresholdSetBuilder().Default(models.ScopeTrust, models.MetricDeaths, defaults)

	trustScope := func(string) models.Scope { return models.ScopeTrust }
	overrides, err := config.LoadThresholds(cfg.ConfigPath(cfg.Paths.ThresholdsFile), b, trustScope)
	if err != nil {
		return nil, models.ThresholdSet{}, nil, err
	}
	return trusts, b.Build(), append(skipped, overrides...), nil
}

func (a *App) runGeneral(cmd *cobra.Command) error {
	ctx := cmd.Context()
	runID := uuid.NewString()
	logger := logging.WithRun(a.Logger, runID, string(monitor.DomainGeneral))

	general, thresholds, skipped, err := loadGeneral(a.Config)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load general alerts configuration")
		return err
	}
	logSkipped(logger, skipped)

	client := source.NewClient(a.Config.API, a.Config.Fetch.Attempts, logger)
	m := monitor.NewGeneralMonitor(client, general, thresholds, logger)

	report, runErr := m.Run(ctx)
	report.Skipped = skipped
	a.finish(ctx, cmd, runID, report, runErr, logger)
	return runErr
}

func (a *App) runTrusts(cmd *cobra.Command) error {
	ctx := cmd.Context()
	runID := uuid.NewString()
	logger := logging.WithRun(a.Logger, runID, string(monitor.DomainTrusts))

	trusts, thresholds, skipped, err := loadTrusts(a.Config)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load trust configuration")
		return err
	}
	logSkipped(logger, skipped)

	wb, err := source.NewWorkbook(a.Config.NHS, a.Config.Fetch.Attempts, logger)
	if err != nil {
		return err
	}
	m := monitor.NewTrustMonitor(wb, monitor.TrustOptions{
		Trusts:     trusts,
		Thresholds: thresholds,
		RecentDays: a.Config.Trusts.RecentDays,
		DataDir:    a.Config.Paths.DataDir,
	}, logger)

	report, runErr := m.Run(ctx)
	report.Skipped = skipped
	a.finish(ctx, cmd, runID, report, runErr, logger)
	return runErr
}

// finish renders the report, writes the metrics textfile and forwards the
// results to the notification channels. Nothing here changes the outcome of
// the run.
func (a *App) finish(ctx context.Context, cmd *cobra.Command, runID string, report *monitor.Report, runErr error, logger zerolog.Logger) {
	output := NewOutput(cmd, a.colorEnabled())
	if output.IsJSON() {
		if err := output.JSON(newReportJSON(runID, report, runErr)); err != nil {
			logger.Warn().Err(err).Msg("Failed to encode report")
		}
	} else {
		notify.NewConsole(output.Writer(), a.colorEnabled(), a.Config.UI.DateFormat).Render(report)
	}

	if runErr != nil {
		logger.Error().Err(runErr).Dur("duration", report.Duration()).Msg("Run failed")
	} else {
		logger.Info().Str("duration", FormatDuration(report.Duration())).Msg("Run finished")
	}

	if path := a.Config.Metrics.TextfilePath; path != "" {
		rec := metrics.NewRecorder()
		rec.Record(report)
		if err := rec.WriteTextfile(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics textfile")
		}
	}

	notifier := notify.NewMultiNotifier(&a.Config.Notifications)
	if len(notifier.Channels()) == 0 {
		return
	}
	for _, err := range notify.Dispatch(ctx, notifier, runID, report) {
		logger.Warn().Err(err).Msg("Notification failed")
	}
	if runErr != nil {
		if err := notifier.SendError(ctx, runErr, string(report.Domain)+" run"); err != nil {
			logger.Warn().Err(err).Msg("Error notification failed")
		}
	}
}

func logSkipped(logger zerolog.Logger, skipped []error) {
	for _, err := range skipped {
		logger.Warn().Err(err).Msg("Skipping malformed configuration entry")
	}
}
