package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"covid-alerts/internal/config"
	apperrors "covid-alerts/internal/errors"
	"covid-alerts/internal/logging"
	"covid-alerts/internal/models"
	"covid-alerts/internal/source"
	"covid-alerts/internal/trend"
	"covid-alerts/pkg/utils"
)

// DashboardSource supplies coronavirus dashboard data for an area.
type DashboardSource interface {
	Fetch(ctx context.Context, area source.Area, fields ...string) (*source.Dataset, error)
}

// GeneralMonitor checks the UK overview and the configured LTLA areas.
type GeneralMonitor struct {
	source     DashboardSource
	areas      []string
	thresholds models.ThresholdSet
	logger     zerolog.Logger
	now        func() time.Time
}

// NewGeneralMonitor creates a GeneralMonitor for the areas in cfg.
func NewGeneralMonitor(src DashboardSource, cfg *config.GeneralConfig, thresholds models.ThresholdSet, logger zerolog.Logger) *GeneralMonitor {
	return &GeneralMonitor{
		source:     src,
		areas:      cfg.Areas,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}
}

// ScopeOf returns the threshold scope of a general run entity.
func ScopeOf(entity string) models.Scope {
	if entity == models.OverviewEntity {
		return models.ScopeOverview
	}
	return models.ScopeLTLA
}

// Run evaluates every entity in turn. A failing entity is recorded and
// skipped; ErrAllSourcesFailed is returned when none could be fetched.
func (m *GeneralMonitor) Run(ctx context.Context) (*Report, error) {
	report := newReport(DomainGeneral, m.now())
	defer func() { report.FinishedAt = m.now() }()

	m.logger.Info().Int("areas", len(m.areas)).Msg("Starting general alerts run")

	attempted, failed := 0, 0
	fail := func(entity string, err error) {
		failed++
		report.Failures = append(report.Failures, Failure{Entity: entity, Err: err})
		logger := logging.WithEntity(m.logger, entity)
		logger.Error().Err(err).Msg("Skipping entity")
	}

	attempted++
	if err := m.overview(ctx, report); err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		fail(models.OverviewEntity, err)
	}

	for _, area := range m.areas {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		attempted++
		if err := m.area(ctx, report, area); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			fail(area, err)
		}
	}

	s := report.Summary()
	m.logger.Info().
		Int("evaluated", s.Evaluated).
		Int("alerts", s.Alerts).
		Int("insufficient", s.Insufficient).
		Int("failed", s.Failed).
		Msg("General alerts run completed")

	if failed == attempted {
		return report, apperrors.ErrAllSourcesFailed
	}
	return report, nil
}

func (m *GeneralMonitor) overview(ctx context.Context, report *Report) error {
	ds, err := m.source.Fetch(ctx, source.Overview(),
		source.FieldCasesByPublishDate,
		source.FieldPillarOneTests,
		source.FieldPillarTwoTests,
		source.FieldDeaths28Days,
	)
	if err != nil {
		return err
	}

	entity := models.OverviewEntity
	cases := ds.Series(models.MetricCases, true, source.FieldCasesByPublishDate)
	deaths := ds.Series(models.MetricDeaths, true, source.FieldDeaths28Days)
	tests := ds.Series(models.MetricTests, true, source.FieldPillarOneTests, source.FieldPillarTwoTests)

	m.evaluate(report, trend.Evaluate(cases, m.thresholds.For(models.ScopeOverview, entity, models.MetricCases)))
	m.evaluate(report, trend.Evaluate(deaths, m.thresholds.For(models.ScopeOverview, entity, models.MetricDeaths)))
	m.evaluate(report, trend.EvaluateRatio(cases, tests, m.thresholds.For(models.ScopeOverview, entity, models.MetricPositivity)))
	return nil
}

func (m *GeneralMonitor) area(ctx context.Context, report *Report, name string) error {
	ds, err := m.source.Fetch(ctx, source.LTLA(name),
		source.FieldCasesBySpecimenDate,
		source.FieldDeaths28Days,
	)
	if err != nil {
		return err
	}

	cases := ds.Series(models.MetricCases, true, source.FieldCasesBySpecimenDate)
	deaths := ds.Series(models.MetricDeaths, true, source.FieldDeaths28Days)

	m.evaluate(report, trend.Evaluate(cases, m.thresholds.For(models.ScopeLTLA, name, models.MetricCases)))

	if total, asOf, ok := ds.Latest(source.FieldDeaths28Days); ok {
		msg := fmt.Sprintf("The total number of deaths for %s is now %s (%s)",
			name, utils.FormatCount(total), asOf.Format("2006-01-02"))
		report.addNote(name, NoteInfo, msg)
		logger := logging.WithEntity(m.logger, name)
		logger.Info().Float64("total_deaths", total).Time("as_of", asOf).Msg("Latest death total")
	}
	m.evaluate(report, trend.Evaluate(deaths, m.thresholds.For(models.ScopeLTLA, name, models.MetricDeaths)))
	return nil
}

func (m *GeneralMonitor) evaluate(report *Report, ev models.Evaluation) {
	recordEvaluation(report, m.logger, ev)
}

// recordEvaluation adds ev to the report and logs it with its alerts.
func recordEvaluation(report *Report, logger zerolog.Logger, ev models.Evaluation) {
	report.Evaluations = append(report.Evaluations, ev)

	logging.LogEvaluation(logger, ev)
	for _, a := range ev.Alerts {
		logging.LogAlert(logger, a)
	}
	if !ev.Insufficient() && ev.Recent == 0 {
		zero := logging.WithMetric(logging.WithEntity(logger, ev.Entity), ev.Metric)
		zero.Info().Msg("Rolling value is zero")
	}
}
