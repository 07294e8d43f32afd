package monitor

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	apperrors "covid-alerts/internal/errors"
	"covid-alerts/internal/logging"
	"covid-alerts/internal/models"
	"covid-alerts/internal/source"
	"covid-alerts/internal/trend"
)

// TrustOutputPrefix is the file name prefix of the trust deaths csv.
const TrustOutputPrefix = "trust_deaths"

// headerDateLayout matches the date headings of the NHS export.
const headerDateLayout = "02-Jan-06"

// WorkbookSource supplies the parsed deaths by trust table.
type WorkbookSource interface {
	Fetch(ctx context.Context) (*source.TrustTable, string, error)
}

// TrustOptions configures a TrustMonitor.
type TrustOptions struct {
	Trusts     []string
	Thresholds models.ThresholdSet
	RecentDays int
	DataDir    string
}

// TrustMonitor checks deaths for the configured NHS trusts.
type TrustMonitor struct {
	source WorkbookSource
	opts   TrustOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewTrustMonitor creates a TrustMonitor.
func NewTrustMonitor(src WorkbookSource, opts TrustOptions, logger zerolog.Logger) *TrustMonitor {
	return &TrustMonitor{
		source: src,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Run downloads the workbook, evaluates every matching trust and writes the
// selected rows to the dated csv file. A workbook failure ends the run; a
// failure to write the csv file is recorded in the report.
func (m *TrustMonitor) Run(ctx context.Context) (*Report, error) {
	now := m.now()
	report := newReport(DomainTrusts, now)
	defer func() { report.FinishedAt = m.now() }()

	m.logger.Info().Int("trusts", len(m.opts.Trusts)).Msg("Starting trust deaths run")

	table, link, err := m.source.Fetch(ctx)
	report.SourceURL = link
	if err != nil {
		return report, fmt.Errorf("loading deaths workbook: %w", err)
	}
	m.logger.Info().Int("rows", len(table.Rows)).Int("dates", len(table.Dates)).Msg("Workbook parsed")

	matches := table.Select(m.opts.Trusts)
	m.reportUnmatched(report, matches)

	for _, match := range matches {
		m.evaluate(report, match, now)
	}

	path := filepath.Join(m.opts.DataDir, fmt.Sprintf("%s_%s.csv", TrustOutputPrefix, now.Format("20060102")))
	m.logger.Info().Str("path", path).Msg("Writing trust deaths file")
	if err := WriteTrustCSV(path, table, matches); err != nil {
		report.OutputErr = err
		m.logger.Error().Err(err).Str("path", path).Msg("Failed to write trust deaths file")
	} else {
		report.OutputFile = path
	}

	if report.Attention {
		m.logger.Warn().Str("path", path).Msg("Attention flag set, please view the trust deaths file")
	}

	s := report.Summary()
	m.logger.Info().
		Int("evaluated", s.Evaluated).
		Int("alerts", s.Alerts).
		Int("failed", s.Failed).
		Bool("attention", report.Attention).
		Msg("Trust deaths run completed")
	return report, nil
}

func (m *TrustMonitor) reportUnmatched(report *Report, matches []source.Match) {
	found := make(map[string]bool, len(matches))
	for _, match := range matches {
		found[match.Configured] = true
	}
	for _, name := range m.opts.Trusts {
		if found[name] {
			continue
		}
		err := fmt.Errorf("no workbook row starts with %q: %w", name, apperrors.ErrDataNotFound)
		report.Failures = append(report.Failures, Failure{Entity: name, Err: err})
		logger := logging.WithEntity(m.logger, name)
		logger.Warn().Msg("Trust not found in workbook")
	}
}

func (m *TrustMonitor) evaluate(report *Report, match source.Match, now time.Time) {
	row := match.Row
	series := row.Series()

	th := m.opts.Thresholds.For(models.ScopeTrust, match.Configured, models.MetricDeaths)
	if m.opts.Thresholds.HasOverride(row.Name, models.MetricDeaths) {
		th = m.opts.Thresholds.For(models.ScopeTrust, row.Name, models.MetricDeaths)
	}
	recordEvaluation(report, m.logger, trend.Evaluate(series, th))

	status := TrustStatus{Name: row.Name, Configured: match.Configured}
	logger := logging.WithEntity(m.logger, row.Name)
	if last, ok := trend.LastNonZero(series); ok {
		status.LastDeath = last
		status.HasDeath = true
		status.DaysSince = trend.DaysBetween(last, now)
		status.Attention = status.DaysSince <= m.opts.RecentDays
	}
	report.Trusts = append(report.Trusts, status)

	switch {
	case !status.HasDeath:
		report.addNote(row.Name, NoteInfo, fmt.Sprintf("No deaths reported in %s", match.Configured))
		logger.Info().Msg("No deaths reported")
	case status.Attention:
		report.Attention = true
		report.addNote(row.Name, NoteWarning, fmt.Sprintf("The last death in %s was on %s which is %d days or less ago",
			match.Configured, status.LastDeath.Format("2006-01-02"), m.opts.RecentDays))
		logger.Warn().Time("last_death", status.LastDeath).Int("days_since", status.DaysSince).Msg("Recent death reported")
	default:
		report.addNote(row.Name, NoteInfo, fmt.Sprintf("The last death in %s was on %s",
			match.Configured, status.LastDeath.Format("2006-01-02")))
		logger.Info().Time("last_death", status.LastDeath).Int("days_since", status.DaysSince).Msg("Last death")
	}
}

// WriteTrustCSV writes the selected rows with a Name column, one column per
// date and the summary columns of the sheet.
func WriteTrustCSV(path string, table *source.TrustTable, matches []source.Match) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	header := make([]string, 0, 1+len(table.Dates)+len(table.SummaryHeaders))
	header = append(header, "Name")
	for _, d := range table.Dates {
		header = append(header, d.Format(headerDateLayout))
	}
	header = append(header, table.SummaryHeaders...)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}

	for _, match := range matches {
		record := make([]string, 0, len(header))
		record = append(record, match.Row.Name)
		for _, p := range match.Row.Deaths {
			if p.Missing {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(p.Value, 'f', -1, 64))
		}
		record = append(record, match.Row.Summary...)
		if err := w.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
