package notify

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"covid-alerts/internal/models"
	"covid-alerts/internal/monitor"
	"covid-alerts/pkg/utils"
)

// Console renders run reports as human readable text.
type Console struct {
	w          io.Writer
	dateFormat string

	critical *color.Color
	warning  *color.Color
	info     *color.Color
	ok       *color.Color
	muted    *color.Color
	heading  *color.Color
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer, colorEnabled bool, dateFormat string) *Console {
	if dateFormat == "" {
		dateFormat = "2006-01-02"
	}
	c := &Console{
		w:          w,
		dateFormat: dateFormat,
		critical:   color.New(color.FgRed, color.Bold),
		warning:    color.New(color.FgYellow),
		info:       color.New(color.FgCyan),
		ok:         color.New(color.FgGreen),
		muted:      color.New(color.Faint),
		heading:    color.New(color.Bold),
	}
	if !colorEnabled {
		for _, col := range []*color.Color{c.critical, c.warning, c.info, c.ok, c.muted, c.heading} {
			col.DisableColor()
		}
	}
	return c
}

// metricPhrase names a metric in alert sentences.
func metricPhrase(m models.MetricKind) string {
	switch m {
	case models.MetricPositivity:
		return "positive test rate"
	case models.MetricTests:
		return "number of tests"
	default:
		return "number of " + string(m)
	}
}

func formatValue(m models.MetricKind, v float64) string {
	if m == models.MetricPositivity {
		return utils.FormatNumber(v, 2) + "%"
	}
	return utils.FormatCount(v)
}

// DescribeAlert returns a one line description of a.
func DescribeAlert(a models.Alert, window int) string {
	date := a.AsOf.Format("2006-01-02")
	subject := fmt.Sprintf("The rolling %s for %s on %s", metricPhrase(a.Metric), a.Entity, date)

	switch a.Check {
	case models.CheckIncrease:
		return fmt.Sprintf("%s increased by %s which is greater than %s",
			subject, formatValue(a.Metric, a.Observed), formatValue(a.Metric, a.Threshold))
	case models.CheckRateOfChange:
		return fmt.Sprintf("%s changed by %s which is greater than %s",
			subject, utils.FormatPercent(a.Observed), utils.FormatPercent(a.Threshold))
	default:
		msg := fmt.Sprintf("%s was %s which is greater than %s",
			subject, formatValue(a.Metric, a.Observed), formatValue(a.Metric, a.Threshold))
		if window > 0 && a.Metric != models.MetricPositivity {
			msg += fmt.Sprintf(" (daily average %s)", utils.FormatNumber(a.Observed/float64(window), 1))
		}
		return msg
	}
}

// Render writes the report: one block per evaluation, then notes, failures
// and the run summary.
func (c *Console) Render(report *monitor.Report) {
	title := "General alerts"
	if report.Domain == monitor.DomainTrusts {
		title = "Trust deaths"
	}
	c.heading.Fprintf(c.w, "%s, %s\n", title, report.StartedAt.Format(c.dateFormat))

	for _, err := range report.Skipped {
		c.warning.Fprintf(c.w, "  ! skipped config entry: %v\n", err)
	}

	for _, ev := range report.Evaluations {
		c.renderEvaluation(ev)
	}

	for _, n := range report.Notes {
		if n.Level == monitor.NoteWarning {
			c.warning.Fprintf(c.w, "  ! %s\n", n.Message)
		} else {
			c.info.Fprintf(c.w, "  i %s\n", n.Message)
		}
	}

	for _, f := range report.Failures {
		c.critical.Fprintf(c.w, "  x %s: %v\n", f.Entity, f.Err)
	}

	if report.OutputFile != "" {
		c.muted.Fprintf(c.w, "  Wrote %s\n", report.OutputFile)
	}
	if report.OutputErr != nil {
		c.critical.Fprintf(c.w, "  x trust deaths file not written: %v\n", report.OutputErr)
	}
	if report.Attention {
		if report.OutputFile != "" {
			c.warning.Fprintf(c.w, "  Attention flag set for %s, please view\n", report.OutputFile)
		} else {
			c.warning.Fprintln(c.w, "  Attention flag set")
		}
	}

	s := report.Summary()
	c.heading.Fprintf(c.w, "Evaluated %d, alerts %d, data insufficient %d, failed %d\n",
		s.Evaluated, s.Alerts, s.Insufficient, s.Failed)
}

func (c *Console) renderEvaluation(ev models.Evaluation) {
	label := fmt.Sprintf("%s %s", ev.Entity, ev.Metric)

	if ev.Insufficient() {
		c.muted.Fprintf(c.w, "  ? %s: data insufficient (%s of %s)\n",
			label, utils.Pluralize(ev.Available, "day"), utils.Pluralize(ev.Window, "day"))
		return
	}

	for _, a := range ev.Alerts {
		col := c.warning
		if a.Severity == models.SeverityCritical {
			col = c.critical
		}
		col.Fprintf(c.w, "  ! [%s] %s\n", a.Severity, DescribeAlert(a, ev.Window))
	}
	if len(ev.Alerts) > 0 {
		return
	}

	if ev.Recent == 0 {
		c.info.Fprintf(c.w, "  i The rolling %s for %s on %s was 0\n",
			metricPhrase(ev.Metric), ev.Entity, ev.AsOf.Format(c.dateFormat))
		return
	}

	line := fmt.Sprintf("  ok %s: %s over %s", label, formatValue(ev.Metric, ev.Recent), utils.Pluralize(ev.Window, "day"))
	if ev.PriorDefined {
		line += fmt.Sprintf(", change %s", utils.FormatChange(ev.Change, changeDecimals(ev.Metric)))
	}
	if ev.RateDefined {
		line += fmt.Sprintf(" (%s)", utils.FormatPercent(ev.ChangePercent))
	}
	c.ok.Fprintln(c.w, line)
}

func changeDecimals(m models.MetricKind) int {
	if m == models.MetricPositivity {
		return 2
	}
	return 0
}
