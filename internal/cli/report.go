package cli

import (
	"time"

	"covid-alerts/internal/models"
	"covid-alerts/internal/monitor"
)

// reportJSON is the --json rendering of a run report.
type reportJSON struct {
	RunID       string              `json:"run_id"`
	Domain      monitor.Domain      `json:"domain"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Evaluations []models.Evaluation `json:"evaluations"`
	Alerts      []models.Alert      `json:"alerts"`
	Notes       []noteJSON          `json:"notes,omitempty"`
	Failures    []failureJSON       `json:"failures,omitempty"`
	Skipped     []string            `json:"skipped,omitempty"`
	Trusts      []trustJSON         `json:"trusts,omitempty"`
	SourceURL   string              `json:"source_url,omitempty"`
	OutputFile  string              `json:"output_file,omitempty"`
	OutputError string              `json:"output_error,omitempty"`
	Attention   bool                `json:"attention"`
	Summary     summaryJSON         `json:"summary"`
	Error       string              `json:"error,omitempty"`
}

type noteJSON struct {
	Entity  string `json:"entity"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type failureJSON struct {
	Entity string `json:"entity"`
	Error  string `json:"error"`
}

type trustJSON struct {
	Name       string     `json:"name"`
	Configured string     `json:"configured"`
	LastDeath  *time.Time `json:"last_death,omitempty"`
	DaysSince  *int       `json:"days_since,omitempty"`
	Attention  bool       `json:"attention"`
}

type summaryJSON struct {
	Evaluated    int `json:"evaluated"`
	Alerts       int `json:"alerts"`
	Insufficient int `json:"insufficient"`
	Failed       int `json:"failed"`
}

func newReportJSON(runID string, report *monitor.Report, runErr error) reportJSON {
	s := report.Summary()
	out := reportJSON{
		RunID:       runID,
		Domain:      report.Domain,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Evaluations: report.Evaluations,
		Alerts:      report.Alerts(),
		SourceURL:   report.SourceURL,
		OutputFile:  report.OutputFile,
		Attention:   report.Attention,
		Summary: summaryJSON{
			Evaluated:    s.Evaluated,
			Alerts:       s.Alerts,
			Insufficient: s.Insufficient,
			Failed:       s.Failed,
		},
	}
	if out.Evaluations == nil {
		out.Evaluations = []models.Evaluation{}
	}
	if out.Alerts == nil {
		out.Alerts = []models.Alert{}
	}
	if report.OutputErr != nil {
		out.OutputError = report.OutputErr.Error()
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	for _, n := range report.Notes {
		level := "info"
		if n.Level == monitor.NoteWarning {
			level = "warning"
		}
		out.Notes = append(out.Notes, noteJSON{Entity: n.Entity, Level: level, Message: n.Message})
	}
	for _, f := range report.Failures {
		out.Failures = append(out.Failures, failureJSON{Entity: f.Entity, Error: f.Err.Error()})
	}
	for _, err := range report.Skipped {
		out.Skipped = append(out.Skipped, err.Error())
	}
	for _, ts := range report.Trusts {
		t := trustJSON{Name: ts.Name, Configured: ts.Configured, Attention: ts.Attention}
		if ts.HasDeath {
			last, days := ts.LastDeath, ts.DaysSince
			t.LastDeath = &last
			t.DaysSince = &days
		}
		out.Trusts = append(out.Trusts, t)
	}
	return out
}
