// Package monitor runs the regional and trust level alert checks.
package monitor

import (
	"time"

	"covid-alerts/internal/models"
)

// Domain names a monitoring run.
type Domain string

const (
	DomainGeneral Domain = "general"
	DomainTrusts  Domain = "trusts"
)

// Failure records an entity that could not be fetched or parsed.
type Failure struct {
	Entity string
	Err    error
}

// NoteLevel is the importance of a report note.
type NoteLevel int

const (
	NoteInfo NoteLevel = iota
	NoteWarning
)

// Note is a free text finding that is not an alert, such as the latest death
// total of an area.
type Note struct {
	Entity  string
	Level   NoteLevel
	Message string
}

// TrustStatus describes the most recent death reported for a trust.
type TrustStatus struct {
	Name       string
	Configured string
	LastDeath  time.Time
	HasDeath   bool
	DaysSince  int
	Attention  bool
}

// Report is the outcome of one monitoring run.
type Report struct {
	Domain      Domain
	StartedAt   time.Time
	FinishedAt  time.Time
	Evaluations []models.Evaluation
	Failures    []Failure
	Notes       []Note
	Skipped     []error

	// Trust runs only.
	Trusts     []TrustStatus
	OutputFile string
	OutputErr  error
	SourceURL  string
	Attention  bool
}

// Summary counts the results of a run.
type Summary struct {
	Evaluated    int
	Alerts       int
	Insufficient int
	Failed       int
}

func newReport(domain Domain, now time.Time) *Report {
	return &Report{Domain: domain, StartedAt: now}
}

func (r *Report) addNote(entity string, level NoteLevel, message string) {
	r.Notes = append(r.Notes, Note{Entity: entity, Level: level, Message: message})
}

// Alerts returns every alert raised during the run in evaluation order.
func (r *Report) Alerts() []models.Alert {
	var alerts []models.Alert
	for _, ev := range r.Evaluations {
		alerts = append(alerts, ev.Alerts...)
	}
	return alerts
}

// Summary returns the run counters.
func (r *Report) Summary() Summary {
	s := Summary{Failed: len(r.Failures)}
	for _, ev := range r.Evaluations {
		s.Evaluated++
		s.Alerts += len(ev.Alerts)
		if ev.Insufficient() {
			s.Insufficient++
		}
	}
	return s
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
