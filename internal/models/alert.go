package models

import (
	"math"
	"time"
)

// Severity ranks how far a metric has moved past its ceiling.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Check names the comparison that produced an alert.
type Check string

const (
	CheckAbsolute     Check = "absolute"       // rolling value above ceiling
	CheckRateOfChange Check = "rate_of_change" // percentage change above ceiling
	CheckIncrease     Check = "increase"       // absolute rolling increase above ceiling
)

// Alert is raised when a rolling metric breaches a ceiling.
type Alert struct {
	Entity    string     `json:"entity"`
	Metric    MetricKind `json:"metric"`
	Check     Check      `json:"check"`
	Observed  float64    `json:"observed"`
	Threshold float64    `json:"threshold"`
	Severity  Severity   `json:"severity"`
	AsOf      time.Time  `json:"as_of"`
}

// Disabled is the ceiling value that turns a check off.
var Disabled = math.Inf(1)

// DefaultWindow is the rolling window length in days.
const DefaultWindow = 7

// Thresholds holds the ceilings for one entity and metric.
type Thresholds struct {
	Window          int
	AbsoluteCeiling float64
	RateCeiling     float64 // percent
	IncreaseCeiling float64
}

// DefaultThresholds returns a seven day window with every check disabled.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:          DefaultWindow,
		AbsoluteCeiling: Disabled,
		RateCeiling:     Disabled,
		IncreaseCeiling: Disabled,
	}
}

// Valid reports whether the window is positive and every ceiling is a
// non-negative number.
func (t Thresholds) Valid() bool {
	if t.Window <= 0 {
		return false
	}
	for _, c := range []float64{t.AbsoluteCeiling, t.RateCeiling, t.IncreaseCeiling} {
		if math.IsNaN(c) || c < 0 {
			return false
		}
	}
	return true
}

// EvaluationStatus is the outcome of evaluating one series.
type EvaluationStatus string

const (
	StatusOK           EvaluationStatus = "ok"
	StatusAlert        EvaluationStatus = "alert"
	StatusInsufficient EvaluationStatus = "insufficient_data"
)

// Evaluation is the result of comparing one series against its thresholds.
type Evaluation struct {
	Entity        string           `json:"entity"`
	Metric        MetricKind       `json:"metric"`
	Status        EvaluationStatus `json:"status"`
	AsOf          time.Time        `json:"as_of"`
	Window        int              `json:"window"`
	Available     int              `json:"available"` // valid trailing points
	Recent        float64          `json:"recent"`
	Prior         float64          `json:"prior"`
	PriorDefined  bool             `json:"prior_defined"`
	Change        float64          `json:"change"`
	ChangePercent float64          `json:"change_percent"`
	RateDefined   bool             `json:"rate_defined"`
	Latest        float64          `json:"latest"` // last raw value, cumulative total for cumulative series
	Alerts        []Alert          `json:"alerts,omitempty"`
}

// Insufficient reports whether there was too little data to evaluate.
func (e Evaluation) Insufficient() bool {
	return e.Status == StatusInsufficient
}

// DailyAverage returns the recent rolling value divided by the window.
func (e Evaluation) DailyAverage() float64 {
	if e.Window <= 0 {
		return 0
	}
	return e.Recent / float64(e.Window)
}

// Severity returns the highest severity among the alerts.
func (e Evaluation) Severity() Severity {
	max := SeverityInfo
	for _, a := range e.Alerts {
		if a.Severity > max {
			max = a.Severity
		}
	}
	return max
}
