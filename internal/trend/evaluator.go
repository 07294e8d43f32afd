// Package trend compares rolling windows of a metric series against
// configured ceilings.
package trend

import (
	"math"
	"time"

	"covid-alerts/internal/models"
)

// criticalFactor is how many times a positive ceiling the observed value must
// reach before an alert is critical.
const criticalFactor = 2.0

// windows holds the trailing windows of a daily series.
type windows struct {
	asOf      time.Time
	available int
	recent    []float64
	prior     []float64 // nil when the preceding window is incomplete or has gaps
}

// split trims trailing missing points and returns the trailing window and the
// window before it. ok is false when fewer than window valid points trail the
// series.
func split(s models.MetricSeries, window int) (windows, bool) {
	trimmed := s.TrimTrailingMissing()
	pts := trimmed.Points

	var w windows
	for i := len(pts) - 1; i >= 0 && !pts[i].Missing; i-- {
		w.available++
	}
	if window <= 0 || w.available < window {
		return w, false
	}

	n := len(pts)
	w.asOf = pts[n-1].Date
	w.recent = values(pts[n-window:])

	if n >= 2*window {
		priorPts := pts[n-2*window : n-window]
		if !anyMissing(priorPts) {
			w.prior = values(priorPts)
		}
	}
	return w, true
}

func values(pts []models.DataPoint) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

func anyMissing(pts []models.DataPoint) bool {
	for _, p := range pts {
		if p.Missing {
			return true
		}
	}
	return false
}

func sum(vs []float64) float64 {
	var total float64
	for _, v := range vs {
		total += v
	}
	return total
}

// Evaluate decides whether the trailing window of series breaches th.
//
// The series is converted to daily values first when it is cumulative. The
// rolling value is the sum over the trailing th.Window days and the rate of
// change compares it with the sum over the window before. Fewer than
// th.Window valid trailing days gives StatusInsufficient and no alerts.
func Evaluate(series models.MetricSeries, th models.Thresholds) models.Evaluation {
	ev := models.Evaluation{
		Entity: series.Entity,
		Metric: series.Metric,
		Window: th.Window,
	}
	if latest, ok := series.Latest(); ok {
		ev.Latest = latest.Value
	}

	w, ok := split(series.Daily(), th.Window)
	ev.Available = w.available
	if !ok {
		ev.Status = models.StatusInsufficient
		return ev
	}

	ev.AsOf = w.asOf
	ev.Recent = sum(w.recent)
	if w.prior != nil {
		ev.Prior = sum(w.prior)
		ev.PriorDefined = true
	}
	return check(ev, th)
}

// EvaluateRatio evaluates the rolling ratio sum(numerator)/sum(denominator),
// expressed as a percentage. Both series are aligned on their last common
// date before windows are taken.
func EvaluateRatio(numerator, denominator models.MetricSeries, th models.Thresholds) models.Evaluation {
	ev := models.Evaluation{
		Entity: numerator.Entity,
		Metric: models.MetricPositivity,
		Window: th.Window,
	}

	num, den := align(numerator.Daily(), denominator.Daily())
	nw, nok := split(num, th.Window)
	dw, dok := split(den, th.Window)
	ev.Available = min(nw.available, dw.available)
	if !nok || !dok {
		ev.Status = models.StatusInsufficient
		return ev
	}

	recent, ok := ratio(nw.recent, dw.recent)
	if !ok {
		ev.Status = models.StatusInsufficient
		return ev
	}
	ev.AsOf = nw.asOf
	ev.Recent = recent
	ev.Latest = recent
	if nw.prior != nil && dw.prior != nil {
		if prior, ok := ratio(nw.prior, dw.prior); ok {
			ev.Prior = prior
			ev.PriorDefined = true
		}
	}
	return check(ev, th)
}

func ratio(num, den []float64) (float64, bool) {
	d := sum(den)
	if d == 0 {
		return 0, false
	}
	return sum(num) * 100 / d, true
}

// align restricts two daily series to the dates they share, keeping order.
func align(a, b models.MetricSeries) (models.MetricSeries, models.MetricSeries) {
	inB := make(map[time.Time]models.DataPoint, len(b.Points))
	for _, p := range b.Points {
		inB[p.Date] = p
	}
	var pa, pb []models.DataPoint
	for _, p := range a.Points {
		if q, ok := inB[p.Date]; ok {
			pa = append(pa, p)
			pb = append(pb, q)
		}
	}
	return models.NewSeries(a.Entity, a.Metric, false, pa), models.NewSeries(b.Entity, b.Metric, false, pb)
}

// check applies the three ceilings to a populated evaluation.
func check(ev models.Evaluation, th models.Thresholds) models.Evaluation {
	if ev.PriorDefined {
		ev.Change = ev.Recent - ev.Prior
		if ev.Prior != 0 {
			ev.ChangePercent = ev.Change / ev.Prior * 100
			ev.RateDefined = true
		}
	}

	var alerts []models.Alert
	raise := func(c models.Check, observed, ceiling float64) {
		alerts = append(alerts, models.Alert{
			Entity:    ev.Entity,
			Metric:    ev.Metric,
			Check:     c,
			Observed:  observed,
			Threshold: ceiling,
			Severity:  severity(observed, ceiling),
			AsOf:      ev.AsOf,
		})
	}

	if breached(ev.Recent, th.AbsoluteCeiling) {
		raise(models.CheckAbsolute, ev.Recent, th.AbsoluteCeiling)
	}
	if ev.RateDefined && breached(ev.ChangePercent, th.RateCeiling) {
		raise(models.CheckRateOfChange, ev.ChangePercent, th.RateCeiling)
	}
	if ev.PriorDefined && breached(ev.Change, th.IncreaseCeiling) {
		raise(models.CheckIncrease, ev.Change, th.IncreaseCeiling)
	}

	// Compound breaches share the highest severity.
	if len(alerts) > 1 {
		top := models.SeverityInfo
		for _, a := range alerts {
			if a.Severity > top {
				top = a.Severity
			}
		}
		for i := range alerts {
			alerts[i].Severity = top
		}
	}

	ev.Alerts = alerts
	if len(alerts) > 0 {
		ev.Status = models.StatusAlert
	} else {
		ev.Status = models.StatusOK
	}
	return ev
}

func breached(observed, ceiling float64) bool {
	if math.IsInf(ceiling, 1) || math.IsNaN(observed) {
		return false
	}
	return observed > ceiling
}

func severity(observed, ceiling float64) models.Severity {
	if ceiling > 0 && observed > ceiling*criticalFactor {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}
