// Package models contains the core data models for the alerting application.
package models

import (
	"time"
)

// MetricKind identifies which statistic a series carries.
type MetricKind string

const (
	MetricCases      MetricKind = "cases"
	MetricDeaths     MetricKind = "deaths"
	MetricPositivity MetricKind = "positivity" // percentage of positive tests
	MetricTests      MetricKind = "tests"
)

// ParseMetricKind converts a configuration value to a MetricKind.
func ParseMetricKind(s string) (MetricKind, bool) {
	switch MetricKind(s) {
	case MetricCases, MetricDeaths, MetricPositivity, MetricTests:
		return MetricKind(s), true
	default:
		return "", false
	}
}

// Scope groups entities that share default thresholds.
type Scope string

const (
	ScopeOverview Scope = "overview"
	ScopeLTLA     Scope = "ltla"
	ScopeTrust    Scope = "trust"
)

// OverviewEntity is the entity name used for UK wide data.
const OverviewEntity = "UK"

// DataPoint is a single dated observation.
type DataPoint struct {
	Date    time.Time
	Value   float64
	Missing bool // published row without a value
}

// MetricSeries is an ascending-by-date sequence of observations for one entity.
// A series is never modified after construction; transformations return copies.
type MetricSeries struct {
	Entity     string
	Metric     MetricKind
	Cumulative bool
	Points     []DataPoint
}

// NewSeries creates a series from points, copying the slice.
func NewSeries(entity string, metric MetricKind, cumulative bool, points []DataPoint) MetricSeries {
	cp := make([]DataPoint, len(points))
	copy(cp, points)
	return MetricSeries{
		Entity:     entity,
		Metric:     metric,
		Cumulative: cumulative,
		Points:     cp,
	}
}

// Daily returns the series as daily values. A cumulative series is
// differenced; the first point is dropped and a daily point is missing
// when either of its cumulative neighbours is.
func (s MetricSeries) Daily() MetricSeries {
	if !s.Cumulative {
		return NewSeries(s.Entity, s.Metric, false, s.Points)
	}
	if len(s.Points) < 2 {
		return MetricSeries{Entity: s.Entity, Metric: s.Metric}
	}

	daily := make([]DataPoint, 0, len(s.Points)-1)
	for i := 1; i < len(s.Points); i++ {
		prev, cur := s.Points[i-1], s.Points[i]
		p := DataPoint{Date: cur.Date}
		if prev.Missing || cur.Missing {
			p.Missing = true
		} else {
			p.Value = cur.Value - prev.Value
		}
		daily = append(daily, p)
	}
	return MetricSeries{Entity: s.Entity, Metric: s.Metric, Points: daily}
}

// TrimTrailingMissing drops missing points from the end of the series.
func (s MetricSeries) TrimTrailingMissing() MetricSeries {
	end := len(s.Points)
	for end > 0 && s.Points[end-1].Missing {
		end--
	}
	return NewSeries(s.Entity, s.Metric, s.Cumulative, s.Points[:end])
}

// Latest returns the last non-missing point.
func (s MetricSeries) Latest() (DataPoint, bool) {
	for i := len(s.Points) - 1; i >= 0; i-- {
		if !s.Points[i].Missing {
			return s.Points[i], true
		}
	}
	return DataPoint{}, false
}

// Scale returns a copy of the series with every value multiplied by factor.
func (s MetricSeries) Scale(factor float64) MetricSeries {
	out := NewSeries(s.Entity, s.Metric, s.Cumulative, s.Points)
	for i := range out.Points {
		out.Points[i].Value *= factor
	}
	return out
}

// DailyValues builds a daily series from consecutive values starting at start.
func DailyValues(entity string, metric MetricKind, start time.Time, values []float64) MetricSeries {
	points := make([]DataPoint, len(values))
	for i, v := range values {
		points[i] = DataPoint{Date: start.AddDate(0, 0, i), Value: v}
	}
	return MetricSeries{Entity: entity, Metric: metric, Points: points}
}
