package trend

import (
	"time"

	"covid-alerts/internal/models"
)

// LastNonZero returns the date of the last daily value above zero.
func LastNonZero(series models.MetricSeries) (time.Time, bool) {
	daily := series.Daily()
	for i := len(daily.Points) - 1; i >= 0; i-- {
		p := daily.Points[i]
		if !p.Missing && p.Value > 0 {
			return p.Date, true
		}
	}
	return time.Time{}, false
}

// DaysBetween returns the number of whole calendar days from then to now.
func DaysBetween(then, now time.Time) int {
	y1, m1, d1 := then.Date()
	y2, m2, d2 := now.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
