package cli

import (
	"fmt"
	"strings"
	"time"

	"covid-alerts/internal/models"
	"covid-alerts/pkg/utils"
)

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatThresholds formats one row of the thresholds table.
func FormatThresholds(entity string, metric models.MetricKind, th models.Thresholds) string {
	decimals := 0
	if metric == models.MetricPositivity {
		decimals = 2
	}
	return fmt.Sprintf("%s %s %s %s %s %s",
		PadRight(TruncateString(entity, 32), 32),
		PadRight(string(metric), 10),
		PadLeft(fmt.Sprintf("%d", th.Window), 6),
		PadLeft(utils.FormatCeiling(th.AbsoluteCeiling, decimals), 10),
		PadLeft(utils.FormatCeiling(th.RateCeiling, 2), 10),
		PadLeft(utils.FormatCeiling(th.IncreaseCeiling, decimals), 10),
	)
}

// ThresholdsHeader is the heading line matching FormatThresholds.
func ThresholdsHeader() string {
	return fmt.Sprintf("%s %s %s %s %s %s",
		PadRight("Entity", 32),
		PadRight("Metric", 10),
		PadLeft("Window", 6),
		PadLeft("Absolute", 10),
		PadLeft("Rate %", 10),
		PadLeft("Increase", 10),
	)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

// PadLeft pads a string to the left.
func PadLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(" ", length-len(s)) + s
}
