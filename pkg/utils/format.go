// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatCount formats a whole number with thousands separators.
func FormatCount(v float64) string {
	negative := v < 0
	if negative {
		v = -v
	}

	s := groupThousands(fmt.Sprintf("%.0f", math.Round(v)))
	if negative && s != "0" {
		s = "-" + s
	}
	return s
}

// FormatNumber formats a number with thousands separators and the given
// number of decimals.
func FormatNumber(v float64, decimals int) string {
	if decimals <= 0 {
		return FormatCount(v)
	}

	negative := v < 0
	if negative {
		v = -v
	}

	str := fmt.Sprintf("%.*f", decimals, v)
	parts := strings.SplitN(str, ".", 2)
	result := groupThousands(parts[0]) + "." + parts[1]
	if negative && strings.Trim(str, "0.") != "" {
		result = "-" + result
	}
	return result
}

// groupThousands inserts commas into a string of digits.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatChange formats a difference between two window totals with sign.
func FormatChange(value float64, decimals int) string {
	if value > 0 {
		return "+" + FormatNumber(value, decimals)
	}
	return FormatNumber(value, decimals)
}

// FormatCeiling formats a threshold, showing disabled ceilings as "off".
func FormatCeiling(value float64, decimals int) string {
	if math.IsInf(value, 1) {
		return "off"
	}
	return FormatNumber(value, decimals)
}

// Pluralize returns word with an "s" appended unless n is one.
func Pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
