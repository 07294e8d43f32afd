package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	apperrors "covid-alerts/internal/errors"
	"covid-alerts/internal/models"
)

// scopePrefix marks a row that changes the default of a whole scope, for
// example "@ltla".
const scopePrefix = "@"

// thresholdRow is one line of the threshold override file. Values are kept as
// text so a bad row can be skipped on its own.
type thresholdRow struct {
	Entity   string `csv:"entity"`
	Metric   string `csv:"metric"`
	Absolute string `csv:"absolute"`
	Rate     string `csv:"rate"`
	Increase string `csv:"increase"`
	Window   string `csv:"window"`
}

// ScopeResolver reports which scope an entity belongs to.
type ScopeResolver func(entity string) models.Scope

// LoadThresholds applies the optional override file at path to b. A missing
// file is not an error. Malformed rows are skipped and returned.
func LoadThresholds(path string, b *models.ThresholdSetBuilder, scopeOf ScopeResolver) ([]error, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return ParseThresholds(f, filepath.Base(path), b, scopeOf)
}

// ParseThresholds reads override rows from r. Rows naming a scope ("@overview",
// "@ltla", "@trust") are applied before entity rows so entity rows inherit the
// updated scope defaults. An empty cell keeps the inherited value and "-"
// disables the check.
func ParseThresholds(r io.Reader, name string, b *models.ThresholdSetBuilder, scopeOf ScopeResolver) ([]error, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var rows []*thresholdRow
	if err := gocsv.Unmarshal(bytes.NewReader(data), &rows); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "%s: %v", name, err)
	}

	var skipped []error
	apply := func(scopeRows bool) {
		for i, row := range rows {
			line := i + 2 // header is line 1
			entity := strings.TrimSpace(row.Entity)
			if strings.HasPrefix(entity, scopePrefix) != scopeRows {
				continue
			}

			metric, ok := models.ParseMetricKind(strings.TrimSpace(row.Metric))
			if !ok {
				skipped = append(skipped, apperrors.NewRowError(name, line, fmt.Sprintf("unknown metric %q", row.Metric)))
				continue
			}

			if scopeRows {
				scope := models.Scope(strings.TrimPrefix(entity, scopePrefix))
				if scope != models.ScopeOverview && scope != models.ScopeLTLA && scope != models.ScopeTrust {
					skipped = append(skipped, apperrors.NewRowError(name, line, fmt.Sprintf("unknown scope %q", entity)))
					continue
				}
				th, err := row.merge(b.Lookup(scope, "", metric))
				if err != nil {
					skipped = append(skipped, apperrors.NewRowError(name, line, err.Error()))
					continue
				}
				b.Default(scope, metric, th)
				continue
			}

			if entity == "" {
				skipped = append(skipped, apperrors.NewRowError(name, line, "empty entity name"))
				continue
			}
			th, err := row.merge(b.Lookup(scopeOf(entity), entity, metric))
			if err != nil {
				skipped = append(skipped, apperrors.NewRowError(name, line, err.Error()))
				continue
			}
			b.Override(entity, metric, th)
		}
	}
	apply(true)
	apply(false)

	return skipped, nil
}

// merge overlays the non-empty cells of the row on base.
func (r *thresholdRow) merge(base models.Thresholds) (models.Thresholds, error) {
	th := base
	var err error
	if th.AbsoluteCeiling, err = overlayCeiling(r.Absolute, base.AbsoluteCeiling); err != nil {
		return base, fmt.Errorf("absolute: %w", err)
	}
	if th.RateCeiling, err = overlayCeiling(r.Rate, base.RateCeiling); err != nil {
		return base, fmt.Errorf("rate: %w", err)
	}
	if th.IncreaseCeiling, err = overlayCeiling(r.Increase, base.IncreaseCeiling); err != nil {
		return base, fmt.Errorf("increase: %w", err)
	}
	if w := strings.TrimSpace(r.Window); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil || n <= 0 {
			return base, fmt.Errorf("window %q must be a positive whole number", w)
		}
		th.Window = n
	}
	return th, nil
}

func overlayCeiling(cell string, inherited float64) (float64, error) {
	if strings.TrimSpace(cell) == "" {
		return inherited, nil
	}
	return ParseCeiling(cell)
}
