package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "covid-alerts/internal/errors"
	"covid-alerts/internal/models"
)

// generalParameterCount is the number of values on the parameter line.
const generalParameterCount = 11

// Limits is a pair of ceilings taken from the parameter line.
type Limits struct {
	Increase float64
	Absolute float64
}

// GeneralConfig is the regional monitoring configuration: LTLA areas to
// watch and the shared rolling window and limits.
type GeneralConfig struct {
	Areas        []string
	Window       int
	UKCases      Limits
	UKDeaths     Limits
	UKPositivity Limits
	AreaCases    Limits
	AreaDeaths   Limits

	// Skipped holds the malformed entries that were ignored.
	Skipped []error
}

// LoadGeneral reads the general alerts file. The first line lists LTLA area
// names, the second line holds the parameters:
//
//	<window>,<UK cases increase>,<UK cases>,<UK deaths increase>,<UK deaths>,
//	<UK positive rate increase>,<UK positive rate>,<LTLA cases increase>,
//	<LTLA cases>,<LTLA deaths increase>,<LTLA deaths>
func LoadGeneral(path string) (*GeneralConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, createTemplateFile(path, generalTemplate)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return ParseGeneral(f, filepath.Base(path))
}

// ParseGeneral parses general alerts configuration from r.
func ParseGeneral(r io.Reader, name string) (*GeneralConfig, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "%s: %v", name, err)
	}
	if len(records) < 2 {
		return nil, apperrors.NewRowError(name, len(records)+1, "expected an area line and a parameter line")
	}

	cfg := &GeneralConfig{}
	seen := make(map[string]bool)
	for i, field := range records[0] {
		area := strings.TrimSpace(field)
		switch {
		case area == "":
			cfg.Skipped = append(cfg.Skipped, apperrors.NewRowError(name, 1, fmt.Sprintf("area %d has an empty name", i+1)))
		case seen[area]:
			cfg.Skipped = append(cfg.Skipped, apperrors.NewRowError(name, 1, fmt.Sprintf("area %q listed twice", area)))
		default:
			seen[area] = true
			cfg.Areas = append(cfg.Areas, area)
		}
	}
	if len(cfg.Areas) == 0 {
		return nil, apperrors.NewRowError(name, 1, "no area names")
	}

	params := records[1]
	if len(params) != generalParameterCount {
		return nil, apperrors.NewRowError(name, 2,
			fmt.Sprintf("expected %d parameters, found %d", generalParameterCount, len(params)))
	}

	values := make([]float64, len(params))
	for i, p := range params {
		p = strings.ReplaceAll(p, " ", "")
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return nil, apperrors.NewRowError(name, 2, fmt.Sprintf("parameter %d (%q) is not a non-negative number", i+1, p))
		}
		values[i] = v
	}

	window := values[0]
	if window < 1 || window != float64(int(window)) {
		return nil, apperrors.NewRowError(name, 2, fmt.Sprintf("rolling period %v must be a positive whole number of days", window))
	}
	cfg.Window = int(window)
	cfg.UKCases = Limits{Increase: values[1], Absolute: values[2]}
	cfg.UKDeaths = Limits{Increase: values[3], Absolute: values[4]}
	cfg.UKPositivity = Limits{Increase: values[5], Absolute: values[6]}
	cfg.AreaCases = Limits{Increase: values[7], Absolute: values[8]}
	cfg.AreaDeaths = Limits{Increase: values[9], Absolute: values[10]}

	return cfg, nil
}

// ApplyDefaults registers the scope defaults described by the parameter line.
func (g *GeneralConfig) ApplyDefaults(b *models.ThresholdSetBuilder) {
	th := func(l Limits) models.Thresholds {
		return models.Thresholds{
			Window:          g.Window,
			AbsoluteCeiling: l.Absolute,
			RateCeiling:     models.Disabled,
			IncreaseCeiling: l.Increase,
		}
	}
	b.Default(models.ScopeOverview, models.MetricCases, th(g.UKCases))
	b.Default(models.ScopeOverview, models.MetricDeaths, th(g.UKDeaths))
	b.Default(models.ScopeOverview, models.MetricPositivity, th(g.UKPositivity))
	b.Default(models.ScopeLTLA, models.MetricCases, th(g.AreaCases))
	b.Default(models.ScopeLTLA, models.MetricDeaths, th(g.AreaDeaths))
}

// LoadTrusts reads the monitored trust names. Each line holds one or more
// comma separated names.
func LoadTrusts(path string) ([]string, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, createTemplateFile(path, trustsTemplate)
		}
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return ParseTrusts(f, filepath.Base(path))
}

// ParseTrusts parses trust names from r.
func ParseTrusts(r io.Reader, name string) ([]string, []error, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		trusts  []string
		skipped []error
		line    int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			skipped = append(skipped, apperrors.NewRowError(name, line, err.Error()))
			continue
		}
		line, _ = reader.FieldPos(0)
		for _, field := range record {
			trust := strings.TrimSpace(field)
			if trust == "" {
				skipped = append(skipped, apperrors.NewRowError(name, line, "empty trust name"))
				continue
			}
			trusts = append(trusts, trust)
		}
	}

	if len(trusts) == 0 {
		return nil, skipped, apperrors.Wrapf(apperrors.ErrConfigInvalid, "%s: no trust names", name)
	}
	return trusts, skipped, nil
}
