package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"covid-alerts/internal/config"
	apperrors "covid-alerts/internal/errors"
	"covid-alerts/internal/logging"
	"covid-alerts/internal/models"
	"covid-alerts/pkg/utils"
)

// Sheet layout of the announced deaths workbook.
const (
	nameColumn      = 4 // E
	firstDateColumn = 6 // G
	totalHeader     = "total"

	// maxWorkbookSize caps the download.
	maxWorkbookSize = 64 << 20

	// minDateSerial rejects small numbers that are counts rather than dates.
	minDateSerial = 18264 // 1950-01-01
)

var dateLayouts = []string{"02-Jan-06", "2-Jan-06", "02-Jan-2006", "2006-01-02"}

// TrustRow is one trust line of the deaths sheet.
type TrustRow struct {
	Name    string
	Deaths  []models.DataPoint
	Summary []string
}

// TrustTable is the parsed deaths by trust sheet.
type TrustTable struct {
	Dates          []time.Time
	SummaryHeaders []string
	Rows           []TrustRow
}

// Match is a sheet row selected by a configured trust name.
type Match struct {
	Configured string
	Row        TrustRow
}

// Select returns the rows whose name starts with one of names, in sheet
// order. A row is returned once, for the first name that matches it.
func (t *TrustTable) Select(names []string) []Match {
	var out []Match
	for _, row := range t.Rows {
		for _, name := range names {
			if strings.HasPrefix(row.Name, name) {
				out = append(out, Match{Configured: name, Row: row})
				break
			}
		}
	}
	return out
}

// Series returns the daily deaths series of row.
func (r TrustRow) Series() models.MetricSeries {
	return models.NewSeries(r.Name, models.MetricDeaths, false, r.Deaths)
}

// ParseTrustSheet reads the deaths by trust sheet from an xlsx workbook.
func ParseTrustSheet(r io.Reader, sheet string) (*TrustTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrSheetNotFound, sheet)
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	headerIdx := -1
	for i, row := range rows {
		if cell(row, nameColumn) == "" {
			continue
		}
		if _, ok := parseSheetDate(cell(row, firstDateColumn)); ok {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("%w: no header row in sheet %q", apperrors.ErrDataNotFound, sheet)
	}

	header := rows[headerIdx]
	table := &TrustTable{}
	col := firstDateColumn
	for ; col < len(header); col++ {
		d, ok := parseSheetDate(header[col])
		if !ok {
			break
		}
		table.Dates = append(table.Dates, d)
	}

	summaryEnd := col
	for i := col; i < len(header); i++ {
		if strings.EqualFold(strings.TrimSpace(header[i]), totalHeader) {
			summaryEnd = i + 1
			break
		}
	}
	for i := col; i < summaryEnd; i++ {
		table.SummaryHeaders = append(table.SummaryHeaders, strings.TrimSpace(header[i]))
	}

	for _, row := range rows[headerIdx+1:] {
		name := cell(row, nameColumn)
		if name == "" {
			continue
		}
		tr := TrustRow{Name: name, Deaths: make([]models.DataPoint, len(table.Dates))}
		for i, d := range table.Dates {
			tr.Deaths[i] = parseCount(d, cell(row, firstDateColumn+i))
		}
		for i := col; i < summaryEnd; i++ {
			tr.Summary = append(tr.Summary, cell(row, i))
		}
		table.Rows = append(table.Rows, tr)
	}

	return table, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseCount(d time.Time, s string) models.DataPoint {
	if s == "" {
		return models.DataPoint{Date: d}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return models.DataPoint{Date: d, Missing: true}
	}
	return models.DataPoint{Date: d, Value: v}
}

// parseSheetDate accepts an Excel date serial or one of the text layouts.
func parseSheetDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < minDateSerial {
			return time.Time{}, false
		}
		// Header dates are whole days; drop any time of day and float noise.
		t, err := excelize.ExcelDateToTime(math.Floor(serial+1e-6), false)
		if err != nil {
			return time.Time{}, false
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Workbook locates and downloads the NHS England announced deaths workbook.
type Workbook struct {
	pageURL string
	pattern *regexp.Regexp
	sheet   string
	http    *http.Client
	retry   utils.RetryConfig
	logger  zerolog.Logger
}

// NewWorkbook creates a Workbook from the NHS settings.
func NewWorkbook(cfg config.NHSConfig, attempts int, logger zerolog.Logger) (*Workbook, error) {
	pattern := cfg.WorkbookPattern
	if pattern == "" {
		pattern = config.DefaultWorkbookPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apperrors.NewValidationError("nhs.workbook_pattern", pattern, err.Error())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	w := &Workbook{
		pageURL: cfg.PageURL,
		pattern: re,
		sheet:   cfg.Sheet,
		http:    &http.Client{Timeout: timeout},
		retry:   utils.FetchRetryConfig(attempts),
		logger:  logger,
	}
	w.retry.Retryable = retryable
	w.retry.OnRetry = func(attempt int, err error) {
		w.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Re-fetching after failure")
	}
	return w, nil
}

// SetRetryDelay changes the pause before a re-fetch.
func (w *Workbook) SetRetryDelay(d time.Duration) {
	w.retry.InitialDelay = d
	w.retry.MaxDelay = d
}

// Fetch finds, downloads and parses the workbook. It returns the link that
// was used alongside the table.
func (w *Workbook) Fetch(ctx context.Context) (*TrustTable, string, error) {
	link, err := w.FindLink(ctx)
	if err != nil {
		return nil, "", err
	}
	w.logger.Info().Str("url", link).Msg("Downloading workbook")

	body, err := w.Download(ctx, link)
	if err != nil {
		return nil, link, err
	}

	table, err := ParseTrustSheet(bytes.NewReader(body), w.sheet)
	if err != nil {
		return nil, link, apperrors.NewFetchError("nhs", "", err)
	}
	return table, link, nil
}

// FindLink returns the first workbook link on the statistics page.
func (w *Workbook) FindLink(ctx context.Context) (string, error) {
	page, err := utils.RetryWithResult(ctx, w.retry, func() ([]byte, error) {
		return w.get(ctx, w.pageURL)
	})
	if err != nil {
		return "", apperrors.NewFetchError("nhs", "", err)
	}

	link := w.pattern.Find(page)
	if link == nil {
		return "", apperrors.NewFetchError("nhs", "", apperrors.ErrWorkbookNotFound)
	}
	return string(link), nil
}

// Download fetches the workbook at link.
func (w *Workbook) Download(ctx context.Context, link string) ([]byte, error) {
	body, err := utils.RetryWithResult(ctx, w.retry, func() ([]byte, error) {
		return w.get(ctx, link)
	})
	if err != nil {
		return nil, apperrors.NewFetchError("nhs", "", err)
	}
	return body, nil
}

func (w *Workbook) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "covid-alerts/1.0")

	start := time.Now()
	resp, err := w.http.Do(req)
	logging.LogAPICall(w.logger, http.MethodGet, target, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWorkbookSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target, err)
	}
	return body, nil
}
