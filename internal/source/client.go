// Package source fetches COVID-19 statistics from the coronavirus dashboard
// API and the NHS England announced deaths workbook.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"covid-alerts/internal/config"
	apperrors "covid-alerts/internal/errors"
	"covid-alerts/internal/logging"
	"covid-alerts/internal/models"
	"covid-alerts/pkg/utils"
)

// Dashboard API metric names.
const (
	FieldCasesByPublishDate  = "cumCasesByPublishDate"
	FieldCasesBySpecimenDate = "cumCasesBySpecimenDate"
	FieldPillarOneTests      = "cumPillarOneTestsByPublishDate"
	FieldPillarTwoTests      = "cumPillarTwoTestsByPublishDate"
	FieldDeaths28Days        = "cumDeaths28DaysByPublishDate"
)

const (
	dataPath   = "/v1/data"
	dateLayout = "2006-01-02"
	// maxPages bounds pagination in case the API keeps returning a next link.
	maxPages = 100
)

// Area selects the rows returned by the API.
type Area struct {
	Type string
	Name string
}

// Overview is the UK wide area.
func Overview() Area {
	return Area{Type: "overview"}
}

// LTLA is a lower tier local authority area.
func LTLA(name string) Area {
	return Area{Type: "ltla", Name: name}
}

// Entity returns the name used for the area in reports.
func (a Area) Entity() string {
	if a.Type == "overview" {
		return models.OverviewEntity
	}
	return a.Name
}

func (a Area) filters() string {
	f := "areaType=" + a.Type
	if a.Name != "" {
		f += ";areaName=" + a.Name
	}
	return f
}

// Row is one dated record. A nil value is a null in the response.
type Row struct {
	Date   time.Time
	Values map[string]*float64
}

// Dataset holds the rows for one area in ascending date order.
type Dataset struct {
	Area Area
	Rows []Row
}

// Series builds a series from the sum of fields. A day is missing when any of
// the fields is null.
func (d *Dataset) Series(metric models.MetricKind, cumulative bool, fields ...string) models.MetricSeries {
	points := make([]models.DataPoint, 0, len(d.Rows))
	for _, row := range d.Rows {
		p := models.DataPoint{Date: row.Date}
		for _, f := range fields {
			v := row.Values[f]
			if v == nil {
				p.Missing = true
				p.Value = 0
				break
			}
			p.Value += *v
		}
		points = append(points, p)
	}
	return models.NewSeries(d.Area.Entity(), metric, cumulative, points)
}

// Latest returns the newest non-null value of field.
func (d *Dataset) Latest(field string) (float64, time.Time, bool) {
	for i := len(d.Rows) - 1; i >= 0; i-- {
		if v := d.Rows[i].Values[field]; v != nil {
			return *v, d.Rows[i].Date, true
		}
	}
	return 0, time.Time{}, false
}

// Client is a coronavirus dashboard API client.
type Client struct {
	baseURL string
	http    *http.Client
	retry   utils.RetryConfig
	logger  zerolog.Logger
}

// NewClient creates a Client from the API settings. attempts is the number of
// tries per request and is clamped to one re-fetch.
func NewClient(cfg config.APIConfig, attempts int, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retry:   utils.FetchRetryConfig(attempts),
		logger:  logger,
	}
	c.retry.Retryable = retryable
	c.retry.OnRetry = func(attempt int, err error) {
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Re-fetching after failure")
	}
	return c
}

// SetRetryDelay changes the pause before a re-fetch.
func (c *Client) SetRetryDelay(d time.Duration) {
	c.retry.InitialDelay = d
	c.retry.MaxDelay = d
}

type response struct {
	Data       []map[string]json.RawMessage `json:"data"`
	Pagination struct {
		Next *string `json:"next"`
	} `json:"pagination"`
}

// Fetch retrieves every page of fields for area.
func (c *Client) Fetch(ctx context.Context, area Area, fields ...string) (*Dataset, error) {
	structure := map[string]string{"date": "date"}
	for _, f := range fields {
		structure[f] = f
	}
	structureJSON, err := json.Marshal(structure)
	if err != nil {
		return nil, fmt.Errorf("encoding structure: %w", err)
	}

	ds := &Dataset{Area: area}
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("filters", area.filters())
		q.Set("structure", string(structureJSON))
		q.Set("format", "json")
		if page > 1 {
			q.Set("page", fmt.Sprint(page))
		}

		resp, err := utils.RetryWithResult(ctx, c.retry, func() (*response, error) {
			return c.get(ctx, q)
		})
		if err != nil {
			return nil, apperrors.NewFetchError("dashboard", area.Entity(), err)
		}
		if resp == nil {
			break
		}

		rows, err := decodeRows(resp.Data, fields)
		if err != nil {
			return nil, apperrors.NewFetchError("dashboard", area.Entity(), err)
		}
		ds.Rows = append(ds.Rows, rows...)

		if resp.Pagination.Next == nil || *resp.Pagination.Next == "" {
			break
		}
	}

	if len(ds.Rows) == 0 {
		return nil, apperrors.NewFetchError("dashboard", area.Entity(), apperrors.ErrDataNotFound)
	}

	sort.SliceStable(ds.Rows, func(i, j int) bool {
		return ds.Rows[i].Date.Before(ds.Rows[j].Date)
	})
	return ds, nil
}

// get performs one request. A nil response with no error means the API had
// no data for the query.
func (c *Client) get(ctx context.Context, q url.Values) (*response, error) {
	endpoint := c.baseURL + dataPath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "covid-alerts/1.0")

	start := time.Now()
	resp, err := c.http.Do(req)
	logging.LogAPICall(c.logger, http.MethodGet, dataPath+"?filters="+q.Get("filters"), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", dataPath, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func decodeRows(data []map[string]json.RawMessage, fields []string) ([]Row, error) {
	rows := make([]Row, 0, len(data))
	for i, item := range data {
		var date string
		if err := json.Unmarshal(item["date"], &date); err != nil {
			return nil, fmt.Errorf("row %d: bad date: %w", i, err)
		}
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date %q: %w", i, date, err)
		}

		row := Row{Date: d, Values: make(map[string]*float64, len(fields))}
		for _, f := range fields {
			raw, ok := item[f]
			if !ok {
				continue
			}
			var v *float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("row %d: bad %s value: %w", i, f, err)
			}
			row.Values[f] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// statusError reports an unexpected HTTP status.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: %d", apperrors.ErrUnexpectedStatus, e.code)
}

func (e *statusError) Unwrap() error {
	return apperrors.ErrUnexpectedStatus
}

// retryable reports whether a failed request is worth repeating: transport
// errors, throttling and server errors.
func retryable(err error) bool {
	var se *statusError
	if apperrors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}
