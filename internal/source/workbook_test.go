package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"covid-alerts/internal/config"
	apperrors "covid-alerts/internal/errors"
)

const testSheet = "Tab4 Deaths by trust"

// buildWorkbook returns an xlsx laid out like the announced deaths export:
// a preamble, a header row with dates from column G, a blank row and the
// trust rows.
func buildWorkbook(t *testing.T, dates []interface{}) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	if _, err := f.NewSheet(testSheet); err != nil {
		t.Fatal(err)
	}

	set := func(cell string, values ...interface{}) {
		if err := f.SetSheetRow(testSheet, cell, &values); err != nil {
			t.Fatal(err)
		}
	}

	set("A1", "COVID 19 total announced deaths")
	set("A3", "Published: 14-Jan-21")

	header := []interface{}{"NHS England Region", "", "", "", "Name", "Code"}
	header = append(header, dates...)
	header = append(header, "Awaiting verification", "Total", "", "Notes")
	set("A16", header...)

	set("A18", "England", "", "", "", "England", "-", 10, 20, 30, 1, 61, "", "ignored")
	set("A19", "South East", "", "", "", "WESTERN SUSSEX HOSPITALS NHS FOUNDATION TRUST", "RYR", 1, 0, 0, 0, 1)
	set("A20", "South East", "", "", "", "BRIGHTON AND SUSSEX UNIVERSITY HOSPITALS NHS TRUST", "RXH", 0, 2, "", 0, 2)
	set("A21", "South East", "", "", "", "OXFORD UNIVERSITY HOSPITALS NHS FOUNDATION TRUST", "RTH", 0, 0, 3, 0, 3)

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func textDates() []interface{} {
	return []interface{}{"12-Jan-21", "13-Jan-21", "14-Jan-21"}
}

func TestParseTrustSheet(t *testing.T) {
	table, err := ParseTrustSheet(bytes.NewReader(buildWorkbook(t, textDates())), testSheet)
	if err != nil {
		t.Fatalf("ParseTrustSheet failed: %v", err)
	}

	if len(table.Dates) != 3 {
		t.Fatalf("expected 3 dates, got %v", table.Dates)
	}
	if want := time.Date(2021, 1, 12, 0, 0, 0, 0, time.UTC); !table.Dates[0].Equal(want) {
		t.Errorf("first date %v, want %v", table.Dates[0], want)
	}
	if len(table.SummaryHeaders) != 2 || table.SummaryHeaders[1] != "Total" {
		t.Errorf("summary columns should stop at Total: %v", table.SummaryHeaders)
	}
	if len(table.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(table.Rows))
	}

	brighton := table.Rows[2]
	if brighton.Deaths[1].Value != 2 || brighton.Deaths[2].Value != 0 || brighton.Deaths[2].Missing {
		t.Errorf("unexpected Brighton deaths %+v", brighton.Deaths)
	}
	if len(brighton.Summary) != 2 || brighton.Summary[1] != "2" {
		t.Errorf("unexpected Brighton summary %v", brighton.Summary)
	}
}

func TestParseTrustSheetSerialDates(t *testing.T) {
	dates := []interface{}{
		time.Date(2021, 1, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 13, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 14, 0, 0, 0, 0, time.UTC),
	}
	table, err := ParseTrustSheet(bytes.NewReader(buildWorkbook(t, dates)), testSheet)
	if err != nil {
		t.Fatalf("ParseTrustSheet failed: %v", err)
	}
	if len(table.Dates) != 3 || table.Dates[2].Day() != 14 || table.Dates[2].Month() != time.January {
		t.Errorf("unexpected dates %v", table.Dates)
	}
}

func TestParseTrustSheetMissingSheet(t *testing.T) {
	_, err := ParseTrustSheet(bytes.NewReader(buildWorkbook(t, textDates())), "Tab9 Nothing")
	if !errors.Is(err, apperrors.ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestParseTrustSheetNotAWorkbook(t *testing.T) {
	if _, err := ParseTrustSheet(bytes.NewReader([]byte("<html></html>")), testSheet); err == nil {
		t.Error("expected an error for a non xlsx body")
	}
}

func TestSelectByPrefix(t *testing.T) {
	table, err := ParseTrustSheet(bytes.NewReader(buildWorkbook(t, textDates())), testSheet)
	if err != nil {
		t.Fatal(err)
	}

	matches := table.Select([]string{"WESTERN SUSSEX", "OXFORD", "WESTERN", "NOT A TRUST"})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Configured != "WESTERN SUSSEX" || matches[1].Configured != "OXFORD" {
		t.Errorf("unexpected matches %+v", matches)
	}

	s := matches[1].Row.Series()
	if s.Entity != "OXFORD UNIVERSITY HOSPITALS NHS FOUNDATION TRUST" || s.Cumulative || len(s.Points) != 3 {
		t.Errorf("unexpected series %+v", s)
	}
}

func TestParseSheetDate(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"01-Mar-20", true},
		{"1-Mar-20", true},
		{"2020-03-01", true},
		{"43891", true},
		{"3", false},
		{"Total", false},
		{"", false},
	}
	for _, tt := range tests {
		if _, ok := parseSheetDate(tt.in); ok != tt.ok {
			t.Errorf("parseSheetDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
	}
}

func TestWorkbookFetch(t *testing.T) {
	body := buildWorkbook(t, textDates())

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/statistics":
			fmt.Fprintf(w, "<html><body>\n<p>Older: %s/uploads/deaths-20210113.pdf</p>\n<a href=\"%s/uploads/deaths-20210114.xlsx\">Download</a>\n</body></html>", srv.URL, srv.URL)
		case "/uploads/deaths-20210114.xlsx":
			w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	wb, err := NewWorkbook(config.NHSConfig{
		PageURL:         srv.URL + "/statistics",
		WorkbookPattern: regexp.QuoteMeta(srv.URL) + `/uploads/deaths-\d{8}\.xlsx`,
		Sheet:           testSheet,
	}, 1, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	table, link, err := wb.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if link != srv.URL+"/uploads/deaths-20210114.xlsx" {
		t.Errorf("unexpected link %q", link)
	}
	if len(table.Rows) != 4 {
		t.Errorf("expected 4 rows, got %d", len(table.Rows))
	}
}

func TestWorkbookLinkNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>nothing to see</html>"))
	}))
	defer srv.Close()

	wb, err := NewWorkbook(config.NHSConfig{PageURL: srv.URL, Sheet: testSheet}, 1, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = wb.Fetch(context.Background())
	if !errors.Is(err, apperrors.ErrWorkbookNotFound) {
		t.Errorf("expected ErrWorkbookNotFound, got %v", err)
	}
}

func TestNewWorkbookRejectsBadPattern(t *testing.T) {
	_, err := NewWorkbook(config.NHSConfig{WorkbookPattern: "(unclosed"}, 1, zerolog.Nop())
	if !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}
