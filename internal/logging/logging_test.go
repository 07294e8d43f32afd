package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"covid-alerts/internal/models"
)

func TestLogAlertFields(t *testing.T) {
	var buf bytes.Buffer
	logger := WithRun(NewWriterLogger("info", &buf), "run-1", "general")

	LogAlert(logger, models.Alert{
		Entity:    "Worthing",
		Metric:    models.MetricCases,
		Check:     models.CheckAbsolute,
		Observed:  12,
		Threshold: 3,
		Severity:  models.SeverityCritical,
		AsOf:      time.Date(2021, 1, 14, 0, 0, 0, 0, time.UTC),
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]interface{}{
		"level":    "warn",
		"run_id":   "run-1",
		"domain":   "general",
		"entity":   "Worthing",
		"metric":   "cases",
		"check":    "absolute",
		"severity": "critical",
	} {
		if entry[key] != want {
			t.Errorf("%s: expected %v, got %v", key, want, entry[key])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("warn", &buf)

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %s", buf.String())
	}
	logger.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Error("warn line not written")
	}
}

func TestLogEvaluationInsufficientIsWarning(t *testing.T) {
	var buf bytes.Buffer
	LogEvaluation(NewWriterLogger("info", &buf), models.Evaluation{
		Entity: "Adur",
		Metric: models.MetricDeaths,
		Status: models.StatusInsufficient,
		Window: 7,
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["status"] != "insufficient_data" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestFileLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "log.txt")
	cfg := DefaultLogConfig()
	cfg.FilePath = path

	logger := NewLoggerWithConfig(cfg)
	logger.Info().Msg("Started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("Started")) {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWriterLogger("info", &buf))

	logger := FromContext(ctx)
	logger.Info().Msg("from context")
	if buf.Len() == 0 {
		t.Error("expected logger from context to write")
	}

	nop := FromContext(context.Background())
	nop.Info().Msg("nop")
}
