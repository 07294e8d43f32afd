// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"covid-alerts/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Console:    false,
		File:       true,
		FilePath:   filepath.Join("log", "log.txt"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     90,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
// Console output goes to stderr so it never mixes with the alert report.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	return newLogger(cfg.Level, writers...)
}

// NewWriterLogger creates a logger that writes JSON lines to w.
func NewWriterLogger(level string, w io.Writer) zerolog.Logger {
	return newLogger(level, w)
}

func newLogger(level string, writers ...io.Writer) zerolog.Logger {
	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(writer).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithRun adds the run ID and domain to the logger context.
func WithRun(logger zerolog.Logger, runID, domain string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Str("domain", domain).Logger()
}

// WithEntity adds an entity name to the logger context.
func WithEntity(logger zerolog.Logger, entity string) zerolog.Logger {
	return logger.With().Str("entity", entity).Logger()
}

// WithMetric adds a metric name to the logger context.
func WithMetric(logger zerolog.Logger, metric models.MetricKind) zerolog.Logger {
	return logger.With().Str("metric", string(metric)).Logger()
}

// LogAlert logs a raised alert.
func LogAlert(logger zerolog.Logger, a models.Alert) {
	logger.Warn().
		Str("event", "alert").
		Str("entity", a.Entity).
		Str("metric", string(a.Metric)).
		Str("check", string(a.Check)).
		Float64("observed", a.Observed).
		Float64("threshold", a.Threshold).
		Str("severity", a.Severity.String()).
		Time("as_of", a.AsOf).
		Msg("Alert raised")
}

// LogEvaluation logs the outcome of one evaluation.
func LogEvaluation(logger zerolog.Logger, ev models.Evaluation) {
	event := logger.Info()
	if ev.Insufficient() {
		event = logger.Warn()
	}
	event.
		Str("event", "evaluation").
		Str("entity", ev.Entity).
		Str("metric", string(ev.Metric)).
		Str("status", string(ev.Status)).
		Int("window", ev.Window).
		Int("available", ev.Available).
		Float64("recent", ev.Recent).
		Float64("prior", ev.Prior).
		Bool("rate_defined", ev.RateDefined).
		Float64("change_percent", ev.ChangePercent).
		Msg("Evaluation completed")
}

// LogAPICall logs an API call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
