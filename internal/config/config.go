// Package config provides configuration management for the alerting application.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "covid-alerts/internal/errors"
	"covid-alerts/internal/logging"
	"covid-alerts/internal/models"
)

// SettingsFile is the name of the optional application settings file.
const SettingsFile = "settings"

// Config holds all application configuration.
type Config struct {
	Dir           string             `mapstructure:"-"`
	API           APIConfig          `mapstructure:"api"`
	NHS           NHSConfig          `mapstructure:"nhs"`
	Paths         PathsConfig        `mapstructure:"paths"`
	Fetch         FetchConfig        `mapstructure:"fetch"`
	Log           LogConfig          `mapstructure:"log"`
	UI            UIConfig           `mapstructure:"ui"`
	Trusts        TrustConfig        `mapstructure:"trusts"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// APIConfig holds coronavirus dashboard API settings.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NHSConfig holds the location of the NHS England deaths workbook.
type NHSConfig struct {
	PageURL         string        `mapstructure:"page_url"`
	WorkbookPattern string        `mapstructure:"workbook_pattern"`
	Sheet           string        `mapstructure:"sheet"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// PathsConfig holds file locations. Relative config files are resolved
// against the config directory, relative data paths against the working
// directory.
type PathsConfig struct {
	DataDir        string `mapstructure:"data_dir"`
	GeneralFile    string `mapstructure:"general_file"`
	ThresholdsFile string `mapstructure:"thresholds_file"`
	TrustsFile     string `mapstructure:"trusts_file"`
}

// FetchConfig controls how often a failed fetch is attempted.
type FetchConfig struct {
	Attempts int `mapstructure:"attempts"`
}

// MaxFetchAttempts allows one re-fetch at most.
const MaxFetchAttempts = 2

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// UIConfig holds console output settings.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// TrustConfig holds the default thresholds applied to trust death series.
type TrustConfig struct {
	Window          int    `mapstructure:"window"`
	AbsoluteCeiling string `mapstructure:"absolute_ceiling"`
	RateCeiling     string `mapstructure:"rate_ceiling"`
	IncreaseCeiling string `mapstructure:"increase_ceiling"`
	RecentDays      int    `mapstructure:"recent_days"`
}

// MetricsConfig holds run metrics settings.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, critical_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	return "config"
}

// Load loads settings from configDir/settings.toml. A missing settings file
// is replaced by a template and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName(SettingsFile)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s.toml: %w", SettingsFile, err)
		}
		// Best effort: a read-only config directory still runs on defaults.
		_ = createTemplateSettings(configDir)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s.toml: %w", SettingsFile, err)
	}
	cfg.Dir = configDir

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.coronavirus.data.gov.uk")
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("nhs.page_url", "https://www.england.nhs.uk/statistics/statistical-work-areas/covid-19-daily-deaths/")
	v.SetDefault("nhs.workbook_pattern", DefaultWorkbookPattern)
	v.SetDefault("nhs.sheet", "Tab4 Deaths by trust")
	v.SetDefault("nhs.timeout", "60s")

	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("paths.general_file", "general_alerts.csv")
	v.SetDefault("paths.thresholds_file", "thresholds.csv")
	v.SetDefault("paths.trusts_file", "trust_deaths.csv")

	v.SetDefault("fetch.attempts", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)
	v.SetDefault("log.file", true)
	v.SetDefault("log.path", filepath.Join("log", "log.txt"))
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 90)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")

	v.SetDefault("trusts.window", models.DefaultWindow)
	v.SetDefault("trusts.absolute_ceiling", "0")
	v.SetDefault("trusts.rate_ceiling", "-")
	v.SetDefault("trusts.increase_ceiling", "-")
	v.SetDefault("trusts.recent_days", 7)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.email.smtp_port", 587)
}

// DefaultWorkbookPattern matches the announced deaths workbook link on the
// NHS England statistics page.
const DefaultWorkbookPattern = `https://www\.england\.nhs\.uk/statistics/wp-content/uploads/sites/2/\d{4}/\d{2}/COVID-19-total-announced-deaths-\d*-.*-\d{4}\.xlsx`

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COVIDALERTS_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("COVIDALERTS_NHS_PAGE_URL"); v != "" {
		cfg.NHS.PageURL = v
	}
	if v := os.Getenv("COVIDALERTS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("COVIDALERTS_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("COVIDALERTS_METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.TextfilePath = v
	}
	if v := os.Getenv("COVIDALERTS_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
	if v := os.Getenv("COVIDALERTS_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("COVIDALERTS_SMTP_PASSWORD"); v != "" {
		cfg.Notifications.Email.Password = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return apperrors.NewValidationError("api.base_url", c.API.BaseURL, "must not be empty")
	}
	if c.Fetch.Attempts < 1 || c.Fetch.Attempts > MaxFetchAttempts {
		return apperrors.NewValidationError("fetch.attempts", c.Fetch.Attempts,
			fmt.Sprintf("must be between 1 and %d", MaxFetchAttempts))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.NewValidationError("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Notifications.Level {
	case "", "all", "critical_only":
	default:
		return apperrors.NewValidationError("notifications.level", c.Notifications.Level, "must be all or critical_only")
	}
	if c.Trusts.RecentDays < 0 {
		return apperrors.NewValidationError("trusts.recent_days", c.Trusts.RecentDays, "must be non-negative")
	}
	if _, err := c.TrustThresholds(); err != nil {
		return err
	}
	return nil
}

// TrustThresholds returns the default thresholds for trust death series.
func (c *Config) TrustThresholds() (models.Thresholds, error) {
	th := models.Thresholds{Window: c.Trusts.Window}
	var err error
	if th.AbsoluteCeiling, err = ParseCeiling(c.Trusts.AbsoluteCeiling); err != nil {
		return th, apperrors.NewValidationError("trusts.absolute_ceiling", c.Trusts.AbsoluteCeiling, err.Error())
	}
	if th.RateCeiling, err = ParseCeiling(c.Trusts.RateCeiling); err != nil {
		return th, apperrors.NewValidationError("trusts.rate_ceiling", c.Trusts.RateCeiling, err.Error())
	}
	if th.IncreaseCeiling, err = ParseCeiling(c.Trusts.IncreaseCeiling); err != nil {
		return th, apperrors.NewValidationError("trusts.increase_ceiling", c.Trusts.IncreaseCeiling, err.Error())
	}
	if !th.Valid() {
		return th, apperrors.NewValidationError("trusts.window", c.Trusts.Window, "must be positive")
	}
	return th, nil
}

// LoggingConfig converts the log settings for the logging package.
func (c *Config) LoggingConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Log.Level,
		Console:    c.Log.Console,
		File:       c.Log.File,
		FilePath:   c.Log.Path,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
	}
}

// ConfigPath resolves a configuration file name against the config directory.
func (c *Config) ConfigPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// ParseCeiling parses a ceiling value. An empty value, "-" or "off"
// disables the check.
func ParseCeiling(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "-", "off":
		return models.Disabled, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not numeric", s)
	}
	if v < 0 || math.IsNaN(v) {
		return 0, fmt.Errorf("%q must be non-negative", s)
	}
	return v, nil
}
