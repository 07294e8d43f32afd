package config

import (
	"fmt"
	"os"
	"path/filepath"

	apperrors "covid-alerts/internal/errors"
)

const settingsTemplate = `# covid-alerts settings

[api]
# Coronavirus dashboard API
base_url = "https://api.coronavirus.data.gov.uk"
timeout = "30s"

[nhs]
# Page listing the announced deaths workbook
page_url = "https://www.england.nhs.uk/statistics/statistical-work-areas/covid-19-daily-deaths/"
sheet = "Tab4 Deaths by trust"
timeout = "60s"

[paths]
# Output directory for generated csv files
data_dir = "data"
# Domain configuration files, relative to this directory
general_file = "general_alerts.csv"
thresholds_file = "thresholds.csv"
trusts_file = "trust_deaths.csv"

[fetch]
# 1 = single attempt, 2 = one re-fetch on failure
attempts = 1

[log]
level = "info"
console = false
file = true
path = "log/log.txt"
max_size = 10
max_backups = 5
max_age = 90

[ui]
color_enabled = true
date_format = "2006-01-02"

[trusts]
# Rolling window and ceilings for trust deaths. "-" disables a check.
window = 7
absolute_ceiling = "0"
rate_ceiling = "-"
increase_ceiling = "-"
# A death within this many days sets the attention flag
recent_days = 7

[metrics]
# Write run metrics in node_exporter textfile format when set
textfile_path = ""

[notifications]
enabled = false
# all, critical_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""
`

const generalTemplate = `Worthing,Arun,Adur,Horsham,Brighton and Hove,Crawley,Oxford,Norwich
7,500,3500,0,10,0.02,0.6,3,3,0,0
`

const thresholdsTemplate = `entity,metric,absolute,rate,increase,window
`

const trustsTemplate = `Western Sussex Hospitals NHS Foundation Trust
`

func createTemplateSettings(configDir string) error {
	return writeTemplate(configDir, SettingsFile+".toml", settingsTemplate)
}

// createTemplateFile writes a template for a missing domain configuration
// file and reports it as an error so the run stops.
func createTemplateFile(path, content string) error {
	if err := writeTemplate(filepath.Dir(path), filepath.Base(path), content); err != nil {
		return err
	}
	return fmt.Errorf("%w: created template at %s", apperrors.ErrConfigNotFound, path)
}

func writeTemplate(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
