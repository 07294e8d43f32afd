// Package notify reports alerts on the console and forwards them to
// notification channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"covid-alerts/internal/config"
	"covid-alerts/internal/models"
	"covid-alerts/internal/monitor"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendAlert(ctx context.Context, alert models.Alert, window int) error
	SendSummary(ctx context.Context, summary RunSummary) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Severity  models.Severity
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationAlert   NotificationType = "alert"
	NotificationError   NotificationType = "error"
	NotificationSummary NotificationType = "summary"
	NotificationInfo    NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll          NotificationLevel = "all"
	LevelCriticalOnly NotificationLevel = "critical_only"
)

// RunSummary is the end of run message.
type RunSummary struct {
	RunID      string
	Domain     monitor.Domain
	Summary    monitor.Summary
	Attention  bool
	OutputFile string
	Finished   time.Time
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailNotifier(cfg.Email))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	var names []string
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(n Notification) bool {
	switch mn.level {
	case LevelCriticalOnly:
		switch n.Type {
		case NotificationAlert:
			return n.Severity >= models.SeverityCritical
		case NotificationError:
			return true
		default:
			return false
		}
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendAlert sends an alert notification.
func (mn *MultiNotifier) SendAlert(ctx context.Context, alert models.Alert, window int) error {
	severity := alert.Severity.String()
	title := fmt.Sprintf("%s%s alert: %s %s", strings.ToUpper(severity[:1]), severity[1:], alert.Entity, alert.Metric)

	return mn.Send(ctx, Notification{
		Type:     NotificationAlert,
		Severity: alert.Severity,
		Title:    title,
		Message:  DescribeAlert(alert, window),
		Data: map[string]interface{}{
			"entity":    alert.Entity,
			"metric":    alert.Metric,
			"check":     alert.Check,
			"observed":  alert.Observed,
			"threshold": alert.Threshold,
			"severity":  alert.Severity.String(),
			"as_of":     alert.AsOf.Format("2006-01-02"),
		},
	})
}

// SendSummary sends the end of run summary.
func (mn *MultiNotifier) SendSummary(ctx context.Context, summary RunSummary) error {
	title := fmt.Sprintf("covid-alerts %s run summary", summary.Domain)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Evaluated: %d\n", summary.Summary.Evaluated))
	sb.WriteString(fmt.Sprintf("Alerts: %d\n", summary.Summary.Alerts))
	sb.WriteString(fmt.Sprintf("Data insufficient: %d\n", summary.Summary.Insufficient))
	sb.WriteString(fmt.Sprintf("Failed: %d", summary.Summary.Failed))
	if summary.Attention {
		sb.WriteString(fmt.Sprintf("\nAttention flag set, please view %s", summary.OutputFile))
	}

	return mn.Send(ctx, Notification{
		Type:      NotificationSummary,
		Title:     title,
		Message:   sb.String(),
		Timestamp: summary.Finished,
		Data: map[string]interface{}{
			"run_id":       summary.RunID,
			"domain":       summary.Domain,
			"evaluated":    summary.Summary.Evaluated,
			"alerts":       summary.Summary.Alerts,
			"insufficient": summary.Summary.Insufficient,
			"failed":       summary.Summary.Failed,
			"attention":    summary.Attention,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "covid-alerts run failed"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// postJSON posts payload to url and expects a 2xx reply.
func postJSON(ctx context.Context, client *http.Client, channel, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encoding payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", channel, resp.StatusCode)
	}
	return nil
}

// WebhookNotifier posts notifications as JSON to a URL.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string    { return "webhook" }
func (w *WebhookNotifier) IsEnabled() bool { return w.enabled }

// Send posts n to the webhook URL.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
	if n.Type == NotificationAlert {
		payload["severity"] = n.Severity.String()
	}
	return postJSON(ctx, w.client, w.Name(), w.url, payload)
}

// telegramAPI is the Telegram bot API base URL.
const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends notifications to a Telegram chat.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiURL   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		apiURL:   telegramAPI,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

// Send sends n as an HTML formatted bot message.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}
	return postJSON(ctx, t.client, t.Name(), t.apiURL+"/bot"+t.botToken+"/sendMessage", map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       "<b>" + html.EscapeString(n.Title) + "</b>\n\n" + html.EscapeString(n.Message),
		"parse_mode": "HTML",
	})
}

// EmailNotifier sends notifications by SMTP, upgrading to STARTTLS when the
// server offers it.
type EmailNotifier struct {
	addr    string
	auth    smtp.Auth
	from    string
	to      []string
	enabled bool
}

// NewEmailNotifier creates a new EmailNotifier. To may hold several
// comma separated addresses.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	e := &EmailNotifier{
		addr:    fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		from:    cfg.From,
		to:      to,
		enabled: cfg.Enabled && cfg.SMTPHost != "" && cfg.From != "" && len(to) > 0,
	}
	if cfg.Username != "" && cfg.Password != "" {
		e.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	return e
}

func (e *EmailNotifier) Name() string    { return "email" }
func (e *EmailNotifier) IsEnabled() bool { return e.enabled }

// Send mails n to every recipient.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	if !e.enabled {
		return nil
	}
	if err := smtp.SendMail(e.addr, e.auth, e.from, e.to, []byte(e.message(n))); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

func (e *EmailNotifier) message(n Notification) string {
	body := n.Message
	if len(n.Data) > 0 {
		dataJSON, _ := json.MarshalIndent(n.Data, "", "  ")
		body += "\n\n---\nData:\n" + string(dataJSON)
	}

	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		e.from, strings.Join(e.to, ", "), n.Title, body)
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendAlert does nothing.
func (n *NoOpNotifier) SendAlert(ctx context.Context, alert models.Alert, window int) error {
	return nil
}

// SendSummary does nothing.
func (n *NoOpNotifier) SendSummary(ctx context.Context, summary RunSummary) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}

// Dispatch forwards every alert of report and the run summary to n. Channel
// failures are collected and returned; they never stop the dispatch.
func Dispatch(ctx context.Context, n Notifier, runID string, report *monitor.Report) []error {
	var errs []error
	for _, ev := range report.Evaluations {
		for _, a := range ev.Alerts {
			if err := n.SendAlert(ctx, a, ev.Window); err != nil {
				errs = append(errs, err)
			}
		}
	}

	err := n.SendSummary(ctx, RunSummary{
		RunID:      runID,
		Domain:     report.Domain,
		Summary:    report.Summary(),
		Attention:  report.Attention,
		OutputFile: report.OutputFile,
		Finished:   report.FinishedAt,
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errs
}
