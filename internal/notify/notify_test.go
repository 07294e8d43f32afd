package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"covid-alerts/internal/config"
	"covid-alerts/internal/models"
	"covid-alerts/internal/monitor"
)

var asOf = time.Date(2020, 11, 2, 0, 0, 0, 0, time.UTC)

type recordingChannel struct {
	name    string
	enabled bool
	err     error
	sent    []Notification
}

func (r *recordingChannel) Name() string    { return r.name }
func (r *recordingChannel) IsEnabled() bool { return r.enabled }
func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

func testAlert(severity models.Severity) models.Alert {
	return models.Alert{
		Entity:    "Cheshire East",
		Metric:    models.MetricCases,
		Check:     models.CheckAbsolute,
		Observed:  1400,
		Threshold: 1000,
		Severity:  severity,
		AsOf:      asOf,
	}
}

func TestNewMultiNotifierDisabled(t *testing.T) {
	cfg := &config.NotificationConfig{
		Enabled: false,
		Webhook: config.WebhookConfig{Enabled: true, URL: "http://localhost"},
	}
	mn := NewMultiNotifier(cfg)
	if got := mn.Channels(); len(got) != 0 {
		t.Errorf("Channels() = %v, want none", got)
	}
}

func TestNewMultiNotifierChannels(t *testing.T) {
	cfg := &config.NotificationConfig{
		Enabled:  true,
		Webhook:  config.WebhookConfig{Enabled: true, URL: "http://localhost"},
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "token"},
		Email: config.EmailConfig{
			Enabled:  true,
			SMTPHost: "smtp.example.com",
			SMTPPort: 587,
			From:     "alerts@example.com",
			To:       "a@example.com, b@example.com",
		},
	}
	mn := NewMultiNotifier(cfg)

	// Telegram has no chat id and stays disabled.
	got := strings.Join(mn.Channels(), ",")
	if got != "webhook,email" {
		t.Errorf("Channels() = %q, want webhook,email", got)
	}
}

func TestCriticalOnlyFilter(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Enabled: true, Level: string(LevelCriticalOnly)})
	ch := &recordingChannel{name: "rec", enabled: true}
	mn.AddChannel(ch)
	ctx := context.Background()

	if err := mn.SendAlert(ctx, testAlert(models.SeverityWarning), 7); err != nil {
		t.Fatal(err)
	}
	if err := mn.SendAlert(ctx, testAlert(models.SeverityCritical), 7); err != nil {
		t.Fatal(err)
	}
	if err := mn.SendSummary(ctx, RunSummary{Domain: monitor.DomainGeneral}); err != nil {
		t.Fatal(err)
	}
	if err := mn.SendError(ctx, errors.New("boom"), "general run"); err != nil {
		t.Fatal(err)
	}

	if len(ch.sent) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(ch.sent))
	}
	if ch.sent[0].Severity != models.SeverityCritical {
		t.Errorf("first notification severity = %v, want critical", ch.sent[0].Severity)
	}
	if ch.sent[1].Type != NotificationError {
		t.Errorf("second notification type = %q, want error", ch.sent[1].Type)
	}
}

func TestSendCollectsChannelErrors(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Enabled: true})
	failing := &recordingChannel{name: "failing", enabled: true, err: errors.New("down")}
	working := &recordingChannel{name: "working", enabled: true}
	off := &recordingChannel{name: "off"}
	mn.AddChannel(failing)
	mn.AddChannel(working)
	mn.AddChannel(off)

	err := mn.Send(context.Background(), Notification{Type: NotificationInfo, Title: "hello"})
	if err == nil || !strings.Contains(err.Error(), "failing: down") {
		t.Errorf("Send() error = %v, want failing channel error", err)
	}
	if len(working.sent) != 1 {
		t.Errorf("working channel got %d notifications, want 1", len(working.sent))
	}
	if len(off.sent) != 0 {
		t.Errorf("disabled channel got %d notifications, want 0", len(off.sent))
	}
	if working.sent[0].Timestamp.IsZero() {
		t.Error("timestamp was not set")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mn := NewMultiNotifier(&config.NotificationConfig{
		Enabled: true,
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	if err := mn.SendAlert(context.Background(), testAlert(models.SeverityWarning), 7); err != nil {
		t.Fatalf("SendAlert() error = %v", err)
	}

	if payload["type"] != "alert" {
		t.Errorf("type = %v, want alert", payload["type"])
	}
	if payload["severity"] != "warning" {
		t.Errorf("severity = %v, want warning", payload["severity"])
	}
	if payload["title"] != "Warning alert: Cheshire East cases" {
		t.Errorf("title = %v", payload["title"])
	}
	data, _ := payload["data"].(map[string]interface{})
	if data["as_of"] != "2020-11-02" {
		t.Errorf("data.as_of = %v", data["as_of"])
	}
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	err := w.Send(context.Background(), Notification{Type: NotificationInfo})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Send() error = %v, want status 502", err)
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "abc", ChatID: "42"})
	tg.apiURL = srv.URL

	err := tg.Send(context.Background(), Notification{Title: "R < 1", Message: "cases & deaths"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if path != "/botabc/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if payload["chat_id"] != "42" {
		t.Errorf("chat_id = %v", payload["chat_id"])
	}
	if text := payload["text"]; text != "<b>R &lt; 1</b>\n\ncases &amp; deaths" {
		t.Errorf("text = %q", text)
	}
}

func TestEmailMessage(t *testing.T) {
	e := NewEmailNotifier(config.EmailConfig{
		Enabled:  true,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		From:     "alerts@example.com",
		To:       "a@example.com,, b@example.com ",
	})
	if !e.IsEnabled() {
		t.Fatal("email notifier should be enabled")
	}
	if e.addr != "smtp.example.com:587" || e.auth != nil {
		t.Errorf("addr = %q, auth = %v", e.addr, e.auth)
	}

	msg := e.message(Notification{Title: "Summary", Message: "Alerts: 2"})
	if !strings.Contains(msg, "To: a@example.com, b@example.com\r\n") {
		t.Errorf("message missing recipients:\n%s", msg)
	}
	if !strings.Contains(msg, "Subject: Summary\r\n") {
		t.Errorf("message missing subject:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "Alerts: 2") {
		t.Errorf("message missing body:\n%s", msg)
	}

	if NewEmailNotifier(config.EmailConfig{Enabled: true, SMTPHost: "h", From: "f"}).IsEnabled() {
		t.Error("email notifier without recipients should be disabled")
	}
}

type fakeNotifier struct {
	NoOpNotifier
	alerts    []models.Alert
	summaries []RunSummary
	alertErr  error
}

func (f *fakeNotifier) SendAlert(ctx context.Context, a models.Alert, window int) error {
	f.alerts = append(f.alerts, a)
	return f.alertErr
}

func (f *fakeNotifier) SendSummary(ctx context.Context, s RunSummary) error {
	f.summaries = append(f.summaries, s)
	return nil
}

func TestDispatch(t *testing.T) {
	report := &monitor.Report{
		Domain:     monitor.DomainTrusts,
		FinishedAt: asOf,
		Attention:  true,
		OutputFile: "data/trust_deaths_20201102.csv",
		Evaluations: []models.Evaluation{
			{Entity: "A", Status: models.StatusAlert, Window: 7, Alerts: []models.Alert{testAlert(models.SeverityWarning), testAlert(models.SeverityCritical)}},
			{Entity: "B", Status: models.StatusOK, Window: 7},
		},
	}
	f := &fakeNotifier{alertErr: errors.New("channel down")}

	errs := Dispatch(context.Background(), f, "run-1", report)
	if len(errs) != 2 {
		t.Errorf("Dispatch() returned %d errors, want 2", len(errs))
	}
	if len(f.alerts) != 2 {
		t.Errorf("sent %d alerts, want 2", len(f.alerts))
	}
	if len(f.summaries) != 1 {
		t.Fatalf("sent %d summaries, want 1", len(f.summaries))
	}
	s := f.summaries[0]
	if s.RunID != "run-1" || !s.Attention || s.Summary.Alerts != 2 || s.Summary.Evaluated != 2 {
		t.Errorf("summary = %+v", s)
	}
}

func TestDescribeAlert(t *testing.T) {
	tests := []struct {
		name  string
		alert models.Alert
		want  string
	}{
		{
			name:  "absolute",
			alert: testAlert(models.SeverityWarning),
			want:  "The rolling number of cases for Cheshire East on 2020-11-02 was 1,400 which is greater than 1,000 (daily average 200.0)",
		},
		{
			name: "increase",
			alert: models.Alert{
				Entity: "UK", Metric: models.MetricDeaths, Check: models.CheckIncrease,
				Observed: 250, Threshold: 100, AsOf: asOf,
			},
			want: "The rolling number of deaths for UK on 2020-11-02 increased by 250 which is greater than 100",
		},
		{
			name: "rate of change",
			alert: models.Alert{
				Entity: "UK", Metric: models.MetricCases, Check: models.CheckRateOfChange,
				Observed: 12.5, Threshold: 10, AsOf: asOf,
			},
			want: "The rolling number of cases for UK on 2020-11-02 changed by +12.50% which is greater than +10.00%",
		},
		{
			name: "positivity",
			alert: models.Alert{
				Entity: "UK", Metric: models.MetricPositivity, Check: models.CheckAbsolute,
				Observed: 6.25, Threshold: 5, AsOf: asOf,
			},
			want: "The rolling positive test rate for UK on 2020-11-02 was 6.25% which is greater than 5.00%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeAlert(tt.alert, 7); got != tt.want {
				t.Errorf("DescribeAlert() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestConsoleRender(t *testing.T) {
	report := &monitor.Report{
		Domain:    monitor.DomainGeneral,
		StartedAt: asOf,
		Skipped:   []error{errors.New("general.csv line 3: bad area")},
		Evaluations: []models.Evaluation{
			{Entity: "UK", Metric: models.MetricCases, Status: models.StatusInsufficient, Window: 7, Available: 3},
			{Entity: "Cheshire East", Metric: models.MetricCases, Status: models.StatusAlert, Window: 7,
				Alerts: []models.Alert{testAlert(models.SeverityCritical)}},
			{Entity: "Cheshire East", Metric: models.MetricDeaths, Status: models.StatusOK, Window: 7, AsOf: asOf},
			{Entity: "Halton", Metric: models.MetricCases, Status: models.StatusOK, Window: 7, AsOf: asOf,
				Recent: 120, Prior: 100, PriorDefined: true, Change: 20, ChangePercent: 20, RateDefined: true},
		},
		Notes:    []monitor.Note{{Entity: "Halton", Level: monitor.NoteInfo, Message: "The total number of deaths for Halton is now 95 (2020-11-02)"}},
		Failures: []monitor.Failure{{Entity: "Nowhere", Err: errors.New("no data")}},
	}

	var buf bytes.Buffer
	NewConsole(&buf, false, "").Render(report)
	out := buf.String()

	for _, want := range []string{
		"General alerts, 2020-11-02",
		"! skipped config entry: general.csv line 3: bad area",
		"? UK cases: data insufficient (3 days of 7 days)",
		"! [critical] The rolling number of cases for Cheshire East",
		"i The rolling number of deaths for Cheshire East on 2020-11-02 was 0",
		"ok Halton cases: 120 over 7 days, change +20 (+20.00%)",
		"i The total number of deaths for Halton is now 95",
		"x Nowhere: no data",
		"Evaluated 4, alerts 1, data insufficient 1, failed 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("output contains colour codes with colour disabled")
	}
}

func TestConsoleRenderTrusts(t *testing.T) {
	report := &monitor.Report{
		Domain:     monitor.DomainTrusts,
		StartedAt:  asOf,
		OutputFile: "data/trust_deaths_20201102.csv",
		Attention:  true,
		Notes: []monitor.Note{{Entity: "Royal", Level: monitor.NoteWarning,
			Message: "The last death in Royal was on 2020-11-01 which is 5 days or less ago"}},
	}

	var buf bytes.Buffer
	NewConsole(&buf, false, "02/01/2006").Render(report)
	out := buf.String()

	for _, want := range []string{
		"Trust deaths, 02/11/2020",
		"! The last death in Royal was on 2020-11-01",
		"Wrote data/trust_deaths_20201102.csv",
		"Attention flag set for data/trust_deaths_20201102.csv, please view",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsoleRenderOutputFailure(t *testing.T) {
	report := &monitor.Report{
		Domain:    monitor.DomainTrusts,
		StartedAt: asOf,
		OutputErr: errors.New("disk full"),
		Attention: true,
	}

	var buf bytes.Buffer
	NewConsole(&buf, false, "").Render(report)
	out := buf.String()

	if !strings.Contains(out, "x trust deaths file not written: disk full") {
		t.Errorf("output missing write failure:\n%s", out)
	}
	if strings.Contains(out, "Wrote") || !strings.Contains(out, "Attention flag set\n") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
