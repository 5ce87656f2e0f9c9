package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Severity of an operator-facing alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an outbound operator notification.
type Alert struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Config holds alerting configuration: delivery plus the thresholds the
// ledger and runner evaluate.
type Config struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`

	// ConsecutiveFailures fires a critical alert once a job has failed this
	// many runs in a row. 0 disables.
	ConsecutiveFailures int `yaml:"consecutive_failures"`

	// SlowRun fires a warning alert when a run exceeds this duration. 0 disables.
	SlowRun time.Duration `yaml:"slow_run"`

	// FailedActionBacklog fires a warning alert when the unresolved
	// failed-action backlog exceeds this count. 0 disables.
	FailedActionBacklog int `yaml:"failed_action_backlog"`
}

// Sink delivers alerts to an external channel.
type Sink interface {
	// Fire delivers the alert. Delivery failures are logged, never escalated:
	// alerting must not turn into job failure.
	Fire(ctx context.Context, a Alert)
}

// WebhookSink posts alerts to a configured webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewWebhookSink creates a webhook-backed sink.
func NewWebhookSink(cfg Config, log *slog.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (s *WebhookSink) Fire(ctx context.Context, a Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		s.log.Warn("Failed to encode alert", "title", a.Title, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.log.Warn("Failed to build alert request", "title", a.Title, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("Failed to deliver alert", "title", a.Title, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.log.Warn("Alert webhook rejected", "title", a.Title, "status", resp.StatusCode)
		return
	}

	s.log.Info("Alert delivered", "title", a.Title, "severity", a.Severity)
}

// NoopSink swallows alerts. Selected when no webhook is configured.
type NoopSink struct {
	log *slog.Logger
}

func NewNoopSink(log *slog.Logger) *NoopSink {
	return &NoopSink{log: log}
}

func (s *NoopSink) Fire(ctx context.Context, a Alert) {
	s.log.Warn("Alert (no webhook configured)",
		"title", a.Title, "severity", a.Severity, "message", a.Message)
}

// NewSink selects the sink strategy from configuration.
func NewSink(cfg Config, log *slog.Logger) Sink {
	if cfg.WebhookURL == "" {
		return NewNoopSink(log)
	}
	return NewWebhookSink(cfg, log)
}

// Firef formats a message and fires it on the sink.
func Firef(ctx context.Context, sink Sink, severity Severity, title, format string, args ...any) {
	sink.Fire(ctx, Alert{
		Title:    title,
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
	})
}
