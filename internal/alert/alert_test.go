package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode alert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(Config{WebhookURL: srv.URL}, testLogger())
	Firef(context.Background(), sink, SeverityCritical, "Job run failed", "%s: %s", "pending_actions", "db down")

	if got.Title != "Job run failed" {
		t.Errorf("unexpected title %q", got.Title)
	}
	if got.Severity != SeverityCritical {
		t.Errorf("unexpected severity %q", got.Severity)
	}
	if got.Message != "pending_actions: db down" {
		t.Errorf("unexpected message %q", got.Message)
	}
}

func TestWebhookSink_DeliveryFailureNeverEscalates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(Config{WebhookURL: srv.URL}, testLogger())
	// Must not panic and has no error to return.
	sink.Fire(context.Background(), Alert{Title: "t", Severity: SeverityInfo})

	// Unreachable endpoint behaves the same.
	srv.Close()
	sink.Fire(context.Background(), Alert{Title: "t", Severity: SeverityInfo})
}

func TestNewSink_SelectsStrategy(t *testing.T) {
	if _, ok := NewSink(Config{}, testLogger()).(*NoopSink); !ok {
		t.Error("no webhook URL must select the noop sink")
	}
	if _, ok := NewSink(Config{WebhookURL: "http://alerts.local"}, testLogger()).(*WebhookSink); !ok {
		t.Error("a webhook URL must select the webhook sink")
	}
}
