package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "SolOracle-Chain/internal/errors"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Channel() Channel { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	rec := &recordingNotifier{}
	dispatcher := NewFanout(rec, LogNotifier{}, nil)
	if dispatcher.Len() != 2 {
		t.Fatalf("expected 2 channels, got %d", dispatcher.Len())
	}

	event := Event{Code: xerrors.CodeRPCFailure, Severity: xerrors.SeverityWarning, TaskID: "t1", OccurredAt: time.Now()}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0].Channel != "recording" {
		t.Fatalf("unexpected events %+v", rec.events)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	rec := &recordingNotifier{err: context.DeadlineExceeded}
	err := NewFanout(rec).Notify(context.Background(), Event{TaskID: "t1"})
	if err == nil || !strings.Contains(err.Error(), "channel recording") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second)
	event := Event{Code: "RESPONSE_TIMEOUT", TaskID: "t9", Attempts: 1, MaxRetries: 3}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.TaskID != "t9" || got.Code != "RESPONSE_TIMEOUT" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := NewWebhookNotifier(server.URL, 0).Notify(context.Background(), Event{}); err == nil {
		t.Fatal("expected error for 502 response")
	}
	if err := NewWebhookNotifier("", 0).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured webhook should be skipped, got %v", err)
	}
}
