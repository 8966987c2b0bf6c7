package monitoring

import (
	"errors"
	"sync"
	"testing"

	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/foxseedlab/kikitori/internal/speech"
	"github.com/getsentry/sentry-go"
)

func newTestHub(t *testing.T) (*sentry.Hub, func() []*sentry.Event) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("failed to create sentry client: %v", err)
	}
	return sentry.NewHub(client, sentry.NewScope()), func() []*sentry.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]*sentry.Event(nil), events...)
	}
}

func TestSentryReporter_CapturesErrorStates(t *testing.T) {
	hub, captured := newTestHub(t)
	r := NewSentryReporter(hub)

	r.OnStateChange(session.Change{State: session.Idle()})
	r.OnStateChange(session.Change{
		State:     session.Failed(speech.CaptureFailure(errors.New("device unplugged"))),
		SessionID: "s-1",
		Locale:    "en-US",
	})

	events := captured()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	e := events[0]
	if e.Tags["error_kind"] != "capture_failure" || e.Tags["session_id"] != "s-1" || e.Tags["locale"] != "en-US" {
		t.Fatalf("unexpected tags: %v", e.Tags)
	}
	if len(e.Exception) == 0 || e.Exception[len(e.Exception)-1].Value == "" {
		t.Fatalf("expected exception payload, got %+v", e.Exception)
	}
}
