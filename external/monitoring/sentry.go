package monitoring

import (
	"time"

	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/getsentry/sentry-go"
)

const flushTimeout = 2 * time.Second

// SentryReporter reports sessions that end in the Error state.
type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

func (r *SentryReporter) OnStateChange(change session.Change) {
	if change.State.Kind() != session.StateError || change.State.Err() == nil {
		return
	}
	err := change.State.Err()
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_kind", err.Kind.String())
		scope.SetTag("session_id", change.SessionID)
		scope.SetTag("locale", change.Locale.String())
		scope.SetLevel(sentry.LevelError)
		r.hub.CaptureException(err)
	})
}

// Shutdown flushes buffered events.
func (r *SentryReporter) Shutdown() {
	r.hub.Flush(flushTimeout)
}
