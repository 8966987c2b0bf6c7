package session

import (
	"log/slog"

	"github.com/foxseedlab/kikitori/internal/speech"
)

type MessageSender interface {
	SendChannelMessage(channelID, content string) error
}

// Announcer posts session progress to a Discord text channel: the start,
// every newly final part of the transcript, and how the session ended.
type Announcer struct {
	sender    MessageSender
	channelID string

	sessionID string
	posted    int
}

func NewAnnouncer(sender MessageSender, channelID string) *Announcer {
	return &Announcer{sender: sender, channelID: channelID}
}

// OnStateChange is called from the single dispatch goroutine, so the
// announcer keeps its bookkeeping unsynchronized.
func (a *Announcer) OnStateChange(change Change) {
	s := change.State
	switch s.Kind() {
	case StateRecording:
		if change.SessionID != a.sessionID {
			a.sessionID = change.SessionID
			a.posted = 0
			a.send(startedChannelMessage(change.Locale))
		}
		if p := s.Partial(); p != nil && p.IsFinal {
			a.postFinal(*p)
		}
	case StateIdle:
		if change.SessionID != "" && change.SessionID == a.sessionID {
			a.sessionID = ""
			a.send(messageChannelStopped)
		}
	case StateError:
		if change.SessionID != "" && change.SessionID == a.sessionID {
			a.sessionID = ""
		}
		a.send(failedChannelMessage(s.Err()))
	}
}

func (a *Announcer) postFinal(r speech.Result) {
	if len(r.Segments) == 0 {
		if r.Text != "" {
			a.send(r.Text)
		}
		return
	}
	if a.posted >= len(r.Segments) {
		return
	}
	text := speech.NewResult(r.Segments[a.posted:], true).Text
	a.posted = len(r.Segments)
	if text == "" {
		return
	}
	a.send(text)
}

func (a *Announcer) send(content string) {
	if err := a.sender.SendChannelMessage(a.channelID, content); err != nil {
		slog.Error("failed to post session announcement", "error", err, "channel_id", a.channelID, "session_id", a.sessionID)
	}
}
