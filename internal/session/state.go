package session

import (
	"encoding/json"
	"time"

	"github.com/foxseedlab/kikitori/internal/speech"
)

type StateKind int

const (
	StateIdle StateKind = iota
	StateRequiresPermission
	StateRecording
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateRequiresPermission:
		return "requires_permission"
	case StateRecording:
		return "recording"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the observable controller state. Exactly one kind is active;
// partial is only meaningful for StateRecording and err only for StateError.
type State struct {
	kind    StateKind
	partial *speech.Result
	err     *speech.Error
}

func Idle() State {
	return State{kind: StateIdle}
}

func RequiresPermission() State {
	return State{kind: StateRequiresPermission}
}

// Recording takes a copy of partial so later changes by the caller are not
// observed.
func Recording(partial *speech.Result) State {
	if partial == nil {
		return State{kind: StateRecording}
	}
	r := *partial
	return State{kind: StateRecording, partial: &r}
}

func Failed(err *speech.Error) State {
	return State{kind: StateError, err: err}
}

func (s State) Kind() StateKind {
	return s.kind
}

// Partial returns the latest hypothesis of a recording session, or nil.
func (s State) Partial() *speech.Result {
	if s.partial == nil {
		return nil
	}
	r := *s.partial
	return &r
}

func (s State) Err() *speech.Error {
	return s.err
}

func (s State) String() string {
	switch s.kind {
	case StateIdle:
		return "Idle"
	case StateRequiresPermission:
		return "Requires Permission"
	case StateRecording:
		return "Recording"
	case StateError:
		if s.err == nil {
			return "Error: unknown"
		}
		return "Error: " + s.err.Error()
	default:
		return "Unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(NewNotification(Change{State: s}))
}

// Change is one state write as seen by observers.
type Change struct {
	State     State
	SessionID string
	Locale    speech.Locale
	At        time.Time
}

type NotificationError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Notification is the JSON document published for every state change.
type Notification struct {
	State     string             `json:"state"`
	Label     string             `json:"label"`
	SessionID string             `json:"session_id,omitempty"`
	Locale    string             `json:"locale,omitempty"`
	Text      string             `json:"text,omitempty"`
	Final     bool               `json:"final,omitempty"`
	Error     *NotificationError `json:"error,omitempty"`
	At        *time.Time         `json:"at,omitempty"`
}

func NewNotification(c Change) Notification {
	n := Notification{
		State:     c.State.kind.String(),
		Label:     c.State.String(),
		SessionID: c.SessionID,
		Locale:    c.Locale.String(),
	}
	if p := c.State.partial; p != nil {
		n.Text = p.Text
		n.Final = p.IsFinal
	}
	if e := c.State.err; e != nil {
		n.Error = &NotificationError{Kind: e.Kind.String(), Message: e.Error()}
	}
	if !c.At.IsZero() {
		at := c.At.UTC()
		n.At = &at
	}
	return n
}
