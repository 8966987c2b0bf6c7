package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/permission"
	"github.com/foxseedlab/kikitori/internal/speech"
	"github.com/google/uuid"
)

type Gate interface {
	CurrentStatus() permission.Status
	RequestPermission(ctx context.Context) error
}

// Controller owns the transcription state machine. It runs at most one
// session at a time and is the only writer of State.
type Controller struct {
	gate      Gate
	runner    Runner
	publisher *publisher
	now       func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	active     *handle
	latest     *handle
}

type handle struct {
	id         string
	generation uint64
	locale     speech.Locale
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewController(gate Gate, runner Runner, observers ...Observer) *Controller {
	c := &Controller{
		gate:      gate,
		runner:    runner,
		publisher: newPublisher(observers),
		now:       time.Now,
	}
	initial := RequiresPermission()
	if gate.CurrentStatus() == permission.StatusGranted {
		initial = Idle()
	}
	c.mu.Lock()
	c.setStateLocked(initial, nil)
	c.mu.Unlock()
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) PermissionStatus() permission.Status {
	return c.gate.CurrentStatus()
}

// Active reports the session that currently records, if any.
func (c *Controller) Active() (id string, locale speech.Locale, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", "", false
	}
	return c.active.id, c.active.locale, true
}

// StartRecording begins a session in locale, replacing any running one. It
// is a no-op unless permission is granted. The new session acquires the
// device only after the previous one has released it.
func (c *Controller) StartRecording(locale speech.Locale) {
	if status := c.gate.CurrentStatus(); status != permission.StatusGranted {
		slog.Info("start recording ignored; speech recognition is not permitted", "locale", locale, "permission", status.String())
		return
	}

	c.mu.Lock()
	// a stopped session may still be releasing the device
	prev := c.latest
	if c.active != nil {
		c.active.cancel()
	}
	c.generation++
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		id:         uuid.NewString(),
		generation: c.generation,
		locale:     locale,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.active = h
	c.latest = h
	c.setStateLocked(Recording(nil), h)
	c.mu.Unlock()

	if prev != nil {
		slog.Info("starting recording session after previous one", "previous_session_id", prev.id, "session_id", h.id, "locale", locale)
	}
	go c.drive(h, prev)
}

// StopRecording cancels the running session. The state becomes Idle once the
// session has finished releasing its resources.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	slog.Info("stopping recording session", "session_id", c.active.id)
	c.active.cancel()
	c.active = nil
}

// RequestPermission asks the gate for permission. A grant while the
// controller waits for one moves it to Idle; failures leave State alone.
func (c *Controller) RequestPermission(ctx context.Context) error {
	if err := c.gate.RequestPermission(ctx); err != nil {
		return fmt.Errorf("request speech recognition permission: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind() == StateRequiresPermission {
		c.setStateLocked(Idle(), nil)
	}
	return nil
}

// Shutdown stops the running session and waits until its resources are
// released and observers have seen every state change.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.StopRecording()
	c.mu.Lock()
	latest := c.latest
	c.mu.Unlock()
	if latest != nil {
		select {
		case <-latest.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for recording session cleanup: %w", ctx.Err())
		}
	}
	if err := c.publisher.flush(ctx); err != nil {
		return fmt.Errorf("flush state observers: %w", err)
	}
	return nil
}

func (c *Controller) drive(h *handle, prev *handle) {
	defer close(h.done)
	defer h.cancel()

	if prev != nil {
		<-prev.done
	}
	if h.ctx.Err() != nil {
		c.finish(h, Idle())
		return
	}

	slog.Info("recording session started", "session_id", h.id, "locale", h.locale)
	var failure *speech.Error
	for result, err := range c.runner.Run(h.ctx, h.locale) {
		if err != nil {
			if h.ctx.Err() == nil {
				failure = speech.AsRecognitionFailure(err)
			}
			break
		}
		c.update(h, result)
	}
	// the run has released the device and the recognizer at this point
	if failure != nil {
		slog.Error("recording session failed", "error", failure, "kind", failure.Kind.String(), "session_id", h.id, "locale", h.locale)
		c.finish(h, Failed(failure))
		return
	}
	slog.Info("recording session ended", "session_id", h.id, "locale", h.locale, "cancelled", h.ctx.Err() != nil)
	c.finish(h, Idle())
}

func (c *Controller) update(h *handle, result speech.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.generation != c.generation || h.ctx.Err() != nil {
		return
	}
	c.setStateLocked(Recording(&result), h)
}

func (c *Controller) finish(h *handle, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == h {
		c.active = nil
	}
	if h.generation != c.generation {
		return
	}
	c.setStateLocked(s, h)
}

func (c *Controller) setStateLocked(s State, h *handle) {
	c.state = s
	change := Change{State: s, At: c.now()}
	if h != nil {
		change.SessionID = h.id
		change.Locale = h.locale
	}
	c.publisher.publish(change)
}
