package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Observer receives every state change in the order it was written.
// OnStateChange runs off the controller's lock but blocks later changes, so
// slow observers should bound their own I/O.
type Observer interface {
	OnStateChange(change Change)
}

type ObserverFunc func(change Change)

func (f ObserverFunc) OnStateChange(change Change) {
	f(change)
}

// publisher queues changes and delivers them from a single goroutine that is
// started on demand and exits when the queue is empty.
type publisher struct {
	observers []Observer

	mu      sync.Mutex
	queue   []Change
	running bool
	waiters []chan struct{}
}

func newPublisher(observers []Observer) *publisher {
	return &publisher{observers: observers}
}

func (p *publisher) publish(change Change) {
	if len(p.observers) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, change)
	if p.running {
		return
	}
	p.running = true
	go p.drain()
}

func (p *publisher) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running = false
			for _, w := range p.waiters {
				close(w)
			}
			p.waiters = nil
			p.mu.Unlock()
			return
		}
		change := p.queue[0]
		p.queue[0] = Change{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		for _, o := range p.observers {
			notify(o, change)
		}
	}
}

func (p *publisher) flush(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()
	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notify(o Observer, change Change) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("state observer panicked", "panic", r, "state", change.State.String())
		}
	}()
	o.OnStateChange(change)
}

// Sink receives state notifications over some transport.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

type sinkObserver struct {
	name    string
	sink    Sink
	timeout time.Duration
}

// NewSinkObserver delivers every change to sink, bounding each delivery by
// timeout. Failures are logged and dropped.
func NewSinkObserver(name string, sink Sink, timeout time.Duration) Observer {
	return &sinkObserver{name: name, sink: sink, timeout: timeout}
}

func (o *sinkObserver) OnStateChange(change Change) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.sink.Send(ctx, NewNotification(change)); err != nil {
		slog.Error("failed to deliver state notification", "error", err, "sink", o.name, "state", change.State.String(), "session_id", change.SessionID)
	}
}
