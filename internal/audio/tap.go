package audio

import (
	"sync"
	"sync/atomic"
)

// Tap hands frames from a capture callback to a single consumer. Deliver
// never blocks; frames that do not fit are dropped and counted.
type Tap struct {
	mu        sync.RWMutex
	closed    bool
	frames    chan Frame
	delivered atomic.Int64
	dropped   atomic.Int64
}

func NewTap(capacity int) *Tap {
	if capacity < 1 {
		capacity = 1
	}
	return &Tap{frames: make(chan Frame, capacity)}
}

func (t *Tap) Deliver(frame Frame) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.frames <- frame:
		t.delivered.Add(1)
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// Frames is closed by Close.
func (t *Tap) Frames() <-chan Frame {
	return t.frames
}

func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.frames)
}

func (t *Tap) Delivered() int64 {
	return t.delivered.Load()
}

func (t *Tap) Dropped() int64 {
	return t.dropped.Load()
}
