package transcriber

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/foxseedlab/kikitori/internal/speech"
)

var ErrStreamConsumed = errors.New("recognition results were already consumed")

type streamItem struct {
	result speech.Result
	err    error
	last   bool
}

// Stream turns pushes from an engine's receive loop into a single-consumer
// sequence. Nothing is yielded once ctx is done.
type Stream struct {
	ctx       context.Context
	items     chan streamItem
	closed    chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
	consumed  atomic.Bool
}

func NewStream(ctx context.Context, buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		ctx:    ctx,
		items:  make(chan streamItem, buffer),
		closed: make(chan struct{}),
	}
}

// Push blocks until the consumer has room, and reports false once the
// consumer is gone.
func (s *Stream) Push(r speech.Result) bool {
	select {
	case s.items <- streamItem{result: r}:
		return true
	case <-s.closed:
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Stream) Finish() {
	s.end(nil)
}

func (s *Stream) Fail(err error) {
	s.end(err)
}

func (s *Stream) end(err error) {
	s.endOnce.Do(func() {
		select {
		case s.items <- streamItem{err: err, last: true}:
		case <-s.closed:
		case <-s.ctx.Done():
		}
	})
}

// Close releases producers blocked in Push.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *Stream) Done() <-chan struct{} {
	return s.closed
}

func (s *Stream) Results() iter.Seq2[speech.Result, error] {
	return func(yield func(speech.Result, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(speech.Result{}, ErrStreamConsumed)
			return
		}
		defer s.Close()
		for {
			select {
			case <-s.ctx.Done():
				return
			case it := <-s.items:
				if s.ctx.Err() != nil {
					return
				}
				if it.last {
					if it.err != nil {
						yield(speech.Result{}, it.err)
					}
					return
				}
				if !yield(it.result, nil) {
					return
				}
			}
		}
	}
}
