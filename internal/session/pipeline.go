package session

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/speech"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

// Runner produces the hypotheses of one transcription session.
type Runner interface {
	Run(ctx context.Context, locale speech.Locale) iter.Seq2[speech.Result, error]
}

// Pipeline wires a capture source to a recognition engine for one session at
// a time. The caller guarantees runs do not overlap.
type Pipeline struct {
	capture     audio.CaptureSource
	engine      transcriber.Engine
	tapCapacity int
}

func NewPipeline(capture audio.CaptureSource, engine transcriber.Engine, tapCapacity int) *Pipeline {
	return &Pipeline{
		capture:     capture,
		engine:      engine,
		tapCapacity: tapCapacity,
	}
}

// Run acquires the recognizer and then the capture device, and yields every
// hypothesis until the engine ends the stream, ctx is cancelled, a component
// fails or the consumer stops. Both resources are released on every exit path
// before the sequence returns. A terminal error is yielded as the last item;
// cancellation through ctx ends the sequence without one.
func (p *Pipeline) Run(ctx context.Context, locale speech.Locale) iter.Seq2[speech.Result, error] {
	return func(yield func(speech.Result, error) bool) {
		runCtx, cancelRun := context.WithCancelCause(ctx)
		defer cancelRun(nil)

		format := p.capture.Format()
		req, err := p.engine.Recognize(runCtx, locale, format)
		if err != nil {
			slog.Error("failed to start recognition", "error", err, "locale", locale)
			yield(speech.Result{}, speech.AsRecognitionFailure(err))
			return
		}

		tap := audio.NewTap(p.tapCapacity)
		var (
			fenced       atomic.Bool
			pumpDone     = make(chan struct{})
			pumpStarted  bool
			stopCapture  bool
			hypotheses   int
			startedAt    = time.Now()
			appendErrors atomic.Int64
		)
		release := sync.OnceFunc(func() {
			fenced.Store(true)
			tap.Close()
			if pumpStarted {
				<-pumpDone
			}
			if err := req.EndAudio(); err != nil {
				slog.Warn("failed to end recognition audio", "error", err, "locale", locale)
			}
			if stopCapture {
				p.capture.Stop()
			}
			cancelRun(context.Canceled)
			slog.Info("transcription session released",
				"locale", locale,
				"duration", time.Since(startedAt).String(),
				"delivered_frames", tap.Delivered(),
				"dropped_frames", tap.Dropped(),
				"append_errors", appendErrors.Load(),
				"hypotheses", hypotheses)
		})
		defer release()

		receiver := &pipelineReceiver{
			tap: tap,
			fail: func(err error) {
				slog.Error("audio capture failed during session", "error", err, "locale", locale)
				cancelRun(speech.AsCaptureFailure(err))
			},
		}
		if err := p.capture.Start(runCtx, receiver); err != nil {
			// a busy device belongs to someone else and must not be stopped here
			stopCapture = !errors.Is(err, audio.ErrDeviceBusy)
			slog.Error("failed to start audio capture", "error", err, "locale", locale)
			yield(speech.Result{}, speech.AsCaptureFailure(err))
			return
		}
		stopCapture = true
		slog.Info("audio capture started", "locale", locale, "sample_rate", format.SampleRate, "channels", format.Channels)

		pumpStarted = true
		go func() {
			defer close(pumpDone)
			for frame := range tap.Frames() {
				if fenced.Load() || runCtx.Err() != nil {
					continue
				}
				if err := req.Append(frame); err != nil {
					appendErrors.Add(1)
					cancelRun(speech.AsRecognitionFailure(err))
				}
			}
		}()

		for result, err := range req.Results() {
			if runCtx.Err() != nil {
				break
			}
			if err != nil {
				yield(speech.Result{}, speech.AsRecognitionFailure(err))
				return
			}
			hypotheses++
			if !yield(result, nil) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		var cause *speech.Error
		if errors.As(context.Cause(runCtx), &cause) {
			yield(speech.Result{}, cause)
		}
	}
}

type pipelineReceiver struct {
	tap  *audio.Tap
	fail func(error)
}

func (r *pipelineReceiver) OnFrame(frame audio.Frame) {
	r.tap.Deliver(frame)
}

func (r *pipelineReceiver) OnCaptureError(err error) {
	r.fail(err)
}
