package transcriber

import (
	"context"
	"iter"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/speech"
)

// Request is one recognition pass. Append is the frame feed and Results the
// hypotheses produced from it.
type Request interface {
	// Append must not block on the network.
	Append(frame audio.Frame) error
	// EndAudio signals end of audio and releases the request. Idempotent.
	EndAudio() error
	// Results can be consumed once.
	Results() iter.Seq2[speech.Result, error]
}

type Engine interface {
	// Recognize fails with speech.RecognizerUnavailable before doing any I/O
	// when the locale is not supported.
	Recognize(ctx context.Context, locale speech.Locale, format audio.Format) (Request, error)
}
