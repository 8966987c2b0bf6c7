package audio

import (
	"context"
	"errors"
	"time"
)

var ErrDeviceBusy = errors.New("capture device is already in use")

type Format struct {
	SampleRate int
	Channels   int
}

// Frame holds little-endian signed 16-bit PCM.
type Frame struct {
	PCM        []byte
	Format     Format
	CapturedAt time.Time
}

// FrameReceiver is invoked from the device's delivery context. Implementations
// must return promptly.
type FrameReceiver interface {
	OnFrame(frame Frame)
	OnCaptureError(err error)
}

type CaptureSource interface {
	// Start fails with ErrDeviceBusy when the source is already started.
	Start(ctx context.Context, receiver FrameReceiver) error
	// Stop is idempotent and safe after a failed Start.
	Stop()
	Format() Format
}
