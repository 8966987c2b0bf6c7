package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/foxseedlab/kikitori/internal/audio"
)

// Asterisk AudioSocket always carries signed linear 8 kHz mono.
var audioSocketFormat = audio.Format{SampleRate: 8000, Channels: 1}

// AudioSocketCapture accepts one Asterisk AudioSocket call at a time and
// delivers its audio. A hangup ends the call but not the capture; the next
// call is accepted until Stop.
type AudioSocketCapture struct {
	listenAddr string

	mu  sync.Mutex
	run *socketRun
}

type socketRun struct {
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	connMu sync.Mutex
	conn   net.Conn
}

func NewAudioSocketCapture(listenAddr string) *AudioSocketCapture {
	return &AudioSocketCapture{listenAddr: listenAddr}
}

func (c *AudioSocketCapture) Format() audio.Format {
	return audioSocketFormat
}

// Addr is the bound listen address while started.
func (c *AudioSocketCapture) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.listener.Addr()
}

func (c *AudioSocketCapture) Start(ctx context.Context, receiver audio.FrameReceiver) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return audio.ErrDeviceBusy
	}
	ln, err := net.Listen("tcp", c.listenAddr)
	if err != nil {
		return fmt.Errorf("listen audiosocket on %s: %w", c.listenAddr, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &socketRun{listener: ln, cancel: cancel, done: make(chan struct{})}
	c.run = run
	slog.Info("audiosocket capture listening", "addr", ln.Addr().String())
	go c.serve(runCtx, run, receiver)
	return nil
}

func (c *AudioSocketCapture) serve(ctx context.Context, run *socketRun, receiver audio.FrameReceiver) {
	defer close(run.done)
	for {
		conn, err := run.listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				receiver.OnCaptureError(fmt.Errorf("accept audiosocket connection: %w", err))
			}
			return
		}
		run.setConn(conn)
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		err = c.handleCall(conn, receiver)
		run.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("audiosocket call failed", "error", err)
			receiver.OnCaptureError(err)
			return
		}
	}
}

func (c *AudioSocketCapture) handleCall(conn net.Conn, receiver audio.FrameReceiver) error {
	id, err := audiosocket.GetID(conn)
	if err != nil {
		return fmt.Errorf("read audiosocket call id: %w", err)
	}
	slog.Info("audiosocket call started", "call_id", id.String(), "remote", conn.RemoteAddr().String())
	var frames int64
	for {
		msg, err := audiosocket.NextMessage(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("audiosocket call closed", "call_id", id.String(), "frames", frames)
				return nil
			}
			return fmt.Errorf("read audiosocket message: %w", err)
		}
		switch msg.Kind() {
		case audiosocket.KindSlin:
			payload := msg.Payload()
			if len(payload) == 0 {
				continue
			}
			pcm := make([]byte, len(payload))
			copy(pcm, payload)
			frames++
			receiver.OnFrame(audio.Frame{PCM: pcm, Format: audioSocketFormat, CapturedAt: time.Now()})
		case audiosocket.KindHangup:
			slog.Info("audiosocket call hung up", "call_id", id.String(), "frames", frames)
			return nil
		case audiosocket.KindError:
			return fmt.Errorf("audiosocket reported error code %d", msg.ErrorCode())
		}
	}
}

func (r *socketRun) setConn(conn net.Conn) {
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
}

func (r *socketRun) closeConn() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

func (c *AudioSocketCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	run := c.run
	c.run = nil
	if run == nil {
		return
	}
	run.cancel()
	_ = run.listener.Close()
	run.closeConn()
	<-run.done
	slog.Info("audiosocket capture stopped")
}
