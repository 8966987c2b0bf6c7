package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/speech"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/gorilla/websocket"
)

const (
	defaultDeepgramURL     = "wss://api.deepgram.com/v1/listen"
	deepgramDialTimeout    = 10 * time.Second
	deepgramWriteTimeout   = 5 * time.Second
	deepgramResultsMessage = "Results"
)

type DeepgramConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	EndOnFinal bool
}

type DeepgramEngine struct {
	apiKey     string
	model      string
	baseURL    string
	endOnFinal bool
	locales    *transcriber.Locales
	dialer     *websocket.Dialer
}

func NewDeepgramEngine(cfg DeepgramConfig, locales *transcriber.Locales) transcriber.Engine {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultDeepgramURL
	}
	return &DeepgramEngine{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    baseURL,
		endOnFinal: cfg.EndOnFinal,
		locales:    locales,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: deepgramDialTimeout,
		},
	}
}

func (e *DeepgramEngine) listenURL(language speech.Locale, format audio.Format) (string, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	if e.model != "" {
		q.Set("model", e.model)
	}
	q.Set("language", language.String())
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(format.SampleRate))
	q.Set("channels", strconv.Itoa(format.Channels))
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *DeepgramEngine) Recognize(ctx context.Context, locale speech.Locale, format audio.Format) (transcriber.Request, error) {
	language, err := e.locales.Resolve(locale)
	if err != nil {
		return nil, err
	}
	target, err := e.listenURL(language, format)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+e.apiKey)

	conn, resp, err := e.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			slog.Warn("deepgram rejected the stream configuration", "error", err, "locale", locale)
			return nil, speech.RecognizerUnavailable(locale)
		}
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}
	slog.Info("deepgram stream initialized", "language", language, "model", e.model, "sample_rate", format.SampleRate, "channels", format.Channels)

	r := &deepgramRequest{
		ctx:        ctx,
		conn:       conn,
		endOnFinal: e.endOnFinal,
		audio:      make(chan []byte, audioQueueFrames),
		results:    transcriber.NewStream(ctx, 0),
		readDone:   make(chan struct{}),
	}
	go r.readLoop()
	go r.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
		case <-r.readDone:
		}
		_ = conn.Close()
	}()
	return r, nil
}

type deepgramRequest struct {
	ctx        context.Context
	conn       *websocket.Conn
	endOnFinal bool

	mu      sync.Mutex
	closed  bool
	audio   chan []byte
	dropped atomic.Int64

	results  *transcriber.Stream
	acc      transcriber.Accumulator
	readDone chan struct{}
}

func (r *deepgramRequest) Append(frame audio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRequestClosed
	}
	select {
	case r.audio <- frame.PCM:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("deepgram send queue full; dropping audio", "dropped_frames", n)
		}
	}
	return nil
}

func (r *deepgramRequest) EndAudio() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.audio)
	return nil
}

func (r *deepgramRequest) Results() iter.Seq2[speech.Result, error] {
	return r.results.Results()
}

// writeLoop is the connection's only writer.
func (r *deepgramRequest) writeLoop() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.readDone:
			return
		case pcm, ok := <-r.audio:
			if !ok {
				_ = r.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
				return
			}
			if err := r.write(websocket.BinaryMessage, pcm); err != nil {
				slog.Error("failed to send audio to deepgram", "error", err)
				r.results.Fail(err)
				return
			}
		}
	}
}

func (r *deepgramRequest) write(messageType int, data []byte) error {
	_ = r.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	return r.conn.WriteMessage(messageType, data)
}

type deepgramMessage struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float32 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r *deepgramRequest) readLoop() {
	defer close(r.readDone)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Info("deepgram receive loop stopped", "reason", "closed")
				r.results.Finish()
				return
			}
			r.results.Fail(fmt.Errorf("read deepgram message: %w", err))
			return
		}
		segments, final, err := parseDeepgramMessage(data)
		if err != nil {
			slog.Warn("ignoring malformed deepgram message", "error", err)
			continue
		}
		if len(segments) == 0 {
			continue
		}
		if !r.results.Push(r.acc.Apply(segments, final, final)) {
			return
		}
		if final && r.endOnFinal {
			r.results.Finish()
			return
		}
	}
}

var errNoAlternatives = errors.New("results message without alternatives")

// parseDeepgramMessage extracts the best alternative of a Results message.
// Other message types yield no segments.
func parseDeepgramMessage(data []byte) ([]speech.Segment, bool, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("decode deepgram message: %w", err)
	}
	if msg.Type != deepgramResultsMessage {
		return nil, false, nil
	}
	if len(msg.Channel.Alternatives) == 0 {
		return nil, false, errNoAlternatives
	}
	best := msg.Channel.Alternatives[0]
	if best.Transcript == "" {
		return nil, false, nil
	}
	start := time.Duration(msg.Start * float64(time.Second))
	return []speech.Segment{{
		Text:       best.Transcript,
		Confidence: best.Confidence,
		Start:      start,
		End:        start + time.Duration(msg.Duration*float64(time.Second)),
	}}, msg.IsFinal, nil
}
