package session

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/permission"
	"github.com/foxseedlab/kikitori/internal/speech"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type mockCapture struct {
	log       *eventLog
	startErr  error
	stopDelay time.Duration

	mu         sync.Mutex
	active     bool
	receiver   audio.FrameReceiver
	starts     int
	stops      int
	busyErrors int
	started    chan audio.FrameReceiver
}

func newMockCapture(log *eventLog) *mockCapture {
	return &mockCapture{log: log, started: make(chan audio.FrameReceiver, 16)}
}

func (m *mockCapture) Start(_ context.Context, receiver audio.FrameReceiver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.busyErrors++
		return audio.ErrDeviceBusy
	}
	if m.startErr != nil {
		return m.startErr
	}
	m.active = true
	m.receiver = receiver
	m.starts++
	m.log.add("capture.start")
	select {
	case m.started <- receiver:
	default:
	}
	return nil
}

func (m *mockCapture) Stop() {
	if m.stopDelay > 0 {
		time.Sleep(m.stopDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if !m.active {
		return
	}
	m.active = false
	m.receiver = nil
	m.log.add("capture.stop")
}

func (m *mockCapture) Format() audio.Format {
	return testFormat
}

func (m *mockCapture) counts() (starts, stops, busy int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops, m.busyErrors, m.active
}

func (m *mockCapture) waitStarted(t *testing.T) audio.FrameReceiver {
	t.Helper()
	select {
	case r := <-m.started:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("capture was not started")
		return nil
	}
}

type mockRequest struct {
	locale    speech.Locale
	ctx       context.Context
	stream    *transcriber.Stream
	log       *eventLog
	appendErr error
	appended  atomic.Int64
	endCalls  atomic.Int64
}

func (r *mockRequest) Append(audio.Frame) error {
	r.appended.Add(1)
	return r.appendErr
}

func (r *mockRequest) EndAudio() error {
	if r.endCalls.Add(1) == 1 {
		r.log.add("recognizer.end")
	}
	return nil
}

func (r *mockRequest) Results() iter.Seq2[speech.Result, error] {
	return r.stream.Results()
}

func (r *mockRequest) push(text string, final bool) bool {
	return r.stream.Push(speech.NewResult([]speech.Segment{{Text: text}}, final))
}

type mockEngine struct {
	log         *eventLog
	unsupported map[speech.Locale]bool
	appendErr   error
	requests    chan *mockRequest
}

func newMockEngine(log *eventLog) *mockEngine {
	return &mockEngine{log: log, requests: make(chan *mockRequest, 64)}
}

func (e *mockEngine) Recognize(ctx context.Context, locale speech.Locale, format audio.Format) (transcriber.Request, error) {
	if e.unsupported[locale] {
		return nil, speech.RecognizerUnavailable(locale)
	}
	if format != testFormat {
		return nil, errors.New("unexpected format")
	}
	e.log.add("recognizer.start " + locale.String())
	r := &mockRequest{
		locale:    locale,
		ctx:       ctx,
		stream:    transcriber.NewStream(ctx, 0),
		log:       e.log,
		appendErr: e.appendErr,
	}
	select {
	case e.requests <- r:
	default:
	}
	return r, nil
}

func (e *mockEngine) waitRequest(t *testing.T) *mockRequest {
	t.Helper()
	select {
	case r := <-e.requests:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer was not started")
		return nil
	}
}

type mockGate struct {
	mu         sync.Mutex
	status     permission.Status
	grantOnReq bool
	requestErr error
	requests   int
}

func (g *mockGate) CurrentStatus() permission.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *mockGate) RequestPermission(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests++
	if g.requestErr != nil {
		return g.requestErr
	}
	if g.grantOnReq {
		g.status = permission.StatusGranted
	}
	if g.status != permission.StatusGranted {
		return speech.PermissionDenied("denied")
	}
	return nil
}

func (g *mockGate) Refresh(context.Context) permission.Status {
	return g.CurrentStatus()
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) OnStateChange(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) snapshot() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *recorder) labels() []string {
	changes := r.snapshot()
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		label := c.State.String()
		if p := c.State.Partial(); p != nil {
			label += "(" + p.Text + ")"
		}
		out = append(out, label)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type mockDiscordClient struct {
	mu                   sync.Mutex
	sendCalls            []string
	userVoiceChannelByID map[string]string
	participants         []discord.VoiceParticipant
}

func (m *mockDiscordClient) Connect(context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                  { return nil }
func (m *mockDiscordClient) JoinVoiceChannel(_, _ string) (discord.VoiceConnection, error) {
	return nil, errors.New("not supported")
}
func (m *mockDiscordClient) SendChannelMessage(_ string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, content)
	return nil
}
func (m *mockDiscordClient) RegisterVoiceStateUpdateHandler(func(discord.VoiceStateEvent)) {}
func (m *mockDiscordClient) RegisterSlashCommandHandler(func(discord.SlashCommandEvent))   {}
func (m *mockDiscordClient) UpsertGuildSlashCommands(string, []discord.SlashCommandDefinition) error {
	return nil
}
func (m *mockDiscordClient) GetUserVoiceChannelID(_, userID string) (string, error) {
	return m.userVoiceChannelByID[userID], nil
}
func (m *mockDiscordClient) ListVoiceChannelParticipants(_, _ string) ([]discord.VoiceParticipant, error) {
	return m.participants, nil
}

func (m *mockDiscordClient) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sendCalls...)
}
