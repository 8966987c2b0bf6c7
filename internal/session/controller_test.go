package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/permission"
	"github.com/foxseedlab/kikitori/internal/speech"
)

type controllerFixture struct {
	log      *eventLog
	capture  *mockCapture
	engine   *mockEngine
	gate     *mockGate
	recorder *recorder
	c        *Controller
}

func newControllerFixture(t *testing.T, status permission.Status) *controllerFixture {
	t.Helper()
	log := &eventLog{}
	f := &controllerFixture{
		log:      log,
		capture:  newMockCapture(log),
		engine:   newMockEngine(log),
		gate:     &mockGate{status: status},
		recorder: &recorder{},
	}
	f.c = NewController(f.gate, NewPipeline(f.capture, f.engine, 8), f.recorder)
	t.Cleanup(func() { f.shutdown(t) })
	return f
}

func (f *controllerFixture) shutdown(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.c.Shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func (f *controllerFixture) waitKind(t *testing.T, kind StateKind) State {
	t.Helper()
	waitFor(t, "state "+kind.String(), func() bool { return f.c.State().Kind() == kind })
	return f.c.State()
}

func TestController_PermissionThenRecordingScenario(t *testing.T) {
	f := newControllerFixture(t, permission.StatusUnknown)
	f.gate.grantOnReq = true

	if err := f.c.RequestPermission(context.Background()); err != nil {
		t.Fatalf("unexpected permission error: %v", err)
	}
	f.c.StartRecording("en-US")
	req := f.engine.waitRequest(t)
	f.capture.waitStarted(t)
	req.push("hel", false)
	req.push("hello", true)
	req.stream.Finish()
	f.waitKind(t, StateIdle)
	f.shutdown(t)

	want := []string{"Requires Permission", "Idle", "Recording", "Recording(hel)", "Recording(hello)", "Idle"}
	if got := f.recorder.labels(); !slices.Equal(got, want) {
		t.Fatalf("unexpected state sequence:\n got %v\nwant %v", got, want)
	}
	if _, stops, _, active := f.capture.counts(); stops != 1 || active {
		t.Fatalf("expected device released once, stops=%d active=%v", stops, active)
	}
}

func TestController_InitialStateFollowsPermission(t *testing.T) {
	cases := []struct {
		status permission.Status
		want   StateKind
	}{
		{permission.StatusGranted, StateIdle},
		{permission.StatusUnknown, StateRequiresPermission},
		{permission.StatusDenied, StateRequiresPermission},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			f := newControllerFixture(t, tc.status)
			if got := f.c.State().Kind(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestController_StartWithoutPermissionIsNoop(t *testing.T) {
	f := newControllerFixture(t, permission.StatusDenied)

	f.c.StartRecording("en-US")
	f.shutdown(t)

	if got := f.c.State().Kind(); got != StateRequiresPermission {
		t.Fatalf("expected state to stay RequiresPermission, got %v", got)
	}
	if starts, _, _, _ := f.capture.counts(); starts != 0 {
		t.Fatalf("capture started without permission: %d", starts)
	}
	if len(f.engine.requests) != 0 {
		t.Fatal("recognizer started without permission")
	}
	if got := f.recorder.labels(); !slices.Equal(got, []string{"Requires Permission"}) {
		t.Fatalf("unexpected state sequence: %v", got)
	}
}

func TestController_StopWhileIdleIsNoop(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)

	f.c.StopRecording()
	f.shutdown(t)

	if got := f.recorder.labels(); !slices.Equal(got, []string{"Idle"}) {
		t.Fatalf("unexpected state sequence: %v", got)
	}
}

func TestController_StopSettlesToIdleAfterRelease(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)

	f.c.StartRecording("en-US")
	f.engine.waitRequest(t)
	f.capture.waitStarted(t)
	if _, _, ok := f.c.Active(); !ok {
		t.Fatal("expected an active session")
	}

	f.c.StopRecording()
	if _, _, ok := f.c.Active(); ok {
		t.Fatal("expected the handle to be cleared synchronously")
	}
	f.waitKind(t, StateIdle)
	if _, _, _, active := f.capture.counts(); active {
		t.Fatal("device still active after stop settled")
	}
}

func TestController_StopThenStartWaitsForSlowRelease(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)
	f.capture.stopDelay = 100 * time.Millisecond

	f.c.StartRecording("en-US")
	f.engine.waitRequest(t)
	f.capture.waitStarted(t)

	f.c.StopRecording()
	f.c.StartRecording("ja-JP")
	second := f.engine.waitRequest(t)
	f.capture.waitStarted(t)
	if s := f.c.State(); s.Kind() != StateRecording {
		t.Fatalf("expected recording, got %s", s)
	}

	second.stream.Finish()
	f.waitKind(t, StateIdle)
	f.shutdown(t)

	want := []string{
		"recognizer.start en-US", "capture.start", "recognizer.end", "capture.stop",
		"recognizer.start ja-JP", "capture.start", "recognizer.end", "capture.stop",
	}
	if got := f.log.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("unexpected lifecycle:\n got %v\nwant %v", got, want)
	}
	if _, _, busy, _ := f.capture.counts(); busy != 0 {
		t.Fatalf("device acquired while still held: %d", busy)
	}
}

func TestController_CaptureFailureBecomesErrorState(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)

	f.c.StartRecording("en-US")
	req := f.engine.waitRequest(t)
	receiver := f.capture.waitStarted(t)
	req.push("partial", false)
	cause := errors.New("device unplugged")
	receiver.OnCaptureError(cause)

	s := f.waitKind(t, StateError)
	if s.Err() == nil || s.Err().Kind != speech.KindCaptureFailure || !errors.Is(s.Err(), cause) {
		t.Fatalf("expected capture failure state, got %v", s)
	}
	if _, stops, _, active := f.capture.counts(); stops != 1 || active {
		t.Fatalf("expected device released once, stops=%d active=%v", stops, active)
	}
	if _, _, ok := f.c.Active(); ok {
		t.Fatal("expected no active session after failure")
	}
}

func TestController_UnsupportedLocaleNeverAcquiresDevice(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)
	f.engine.unsupported = map[speech.Locale]bool{"xx-XX": true}

	f.c.StartRecording("xx-XX")
	s := f.waitKind(t, StateError)

	if !errors.Is(s.Err(), speech.ErrRecognizerUnavailable) || s.Err().Locale != "xx-XX" {
		t.Fatalf("expected recognizer unavailable for xx-XX, got %v", s)
	}
	if starts, _, _, _ := f.capture.counts(); starts != 0 {
		t.Fatalf("capture started for unsupported locale: %d", starts)
	}
}

func TestController_ErrorRecoversWithNewStart(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)
	f.engine.unsupported = map[speech.Locale]bool{"xx-XX": true}

	f.c.StartRecording("xx-XX")
	f.waitKind(t, StateError)
	f.c.StartRecording("en-US")
	if got := f.c.State().Kind(); got != StateRecording {
		t.Fatalf("expected Recording right after start, got %v", got)
	}
	req := f.engine.waitRequest(t)
	f.capture.waitStarted(t)
	req.push("ok", true)
	req.stream.Finish()
	f.waitKind(t, StateIdle)
}

func TestController_LocaleSwitchReleasesBeforeReacquiring(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)

	f.c.StartRecording("en-US")
	first := f.engine.waitRequest(t)
	f.capture.waitStarted(t)
	first.push("hello", false)
	firstID, _, _ := f.c.Active()

	f.c.StartRecording("ja-JP")
	second := f.engine.waitRequest(t)
	f.capture.waitStarted(t)
	secondID, locale, _ := f.c.Active()
	if locale != "ja-JP" || secondID == firstID {
		t.Fatalf("unexpected active session %s %s", secondID, locale)
	}
	// the superseded session can no longer deliver results
	if first.push("late", false) {
		t.Fatal("superseded recognizer still accepted results")
	}

	second.push("konnichiwa", true)
	second.stream.Finish()
	f.waitKind(t, StateIdle)
	f.shutdown(t)

	want := []string{
		"recognizer.start en-US", "capture.start", "recognizer.end", "capture.stop",
		"recognizer.start ja-JP", "capture.start", "recognizer.end", "capture.stop",
	}
	if got := f.log.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("unexpected lifecycle:\n got %v\nwant %v", got, want)
	}
	if _, _, busy, _ := f.capture.counts(); busy != 0 {
		t.Fatalf("device acquired while still held: %d", busy)
	}

	changes := f.recorder.snapshot()
	switched := slices.IndexFunc(changes, func(c Change) bool { return c.SessionID == secondID })
	for _, c := range changes[switched:] {
		if c.SessionID == firstID {
			t.Fatalf("change from superseded session after switch: %v", c.State)
		}
	}
	var lastPartial *speech.Result
	for _, c := range changes {
		if p := c.State.Partial(); p != nil {
			lastPartial = p
		}
	}
	if lastPartial == nil || lastPartial.Text != "konnichiwa" {
		t.Fatalf("expected final hypothesis from the new locale, got %v", lastPartial)
	}
}

func TestController_RequestPermissionFailureLeavesState(t *testing.T) {
	f := newControllerFixture(t, permission.StatusUnknown)
	f.gate.requestErr = speech.PermissionDenied("restricted")

	err := f.c.RequestPermission(context.Background())
	if !errors.Is(err, speech.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if got := f.c.State().Kind(); got != StateRequiresPermission {
		t.Fatalf("expected RequiresPermission, got %v", got)
	}
}

func TestController_RequestPermissionWhileRecordingKeepsState(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)

	f.c.StartRecording("en-US")
	f.engine.waitRequest(t)
	f.capture.waitStarted(t)
	if err := f.c.RequestPermission(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.c.State().Kind(); got != StateRecording {
		t.Fatalf("expected Recording, got %v", got)
	}
}

func TestController_RandomStartStopNeverOverlapsDevice(t *testing.T) {
	f := newControllerFixture(t, permission.StatusGranted)
	locales := []speech.Locale{"en-US", "ja-JP"}
	rng := rand.New(rand.NewPCG(7, 11))

	for range 200 {
		switch rng.IntN(4) {
		case 0, 1:
			f.c.StartRecording(locales[rng.IntN(len(locales))])
		case 2:
			f.c.StopRecording()
		case 3:
			f.capture.mu.Lock()
			r := f.capture.receiver
			f.capture.mu.Unlock()
			if r != nil {
				r.OnFrame(audio.Frame{PCM: make([]byte, 4), Format: testFormat})
			}
		}
	}
	f.shutdown(t)

	if _, _, busy, active := f.capture.counts(); busy != 0 || active {
		t.Fatalf("device overlap detected: busy=%d active=%v", busy, active)
	}
	depth := 0
	for _, e := range f.log.snapshot() {
		switch e {
		case "capture.start":
			depth++
		case "capture.stop":
			depth--
		}
		if depth < 0 || depth > 1 {
			t.Fatalf("more than one live acquisition in %v", f.log.snapshot())
		}
	}
	if got := f.c.State().Kind(); got != StateIdle {
		t.Fatalf("expected Idle after shutdown, got %v", got)
	}
}

func TestPublisher_PanickingObserverDoesNotStopDelivery(t *testing.T) {
	rec := &recorder{}
	panicky := ObserverFunc(func(Change) { panic("observer bug") })
	c := NewController(&mockGate{status: permission.StatusGranted}, nil, panicky, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if got := rec.labels(); !slices.Equal(got, []string{"Idle"}) {
		t.Fatalf("unexpected state sequence: %v", got)
	}
}
