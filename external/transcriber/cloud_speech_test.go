package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/speech"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestIsReconnectableStreamError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "eof", err: io.EOF, want: true},
		{name: "wrapped eof", err: fmt.Errorf("send: %w", io.EOF), want: true},
		{name: "max duration", err: status.Error(codes.Aborted, "Max duration of 5 minutes reached for stream."), want: true},
		{name: "client idle", err: status.Error(codes.Aborted, "Stream timed out after receiving no more client requests."), want: true},
		{name: "other abort", err: status.Error(codes.Aborted, "something else"), want: false},
		{name: "unavailable", err: status.Error(codes.Unavailable, "max duration of 5 minutes"), want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isReconnectableStreamError(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestClassifyRecvError(t *testing.T) {
	invalid := status.Error(codes.InvalidArgument, "language not supported")

	err := classifyRecvError(invalid, "xx-XX", false)
	var se *speech.Error
	if !errors.As(err, &se) || se.Kind != speech.KindRecognizerUnavailable || se.Locale != "xx-XX" {
		t.Fatalf("expected recognizer unavailable, got %v", err)
	}
	if got := classifyRecvError(invalid, "xx-XX", true); got != invalid {
		t.Fatalf("expected raw error after results, got %v", got)
	}
	internal := status.Error(codes.Internal, "oops")
	if got := classifyRecvError(internal, "en-US", false); got != internal {
		t.Fatalf("expected raw error, got %v", got)
	}
}

func TestSegmentsFromResponse(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{
				Alternatives:    []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello", Confidence: 0.9}},
				IsFinal:         true,
				ResultEndOffset: durationpb.New(1500 * time.Millisecond),
			},
			{Alternatives: nil, IsFinal: true},
		},
	}
	segs, final := segmentsFromResponse(resp)
	if !final || len(segs) != 1 {
		t.Fatalf("unexpected segments %v final=%v", segs, final)
	}
	if segs[0].Text != "hello" || segs[0].End != 1500*time.Millisecond || segs[0].Confidence != 0.9 {
		t.Fatalf("unexpected segment %+v", segs[0])
	}

	mixed := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "a"}}, IsFinal: true},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "b"}}},
		},
	}
	if segs, final := segmentsFromResponse(mixed); final || len(segs) != 2 {
		t.Fatalf("expected interim with two segments, got %v final=%v", segs, final)
	}

	if segs, final := segmentsFromResponse(&speechpb.StreamingRecognizeResponse{}); final || len(segs) != 0 {
		t.Fatalf("expected nothing from an empty response, got %v final=%v", segs, final)
	}
}

func TestStreamingConfig_UsesCaptureFormat(t *testing.T) {
	cfg := streamingConfig("chirp_3", "ja-JP", audio.Format{SampleRate: 48000, Channels: 2})
	dec := cfg.GetConfig().GetExplicitDecodingConfig()
	if dec.GetSampleRateHertz() != 48000 || dec.GetAudioChannelCount() != 2 || dec.GetEncoding() != speechpb.ExplicitDecodingConfig_LINEAR16 {
		t.Fatalf("unexpected decoding config %v", dec)
	}
	if got := cfg.GetConfig().GetLanguageCodes(); len(got) != 1 || got[0] != "ja-JP" {
		t.Fatalf("unexpected language codes %v", got)
	}
	if !cfg.GetStreamingFeatures().GetInterimResults() {
		t.Fatal("interim results must be enabled")
	}
}

func TestRegionalEndpoint(t *testing.T) {
	if got := regionalEndpoint("global"); got != "" {
		t.Fatalf("expected default endpoint for global, got %q", got)
	}
	if got := regionalEndpoint("asia-northeast1"); got != "asia-northeast1-speech.googleapis.com:443" {
		t.Fatalf("unexpected endpoint %q", got)
	}
	if got := recognizerName("p", "us"); got != "projects/p/locations/us/recognizers/_" {
		t.Fatalf("unexpected recognizer %q", got)
	}
}

func TestCloudSpeechEngine_UnsupportedLocaleFailsBeforeDialing(t *testing.T) {
	locales, err := transcriber.NewLocales([]string{"en-US", "ja-JP"})
	if err != nil {
		t.Fatalf("locales: %v", err)
	}
	// no credentials: reaching the dialer would fail with a different error
	e := NewCloudSpeechEngine(CloudSpeechConfig{ProjectID: "p", Location: "global"}, locales)

	_, err = e.Recognize(context.Background(), "fr-FR", audio.Format{SampleRate: 16000, Channels: 1})
	if !errors.Is(err, speech.ErrRecognizerUnavailable) {
		t.Fatalf("expected recognizer unavailable, got %v", err)
	}
}

func TestCloudRequest_AppendAfterEndAudio(t *testing.T) {
	r := &cloudRequest{audio: make(chan []byte, 1)}
	if err := r.Append(audio.Frame{PCM: []byte{1, 2}}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	// queue full: the frame is dropped without blocking
	if err := r.Append(audio.Frame{PCM: []byte{3, 4}}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if r.dropped.Load() != 1 {
		t.Fatalf("expected one dropped frame, got %d", r.dropped.Load())
	}
	if err := r.EndAudio(); err != nil {
		t.Fatalf("unexpected end error: %v", err)
	}
	if err := r.EndAudio(); err != nil {
		t.Fatalf("second end must be a no-op, got %v", err)
	}
	if err := r.Append(audio.Frame{PCM: []byte{5}}); !errors.Is(err, errRequestClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

type recvItem struct {
	resp *speechpb.StreamingRecognizeResponse
	err  error
}

// fakeSpeechStream replays queued responses and records the audio it is sent.
type fakeSpeechStream struct {
	grpc.ClientStream
	sendErr   error
	responses chan recvItem

	mu         sync.Mutex
	sent       [][]byte
	closedSend atomic.Bool
}

func newFakeSpeechStream(items ...recvItem) *fakeSpeechStream {
	s := &fakeSpeechStream{responses: make(chan recvItem, len(items))}
	for _, it := range items {
		s.responses <- it
	}
	return s
}

func (s *fakeSpeechStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	pcm := req.GetAudio()
	if pcm == nil {
		return nil
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, pcm)
	return nil
}

func (s *fakeSpeechStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	it := <-s.responses
	return it.resp, it.err
}

func (s *fakeSpeechStream) CloseSend() error {
	s.closedSend.Store(true)
	return nil
}

func (s *fakeSpeechStream) sentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

func speechResponse(text string, final bool) recvItem {
	return recvItem{resp: &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
			IsFinal:      final,
		}},
	}}
}

type cloudRun struct {
	req      *cloudRequest
	released chan struct{}
	opens    atomic.Int32
}

func startCloudRun(t *testing.T, endOnFinal bool, first *fakeSpeechStream, reconnects ...*fakeSpeechStream) *cloudRun {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	run := &cloudRun{released: make(chan struct{})}
	open := func() (speechpb.Speech_StreamingRecognizeClient, error) {
		n := int(run.opens.Add(1))
		if n > len(reconnects) {
			return nil, errors.New("no more streams")
		}
		return reconnects[n-1], nil
	}
	run.req = newCloudRequest(ctx, "en-US", endOnFinal, first, open)
	run.req.run(func() { close(run.released) })
	return run
}

func (c *cloudRun) collect(t *testing.T) ([]string, error) {
	t.Helper()
	type outcome struct {
		texts []string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		for r, err := range c.req.Results() {
			if err != nil {
				o.err = err
				break
			}
			o.texts = append(o.texts, r.Text)
		}
		done <- o
	}()
	select {
	case o := <-done:
		return o.texts, o.err
	case <-time.After(2 * time.Second):
		t.Fatal("results never ended")
		return nil, nil
	}
}

func (c *cloudRun) end(t *testing.T) {
	t.Helper()
	if err := c.req.EndAudio(); err != nil {
		t.Fatalf("end audio: %v", err)
	}
	select {
	case <-c.released:
	case <-time.After(2 * time.Second):
		t.Fatal("request never released")
	}
}

func TestCloudRequest_EOFFinishesAfterAccumulatedResults(t *testing.T) {
	stream := newFakeSpeechStream(
		speechResponse("hel", false),
		speechResponse("hello", true),
		speechResponse("there", false),
		recvItem{err: io.EOF},
	)
	run := startCloudRun(t, false, stream)

	texts, err := run.collect(t)
	if err != nil {
		t.Fatalf("expected clean end, got %v", err)
	}
	if want := []string{"hel", "hello", "hello there"}; !slices.Equal(texts, want) {
		t.Fatalf("unexpected hypotheses:\n got %v\nwant %v", texts, want)
	}
	run.end(t)
	if !stream.closedSend.Load() {
		t.Fatal("send side not closed")
	}
}

func TestCloudRequest_EndOnFinalStopsAtFirstFinal(t *testing.T) {
	// no EOF follows: the final result alone must end the sequence
	run := startCloudRun(t, true, newFakeSpeechStream(speechResponse("hi", false), speechResponse("hi all", true)))

	texts, err := run.collect(t)
	if err != nil || !slices.Equal(texts, []string{"hi", "hi all"}) {
		t.Fatalf("unexpected outcome: %v %v", texts, err)
	}
	run.end(t)
}

func TestCloudRequest_AbortedStreamReconnects(t *testing.T) {
	aborted := status.Error(codes.Aborted, "Max duration of 5 minutes reached for stream.")
	first := newFakeSpeechStream(recvItem{err: aborted})
	first.sendErr = aborted
	second := newFakeSpeechStream(speechResponse("after reconnect", true), recvItem{err: io.EOF})
	run := startCloudRun(t, false, first, second)

	if err := run.req.Append(audio.Frame{PCM: []byte{1, 2, 3, 4}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	texts, err := run.collect(t)
	if err != nil || !slices.Equal(texts, []string{"after reconnect"}) {
		t.Fatalf("unexpected outcome: %v %v", texts, err)
	}
	run.end(t)

	if n := run.opens.Load(); n != 1 {
		t.Fatalf("expected one reconnect, got %d", n)
	}
	if got := second.sentAudio(); len(got) != 1 || !slices.Equal(got[0], []byte{1, 2, 3, 4}) {
		t.Fatalf("audio not resent on the new stream: %v", got)
	}
	if !first.closedSend.Load() || !second.closedSend.Load() {
		t.Fatal("streams not closed")
	}
}

func TestCloudRequest_RejectedConfigBeforeResultsIsUnavailable(t *testing.T) {
	run := startCloudRun(t, false, newFakeSpeechStream(recvItem{err: status.Error(codes.InvalidArgument, "bad language")}))

	_, err := run.collect(t)
	if !errors.Is(err, speech.ErrRecognizerUnavailable) {
		t.Fatalf("expected recognizer unavailable, got %v", err)
	}
	run.end(t)
}

func TestCloudRequest_InvalidArgumentAfterResultsIsPassedThrough(t *testing.T) {
	run := startCloudRun(t, false, newFakeSpeechStream(
		speechResponse("partial", false),
		recvItem{err: status.Error(codes.InvalidArgument, "audio too long")},
	))

	texts, err := run.collect(t)
	if len(texts) != 1 || errors.Is(err, speech.ErrRecognizerUnavailable) || status.Code(err) != codes.InvalidArgument {
		t.Fatalf("unexpected outcome: %v %v", texts, err)
	}
	run.end(t)
}
