package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/auth/credentials"
	speechapi "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/speech"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	audioQueueFrames      = 256
)

var errRequestClosed = errors.New("recognition request already ended")

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
	EndOnFinal      bool
}

type CloudSpeechEngine struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string
	endOnFinal      bool
	locales         *transcriber.Locales
}

func NewCloudSpeechEngine(cfg CloudSpeechConfig, locales *transcriber.Locales) transcriber.Engine {
	return &CloudSpeechEngine{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
		endOnFinal:      cfg.EndOnFinal,
		locales:         locales,
	}
}

func (e *CloudSpeechEngine) Recognize(ctx context.Context, locale speech.Locale, format audio.Format) (transcriber.Request, error) {
	language, err := e.locales.Resolve(locale)
	if err != nil {
		return nil, err
	}
	slog.Info("starting cloud speech streaming", "location", e.location, "language", language, "model", e.model, "sample_rate", format.SampleRate, "channels", format.Channels)

	client, err := e.newClient(ctx)
	if err != nil {
		return nil, err
	}
	first := &speechpb.StreamingRecognizeRequest{
		Recognizer: recognizerName(e.projectID, e.location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(e.model, language, format),
		},
	}
	open := func() (speechpb.Speech_StreamingRecognizeClient, error) {
		s, err := client.StreamingRecognize(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Send(first); err != nil {
			_ = s.CloseSend()
			return nil, err
		}
		return s, nil
	}
	stream, err := open()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open cloud speech stream: %w", err)
	}
	slog.Info("cloud speech stream initialized", "language", language)

	r := newCloudRequest(ctx, locale, e.endOnFinal, stream, open)
	r.run(func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close cloud speech client", "error", err)
		}
	})
	return r, nil
}

func (e *CloudSpeechEngine) newClient(ctx context.Context) (*speechapi.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(e.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if endpoint := regionalEndpoint(e.location); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := speechapi.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create cloud speech client: %w", err)
	}
	return client, nil
}

func recognizerName(projectID, location string) string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", projectID, location)
}

func regionalEndpoint(location string) string {
	if location == "" || location == "global" {
		return ""
	}
	return fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)
}

func streamingConfig(model string, language speech.Locale, format audio.Format) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Model:         model,
			LanguageCodes: []string{language.String()},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(format.SampleRate),
					AudioChannelCount: int32(format.Channels),
				},
			},
			Features: &speechpb.RecognitionFeatures{},
		},
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
	}
}

type cloudRequest struct {
	ctx        context.Context
	locale     speech.Locale
	endOnFinal bool
	open       func() (speechpb.Speech_StreamingRecognizeClient, error)

	// stream is only touched by the send loop once the request is running
	stream speechpb.Speech_StreamingRecognizeClient

	mu      sync.Mutex
	closed  bool
	audio   chan []byte
	dropped atomic.Int64

	results   *transcriber.Stream
	acc       transcriber.Accumulator
	received  atomic.Bool
	receivers sync.WaitGroup
}

func newCloudRequest(ctx context.Context, locale speech.Locale, endOnFinal bool, stream speechpb.Speech_StreamingRecognizeClient, open func() (speechpb.Speech_StreamingRecognizeClient, error)) *cloudRequest {
	return &cloudRequest{
		ctx:        ctx,
		locale:     locale,
		endOnFinal: endOnFinal,
		stream:     stream,
		open:       open,
		audio:      make(chan []byte, audioQueueFrames),
		results:    transcriber.NewStream(ctx, 0),
	}
}

// run starts receiving on the current stream and sending queued audio.
// released is called once sending has stopped and every receiver returned.
func (r *cloudRequest) run(released func()) {
	r.startReceiver(r.stream)
	go func() {
		r.sendLoop()
		r.receivers.Wait()
		released()
	}()
}

func (r *cloudRequest) Append(frame audio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRequestClosed
	}
	select {
	case r.audio <- frame.PCM:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("cloud speech send queue full; dropping audio", "dropped_frames", n)
		}
	}
	return nil
}

func (r *cloudRequest) EndAudio() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.audio)
	return nil
}

func (r *cloudRequest) Results() iter.Seq2[speech.Result, error] {
	return r.results.Results()
}

func (r *cloudRequest) sendLoop() {
	defer func() {
		_ = r.stream.CloseSend()
	}()
	for {
		select {
		case <-r.ctx.Done():
			return
		case pcm, ok := <-r.audio:
			if !ok {
				return
			}
			if err := r.send(pcm); err != nil {
				slog.Error("failed to send audio to cloud speech", "error", err)
				r.results.Fail(err)
				return
			}
		}
	}
}

func (r *cloudRequest) send(pcm []byte) error {
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: pcm,
		},
	}
	err := r.stream.Send(req)
	if err == nil {
		return nil
	}
	if !isReconnectableStreamError(err) {
		return err
	}
	slog.Warn("transcriber send failed with reconnectable error; reconnecting", "error", err)
	_ = r.stream.CloseSend()
	next, err := r.open()
	if err != nil {
		return fmt.Errorf("reconnect stream: %w", err)
	}
	r.stream = next
	r.startReceiver(next)
	slog.Info("transcriber stream reconnected")
	return r.stream.Send(req)
}

func (r *cloudRequest) startReceiver(stream speechpb.Speech_StreamingRecognizeClient) {
	r.receivers.Add(1)
	go func() {
		defer r.receivers.Done()
		r.receive(stream)
	}()
}

func (r *cloudRequest) receive(stream speechpb.Speech_StreamingRecognizeClient) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("transcriber receive loop stopped", "reason", "eof")
				r.results.Finish()
				return
			}
			if r.ctx.Err() != nil {
				return
			}
			if isReconnectableStreamError(err) {
				slog.Warn("transcriber receive loop ended with reconnectable abort", "error", err)
				return
			}
			r.results.Fail(classifyRecvError(err, r.locale, r.received.Load()))
			return
		}
		segments, final := segmentsFromResponse(resp)
		if len(segments) == 0 {
			continue
		}
		r.received.Store(true)
		if !r.results.Push(r.acc.Apply(segments, final, final)) {
			return
		}
		if final && r.endOnFinal {
			r.results.Finish()
			return
		}
	}
}

// segmentsFromResponse returns the best alternative of every result in resp.
// The response is final when all of its results are.
func segmentsFromResponse(resp *speechpb.StreamingRecognizeResponse) ([]speech.Segment, bool) {
	results := resp.GetResults()
	segments := make([]speech.Segment, 0, len(results))
	final := len(results) > 0
	for _, result := range results {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		segments = append(segments, speech.Segment{
			Text:       alts[0].GetTranscript(),
			Confidence: alts[0].GetConfidence(),
			End:        result.GetResultEndOffset().AsDuration(),
		})
		if !result.GetIsFinal() {
			final = false
		}
	}
	return segments, final && len(segments) > 0
}

// classifyRecvError treats an argument rejection before any result as an
// unsupported locale.
func classifyRecvError(err error, locale speech.Locale, received bool) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument && !received {
		slog.Warn("cloud speech rejected the stream configuration", "error", err, "locale", locale)
		return speech.RecognizerUnavailable(locale)
	}
	return err
}

func isReconnectableStreamError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
