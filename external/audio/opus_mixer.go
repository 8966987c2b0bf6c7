//go:build opus

package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/hraban/opus"
)

const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameMs     = 20
	samplesPerFrame = opusSampleRate * opusFrameMs * opusChannels / 1000
	// a speaker further behind than this loses its oldest audio
	maxQueuedFrames = 25
)

// OpusMixer decodes one Opus stream per speaker and sums the oldest pending
// frame of every speaker into one PCM frame per read.
type OpusMixer struct {
	mu       sync.Mutex
	speakers map[string]*speaker
	closed   bool
}

type speaker struct {
	decoder *opus.Decoder
	frames  [][]int16
	dropped int
}

func (s *speaker) push(frame []int16) {
	if len(s.frames) >= maxQueuedFrames {
		s.frames[0] = nil
		s.frames = s.frames[1:]
		s.dropped++
	}
	s.frames = append(s.frames, frame)
}

func (s *speaker) pop() ([]int16, bool) {
	if len(s.frames) == 0 {
		return nil, false
	}
	f := s.frames[0]
	s.frames[0] = nil
	s.frames = s.frames[1:]
	return f, true
}

func NewOpusMixer() audio.Mixer {
	return &OpusMixer{speakers: make(map[string]*speaker)}
}

func (m *OpusMixer) WriteOpusPacket(speakerID string, packet []byte) {
	if len(packet) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	sp, ok := m.speakers[speakerID]
	if !ok {
		dec, err := opus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			slog.Warn("failed to create opus decoder", "error", err, "speaker_id", speakerID)
			return
		}
		sp = &speaker{decoder: dec}
		m.speakers[speakerID] = sp
	}
	pcm := make([]int16, samplesPerFrame)
	n, err := sp.decoder.Decode(packet, pcm)
	if err != nil {
		slog.Debug("dropping undecodable opus packet", "error", err, "speaker_id", speakerID)
		return
	}
	if n <= 0 {
		return
	}
	sp.push(pcm[:min(n*opusChannels, samplesPerFrame)])
}

func (m *OpusMixer) ReadMixedPCM(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil
	}
	mixed := make([]int32, samplesPerFrame)
	heard := false
	for _, sp := range m.speakers {
		frame, ok := sp.pop()
		if !ok {
			continue
		}
		heard = true
		for i, v := range frame {
			mixed[i] += int32(v)
		}
	}
	if !heard {
		return 0, nil
	}
	n := min(len(buf)/2, samplesPerFrame)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(clampPCM(mixed[i])))
	}
	return n * 2, nil
}

func clampPCM(v int32) int16 {
	return int16(max(-32768, min(32767, v)))
}

func (m *OpusMixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, sp := range m.speakers {
		if sp.dropped > 0 {
			slog.Info("speaker audio dropped while mixing", "speaker_id", id, "dropped_frames", sp.dropped)
		}
	}
	m.speakers = nil
}
