package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/discord"
)

const (
	audioMixInterval = 20 * time.Millisecond
	audioStatsEvery  = 5 * time.Second
	// 20 ms of 48 kHz stereo 16-bit PCM
	audioFrameBytes = 960 * 2 * 2
)

var (
	discordFormat      = audio.Format{SampleRate: 48000, Channels: 2}
	errVoiceRecvClosed = errors.New("voice receive channel closed")
)

type VoiceJoiner interface {
	JoinVoiceChannel(guildID, channelID string) (discord.VoiceConnection, error)
}

// DiscordVoiceCapture treats one Discord voice channel as the capture device.
// Every speaker's Opus stream is decoded and mixed into a single PCM frame
// each 20 ms.
type DiscordVoiceCapture struct {
	joiner    VoiceJoiner
	guildID   string
	channelID string
	newMixer  audio.MixerFactory

	mu  sync.Mutex
	run *voiceRun
}

type voiceRun struct {
	voice   discord.VoiceConnection
	mixer   audio.Mixer
	cancel  context.CancelFunc
	done    chan struct{}
	packets atomic.Int64
}

func NewDiscordVoiceCapture(joiner VoiceJoiner, guildID, channelID string, newMixer audio.MixerFactory) *DiscordVoiceCapture {
	return &DiscordVoiceCapture{
		joiner:    joiner,
		guildID:   guildID,
		channelID: channelID,
		newMixer:  newMixer,
	}
}

func (c *DiscordVoiceCapture) Format() audio.Format {
	return discordFormat
}

func (c *DiscordVoiceCapture) Start(ctx context.Context, receiver audio.FrameReceiver) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return audio.ErrDeviceBusy
	}
	voice, err := c.joiner.JoinVoiceChannel(c.guildID, c.channelID)
	if err != nil {
		slog.Error("failed to join voice channel", "error", err, "guild_id", c.guildID, "channel_id", c.channelID)
		return fmt.Errorf("join voice channel: %w", err)
	}
	slog.Info("joined voice channel", "guild_id", c.guildID, "channel_id", c.channelID)

	runCtx, cancel := context.WithCancel(ctx)
	run := &voiceRun{
		voice:  voice,
		mixer:  c.newMixer(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.run = run

	go func() {
		voice.ReceiveAudio(func(speakerID string, packet []byte) {
			n := run.packets.Add(1)
			if n == 1 || n%500 == 0 {
				slog.Debug("received opus packet", "speaker_id", speakerID, "packet_bytes", len(packet), "total_packets", n)
			}
			run.mixer.WriteOpusPacket(speakerID, packet)
		})
		if runCtx.Err() == nil {
			receiver.OnCaptureError(errVoiceRecvClosed)
		}
	}()
	go c.mix(runCtx, run, receiver)
	return nil
}

func (c *DiscordVoiceCapture) mix(ctx context.Context, run *voiceRun, receiver audio.FrameReceiver) {
	defer close(run.done)
	ticker := time.NewTicker(audioMixInterval)
	statsTicker := time.NewTicker(audioStatsEvery)
	defer ticker.Stop()
	defer statsTicker.Stop()
	buf := make([]byte, audioFrameBytes)
	var mixed, silent int64
	for {
		select {
		case <-ctx.Done():
			slog.Info("audio mixer loop stopped", "received_opus_packets", run.packets.Load(), "mixed_frames", mixed, "zero_frames", silent)
			return
		case <-statsTicker.C:
			slog.Debug("audio mixer stats", "received_opus_packets", run.packets.Load(), "mixed_frames", mixed, "zero_frames", silent)
		case now := <-ticker.C:
			n, err := run.mixer.ReadMixedPCM(buf)
			if err != nil {
				slog.Warn("failed to read mixed pcm", "error", err)
				continue
			}
			mixed++
			if n == 0 {
				silent++
				continue
			}
			pcm := make([]byte, n)
			copy(pcm, buf[:n])
			receiver.OnFrame(audio.Frame{PCM: pcm, Format: discordFormat, CapturedAt: now})
		}
	}
}

func (c *DiscordVoiceCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	run := c.run
	c.run = nil
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
	run.mixer.Close()
	if err := run.voice.Disconnect(); err != nil {
		slog.Warn("failed to disconnect voice channel", "error", err, "channel_id", c.channelID)
	}
	slog.Info("left voice channel", "guild_id", c.guildID, "channel_id", c.channelID)
}
