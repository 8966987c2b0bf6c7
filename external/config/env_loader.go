package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kikitori/internal/config"
)

type envConfig struct {
	Env                        string   `env:"ENV" envDefault:"production"`
	DefaultTranscribeLanguage  string   `env:"DEFAULT_TRANSCRIBE_LANGUAGE,required"`
	SupportedLocales           []string `env:"SPEECH_SUPPORTED_LOCALES" envDefault:"en-US,ja-JP" envSeparator:","`
	SpeechProvider             string   `env:"SPEECH_PROVIDER" envDefault:"google"`
	SpeechEndOnFinal           bool     `env:"SPEECH_END_ON_FINAL" envDefault:"true"`
	GoogleCloudProjectID       string   `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string   `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string   `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"asia-northeast1"`
	GoogleCloudSpeechModel     string   `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	DeepgramAPIKey             string   `env:"DEEPGRAM_API_KEY"`
	DeepgramModel              string   `env:"DEEPGRAM_MODEL" envDefault:"nova-3"`
	CaptureSource              string   `env:"CAPTURE_SOURCE" envDefault:"discord"`
	CaptureBufferFrames        int      `env:"CAPTURE_BUFFER_FRAMES" envDefault:"64"`
	AudioSocketListenAddr      string   `env:"AUDIOSOCKET_LISTEN_ADDR" envDefault:":9092"`
	SpeechPermission           string   `env:"SPEECH_PERMISSION" envDefault:"consent"`
	PermissionSubject          string   `env:"PERMISSION_SUBJECT"`
	DatabaseURL                string   `env:"DATABASE_URL"`
	DiscordToken               string   `env:"DISCORD_TOKEN,required"`
	DiscordGuildID             string   `env:"DISCORD_GUILD_ID,required"`
	DiscordVCID                string   `env:"DISCORD_VC_ID"`
	DiscordTextChannelID       string   `env:"DISCORD_TEXT_CHANNEL_ID"`
	StateWebhookURL            string   `env:"STATE_WEBHOOK_URL"`
	RedisURL                   string   `env:"REDIS_URL"`
	RedisStateChannel          string   `env:"REDIS_STATE_CHANNEL" envDefault:"kikitori:state"`
	RedisStateKey              string   `env:"REDIS_STATE_KEY" envDefault:"kikitori:state"`
	SentryDSN                  string   `env:"SENTRY_DSN"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		SupportedLocales:           raw.SupportedLocales,
		SpeechProvider:             raw.SpeechProvider,
		SpeechEndOnFinal:           raw.SpeechEndOnFinal,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramModel:              raw.DeepgramModel,
		CaptureSource:              raw.CaptureSource,
		CaptureBufferFrames:        raw.CaptureBufferFrames,
		AudioSocketListenAddr:      raw.AudioSocketListenAddr,
		SpeechPermission:           raw.SpeechPermission,
		PermissionSubject:          raw.PermissionSubject,
		DatabaseURL:                raw.DatabaseURL,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DiscordVCID:                raw.DiscordVCID,
		DiscordTextChannelID:       raw.DiscordTextChannelID,
		StateWebhookURL:            raw.StateWebhookURL,
		RedisURL:                   raw.RedisURL,
		RedisStateChannel:          raw.RedisStateChannel,
		RedisStateKey:              raw.RedisStateKey,
		SentryDSN:                  raw.SentryDSN,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
