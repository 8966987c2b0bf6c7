package config

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/permission"
	"github.com/foxseedlab/kikitori/internal/speech"
)

const (
	SpeechProviderGoogle   = "google"
	SpeechProviderDeepgram = "deepgram"

	CaptureSourceDiscord     = "discord"
	CaptureSourceAudioSocket = "audiosocket"

	PermissionModeConsent = "consent"
)

type Config struct {
	Env                        string
	DefaultTranscribeLanguage  string
	SupportedLocales           []string
	SpeechProvider             string
	SpeechEndOnFinal           bool
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	DeepgramAPIKey             string
	DeepgramModel              string
	CaptureSource              string
	CaptureBufferFrames        int
	AudioSocketListenAddr      string
	SpeechPermission           string
	PermissionSubject          string
	DatabaseURL                string
	DiscordToken               string
	DiscordGuildID             string
	DiscordVCID                string
	DiscordTextChannelID       string
	StateWebhookURL            string
	RedisURL                   string
	RedisStateChannel          string
	RedisStateKey              string
	SentryDSN                  string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if _, err := speech.ParseLocale(c.DefaultTranscribeLanguage); err != nil {
		return fmt.Errorf("DEFAULT_TRANSCRIBE_LANGUAGE is invalid: %w", err)
	}
	if len(c.SupportedLocales) == 0 {
		return fmt.Errorf("SPEECH_SUPPORTED_LOCALES must list at least one locale")
	}
	for _, l := range c.SupportedLocales {
		if _, err := speech.ParseLocale(l); err != nil {
			return fmt.Errorf("SPEECH_SUPPORTED_LOCALES is invalid: %w", err)
		}
	}
	if c.CaptureBufferFrames <= 0 {
		return fmt.Errorf("CAPTURE_BUFFER_FRAMES must be positive, got %d", c.CaptureBufferFrames)
	}
	if err := c.validateSpeechProvider(); err != nil {
		return err
	}
	if err := c.validateCaptureSource(); err != nil {
		return err
	}
	return c.validatePermission()
}

func (c *Config) validateSpeechProvider() error {
	switch c.SpeechProvider {
	case SpeechProviderGoogle:
		if c.GoogleCloudProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID is required when SPEECH_PROVIDER=google")
		}
		if c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_CREDENTIALS_JSON is required when SPEECH_PROVIDER=google")
		}
	case SpeechProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when SPEECH_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("SPEECH_PROVIDER must be %q or %q, got %q", SpeechProviderGoogle, SpeechProviderDeepgram, c.SpeechProvider)
	}
	return nil
}

func (c *Config) validateCaptureSource() error {
	switch c.CaptureSource {
	case CaptureSourceDiscord:
		if c.DiscordVCID == "" {
			return fmt.Errorf("DISCORD_VC_ID is required when CAPTURE_SOURCE=discord")
		}
	case CaptureSourceAudioSocket:
		if c.AudioSocketListenAddr == "" {
			return fmt.Errorf("AUDIOSOCKET_LISTEN_ADDR is required when CAPTURE_SOURCE=audiosocket")
		}
	default:
		return fmt.Errorf("CAPTURE_SOURCE must be %q or %q, got %q", CaptureSourceDiscord, CaptureSourceAudioSocket, c.CaptureSource)
	}
	return nil
}

func (c *Config) validatePermission() error {
	if c.UsesConsent() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SPEECH_PERMISSION=consent")
		}
		return nil
	}
	if _, ok := permission.ParseAuthorization(c.SpeechPermission); !ok {
		return fmt.Errorf("SPEECH_PERMISSION must be consent, authorized, denied, restricted or not-determined, got %q", c.SpeechPermission)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) UsesConsent() bool {
	return c.SpeechPermission == PermissionModeConsent
}

// ConsentSubject falls back to the guild so one server shares one consent.
func (c *Config) ConsentSubject() string {
	if c.PermissionSubject != "" {
		return c.PermissionSubject
	}
	return "guild:" + c.DiscordGuildID
}

func (c *Config) DefaultLocale() speech.Locale {
	l, err := speech.ParseLocale(c.DefaultTranscribeLanguage)
	if err != nil {
		return speech.Locale(c.DefaultTranscribeLanguage)
	}
	return l
}
