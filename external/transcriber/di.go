package transcriber

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*transcriber.Locales, error) {
		c := do.MustInvoke[*config.Config](i)
		return transcriber.NewLocales(c.SupportedLocales)
	})
	do.Provide(injector, func(i do.Injector) (transcriber.Engine, error) {
		c := do.MustInvoke[*config.Config](i)
		locales := do.MustInvoke[*transcriber.Locales](i)
		switch c.SpeechProvider {
		case config.SpeechProviderGoogle:
			return NewCloudSpeechEngine(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
				EndOnFinal:      c.SpeechEndOnFinal,
			}, locales), nil
		case config.SpeechProviderDeepgram:
			return NewDeepgramEngine(DeepgramConfig{
				APIKey:     c.DeepgramAPIKey,
				Model:      c.DeepgramModel,
				EndOnFinal: c.SpeechEndOnFinal,
			}, locales), nil
		default:
			return nil, fmt.Errorf("unknown speech provider %q", c.SpeechProvider)
		}
	})
}
