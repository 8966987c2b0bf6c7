package audio

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, audio.MixerFactory(NewOpusMixer))
	do.Provide(injector, func(i do.Injector) (audio.CaptureSource, error) {
		c := do.MustInvoke[*config.Config](i)
		switch c.CaptureSource {
		case config.CaptureSourceDiscord:
			dc := do.MustInvoke[discord.Client](i)
			newMixer := do.MustInvoke[audio.MixerFactory](i)
			return NewDiscordVoiceCapture(dc, c.DiscordGuildID, c.DiscordVCID, newMixer), nil
		case config.CaptureSourceAudioSocket:
			return NewAudioSocketCapture(c.AudioSocketListenAddr), nil
		default:
			return nil, fmt.Errorf("unknown capture source %q", c.CaptureSource)
		}
	})
}
