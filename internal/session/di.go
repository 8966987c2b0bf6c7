package session

import (
	"log/slog"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/permission"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

// Names under which adapters register their state observers. A provider may
// return a nil Observer when its sink is not configured.
const (
	ObserverWebhook    = "session.observer.webhook"
	ObserverStateBus   = "session.observer.statebus"
	ObserverMonitoring = "session.observer.monitoring"
)

var observerServices = []string{ObserverWebhook, ObserverStateBus, ObserverMonitoring}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Pipeline, error) {
		cfg := do.MustInvoke[*config.Config](i)
		capture := do.MustInvoke[audio.CaptureSource](i)
		engine := do.MustInvoke[transcriber.Engine](i)
		return NewPipeline(capture, engine, cfg.CaptureBufferFrames), nil
	})
	do.Provide(injector, func(i do.Injector) (*Controller, error) {
		cfg := do.MustInvoke[*config.Config](i)
		gate := do.MustInvoke[*permission.Gate](i)
		pipeline := do.MustInvoke[*Pipeline](i)
		return NewController(gate, pipeline, resolveObservers(i, cfg)...), nil
	})
	do.Provide(injector, func(i do.Injector) (*Commands, error) {
		cfg := do.MustInvoke[*config.Config](i)
		controller := do.MustInvoke[*Controller](i)
		dc := do.MustInvoke[discord.Client](i)
		gate := do.MustInvoke[*permission.Gate](i)
		var consent ConsentRecorder
		if cfg.UsesConsent() {
			consent = do.MustInvoke[*permission.ConsentAuthorizer](i)
		}
		return NewCommands(cfg, controller, dc, gate, consent), nil
	})
}

func resolveObservers(i do.Injector, cfg *config.Config) []Observer {
	observers := make([]Observer, 0, len(observerServices)+1)
	for _, name := range observerServices {
		o, err := do.InvokeNamed[Observer](i, name)
		if err != nil {
			slog.Debug("state observer not available", "observer", name, "error", err)
			continue
		}
		if o == nil {
			continue
		}
		observers = append(observers, o)
	}
	if cfg.DiscordTextChannelID != "" {
		dc := do.MustInvoke[discord.Client](i)
		observers = append(observers, NewAnnouncer(dc, cfg.DiscordTextChannelID))
	}
	return observers
}
