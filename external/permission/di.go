package permission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/permission"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/samber/do/v2"
)

const initialStatusTimeout = 10 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*permission.ConsentAuthorizer, error) {
		c := do.MustInvoke[*config.Config](i)
		repo, err := do.Invoke[repository.Repository](i)
		if err != nil {
			return nil, fmt.Errorf("consent repository: %w", err)
		}
		var prompter permission.Prompter
		if c.DiscordTextChannelID != "" {
			dc := do.MustInvoke[discord.Client](i)
			prompter = session.NewChannelPrompter(dc, c.DiscordTextChannelID)
		} else {
			slog.Warn("DISCORD_TEXT_CHANNEL_ID is not set; consent prompts will not be posted")
		}
		return permission.NewConsentAuthorizer(repo, prompter, c.ConsentSubject()), nil
	})
	do.Provide(injector, func(i do.Injector) (permission.Authorizer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.UsesConsent() {
			return do.Invoke[*permission.ConsentAuthorizer](i)
		}
		a, ok := permission.ParseAuthorization(c.SpeechPermission)
		if !ok {
			return nil, fmt.Errorf("unknown SPEECH_PERMISSION %q", c.SpeechPermission)
		}
		return permission.FixedAuthorizer(a), nil
	})
	do.Provide(injector, func(i do.Injector) (*permission.Gate, error) {
		a := do.MustInvoke[permission.Authorizer](i)
		ctx, cancel := context.WithTimeout(context.Background(), initialStatusTimeout)
		defer cancel()
		g := permission.NewGate(ctx, a)
		slog.Info("speech authorization loaded", "authorization", g.Authorization().String())
		return g, nil
	})
}
