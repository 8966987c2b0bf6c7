package webhook

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (webhook.Sender, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPSender(c.StateWebhookURL), nil
	})
	do.ProvideNamed(injector, session.ObserverWebhook, func(i do.Injector) (session.Observer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.StateWebhookURL == "" {
			return nil, nil
		}
		sender := do.MustInvoke[webhook.Sender](i)
		return session.NewSinkObserver("webhook", sender, defaultHTTPTimeout), nil
	})
}
