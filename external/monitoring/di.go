package monitoring

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/getsentry/sentry-go"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideNamed(injector, session.ObserverMonitoring, func(i do.Injector) (session.Observer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.SentryDSN == "" {
			return nil, nil
		}
		client, err := sentry.NewClient(sentry.ClientOptions{
			Dsn:         c.SentryDSN,
			Environment: c.Env,
		})
		if err != nil {
			return nil, fmt.Errorf("init sentry client: %w", err)
		}
		return NewSentryReporter(sentry.NewHub(client, sentry.NewScope())), nil
	})
}
