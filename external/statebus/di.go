package statebus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

const publishTimeout = 3 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*RedisPublisher, error) {
		c := do.MustInvoke[*config.Config](i)
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return NewRedisPublisher(redis.NewClient(opts), c.RedisStateChannel, c.RedisStateKey), nil
	})
	do.ProvideNamed(injector, session.ObserverStateBus, func(i do.Injector) (session.Observer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.RedisURL == "" {
			return nil, nil
		}
		publisher, err := do.Invoke[*RedisPublisher](i)
		if err != nil {
			return nil, err
		}
		logPreviousState(publisher, c.RedisStateKey)
		return session.NewSinkObserver("redis", publisher, publishTimeout), nil
	})
}

// logPreviousState reports what the last process left on the bus, which is
// stale until the controller publishes its initial state.
func logPreviousState(publisher *RedisPublisher, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	prev, err := publisher.Latest(ctx)
	if err != nil {
		slog.Warn("failed to read previous state notification", "error", err, "key", key)
		return
	}
	if prev == nil {
		return
	}
	slog.Info("previous state notification found", "key", key, "state", prev.State, "label", prev.Label, "session_id", prev.SessionID)
}
