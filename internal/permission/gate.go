package permission

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/foxseedlab/kikitori/internal/speech"
	"golang.org/x/sync/singleflight"
)

const requestKey = "speech-authorization"

// Gate caches the authorization reported by an Authorizer. Concurrent
// requests share one prompt.
type Gate struct {
	authorizer Authorizer
	cached     atomic.Int32
	requests   singleflight.Group
}

func NewGate(ctx context.Context, authorizer Authorizer) *Gate {
	g := &Gate{authorizer: authorizer}
	g.Refresh(ctx)
	return g
}

func (g *Gate) CurrentStatus() Status {
	return g.Authorization().Status()
}

func (g *Gate) Authorization() Authorization {
	return Authorization(g.cached.Load())
}

func (g *Gate) Refresh(ctx context.Context) Status {
	a, err := g.authorizer.AuthorizationStatus(ctx)
	if err != nil {
		slog.Warn("failed to read speech authorization; keeping cached status", "error", err, "cached", g.Authorization().String())
		return g.CurrentStatus()
	}
	g.store(a)
	return a.Status()
}

// RequestPermission re-reads the authorizer first, so a decision made
// elsewhere is seen, and prompts only while nothing has been decided.
func (g *Gate) RequestPermission(ctx context.Context) error {
	g.Refresh(ctx)
	switch current := g.Authorization(); current.Status() {
	case StatusGranted:
		return nil
	case StatusDenied:
		return speech.PermissionDenied(current.String())
	}

	v, err, shared := g.requests.Do(requestKey, func() (any, error) {
		slog.Info("requesting speech recognition authorization")
		return g.authorizer.RequestAuthorization(ctx)
	})
	if err != nil {
		g.Refresh(context.WithoutCancel(ctx))
		slog.Warn("speech authorization request failed", "error", err, "shared", shared)
		denied := speech.PermissionDenied(g.Authorization().String())
		denied.Err = err
		return denied
	}
	a := v.(Authorization)
	g.store(a)
	slog.Info("speech authorization resolved", "authorization", a.String(), "shared", shared)
	if a.Status() != StatusGranted {
		return speech.PermissionDenied(a.String())
	}
	return nil
}

func (g *Gate) store(a Authorization) {
	g.cached.Store(int32(a))
}
