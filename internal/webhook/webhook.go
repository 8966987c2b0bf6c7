package webhook

import (
	"context"

	"github.com/foxseedlab/kikitori/internal/session"
)

type Sender interface {
	Send(ctx context.Context, n session.Notification) error
}
