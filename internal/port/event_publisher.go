package port

import (
	"context"

	"github.com/rl1809/order-verification/internal/core/domain"
)

// EventPublisher delivers lifecycle events to external collaborators. It is
// only ever called after the originating transaction committed.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
}
