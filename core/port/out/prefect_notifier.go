package out

import (
	"context"

	"prefect_server/core/domain"
)

// RosterNotifier fans roster mutations out to other sessions. Delivery is
// best effort and advisory only: it drives UI refresh, it is never a
// synchronization primitive.
type RosterNotifier interface {
	// PublishRosterChanged announces a successful remote mutation.
	PublishRosterChanged(ctx context.Context, event domain.RosterEvent) error

	// Subscribe invokes fn for every published event until the returned
	// unsubscribe function is called or ctx is cancelled.
	Subscribe(ctx context.Context, fn func(domain.RosterEvent)) (func(), error)
}
