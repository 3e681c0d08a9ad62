package notify

import (
	"context"

	"github.com/ignite/comms-planner/internal/domain"
)

// RuleStore resolves notification subscriptions.
type RuleStore interface {
	// Subscribers maps each entity id to the users holding a rule on it.
	// Entities without subscribers may be absent from the result.
	Subscribers(ctx context.Context, orgID string, kind domain.EntityKind, entityIDs []string) (map[string][]string, error)
}

// Dispatcher accepts notifications for asynchronous, best-effort delivery.
// Dispatch must not block on delivery.
type Dispatcher interface {
	Dispatch(n domain.Notification)
}
