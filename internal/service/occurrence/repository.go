package occurrence

import (
	"context"

	"github.com/ignite/comms-planner/internal/domain"
)

// PlanReader loads the plan an occurrence belongs to.
type PlanReader interface {
	GetPlan(ctx context.Context, orgID, id string) (*domain.Plan, error)
}

// OrgReader reports an organization's occurrence usage and quota.
type OrgReader interface {
	OccurrenceCount(ctx context.Context, orgID string) (int, error)
	// OccurrenceQuota returns the quota; zero or less means unlimited.
	OccurrenceQuota(ctx context.Context, orgID string) (int, error)
}

// AccessControl recomputes and checks access grants.
type AccessControl interface {
	Refresh(ctx context.Context, orgID string, occurrenceIDs ...string) error
	CanEdit(ctx context.Context, userID, occurrenceID string) (bool, error)
	CanRead(ctx context.Context, userID, occurrenceID string) (bool, error)
}

// Notifier receives occurrence changes for best-effort notification.
type Notifier interface {
	Created(ctx context.Context, o *domain.Occurrence)
	Edited(ctx context.Context, before, after *domain.Occurrence)
	StatusChanged(ctx context.Context, o *domain.Occurrence, from domain.OccurrenceStatus)
}

// Counter keeps denormalized per-plan occurrence counts.
type Counter interface {
	Adjust(ctx context.Context, orgID, planID string, delta int64) error
}
