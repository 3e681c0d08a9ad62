package access

import (
	"context"

	"github.com/ignite/comms-planner/internal/domain"
)

// Directory answers identity questions about an organization.
type Directory interface {
	// UsersByRole returns every user holding an organization-wide role.
	UsersByRole(ctx context.Context, orgID string, role domain.Role) ([]domain.User, error)

	// BusinessUnits returns the organization's unit hierarchy as an adjacency list.
	BusinessUnits(ctx context.Context, orgID string) ([]domain.BusinessUnit, error)

	// UnitPermissions returns the permissions granted directly on any of unitIDs.
	UnitPermissions(ctx context.Context, orgID string, unitIDs []string) ([]domain.UnitPermission, error)
}

// GrantStore persists derived access grants.
type GrantStore interface {
	// ReplaceGrants deletes every grant of occurrenceIDs and inserts grants.
	ReplaceGrants(ctx context.Context, occurrenceIDs []string, grants []domain.AccessGrant) error

	// Grants returns the grants of one occurrence.
	Grants(ctx context.Context, occurrenceID string) ([]domain.AccessGrant, error)

	// UserPermission returns the user's permission on an occurrence, or ""
	// when the user holds none.
	UserPermission(ctx context.Context, userID, occurrenceID string) (domain.Permission, error)
}

// OccurrenceReader loads occurrences whose grants are being recomputed.
type OccurrenceReader interface {
	// GetMany returns the occurrences among ids that exist, in no particular order.
	GetMany(ctx context.Context, orgID string, ids []string) ([]domain.Occurrence, error)
}
