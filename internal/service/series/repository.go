package series

import (
	"context"

	"github.com/ignite/comms-planner/internal/domain"
)

// Repository defines the data access contract for occurrences.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single occurrence. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, orgID, id string) (*domain.Occurrence, error)

	// Children returns the occurrences whose parent_id is headID, ordered by
	// start_date then id.
	Children(ctx context.Context, orgID, headID string) ([]domain.Occurrence, error)

	// Create inserts a new occurrence with its relation sets.
	Create(ctx context.Context, o *domain.Occurrence) error

	// CreateBatch inserts many occurrences at once.
	CreateBatch(ctx context.Context, os []domain.Occurrence) error

	// Update rewrites every column and relation set of an existing occurrence.
	Update(ctx context.Context, o *domain.Occurrence) error

	// Promote turns a child into a head: rrule set, parent_id cleared.
	Promote(ctx context.Context, orgID, id, rule string) error

	// Reparent moves every child of fromHeadID under toHeadID.
	Reparent(ctx context.Context, orgID, fromHeadID, toHeadID string) error

	// Delete hard-deletes the given occurrences. Missing ids are ignored.
	Delete(ctx context.Context, orgID string, ids ...string) error

	// DeleteChildren hard-deletes every child of headID and returns how many
	// rows went away.
	DeleteChildren(ctx context.Context, orgID, headID string) (int, error)

	// InTx runs fn against a repository bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Repository) error) error
}

// AccessRefresher regenerates access grants for occurrences.
type AccessRefresher interface {
	Refresh(ctx context.Context, orgID string, occurrenceIDs ...string) error
}
