package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/service/series"
)

// PlanRepo reads plans and organization usage.
type PlanRepo struct{ db *sql.DB }

// NewPlanRepo creates a Postgres-backed plan reader.
func NewPlanRepo(db *sql.DB) *PlanRepo { return &PlanRepo{db: db} }

func (r *PlanRepo) GetPlan(ctx context.Context, orgID, id string) (*domain.Plan, error) {
	p := &domain.Plan{}
	var end sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, start_date, end_date, ongoing, confidential,
		       owner_ids, team_ids
		FROM plans
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&p.ID, &p.OrganizationID, &p.Name, &p.StartDate, &end, &p.Ongoing, &p.Confidential,
		pq.Array(&p.OwnerIDs), pq.Array(&p.TeamIDs),
	)
	if err == sql.ErrNoRows {
		return nil, series.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if end.Valid {
		p.EndDate = &end.Time
	}
	return p, nil
}

// OccurrenceCount counts every occurrence the organization holds.
func (r *PlanRepo) OccurrenceCount(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM occurrences WHERE organization_id = $1`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count occurrences: %w", err)
	}
	return n, nil
}

// OccurrenceQuota returns the organization's quota; zero when unlimited or
// the organization has no row.
func (r *PlanRepo) OccurrenceQuota(ctx context.Context, orgID string) (int, error) {
	var quota sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT occurrence_quota FROM organizations WHERE id = $1`, orgID).Scan(&quota)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get occurrence quota: %w", err)
	}
	return int(quota.Int64), nil
}

// DirectoryRepo implements access.Directory and resolves notification recipients.
type DirectoryRepo struct{ db *sql.DB }

// NewDirectoryRepo creates a Postgres-backed directory.
func NewDirectoryRepo(db *sql.DB) *DirectoryRepo { return &DirectoryRepo{db: db} }

func (r *DirectoryRepo) UsersByRole(ctx context.Context, orgID string, role domain.Role) ([]domain.User, error) {
	return r.users(ctx, `
		SELECT id, organization_id, email, name, role FROM users
		WHERE organization_id = $1 AND role = $2
		ORDER BY id
	`, orgID, role)
}

// Users returns the users among ids that exist.
func (r *DirectoryRepo) Users(ctx context.Context, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.users(ctx, `
		SELECT id, organization_id, email, name, role FROM users
		WHERE id = ANY($1)
		ORDER BY id
	`, pq.Array(ids))
}

func (r *DirectoryRepo) users(ctx context.Context, query string, args ...interface{}) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.Role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// BusinessUnits returns the organization's hierarchy as an adjacency list.
func (r *DirectoryRepo) BusinessUnits(ctx context.Context, orgID string) ([]domain.BusinessUnit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, parent_id, name FROM business_units
		WHERE organization_id = $1
		ORDER BY id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list business units: %w", err)
	}
	defer rows.Close()

	var out []domain.BusinessUnit
	for rows.Next() {
		var (
			u      domain.BusinessUnit
			parent sql.NullString
		)
		if err := rows.Scan(&u.ID, &parent, &u.Name); err != nil {
			return nil, fmt.Errorf("scan business unit: %w", err)
		}
		if parent.Valid {
			u.ParentID = &parent.String
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *DirectoryRepo) UnitPermissions(ctx context.Context, orgID string, unitIDs []string) ([]domain.UnitPermission, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, business_unit_id, permission
		FROM business_unit_permissions
		WHERE organization_id = $1 AND business_unit_id = ANY($2)
		ORDER BY business_unit_id, user_id
	`, orgID, pq.Array(unitIDs))
	if err != nil {
		return nil, fmt.Errorf("list unit permissions: %w", err)
	}
	defer rows.Close()

	var out []domain.UnitPermission
	for rows.Next() {
		var p domain.UnitPermission
		if err := rows.Scan(&p.UserID, &p.UnitID, &p.Permission); err != nil {
			return nil, fmt.Errorf("scan unit permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
