package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/comms-planner/internal/domain"
)

// GrantRepo implements access.GrantStore over occurrence_access.
type GrantRepo struct{ db *sql.DB }

// NewGrantRepo creates a Postgres-backed grant store.
func NewGrantRepo(db *sql.DB) *GrantRepo { return &GrantRepo{db: db} }

// ReplaceGrants swaps the grant set of occurrenceIDs in one transaction.
func (r *GrantRepo) ReplaceGrants(ctx context.Context, occurrenceIDs []string, grants []domain.AccessGrant) error {
	if len(occurrenceIDs) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM occurrence_access WHERE occurrence_id = ANY($1)`,
			pq.Array(occurrenceIDs)); err != nil {
			return fmt.Errorf("clear grants: %w", err)
		}
		if len(grants) == 0 {
			return nil
		}

		users := make([]string, len(grants))
		occs := make([]string, len(grants))
		perms := make([]string, len(grants))
		for i, g := range grants {
			users[i], occs[i], perms[i] = g.UserID, g.OccurrenceID, string(g.Permission)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO occurrence_access (user_id, occurrence_id, permission)
			SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
		`, pq.Array(users), pq.Array(occs), pq.Array(perms)); err != nil {
			return fmt.Errorf("insert grants: %w", err)
		}
		return nil
	})
}

func (r *GrantRepo) Grants(ctx context.Context, occurrenceID string) ([]domain.AccessGrant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, occurrence_id, permission
		FROM occurrence_access
		WHERE occurrence_id = $1
		ORDER BY user_id
	`, occurrenceID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var out []domain.AccessGrant
	for rows.Next() {
		var g domain.AccessGrant
		if err := rows.Scan(&g.UserID, &g.OccurrenceID, &g.Permission); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *GrantRepo) UserPermission(ctx context.Context, userID, occurrenceID string) (domain.Permission, error) {
	var p domain.Permission
	err := r.db.QueryRowContext(ctx, `
		SELECT permission FROM occurrence_access
		WHERE user_id = $1 AND occurrence_id = $2
	`, userID, occurrenceID).Scan(&p)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user permission: %w", err)
	}
	return p, nil
}

// RuleRepo implements notify.RuleStore over notification_rules.
type RuleRepo struct{ db *sql.DB }

// NewRuleRepo creates a Postgres-backed rule store.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

func (r *RuleRepo) Subscribers(ctx context.Context, orgID string, kind domain.EntityKind, entityIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(entityIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, user_id FROM notification_rules
		WHERE organization_id = $1 AND entity_kind = $2 AND entity_id = ANY($3)
		ORDER BY entity_id, user_id
	`, orgID, string(kind), pq.Array(entityIDs))
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID, userID string
		if err := rows.Scan(&entityID, &userID); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out[entityID] = append(out[entityID], userID)
	}
	return out, rows.Err()
}
