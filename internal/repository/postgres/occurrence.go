package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/service/series"
)

// Relation kinds stored in occurrence_entities besides the classification kinds.
const (
	relationTeam         = "team"
	relationBusinessUnit = "business_unit"
)

const occurrenceColumns = `
	id, organization_id, plan_id, title, description, status,
	start_date, end_date, start_time, end_time, no_set_time, full_day,
	rrule, parent_id, owner_id, confidential, budget, created_at, updated_at`

// OccurrenceRepo implements series.Repository against PostgreSQL.
// Relation sets (classification, teams, business units) live in
// occurrence_entities and are rewritten wholesale on every update.
type OccurrenceRepo struct {
	db *sql.DB // nil when bound to a transaction
	q  dbtx
}

// NewOccurrenceRepo creates a Postgres-backed occurrence repository.
func NewOccurrenceRepo(db *sql.DB) *OccurrenceRepo { return &OccurrenceRepo{db: db, q: db} }

// InTx runs fn against a repository bound to one transaction. Nested calls
// reuse the outer transaction.
func (r *OccurrenceRepo) InTx(ctx context.Context, fn func(series.Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&OccurrenceRepo{q: tx})
	})
}

// atomic runs fn inside the bound transaction, or a new one.
func (r *OccurrenceRepo) atomic(ctx context.Context, fn func(q dbtx) error) error {
	if r.db == nil {
		return fn(r.q)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error { return fn(tx) })
}

func (r *OccurrenceRepo) Get(ctx context.Context, orgID, id string) (*domain.Occurrence, error) {
	list, err := r.query(ctx, `SELECT `+occurrenceColumns+`
		FROM occurrences WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("get occurrence: %w", err)
	}
	if len(list) == 0 {
		return nil, series.ErrNotFound
	}
	return &list[0], nil
}

// GetMany returns the occurrences among ids that exist.
func (r *OccurrenceRepo) GetMany(ctx context.Context, orgID string, ids []string) ([]domain.Occurrence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	list, err := r.query(ctx, `SELECT `+occurrenceColumns+`
		FROM occurrences WHERE organization_id = $1 AND id = ANY($2)`, orgID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get occurrences: %w", err)
	}
	return list, nil
}

func (r *OccurrenceRepo) Children(ctx context.Context, orgID, headID string) ([]domain.Occurrence, error) {
	list, err := r.query(ctx, `SELECT `+occurrenceColumns+`
		FROM occurrences WHERE organization_id = $1 AND parent_id = $2
		ORDER BY start_date, id`, orgID, headID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return list, nil
}

func (r *OccurrenceRepo) Create(ctx context.Context, o *domain.Occurrence) error {
	return r.atomic(ctx, func(q dbtx) error {
		if err := insertOccurrence(ctx, q, o); err != nil {
			return err
		}
		return insertRelations(ctx, q, []domain.Occurrence{*o})
	})
}

func (r *OccurrenceRepo) CreateBatch(ctx context.Context, os []domain.Occurrence) error {
	if len(os) == 0 {
		return nil
	}
	return r.atomic(ctx, func(q dbtx) error {
		for i := range os {
			if err := insertOccurrence(ctx, q, &os[i]); err != nil {
				return err
			}
		}
		return insertRelations(ctx, q, os)
	})
}

func (r *OccurrenceRepo) Update(ctx context.Context, o *domain.Occurrence) error {
	return r.atomic(ctx, func(q dbtx) error {
		res, err := q.ExecContext(ctx, `
			UPDATE occurrences SET
				plan_id = $3, title = $4, description = $5, status = $6,
				start_date = $7, end_date = $8, start_time = $9, end_time = $10,
				no_set_time = $11, full_day = $12, rrule = $13, parent_id = $14,
				owner_id = $15, confidential = $16, budget = $17, updated_at = $18
			WHERE id = $1 AND organization_id = $2
		`, o.ID, o.OrganizationID, o.PlanID, o.Title, o.Description, o.Status,
			o.StartDate, o.EndDate, o.StartTime, o.EndTime,
			o.NoSetTime, o.FullDay, o.RRule, o.ParentID,
			o.OwnerID, o.Confidential, o.Budget, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update occurrence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return series.ErrNotFound
		}
		if _, err := q.ExecContext(ctx,
			`DELETE FROM occurrence_entities WHERE occurrence_id = $1`, o.ID); err != nil {
			return fmt.Errorf("clear relations: %w", err)
		}
		return insertRelations(ctx, q, []domain.Occurrence{*o})
	})
}

func (r *OccurrenceRepo) Promote(ctx context.Context, orgID, id, rule string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE occurrences SET rrule = $3, parent_id = NULL, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
	`, id, orgID, rule)
	if err != nil {
		return fmt.Errorf("promote occurrence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return series.ErrNotFound
	}
	return nil
}

func (r *OccurrenceRepo) Reparent(ctx context.Context, orgID, fromHeadID, toHeadID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE occurrences SET parent_id = $3, updated_at = NOW()
		WHERE organization_id = $1 AND parent_id = $2 AND id <> $3
	`, orgID, fromHeadID, toHeadID)
	if err != nil {
		return fmt.Errorf("reparent children: %w", err)
	}
	return nil
}

func (r *OccurrenceRepo) Delete(ctx context.Context, orgID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM occurrences WHERE organization_id = $1 AND id = ANY($2)`,
		orgID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete occurrences: %w", err)
	}
	return nil
}

func (r *OccurrenceRepo) DeleteChildren(ctx context.Context, orgID, headID string) (int, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM occurrences WHERE organization_id = $1 AND parent_id = $2`,
		orgID, headID)
	if err != nil {
		return 0, fmt.Errorf("delete children: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete children: %w", err)
	}
	return int(n), nil
}

func insertOccurrence(ctx context.Context, q dbtx, o *domain.Occurrence) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO occurrences (`+occurrenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, o.ID, o.OrganizationID, o.PlanID, o.Title, o.Description, o.Status,
		o.StartDate, o.EndDate, o.StartTime, o.EndTime, o.NoSetTime, o.FullDay,
		o.RRule, o.ParentID, o.OwnerID, o.Confidential, o.Budget, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert occurrence: %w", err)
	}
	return nil
}

// insertRelations writes every relation set of os in one statement using
// parallel arrays.
func insertRelations(ctx context.Context, q dbtx, os []domain.Occurrence) error {
	var occIDs, kinds, entityIDs []string
	var positions []int64
	add := func(occID, kind string, ids []string) {
		for i, id := range ids {
			occIDs = append(occIDs, occID)
			kinds = append(kinds, kind)
			entityIDs = append(entityIDs, id)
			positions = append(positions, int64(i))
		}
	}
	for i := range os {
		o := &os[i]
		for _, kind := range domain.ClassificationKinds {
			add(o.ID, string(kind), o.Classification.IDs(kind))
		}
		add(o.ID, relationTeam, o.TeamIDs)
		add(o.ID, relationBusinessUnit, o.BusinessUnitIDs)
	}
	if len(occIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO occurrence_entities (occurrence_id, kind, entity_id, position)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::int[])
	`, pq.Array(occIDs), pq.Array(kinds), pq.Array(entityIDs), pq.Array(positions))
	if err != nil {
		return fmt.Errorf("insert relations: %w", err)
	}
	return nil
}

func (r *OccurrenceRepo) query(ctx context.Context, query string, args ...interface{}) ([]domain.Occurrence, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close() // a transaction's connection runs one query at a time
	if err := r.loadRelations(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanOccurrence(rows *sql.Rows) (domain.Occurrence, error) {
	var (
		o                  domain.Occurrence
		startTime, endTime sql.NullString
		rrule, parentID    sql.NullString
	)
	err := rows.Scan(
		&o.ID, &o.OrganizationID, &o.PlanID, &o.Title, &o.Description, &o.Status,
		&o.StartDate, &o.EndDate, &startTime, &endTime, &o.NoSetTime, &o.FullDay,
		&rrule, &parentID, &o.OwnerID, &o.Confidential, &o.Budget, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, fmt.Errorf("scan occurrence: %w", err)
	}
	if o.StartTime, err = nullTime(startTime); err != nil {
		return o, err
	}
	if o.EndTime, err = nullTime(endTime); err != nil {
		return o, err
	}
	if rrule.Valid {
		o.RRule = &rrule.String
	}
	if parentID.Valid {
		o.ParentID = &parentID.String
	}
	return o, nil
}

func nullTime(s sql.NullString) (*domain.TimeOfDay, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := domain.ParseTimeOfDay(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *OccurrenceRepo) loadRelations(ctx context.Context, os []domain.Occurrence) error {
	if len(os) == 0 {
		return nil
	}
	index := make(map[string]*domain.Occurrence, len(os))
	ids := make([]string, len(os))
	for i := range os {
		index[os[i].ID] = &os[i]
		ids[i] = os[i].ID
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT occurrence_id, kind, entity_id
		FROM occurrence_entities
		WHERE occurrence_id = ANY($1)
		ORDER BY occurrence_id, kind, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var occID, kind, entityID string
		if err := rows.Scan(&occID, &kind, &entityID); err != nil {
			return fmt.Errorf("scan relation: %w", err)
		}
		o, ok := index[occID]
		if !ok {
			continue
		}
		switch kind {
		case relationTeam:
			o.TeamIDs = append(o.TeamIDs, entityID)
		case relationBusinessUnit:
			o.BusinessUnitIDs = append(o.BusinessUnitIDs, entityID)
		default:
			k := domain.EntityKind(kind)
			o.Classification.Set(k, append(o.Classification.IDs(k), entityID))
		}
	}
	return rows.Err()
}
