package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/service/series"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var occurrenceCols = []string{
	"id", "organization_id", "plan_id", "title", "description", "status",
	"start_date", "end_date", "start_time", "end_time", "no_set_time", "full_day",
	"rrule", "parent_id", "owner_id", "confidential", "budget", "created_at", "updated_at",
}

var jan1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func q(s string) string { return regexp.QuoteMeta(s) }

// =============================================================================
// OCCURRENCES
// =============================================================================

func TestOccurrenceRepo_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)

	mock.ExpectQuery(q("FROM occurrences WHERE organization_id = $1 AND id = $2")).
		WithArgs("org-1", "occ-1").
		WillReturnRows(sqlmock.NewRows(occurrenceCols).AddRow(
			"occ-1", "org-1", "plan-1", "Newsletter", "", "planned",
			jan1, jan1, "09:30:00", "10:00:00", false, false,
			"FREQ=WEEKLY;COUNT=4", nil, "user-1", false, "125.50", jan1, jan1,
		))
	mock.ExpectQuery(q("FROM occurrence_entities")).
		WillReturnRows(sqlmock.NewRows([]string{"occurrence_id", "kind", "entity_id"}).
			AddRow("occ-1", "business_unit", "bu-1").
			AddRow("occ-1", "channel", "email").
			AddRow("occ-1", "tag", "t1").
			AddRow("occ-1", "tag", "t2").
			AddRow("occ-1", "team", "team-1"))

	o, err := repo.Get(context.Background(), "org-1", "occ-1")
	require.NoError(t, err)

	assert.Equal(t, "Newsletter", o.Title)
	assert.Equal(t, domain.StatusPlanned, o.Status)
	require.NotNil(t, o.StartTime)
	assert.Equal(t, domain.TimeOfDay{Hour: 9, Minute: 30}, *o.StartTime)
	require.NotNil(t, o.RRule)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", *o.RRule)
	assert.Nil(t, o.ParentID)
	assert.True(t, o.IsHead())
	assert.Equal(t, "125.5", o.Budget.String())
	assert.Equal(t, []string{"t1", "t2"}, o.Classification.Tags)
	assert.Equal(t, []string{"email"}, o.Classification.Channels)
	assert.Equal(t, []string{"team-1"}, o.TeamIDs)
	assert.Equal(t, []string{"bu-1"}, o.BusinessUnitIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)

	mock.ExpectQuery(q("FROM occurrences")).WillReturnRows(sqlmock.NewRows(occurrenceCols))

	_, err := repo.Get(context.Background(), "org-1", "missing")
	assert.ErrorIs(t, err, series.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_CreateBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)

	parent := "head-1"
	batch := []domain.Occurrence{
		{OrganizationID: "org-1", PlanID: "plan-1", Title: "A", StartDate: jan1, EndDate: jan1,
			ParentID: &parent, Classification: domain.Classification{Tags: []string{"t1"}}},
		{OrganizationID: "org-1", PlanID: "plan-1", Title: "A", StartDate: jan1, EndDate: jan1,
			ParentID: &parent, Classification: domain.Classification{Tags: []string{"t1"}}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO occurrences")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO occurrences")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO occurrence_entities")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateBatch(context.Background(), batch))
	assert.NotEmpty(t, batch[0].ID)
	assert.NotEqual(t, batch[0].ID, batch[1].ID)
	assert.False(t, batch[0].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_CreateWithoutRelations(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO occurrences")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o := &domain.Occurrence{ID: "occ-1", OrganizationID: "org-1", StartDate: jan1, EndDate: jan1}
	require.NoError(t, repo.Create(context.Background(), o))
	assert.Equal(t, "occ-1", o.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_UpdateMissingRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE occurrences SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), &domain.Occurrence{ID: "gone", OrganizationID: "org-1"})
	assert.ErrorIs(t, err, series.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_UpdateRewritesRelations(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE occurrences SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM occurrence_entities WHERE occurrence_id = $1")).
		WithArgs("occ-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q("INSERT INTO occurrence_entities")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), &domain.Occurrence{
		ID: "occ-1", OrganizationID: "org-1", TeamIDs: []string{"team-1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_InTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM occurrences WHERE organization_id = $1 AND parent_id = $2")).
		WithArgs("org-1", "head-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q("UPDATE occurrences SET rrule")).WillReturnError(boom)
	mock.ExpectRollback()

	var removed int
	err := repo.InTx(context.Background(), func(tx series.Repository) error {
		n, err := tx.DeleteChildren(context.Background(), "org-1", "head-1")
		if err != nil {
			return err
		}
		removed = n
		return tx.Promote(context.Background(), "org-1", "child-1", "FREQ=DAILY")
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_InTxNestedWritesShareTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE occurrences SET parent_id = $3")).
		WithArgs("org-1", "head-1", "child-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("INSERT INTO occurrences")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM occurrences WHERE organization_id = $1 AND id = ANY($2)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx series.Repository) error {
		if err := tx.Reparent(context.Background(), "org-1", "head-1", "child-1"); err != nil {
			return err
		}
		if err := tx.Create(context.Background(), &domain.Occurrence{OrganizationID: "org-1"}); err != nil {
			return err
		}
		return tx.Delete(context.Background(), "org-1", "head-1")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepo_EmptyInputsSkipQueries(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOccurrenceRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, "org-1"))
	require.NoError(t, repo.CreateBatch(ctx, nil))
	list, err := repo.GetMany(ctx, "org-1", nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// PLANS AND DIRECTORY
// =============================================================================

func TestPlanRepo_GetPlan(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepo(db)

	mock.ExpectQuery(q("FROM plans")).
		WithArgs("plan-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "name", "start_date", "end_date", "ongoing", "confidential",
			"owner_ids", "team_ids",
		}).AddRow("plan-1", "org-1", "2025", jan1, nil, true, false, "{u1,u2}", "{}"))

	p, err := repo.GetPlan(context.Background(), "org-1", "plan-1")
	require.NoError(t, err)
	assert.Nil(t, p.EndDate)
	assert.True(t, p.Ongoing)
	assert.Equal(t, []string{"u1", "u2"}, []string(p.OwnerIDs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepo_GetPlanNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepo(db)

	mock.ExpectQuery(q("FROM plans")).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetPlan(context.Background(), "org-1", "nope")
	assert.ErrorIs(t, err, series.ErrNotFound)
}

func TestPlanRepo_Quota(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT occurrence_quota FROM organizations")).
		WillReturnRows(sqlmock.NewRows([]string{"occurrence_quota"}).AddRow(500))
	mock.ExpectQuery(q("SELECT occurrence_quota FROM organizations")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q("SELECT COUNT(*) FROM occurrences")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	quota, err := repo.OccurrenceQuota(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 500, quota)

	quota, err = repo.OccurrenceQuota(ctx, "org-unknown")
	require.NoError(t, err)
	assert.Zero(t, quota)

	n, err := repo.OccurrenceCount(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepo_BusinessUnits(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDirectoryRepo(db)

	mock.ExpectQuery(q("FROM business_units")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id", "name"}).
			AddRow("root", nil, "Company").
			AddRow("emea", "root", "EMEA"))

	units, err := repo.BusinessUnits(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Nil(t, units[0].ParentID)
	require.NotNil(t, units[1].ParentID)
	assert.Equal(t, "root", *units[1].ParentID)
}

func TestDirectoryRepo_UsersByRole(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDirectoryRepo(db)

	mock.ExpectQuery(q("FROM users")).
		WithArgs("org-1", domain.RoleOwner).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "email", "name", "role"}).
			AddRow("u1", "org-1", "ada@example.com", "Ada", "owner"))

	users, err := repo.UsersByRole(context.Background(), "org-1", domain.RoleOwner)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleOwner, users[0].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// GRANTS AND RULES
// =============================================================================

func TestGrantRepo_ReplaceGrants(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGrantRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM occurrence_access")).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(q("INSERT INTO occurrence_access")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.ReplaceGrants(context.Background(), []string{"occ-1"}, []domain.AccessGrant{
		{UserID: "u1", OccurrenceID: "occ-1", Permission: domain.PermissionEdit},
		{UserID: "u2", OccurrenceID: "occ-1", Permission: domain.PermissionRead},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRepo_ReplaceGrantsRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGrantRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM occurrence_access")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO occurrence_access")).WillReturnError(errors.New("conflict"))
	mock.ExpectRollback()

	err := repo.ReplaceGrants(context.Background(), []string{"occ-1"}, []domain.AccessGrant{
		{UserID: "u1", OccurrenceID: "occ-1", Permission: domain.PermissionEdit},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRepo_UserPermission(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGrantRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT permission FROM occurrence_access")).
		WithArgs("u1", "occ-1").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).AddRow("edit"))
	mock.ExpectQuery(q("SELECT permission FROM occurrence_access")).
		WithArgs("u2", "occ-1").
		WillReturnError(sql.ErrNoRows)

	p, err := repo.UserPermission(ctx, "u1", "occ-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionEdit, p)

	p, err = repo.UserPermission(ctx, "u2", "occ-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Permission(""), p)
}

func TestRuleRepo_Subscribers(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRuleRepo(db)

	mock.ExpectQuery(q("FROM notification_rules")).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "user_id"}).
			AddRow("t1", "u1").
			AddRow("t1", "u2").
			AddRow("t2", "u3"))

	subs, err := repo.Subscribers(context.Background(), "org-1", domain.EntityTag, []string{"t1", "t2", "t3"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"t1": {"u1", "u2"}, "t2": {"u3"}}, subs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
