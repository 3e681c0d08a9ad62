package occurrence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/repository/memory"
	"github.com/ignite/comms-planner/internal/service/access"
	"github.com/ignite/comms-planner/internal/service/constraint"
	"github.com/ignite/comms-planner/internal/service/notify"
	"github.com/ignite/comms-planner/internal/service/occurrence"
	"github.com/ignite/comms-planner/internal/service/recurrence"
	"github.com/ignite/comms-planner/internal/service/series"
)

const (
	org            = "org-1"
	maxOccurrences = 30
)

var actor = domain.Actor{UserID: "u1", OrganizationID: org}

type captureDispatcher struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (c *captureDispatcher) Dispatch(n domain.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
}

func (c *captureDispatcher) count(t domain.NotificationTemplate) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, msg := range c.sent {
		if msg.Template == t {
			n++
		}
	}
	return n
}

type chanCounter struct{ deltas chan int64 }

func (c *chanCounter) Adjust(_ context.Context, _, _ string, delta int64) error {
	c.deltas <- delta
	return nil
}

type fixture struct {
	svc    *occurrence.Service
	mem    *memory.Store
	access *access.Propagator
	disp   *captureDispatcher
}

func date(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func strp(s string) *string { return &s }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	mem.AddPlan(domain.Plan{ID: "plan-1", OrganizationID: org, StartDate: date(time.January, 1), Ongoing: true})
	mem.AddUser(domain.User{ID: "u1", OrganizationID: org, Role: domain.RoleMember})
	mem.AddUser(domain.User{ID: "stranger", OrganizationID: org, Role: domain.RoleMember})
	for _, tag := range []string{"A", "B", "C"} {
		mem.AddRule(org, domain.NotificationRule{UserID: "watch-" + tag, EntityKind: domain.EntityTag, EntityID: tag})
	}

	acc := access.NewPropagator(mem, mem, mem)
	store := series.NewStore(mem, recurrence.ForCeiling(maxOccurrences), acc)
	disp := &captureDispatcher{}
	svc := occurrence.NewService(mem, store, mem, mem, acc, notify.NewDiffNotifier(mem, disp),
		occurrence.Config{MaxOccurrences: maxOccurrences})
	return &fixture{svc: svc, mem: mem, access: acc, disp: disp}
}

// seedWeekly stores a head on Jan 1 with children on Jan 8, 15 and 22.
func (f *fixture) seedWeekly(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	head := domain.Occurrence{
		ID:             "head",
		OrganizationID: org,
		PlanID:         "plan-1",
		Title:          "Digest",
		Status:         domain.StatusPlanned,
		StartDate:      date(time.January, 1),
		EndDate:        date(time.January, 1),
		RRule:          strp("FREQ=WEEKLY;COUNT=4"),
		OwnerID:        "u1",
		Classification: domain.Classification{Tags: []string{"A", "B"}},
	}
	require.NoError(t, f.mem.Create(ctx, &head))
	ids := []string{"head"}
	for _, d := range []int{8, 15, 22} {
		c := head.Clone()
		c.ID = fmt.Sprintf("jan-%d", d)
		c.RRule = nil
		c.ParentID = strp("head")
		c.StartDate = date(time.January, d)
		c.EndDate = date(time.January, d)
		require.NoError(t, f.mem.Create(ctx, &c))
		ids = append(ids, c.ID)
	}
	require.NoError(t, f.access.Refresh(ctx, org, ids...))
}

func (f *fixture) ids() []string {
	var out []string
	for _, o := range f.mem.All(org) {
		out = append(out, o.ID)
	}
	return out
}

func baseRequest() occurrence.CreateOccurrenceRequest {
	return occurrence.CreateOccurrenceRequest{
		PlanID:    "plan-1",
		Title:     "Product newsletter",
		StartDate: date(time.March, 1),
		EndDate:   date(time.March, 1),
	}
}

// --- create ----------------------------------------------------------------

func TestCreateOccurrence_Standalone(t *testing.T) {
	f := newFixture(t)
	counter := &chanCounter{deltas: make(chan int64, 1)}
	f.svc.SetCounter(counter)

	got, err := f.svc.CreateOccurrence(context.Background(), actor, baseRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, domain.StatusPlanned, got.Status)
	assert.True(t, got.IsStandalone())

	ok, err := f.access.CanEdit(context.Background(), "u1", got.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case d := <-counter.deltas:
		assert.Equal(t, int64(1), d)
	case <-time.After(2 * time.Second):
		t.Fatal("counter was not updated")
	}
}

func TestCreateOccurrence_ExpansionCount(t *testing.T) {
	f := newFixture(t)
	req := baseRequest()
	req.RRule = strp("RRULE:FREQ=WEEKLY;COUNT=6")
	req.Classification.Tags = []string{"A"}

	head, err := f.svc.CreateOccurrence(context.Background(), actor, req)
	require.NoError(t, err)
	require.True(t, head.IsHead())

	children, err := f.mem.Children(context.Background(), org, head.ID)
	require.NoError(t, err)
	require.Len(t, children, 6)
	for _, c := range children {
		assert.Equal(t, head.ID, *c.ParentID)
		assert.Nil(t, c.RRule)
	}
	assert.Equal(t, 1, f.disp.count(domain.TemplateEntityAdded), "one event for the head, none per child")
}

func TestCreateOccurrence_SpanPreservation(t *testing.T) {
	f := newFixture(t)
	req := baseRequest()
	req.StartTime = &domain.TimeOfDay{Hour: 9}
	req.EndTime = &domain.TimeOfDay{Hour: 10}
	req.RRule = strp("FREQ=DAILY;COUNT=5")

	head, err := f.svc.CreateOccurrence(context.Background(), actor, req)
	require.NoError(t, err)

	children, err := f.mem.Children(context.Background(), org, head.ID)
	require.NoError(t, err)
	require.Len(t, children, 5)
	for i, c := range children {
		assert.Equal(t, date(time.March, 1+i), c.StartDate)
		assert.Equal(t, "09:00", c.StartTime.String())
		assert.Equal(t, "10:00", c.EndTime.String())
	}
}

func TestCreateOccurrence_NoSetTime(t *testing.T) {
	f := newFixture(t)
	req := baseRequest()
	req.NoSetTime = true
	req.StartTime = &domain.TimeOfDay{Hour: 9}
	req.EndTime = &domain.TimeOfDay{Hour: 10}
	req.RRule = strp("FREQ=MONTHLY;COUNT=3")

	head, err := f.svc.CreateOccurrence(context.Background(), actor, req)
	require.NoError(t, err)
	children, err := f.mem.Children(context.Background(), org, head.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	for _, c := range children {
		assert.Nil(t, c.StartTime)
		assert.Nil(t, c.EndTime)
	}
}

func TestCreateOccurrence_TooManyPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.SetQuota(org, 50)
	for i := 0; i < 10; i++ {
		_, err := f.svc.CreateOccurrence(ctx, actor, baseRequest())
		require.NoError(t, err)
	}

	req := baseRequest()
	req.RRule = strp("FREQ=DAILY;COUNT=48")
	_, err := f.svc.CreateOccurrence(ctx, actor, req)
	assert.ErrorIs(t, err, constraint.ErrTooManyOccurrences)
	assert.Len(t, f.ids(), 10)
}

func TestCreateOccurrence_QuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.mem.SetQuota(org, 4)

	req := baseRequest()
	req.RRule = strp("FREQ=DAILY;COUNT=5")
	_, err := f.svc.CreateOccurrence(context.Background(), actor, req)
	assert.ErrorIs(t, err, constraint.ErrQuotaExceeded)
	assert.Empty(t, f.ids())
}

func TestCreateOccurrence_DateRange(t *testing.T) {
	f := newFixture(t)
	end := date(time.March, 10)
	f.mem.AddPlan(domain.Plan{ID: "short", OrganizationID: org, StartDate: date(time.March, 1), EndDate: &end})

	req := baseRequest()
	req.PlanID = "short"
	req.RRule = strp("FREQ=WEEKLY;COUNT=3")
	_, err := f.svc.CreateOccurrence(context.Background(), actor, req)
	assert.ErrorIs(t, err, constraint.ErrDateRange)

	req.RRule = nil
	req.StartDate = date(time.February, 27)
	_, err = f.svc.CreateOccurrence(context.Background(), actor, req)
	assert.ErrorIs(t, err, constraint.ErrDateRange)
	assert.Empty(t, f.ids())
}

func TestCreateOccurrence_Validation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]func(r *occurrence.CreateOccurrenceRequest){
		"missing title":   func(r *occurrence.CreateOccurrenceRequest) { r.Title = "  " },
		"missing plan":    func(r *occurrence.CreateOccurrenceRequest) { r.PlanID = "" },
		"end before":      func(r *occurrence.CreateOccurrenceRequest) { r.EndDate = date(time.February, 1) },
		"half time":       func(r *occurrence.CreateOccurrenceRequest) { r.StartTime = &domain.TimeOfDay{Hour: 9} },
		"bad status":      func(r *occurrence.CreateOccurrenceRequest) { r.Status = "someday" },
		"empty rule":      func(r *occurrence.CreateOccurrenceRequest) { r.RRule = strp(" ") },
		"unparsable rule": func(r *occurrence.CreateOccurrenceRequest) { r.RRule = strp("FREQ=SOMETIMES") },
		"time inversion": func(r *occurrence.CreateOccurrenceRequest) {
			r.StartTime = &domain.TimeOfDay{Hour: 10}
			r.EndTime = &domain.TimeOfDay{Hour: 9}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := baseRequest()
			mutate(&req)
			_, err := f.svc.CreateOccurrence(context.Background(), actor, req)
			assert.ErrorIs(t, err, occurrence.ErrValidation)
		})
	}
	assert.Empty(t, f.ids())
}

func TestCreateOccurrence_UnknownPlan(t *testing.T) {
	f := newFixture(t)
	req := baseRequest()
	req.PlanID = "nope"
	_, err := f.svc.CreateOccurrence(context.Background(), actor, req)
	assert.ErrorIs(t, err, occurrence.ErrNotFound)
}

func TestCreateOccurrence_GrantFailureLeavesNothing(t *testing.T) {
	tests := []struct {
		name string
		rule *string
	}{
		{"standalone", nil},
		{"series", strp("FREQ=DAILY;COUNT=3")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mem.FailOn("ReplaceGrants", errors.New("grants down"))
			req := baseRequest()
			req.RRule = tt.rule

			_, err := f.svc.CreateOccurrence(context.Background(), actor, req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "grants down")
			assert.Empty(t, f.ids())
			assert.Zero(t, f.disp.count(domain.TemplateEntityAdded))
		})
	}
}

// --- edit ------------------------------------------------------------------

func TestEditOccurrence_ForbiddenBeforeMutation(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	stranger := domain.Actor{UserID: "stranger", OrganizationID: org}
	_, err := f.svc.EditOccurrence(context.Background(), stranger, "jan-8", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{Title: strp("hijacked")},
		Scope: domain.ScopeAll,
	})
	assert.ErrorIs(t, err, occurrence.ErrForbidden)
	for _, o := range f.mem.All(org) {
		assert.Equal(t, "Digest", o.Title)
	}
}

func TestEditOccurrence_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EditOccurrence(context.Background(), actor, "missing", occurrence.EditOccurrenceRequest{})
	assert.ErrorIs(t, err, occurrence.ErrNotFound)
}

func TestEditOccurrence_ScopeAllFromChild(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	status := domain.StatusComplete
	got, err := f.svc.EditOccurrence(context.Background(), actor, "jan-15", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{Title: strp("Renamed"), Status: &status},
		Scope: domain.ScopeAll,
	})
	require.NoError(t, err)
	assert.Equal(t, "jan-15", got.ID)

	for _, o := range f.mem.All(org) {
		assert.Equal(t, "Renamed", o.Title, o.ID)
		assert.Equal(t, domain.StatusComplete, o.Status, o.ID)
	}
	assert.Equal(t, 1, f.disp.count(domain.TemplateStatusChanged), "one status event per batch")
}

func TestEditOccurrence_ScopeFollowing(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	_, err := f.svc.EditOccurrence(context.Background(), actor, "jan-15", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{Description: strp("late winter")},
		Scope: domain.ScopeFollowing,
	})
	require.NoError(t, err)

	got := map[string]string{}
	for _, o := range f.mem.All(org) {
		got[o.ID] = o.Description
	}
	assert.Equal(t, map[string]string{"head": "", "jan-8": "", "jan-15": "late winter", "jan-22": "late winter"}, got)
}

func TestEditOccurrence_BulkDateEditRejected(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	moved := date(time.February, 1)
	_, err := f.svc.EditOccurrence(context.Background(), actor, "jan-8", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{StartDate: &moved, EndDate: &moved},
		Scope: domain.ScopeFollowing,
	})
	assert.ErrorIs(t, err, occurrence.ErrBulkDateEditNotAllowed)
	assert.ErrorIs(t, err, occurrence.ErrValidation)

	o, err := f.mem.Get(context.Background(), org, "jan-8")
	require.NoError(t, err)
	assert.Equal(t, date(time.January, 8), o.StartDate)
}

func TestEditOccurrence_SingleReschedule(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	moved := date(time.January, 10)
	got, err := f.svc.EditOccurrence(context.Background(), actor, "jan-8", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{StartDate: &moved, EndDate: &moved},
	})
	require.NoError(t, err)
	assert.Equal(t, moved, got.StartDate)

	other, err := f.mem.Get(context.Background(), org, "jan-15")
	require.NoError(t, err)
	assert.Equal(t, date(time.January, 15), other.StartDate)
}

func TestEditOccurrence_StandaloneIgnoresScope(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.CreateOccurrence(context.Background(), actor, baseRequest())
	require.NoError(t, err)

	moved := date(time.March, 3)
	got, err := f.svc.EditOccurrence(context.Background(), actor, o.ID, occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{StartDate: &moved, EndDate: &moved},
		Scope: domain.ScopeAll,
	})
	require.NoError(t, err)
	assert.Equal(t, moved, got.StartDate)
}

func TestEditOccurrence_TagDiffNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	tags := []string{"B", "C"}
	_, err := f.svc.EditOccurrence(context.Background(), actor, "head", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{Tags: &tags},
		Scope: domain.ScopeAll,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.disp.count(domain.TemplateEntityRemoved))
	assert.Equal(t, 1, f.disp.count(domain.TemplateEntityAdded))
	for _, o := range f.mem.All(org) {
		assert.Equal(t, []string{"B", "C"}, o.Classification.Tags)
	}
}

func TestEditOccurrence_MembershipRefreshesAccess(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	team := []string{"stranger"}
	_, err := f.svc.EditOccurrence(context.Background(), actor, "head", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{TeamIDs: &team},
		Scope: domain.ScopeAll,
	})
	require.NoError(t, err)

	for _, id := range []string{"head", "jan-8", "jan-15", "jan-22"} {
		ok, err := f.access.CanEdit(context.Background(), "stranger", id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
}

func TestEditOccurrence_RuleOnChildRegeneratesThroughHead(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	got, err := f.svc.EditOccurrence(context.Background(), actor, "jan-15", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{RRule: strp("FREQ=DAILY;COUNT=2")},
		Scope: domain.ScopeThis,
	})
	require.NoError(t, err)
	assert.Equal(t, "head", got.ID)
	assert.Equal(t, "FREQ=DAILY;COUNT=2", *got.RRule)

	children, err := f.mem.Children(context.Background(), org, "head")
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, c := range children {
		assert.NotContains(t, []string{"jan-8", "jan-15", "jan-22"}, c.ID)
	}
}

func TestEditOccurrence_RulePromotesStandalone(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.CreateOccurrence(context.Background(), actor, baseRequest())
	require.NoError(t, err)

	got, err := f.svc.EditOccurrence(context.Background(), actor, o.ID, occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{RRule: strp("FREQ=WEEKLY;COUNT=3")},
	})
	require.NoError(t, err)
	assert.True(t, got.IsHead())

	children, err := f.mem.Children(context.Background(), org, o.ID)
	require.NoError(t, err)
	assert.Len(t, children, 3)
}

func TestEditOccurrence_EmptyRuleDetaches(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	got, err := f.svc.EditOccurrence(context.Background(), actor, "head", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{RRule: strp("")},
	})
	require.NoError(t, err)
	assert.True(t, got.IsStandalone())
	assert.Equal(t, []string{"head"}, f.ids())
}

func TestEditOccurrence_DetachWithNewOwnerRebuildsGrants(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)
	ctx := context.Background()

	got, err := f.svc.EditOccurrence(ctx, actor, "head", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{RRule: strp(""), OwnerID: strp("stranger")},
	})
	require.NoError(t, err)
	assert.Equal(t, "stranger", got.OwnerID)

	ok, err := f.access.CanEdit(ctx, "stranger", "head")
	require.NoError(t, err)
	assert.True(t, ok, "new owner can edit")
	ok, err = f.access.CanEdit(ctx, "u1", "head")
	require.NoError(t, err)
	assert.False(t, ok, "previous owner lost edit rights")
}

func TestEditOccurrence_DetachOutsidePlanWindow(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)
	early := time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.EditOccurrence(context.Background(), actor, "head", occurrence.EditOccurrenceRequest{
		Patch: occurrence.OccurrencePatch{RRule: strp(""), StartDate: &early, EndDate: &early},
	})
	assert.ErrorIs(t, err, constraint.ErrDateRange)

	stored, err := f.mem.Get(context.Background(), org, "head")
	require.NoError(t, err)
	assert.Equal(t, date(time.January, 1), stored.StartDate)
	assert.NotNil(t, stored.RRule)
	assert.Len(t, f.ids(), 4)
}

// --- regenerate ------------------------------------------------------------

func TestRegenerateRule_ReplacesNotMerges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := baseRequest()
	req.RRule = strp("FREQ=DAILY;COUNT=5")
	head, err := f.svc.CreateOccurrence(ctx, actor, req)
	require.NoError(t, err)
	before, err := f.mem.Children(ctx, org, head.ID)
	require.NoError(t, err)
	require.Len(t, before, 5)

	got, err := f.svc.RegenerateRule(ctx, actor, head.ID, "FREQ=DAILY;COUNT=3")
	require.NoError(t, err)
	assert.Equal(t, "FREQ=DAILY;COUNT=3", *got.RRule)

	after, err := f.mem.Children(ctx, org, head.ID)
	require.NoError(t, err)
	require.Len(t, after, 3)
	old := map[string]bool{}
	for _, c := range before {
		old[c.ID] = true
	}
	for _, c := range after {
		assert.False(t, old[c.ID])
	}
}

func TestRegenerateRule_QuotaCountsReplacedChildrenOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.SetQuota(org, 6)
	req := baseRequest()
	req.RRule = strp("FREQ=DAILY;COUNT=5")
	head, err := f.svc.CreateOccurrence(ctx, actor, req)
	require.NoError(t, err)

	_, err = f.svc.RegenerateRule(ctx, actor, head.ID, "FREQ=DAILY;COUNT=5")
	require.NoError(t, err)

	_, err = f.svc.RegenerateRule(ctx, actor, head.ID, "FREQ=DAILY;COUNT=6")
	assert.ErrorIs(t, err, constraint.ErrQuotaExceeded)
	assert.Len(t, f.ids(), 6, "failed regeneration keeps the old children")
}

func TestRegenerateRule_Errors(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)
	ctx := context.Background()

	_, err := f.svc.RegenerateRule(ctx, actor, "jan-8", "FREQ=DAILY;COUNT=2")
	assert.ErrorIs(t, err, occurrence.ErrNotAHead)

	_, err = f.svc.RegenerateRule(ctx, actor, "head", "FREQ=NEVER")
	assert.ErrorIs(t, err, occurrence.ErrValidation)
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)

	_, err = f.svc.RegenerateRule(ctx, actor, "missing", "FREQ=DAILY;COUNT=2")
	assert.ErrorIs(t, err, occurrence.ErrNotFound)

	stranger := domain.Actor{UserID: "stranger", OrganizationID: org}
	_, err = f.svc.RegenerateRule(ctx, stranger, "head", "FREQ=DAILY;COUNT=2")
	assert.ErrorIs(t, err, occurrence.ErrForbidden)
	assert.Len(t, f.ids(), 4)
}

// --- delete ----------------------------------------------------------------

func TestDeleteOccurrence_Following(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	require.NoError(t, f.svc.DeleteOccurrence(context.Background(), actor, "jan-15", domain.ScopeFollowing))
	assert.Equal(t, []string{"head", "jan-8"}, f.ids())
}

func TestDeleteOccurrence_ThisChild(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	require.NoError(t, f.svc.DeleteOccurrence(context.Background(), actor, "jan-15", domain.ScopeThis))
	assert.Equal(t, []string{"head", "jan-8", "jan-22"}, f.ids())
}

func TestDeleteOccurrence_All(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	require.NoError(t, f.svc.DeleteOccurrence(context.Background(), actor, "jan-8", domain.ScopeAll))
	assert.Empty(t, f.ids())
}

func TestDeleteOccurrence_HeadThisPromotesEarliestChild(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)
	ctx := context.Background()

	require.NoError(t, f.svc.DeleteOccurrence(ctx, actor, "head", domain.ScopeThis))
	assert.Equal(t, []string{"jan-8", "jan-15", "jan-22"}, f.ids())

	heir, err := f.mem.Get(ctx, org, "jan-8")
	require.NoError(t, err)
	require.True(t, heir.IsHead())
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", *heir.RRule)

	children, err := f.mem.Children(ctx, org, "jan-8")
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestDeleteOccurrence_Forbidden(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	stranger := domain.Actor{UserID: "stranger", OrganizationID: org}
	err := f.svc.DeleteOccurrence(context.Background(), stranger, "head", domain.ScopeAll)
	assert.ErrorIs(t, err, occurrence.ErrForbidden)
	assert.Len(t, f.ids(), 4)
}

func TestDeleteOccurrence_WriteFailureKeepsSeries(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)
	f.mem.FailOn("Delete", errors.New("connection reset"))

	err := f.svc.DeleteOccurrence(context.Background(), actor, "head", domain.ScopeThis)
	require.Error(t, err)

	head, err := f.mem.Get(context.Background(), org, "head")
	require.NoError(t, err)
	assert.True(t, head.IsHead())
	heir, err := f.mem.Get(context.Background(), org, "jan-8")
	require.NoError(t, err)
	assert.True(t, heir.IsChild(), "promotion rolled back")
}

func TestGetSeries(t *testing.T) {
	f := newFixture(t)
	f.seedWeekly(t)

	ser, err := f.svc.GetSeries(context.Background(), actor, "jan-22")
	require.NoError(t, err)
	assert.Equal(t, "head", ser.Head.ID)
	assert.Len(t, ser.Children, 3)

	_, err = f.svc.Get(context.Background(), domain.Actor{UserID: "stranger", OrganizationID: org}, "head")
	assert.ErrorIs(t, err, occurrence.ErrForbidden)
}
