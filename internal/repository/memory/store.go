// Package memory is an in-memory implementation of every store contract the
// planner uses. It backs the "memory" storage mode and the service tests.
//
// InTx snapshots the whole state and restores it when fn fails. It gives
// rollback, not isolation: concurrent writers are not kept out meanwhile.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/service/series"
)

type ruleEntry struct {
	orgID string
	rule  domain.NotificationRule
}

type state struct {
	occurrences map[string]domain.Occurrence
	plans       map[string]domain.Plan
	users       map[string]domain.User
	units       map[string][]domain.BusinessUnit
	unitPerms   map[string][]domain.UnitPermission
	grants      map[string][]domain.AccessGrant
	rules       []ruleEntry
	quotas      map[string]int
}

func newState() *state {
	return &state{
		occurrences: make(map[string]domain.Occurrence),
		plans:       make(map[string]domain.Plan),
		users:       make(map[string]domain.User),
		units:       make(map[string][]domain.BusinessUnit),
		unitPerms:   make(map[string][]domain.UnitPermission),
		grants:      make(map[string][]domain.AccessGrant),
		quotas:      make(map[string]int),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.occurrences {
		cp.occurrences[k] = v.Clone()
	}
	for k, v := range s.plans {
		cp.plans[k] = v
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.units {
		cp.units[k] = append([]domain.BusinessUnit(nil), v...)
	}
	for k, v := range s.unitPerms {
		cp.unitPerms[k] = append([]domain.UnitPermission(nil), v...)
	}
	for k, v := range s.grants {
		cp.grants[k] = append([]domain.AccessGrant(nil), v...)
	}
	cp.rules = append([]ruleEntry(nil), s.rules...)
	for k, v := range s.quotas {
		cp.quotas[k] = v
	}
	return cp
}

// Store holds all planner data in maps guarded by one mutex.
type Store struct {
	mu     sync.RWMutex
	data   *state
	failOn map[string]error
}

// New creates an empty store.
func New() *Store {
	return &Store{data: newState(), failOn: make(map[string]error)}
}

// FailOn makes the named operation (e.g. "CreateBatch") return err until
// cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

func (s *Store) fail(op string) error {
	return s.failOn[op]
}

// --- occurrences -----------------------------------------------------------

func (s *Store) Get(_ context.Context, orgID, id string) (*domain.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.occurrences[id]
	if !ok || o.OrganizationID != orgID {
		return nil, series.ErrNotFound
	}
	cp := o.Clone()
	return &cp, nil
}

func (s *Store) GetMany(_ context.Context, orgID string, ids []string) ([]domain.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Occurrence
	for _, id := range ids {
		if o, ok := s.data.occurrences[id]; ok && o.OrganizationID == orgID {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (s *Store) Children(_ context.Context, orgID, headID string) ([]domain.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Occurrence
	for _, o := range s.data.occurrences {
		if o.OrganizationID == orgID && o.ParentID != nil && *o.ParentID == headID {
			out = append(out, o.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) Create(_ context.Context, o *domain.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Create"); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	s.data.occurrences[o.ID] = o.Clone()
	return nil
}

func (s *Store) CreateBatch(_ context.Context, os []domain.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateBatch"); err != nil {
		return err
	}
	for i := range os {
		if os[i].ID == "" {
			os[i].ID = uuid.New().String()
		}
		s.data.occurrences[os[i].ID] = os[i].Clone()
	}
	return nil
}

func (s *Store) Update(_ context.Context, o *domain.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Update"); err != nil {
		return err
	}
	cur, ok := s.data.occurrences[o.ID]
	if !ok || cur.OrganizationID != o.OrganizationID {
		return series.ErrNotFound
	}
	s.data.occurrences[o.ID] = o.Clone()
	return nil
}

func (s *Store) Promote(_ context.Context, orgID, id, rule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.occurrences[id]
	if !ok || o.OrganizationID != orgID {
		return series.ErrNotFound
	}
	r := rule
	o.RRule = &r
	o.ParentID = nil
	s.data.occurrences[id] = o
	return nil
}

func (s *Store) Reparent(_ context.Context, orgID, fromHeadID, toHeadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.data.occurrences {
		if id != toHeadID && o.OrganizationID == orgID && o.ParentID != nil && *o.ParentID == fromHeadID {
			to := toHeadID
			o.ParentID = &to
			s.data.occurrences[id] = o
		}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, orgID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Delete"); err != nil {
		return err
	}
	for _, id := range ids {
		if o, ok := s.data.occurrences[id]; ok && o.OrganizationID == orgID {
			delete(s.data.occurrences, id)
			delete(s.data.grants, id)
		}
	}
	return nil
}

func (s *Store) DeleteChildren(_ context.Context, orgID, headID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteChildren"); err != nil {
		return 0, err
	}
	n := 0
	for id, o := range s.data.occurrences {
		if o.OrganizationID == orgID && o.ParentID != nil && *o.ParentID == headID {
			delete(s.data.occurrences, id)
			delete(s.data.grants, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) InTx(ctx context.Context, fn func(series.Repository) error) error {
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// All returns every occurrence of an organization ordered by start date.
func (s *Store) All(orgID string) []domain.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Occurrence
	for _, o := range s.data.occurrences {
		if o.OrganizationID == orgID {
			out = append(out, o.Clone())
		}
	}
	sortByStart(out)
	return out
}

// --- plans and organization ------------------------------------------------

// AddPlan stores a plan.
func (s *Store) AddPlan(p domain.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.plans[p.ID] = p
}

func (s *Store) GetPlan(_ context.Context, orgID, id string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.plans[id]
	if !ok || p.OrganizationID != orgID {
		return nil, series.ErrNotFound
	}
	return &p, nil
}

// SetQuota sets an organization's occurrence quota.
func (s *Store) SetQuota(orgID string, quota int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.quotas[orgID] = quota
}

func (s *Store) OccurrenceQuota(_ context.Context, orgID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.quotas[orgID], nil
}

func (s *Store) OccurrenceCount(_ context.Context, orgID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.data.occurrences {
		if o.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

// --- identity --------------------------------------------------------------

// AddUser stores a user.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

// AddBusinessUnit stores a unit in an organization's hierarchy.
func (s *Store) AddBusinessUnit(orgID string, u domain.BusinessUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.units[orgID] = append(s.data.units[orgID], u)
}

// GrantUnit gives a user a permission on a business unit.
func (s *Store) GrantUnit(orgID string, p domain.UnitPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.unitPerms[orgID] = append(s.data.unitPerms[orgID], p)
}

func (s *Store) UsersByRole(_ context.Context, orgID string, role domain.Role) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for _, u := range s.data.users {
		if u.OrganizationID == orgID && u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Users(_ context.Context, ids []string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for _, id := range ids {
		if u, ok := s.data.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) BusinessUnits(_ context.Context, orgID string) ([]domain.BusinessUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.BusinessUnit(nil), s.data.units[orgID]...), nil
}

func (s *Store) UnitPermissions(_ context.Context, orgID string, unitIDs []string) ([]domain.UnitPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		want[id] = true
	}
	var out []domain.UnitPermission
	for _, p := range s.data.unitPerms[orgID] {
		if want[p.UnitID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- grants ----------------------------------------------------------------

func (s *Store) ReplaceGrants(_ context.Context, occurrenceIDs []string, grants []domain.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReplaceGrants"); err != nil {
		return err
	}
	for _, id := range occurrenceIDs {
		delete(s.data.grants, id)
	}
	for _, g := range grants {
		s.data.grants[g.OccurrenceID] = append(s.data.grants[g.OccurrenceID], g)
	}
	return nil
}

func (s *Store) Grants(_ context.Context, occurrenceID string) ([]domain.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.AccessGrant(nil), s.data.grants[occurrenceID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) UserPermission(_ context.Context, userID, occurrenceID string) (domain.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.data.grants[occurrenceID] {
		if g.UserID == userID {
			return g.Permission, nil
		}
	}
	return "", nil
}

// --- notification rules ----------------------------------------------------

// AddRule subscribes a user to an entity.
func (s *Store) AddRule(orgID string, r domain.NotificationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rules = append(s.data.rules, ruleEntry{orgID: orgID, rule: r})
}

func (s *Store) Subscribers(_ context.Context, orgID string, kind domain.EntityKind, entityIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = true
	}
	out := make(map[string][]string)
	for _, e := range s.data.rules {
		if e.orgID == orgID && e.rule.EntityKind == kind && want[e.rule.EntityID] {
			out[e.rule.EntityID] = append(out[e.rule.EntityID], e.rule.UserID)
		}
	}
	return out, nil
}

func sortByStart(os []domain.Occurrence) {
	sort.Slice(os, func(i, j int) bool {
		if !os[i].StartDate.Equal(os[j].StartDate) {
			return os[i].StartDate.Before(os[j].StartDate)
		}
		return os[i].ID < os[j].ID
	})
}
