// Package access derives who may read or edit an occurrence. Grants are a
// pure function of the organization's owners, the occurrence's owner and team,
// and business-unit permissions rolled down the unit hierarchy; they are
// always replaced wholesale.
package access

import (
	"context"
	"fmt"
	"sort"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/logger"
)

// Propagator recomputes access grants.
type Propagator struct {
	occurrences OccurrenceReader
	dir         Directory
	grants      GrantStore
}

// NewPropagator creates a propagator.
func NewPropagator(occurrences OccurrenceReader, dir Directory, grants GrantStore) *Propagator {
	return &Propagator{occurrences: occurrences, dir: dir, grants: grants}
}

// Refresh replaces the grants of every occurrence in ids. Ids that no longer
// exist simply lose their grants.
func (p *Propagator) Refresh(ctx context.Context, orgID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	occs, err := p.occurrences.GetMany(ctx, orgID, ids)
	if err != nil {
		return fmt.Errorf("load occurrences: %w", err)
	}
	owners, err := p.dir.UsersByRole(ctx, orgID, domain.RoleOwner)
	if err != nil {
		return fmt.Errorf("load owners: %w", err)
	}
	units, err := p.dir.BusinessUnits(ctx, orgID)
	if err != nil {
		return fmt.Errorf("load business units: %w", err)
	}
	h := NewHierarchy(units)

	var tagged []string
	for i := range occs {
		tagged = append(tagged, occs[i].BusinessUnitIDs...)
	}
	var unitPerms []domain.UnitPermission
	if covering := h.WithAncestors(tagged); len(covering) > 0 {
		unitPerms, err = p.dir.UnitPermissions(ctx, orgID, covering)
		if err != nil {
			return fmt.Errorf("load unit permissions: %w", err)
		}
	}

	var all []domain.AccessGrant
	for i := range occs {
		all = append(all, Compute(&occs[i], owners, h, unitPerms)...)
	}
	if err := p.grants.ReplaceGrants(ctx, ids, all); err != nil {
		return fmt.Errorf("replace grants: %w", err)
	}
	logger.Debug("access grants refreshed", "org_id", orgID, "occurrences", len(ids), "grants", len(all))
	return nil
}

// CanEdit reports whether userID holds edit rights on occurrenceID.
func (p *Propagator) CanEdit(ctx context.Context, userID, occurrenceID string) (bool, error) {
	perm, err := p.grants.UserPermission(ctx, userID, occurrenceID)
	if err != nil {
		return false, err
	}
	return perm.Covers(domain.PermissionEdit), nil
}

// CanRead reports whether userID holds any grant on occurrenceID.
func (p *Propagator) CanRead(ctx context.Context, userID, occurrenceID string) (bool, error) {
	perm, err := p.grants.UserPermission(ctx, userID, occurrenceID)
	if err != nil {
		return false, err
	}
	return perm.Covers(domain.PermissionRead), nil
}

// Compute derives the grant set of one occurrence. When a user qualifies
// through several sources the highest level wins. Output is sorted by user.
func Compute(o *domain.Occurrence, owners []domain.User, h *Hierarchy, unitPerms []domain.UnitPermission) []domain.AccessGrant {
	levels := make(map[string]domain.Permission)
	raise := func(userID string, perm domain.Permission) {
		if userID == "" {
			return
		}
		if cur, ok := levels[userID]; ok && cur.Covers(perm) {
			return
		}
		levels[userID] = perm
	}

	for _, u := range owners {
		raise(u.ID, domain.PermissionEdit)
	}
	raise(o.OwnerID, domain.PermissionEdit)
	for _, id := range o.TeamIDs {
		raise(id, domain.PermissionEdit)
	}

	covering := make(map[string]bool)
	for _, id := range h.WithAncestors(o.BusinessUnitIDs) {
		covering[id] = true
	}
	for _, up := range unitPerms {
		if covering[up.UnitID] {
			raise(up.UserID, up.Permission)
		}
	}

	out := make([]domain.AccessGrant, 0, len(levels))
	for userID, perm := range levels {
		out = append(out, domain.AccessGrant{UserID: userID, OccurrenceID: o.ID, Permission: perm})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
