package series

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/distlock"
	"github.com/ignite/comms-planner/internal/pkg/logger"
	"github.com/ignite/comms-planner/internal/service/constraint"
	"github.com/ignite/comms-planner/internal/service/recurrence"
)

// Series is a head together with its children, ordered by start date.
type Series struct {
	Head     domain.Occurrence
	Children []domain.Occurrence
	// Removed counts children deleted by a regeneration or detach.
	Removed int
}

// IDs returns the head id followed by every child id.
func (s *Series) IDs() []string {
	ids := make([]string, 0, len(s.Children)+1)
	ids = append(ids, s.Head.ID)
	for _, c := range s.Children {
		ids = append(ids, c.ID)
	}
	return ids
}

// Store coordinates expansion, validation, persistence and access refresh for
// series. All writes are sequential: children need the head's id.
type Store struct {
	repo     Repository
	expander *recurrence.Expander
	access   AccessRefresher
	newLock  distlock.Factory
	now      func() time.Time
}

// NewStore creates a series store.
func NewStore(repo Repository, expander *recurrence.Expander, access AccessRefresher) *Store {
	return &Store{
		repo:     repo,
		expander: expander,
		access:   access,
		now:      time.Now,
	}
}

// SetLockFactory enables per-head locking for promotion and regeneration.
// Without it two concurrent regenerations of one head race and the last
// writer wins.
func (s *Store) SetLockFactory(f distlock.Factory) {
	s.newLock = f
}

// Load returns an occurrence after checking its linkage shape.
func (s *Store) Load(ctx context.Context, orgID, id string) (*domain.Occurrence, error) {
	o, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := CheckShape(o); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadHead returns an occurrence that must be a series head.
func (s *Store) LoadHead(ctx context.Context, orgID, id string) (*domain.Occurrence, error) {
	o, err := s.Load(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !o.IsHead() {
		return nil, fmt.Errorf("%w: %s", ErrNotAHead, id)
	}
	return o, nil
}

// Children returns the head's children, each checked to be a child.
func (s *Store) Children(ctx context.Context, orgID, headID string) ([]domain.Occurrence, error) {
	children, err := s.repo.Children(ctx, orgID, headID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if !children[i].IsChild() || *children[i].ParentID != headID {
			return nil, fmt.Errorf("%w: %s listed under %s", ErrMalformedSeries, children[i].ID, headID)
		}
	}
	return children, nil
}

// Resolve loads the whole series that o belongs to. A standalone occurrence
// resolves to a series of one with no children.
func (s *Store) Resolve(ctx context.Context, o *domain.Occurrence) (*Series, error) {
	if o.IsStandalone() {
		return &Series{Head: *o}, nil
	}
	head := o
	if o.IsChild() {
		h, err := s.LoadHead(ctx, o.OrganizationID, *o.ParentID)
		if err != nil {
			return nil, err
		}
		head = h
	}
	children, err := s.Children(ctx, head.OrganizationID, head.ID)
	if err != nil {
		return nil, err
	}
	return &Series{Head: *head, Children: children}, nil
}

// Generate expands rule from head and validates the drafts. It is pure: ids
// are assigned but nothing is written.
func (s *Store) Generate(head *domain.Occurrence, rule string, limits constraint.Limits) ([]domain.Occurrence, error) {
	drafts, err := s.expander.Expand(rule, head)
	if err != nil {
		return nil, err
	}
	if err := constraint.Validate(drafts, limits); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range drafts {
		drafts[i].ID = uuid.New().String()
		drafts[i].CreatedAt = now
		drafts[i].UpdatedAt = now
	}
	return drafts, nil
}

// CreateSeries persists a new head carrying rule, then generates and persists
// its children. If generation, the child insert or the grant refresh fails,
// every row written so far is deleted again before the error is returned, so
// no orphan head with a dangling rule survives.
func (s *Store) CreateSeries(ctx context.Context, head *domain.Occurrence, rule string, limits constraint.Limits) (*Series, error) {
	r := rule
	head.RRule = &r
	head.ParentID = nil
	if err := s.repo.Create(ctx, head); err != nil {
		return nil, fmt.Errorf("create head: %w", err)
	}

	children, err := s.Generate(head, rule, limits)
	if err != nil {
		s.drop(ctx, head.OrganizationID, head.ID)
		return nil, err
	}

	if err := s.repo.CreateBatch(ctx, children); err != nil {
		s.drop(ctx, head.OrganizationID, head.ID)
		return nil, fmt.Errorf("create children: %w", err)
	}

	out := &Series{Head: *head, Children: children}
	if err := s.access.Refresh(ctx, head.OrganizationID, out.IDs()...); err != nil {
		s.drop(ctx, head.OrganizationID, out.IDs()...)
		return nil, fmt.Errorf("refresh access: %w", err)
	}
	logger.Info("series created", "head_id", head.ID, "children", len(children))
	return out, nil
}

// PromoteSeries attaches rule to an existing standalone occurrence and
// materializes its children. head carries the row as it should be stored;
// validation happens before any write, then the head update and the child
// inserts run in one transaction.
func (s *Store) PromoteSeries(ctx context.Context, head *domain.Occurrence, rule string, limits constraint.Limits) (*Series, error) {
	if !head.IsStandalone() {
		return nil, fmt.Errorf("%w: %s already belongs to a series", ErrMalformedSeries, head.ID)
	}
	release, err := s.lock(ctx, head.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	next := s.withRule(head, &rule)
	children, err := s.Generate(&next, rule, limits)
	if err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.Update(ctx, &next); err != nil {
			return fmt.Errorf("update head: %w", err)
		}
		if err := tx.CreateBatch(ctx, children); err != nil {
			return fmt.Errorf("create children: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Series{Head: next, Children: children}
	if err := s.access.Refresh(ctx, head.OrganizationID, out.IDs()...); err != nil {
		return nil, fmt.Errorf("refresh access: %w", err)
	}
	logger.Info("series promoted", "head_id", head.ID, "children", len(children))
	return out, nil
}

// RegenerateSeries replaces every child of head with the expansion of
// newRule. Limits are validated with the existing children released from the
// occupied count, before anything is deleted; the delete, head update and
// insert then run in one transaction. Edits made to individual children are
// discarded.
func (s *Store) RegenerateSeries(ctx context.Context, head *domain.Occurrence, newRule string, limits constraint.Limits) (*Series, error) {
	if !head.IsHead() {
		return nil, fmt.Errorf("%w: %s", ErrNotAHead, head.ID)
	}
	release, err := s.lock(ctx, head.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.Children(ctx, head.OrganizationID, head.ID)
	if err != nil {
		return nil, err
	}

	next := s.withRule(head, &newRule)
	children, err := s.Generate(&next, newRule, limits.ForRegeneration(len(existing)))
	if err != nil {
		return nil, err
	}

	var removed int
	err = s.repo.InTx(ctx, func(tx Repository) error {
		n, err := tx.DeleteChildren(ctx, head.OrganizationID, head.ID)
		if err != nil {
			return fmt.Errorf("delete children: %w", err)
		}
		removed = n
		if err := tx.Update(ctx, &next); err != nil {
			return fmt.Errorf("update head: %w", err)
		}
		if err := tx.CreateBatch(ctx, children); err != nil {
			return fmt.Errorf("create children: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Series{Head: next, Children: children, Removed: removed}
	if err := s.access.Refresh(ctx, head.OrganizationID, out.IDs()...); err != nil {
		return nil, fmt.Errorf("refresh access: %w", err)
	}
	logger.Info("series regenerated", "head_id", head.ID, "removed", removed, "children", len(children))
	return out, nil
}

// DetachSeries drops the rule from head and deletes all of its children,
// leaving head as a standalone occurrence. head carries the row as it should
// be stored, so its grants are rebuilt afterwards.
func (s *Store) DetachSeries(ctx context.Context, head *domain.Occurrence) (*Series, error) {
	if !head.IsHead() {
		return nil, fmt.Errorf("%w: %s", ErrNotAHead, head.ID)
	}
	release, err := s.lock(ctx, head.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	next := s.withRule(head, nil)
	var removed int
	err = s.repo.InTx(ctx, func(tx Repository) error {
		n, err := tx.DeleteChildren(ctx, head.OrganizationID, head.ID)
		if err != nil {
			return fmt.Errorf("delete children: %w", err)
		}
		removed = n
		if err := tx.Update(ctx, &next); err != nil {
			return fmt.Errorf("update head: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.access.Refresh(ctx, head.OrganizationID, next.ID); err != nil {
		return nil, fmt.Errorf("refresh access: %w", err)
	}
	logger.Info("series detached", "head_id", head.ID, "removed", removed)
	return &Series{Head: next, Removed: removed}, nil
}

// drop deletes rows a failed create already wrote.
func (s *Store) drop(ctx context.Context, orgID string, ids ...string) {
	if err := s.repo.Delete(context.WithoutCancel(ctx), orgID, ids...); err != nil {
		logger.Error("series: compensating delete failed",
			"occurrence_id", ids[0], "rows", len(ids), "error", err)
	}
}

func (s *Store) withRule(head *domain.Occurrence, rule *string) domain.Occurrence {
	next := head.Clone()
	next.ParentID = nil
	next.RRule = nil
	if rule != nil {
		r := *rule
		next.RRule = &r
	}
	next.UpdatedAt = s.now().UTC()
	return next
}

func (s *Store) lock(ctx context.Context, headID string) (func(), error) {
	if s.newLock == nil {
		return func() {}, nil
	}
	l := s.newLock("series:" + headID)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock series: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSeriesBusy, headID)
	}
	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("series: lock release failed", "head_id", headID, "error", err)
		}
	}, nil
}

// CheckShape enforces the linkage invariant: a child never carries a rule.
func CheckShape(o *domain.Occurrence) error {
	if o.RRule != nil && o.ParentID != nil {
		return fmt.Errorf("%w: %s has both rrule and parent_id", ErrMalformedSeries, o.ID)
	}
	return nil
}
