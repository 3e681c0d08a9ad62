// Package occurrence is the entry point for every occurrence mutation. It
// resolves the scope of an edit or delete across a series, checks edit rights
// before writing, and drives the series store, access propagation and
// notifications.
package occurrence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/logger"
	"github.com/ignite/comms-planner/internal/service/constraint"
	"github.com/ignite/comms-planner/internal/service/recurrence"
	"github.com/ignite/comms-planner/internal/service/series"
)

// Config holds the engine limits.
type Config struct {
	// MaxOccurrences is the ceiling on occurrences one rule may produce.
	MaxOccurrences int
}

// Service implements the occurrence lifecycle.
type Service struct {
	repo     series.Repository
	series   *series.Store
	plans    PlanReader
	orgs     OrgReader
	access   AccessControl
	notifier Notifier
	counter  Counter
	cfg      Config
	now      func() time.Time
}

// NewService wires the occurrence service.
func NewService(repo series.Repository, store *series.Store, plans PlanReader, orgs OrgReader,
	access AccessControl, notifier Notifier, cfg Config) *Service {
	return &Service{
		repo:     repo,
		series:   store,
		plans:    plans,
		orgs:     orgs,
		access:   access,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetCounter enables per-plan counters. Updates are not awaited.
func (s *Service) SetCounter(c Counter) {
	s.counter = c
}

// Get returns an occurrence the actor can read.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Occurrence, error) {
	o, err := s.series.Load(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.access.CanRead(ctx, actor.UserID, o.ID)
	if err != nil {
		return nil, fmt.Errorf("check access: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	return o, nil
}

// GetSeries returns the whole series an occurrence belongs to.
func (s *Service) GetSeries(ctx context.Context, actor domain.Actor, id string) (*series.Series, error) {
	o, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.series.Resolve(ctx, o)
}

// CreateOccurrence persists a new occurrence. With a rule the occurrence
// becomes a series head and its children are generated. A failure during
// generation or the grant refresh leaves nothing behind.
func (s *Service) CreateOccurrence(ctx context.Context, actor domain.Actor, req CreateOccurrenceRequest) (*domain.Occurrence, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	o := req.Occurrence(actor)
	if err := checkSchedule(&o); err != nil {
		return nil, err
	}
	if req.RRule != nil {
		if err := recurrence.Validate(*req.RRule); err != nil {
			return nil, classify(err)
		}
	}

	limits, err := s.limits(ctx, actor.OrganizationID, o.PlanID)
	if err != nil {
		return nil, err
	}
	if err := constraint.ValidateOne(&o, limits); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o.ID = uuid.New().String()
	o.CreatedAt = now
	o.UpdatedAt = now

	if req.RRule == nil {
		if err := s.repo.Create(ctx, &o); err != nil {
			return nil, fmt.Errorf("create occurrence: %w", err)
		}
		if err := s.access.Refresh(ctx, o.OrganizationID, o.ID); err != nil {
			if delErr := s.repo.Delete(context.WithoutCancel(ctx), o.OrganizationID, o.ID); delErr != nil {
				logger.Error("occurrence: compensating delete failed", "occurrence_id", o.ID, "error", delErr)
			}
			return nil, fmt.Errorf("refresh access: %w", err)
		}
		s.notifier.Created(ctx, &o)
		s.adjustCount(o.OrganizationID, o.PlanID, 1)
		logger.Info("occurrence created", "op", "create", "occurrence_id", o.ID, "rows", 1)
		return &o, nil
	}

	out, err := s.series.CreateSeries(ctx, &o, *req.RRule, limits.WithOccupied(1))
	if err != nil {
		return nil, classify(err)
	}
	s.notifier.Created(ctx, &out.Head)
	s.adjustCount(o.OrganizationID, o.PlanID, int64(1+len(out.Children)))
	logger.Info("occurrence created", "op", "create", "occurrence_id", o.ID, "rows", 1+len(out.Children))
	return &out.Head, nil
}

// RegenerateRule replaces the rule of a series head and regenerates all of
// its children.
func (s *Service) RegenerateRule(ctx context.Context, actor domain.Actor, headID, newRule string) (*domain.Occurrence, error) {
	if err := recurrence.Validate(newRule); err != nil {
		return nil, classify(err)
	}
	head, err := s.series.LoadHead(ctx, actor.OrganizationID, headID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, head.ID); err != nil {
		return nil, err
	}
	return s.regenerate(ctx, head, head, newRule)
}

// regenerate validates next (the head as it will be stored) against the
// limits and replaces the series. before is the stored head, used for
// notifications.
func (s *Service) regenerate(ctx context.Context, before, next *domain.Occurrence, rule string) (*domain.Occurrence, error) {
	limits, err := s.limits(ctx, next.OrganizationID, next.PlanID)
	if err != nil {
		return nil, err
	}
	if limits.Plan != nil {
		if err := constraint.CheckWindow(limits.Plan, next); err != nil {
			return nil, err
		}
	}
	out, err := s.series.RegenerateSeries(ctx, next, rule, limits)
	if err != nil {
		return nil, classify(err)
	}
	s.afterEdit(ctx, before, &out.Head)
	s.adjustCount(next.OrganizationID, next.PlanID, int64(len(out.Children)-out.Removed))
	logger.Info("series rule changed", "op", "regenerate", "occurrence_id", next.ID,
		"scope", string(domain.ScopeAll), "rows", 1+len(out.Children))
	return &out.Head, nil
}

// EditOccurrence applies patch to the target and, depending on scope, to its
// siblings. Date and time changes propagate only through a new rule.
func (s *Service) EditOccurrence(ctx context.Context, actor domain.Actor, id string, req EditOccurrenceRequest) (*domain.Occurrence, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, err := s.series.Load(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, target.ID); err != nil {
		return nil, err
	}
	scope := EffectiveScope(target, req.Scope)

	if req.Patch.RRule != nil {
		return s.editRule(ctx, target, &req.Patch)
	}
	if scope != domain.ScopeThis && req.Patch.TouchesSchedule() {
		return nil, ErrBulkDateEditNotAllowed
	}

	rows, err := s.rowsInScope(ctx, target, scope)
	if err != nil {
		return nil, err
	}

	var plan *domain.Plan
	if req.Patch.TouchesSchedule() {
		plan, err = s.plans.GetPlan(ctx, target.OrganizationID, target.PlanID)
		if err != nil {
			return nil, fmt.Errorf("get plan %s: %w", target.PlanID, err)
		}
	}

	now := s.now().UTC()
	before := make([]domain.Occurrence, len(rows))
	for i := range rows {
		before[i] = rows[i].Clone()
		req.Patch.Apply(&rows[i], scope == domain.ScopeThis)
		rows[i].UpdatedAt = now
		if err := checkSchedule(&rows[i]); err != nil {
			return nil, err
		}
		if plan != nil {
			if err := constraint.CheckWindow(plan, &rows[i]); err != nil {
				return nil, err
			}
		}
	}

	err = s.repo.InTx(ctx, func(tx series.Repository) error {
		for i := range rows {
			if err := tx.Update(ctx, &rows[i]); err != nil {
				return fmt.Errorf("update %s: %w", rows[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Patch.TouchesMembership() {
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		if err := s.access.Refresh(ctx, target.OrganizationID, ids...); err != nil {
			return nil, fmt.Errorf("refresh access: %w", err)
		}
	}

	// The first row is always the target.
	s.afterEdit(ctx, &before[0], &rows[0])
	logger.Info("occurrence edited", "op", "edit", "occurrence_id", target.ID,
		"scope", string(scope), "rows", len(rows))
	return &rows[0], nil
}

// editRule handles a patch carrying a rule. The rest of the patch, schedule
// included, is applied to the series anchor before children are generated.
func (s *Service) editRule(ctx context.Context, target *domain.Occurrence, patch *OccurrencePatch) (*domain.Occurrence, error) {
	rule := *patch.RRule

	head := target
	if target.IsChild() {
		h, err := s.series.LoadHead(ctx, target.OrganizationID, *target.ParentID)
		if err != nil {
			return nil, err
		}
		head = h
	}

	next := head.Clone()
	patch.Apply(&next, true)
	next.UpdatedAt = s.now().UTC()
	if err := checkSchedule(&next); err != nil {
		return nil, err
	}

	if rule == "" {
		if head.IsStandalone() {
			return nil, invalid(fmt.Errorf("rrule: %s has no rule to remove", head.ID))
		}
		plan, err := s.plans.GetPlan(ctx, next.OrganizationID, next.PlanID)
		if err != nil {
			return nil, fmt.Errorf("get plan %s: %w", next.PlanID, err)
		}
		if err := constraint.CheckWindow(plan, &next); err != nil {
			return nil, err
		}
		out, err := s.series.DetachSeries(ctx, &next)
		if err != nil {
			return nil, err
		}
		s.afterEdit(ctx, head, &out.Head)
		s.adjustCount(head.OrganizationID, head.PlanID, -int64(out.Removed))
		logger.Info("series detached", "op", "edit", "occurrence_id", head.ID, "rows", out.Removed)
		return &out.Head, nil
	}
	if err := recurrence.Validate(rule); err != nil {
		return nil, classify(err)
	}

	if head.IsHead() {
		return s.regenerate(ctx, head, &next, rule)
	}

	limits, err := s.limits(ctx, next.OrganizationID, next.PlanID)
	if err != nil {
		return nil, err
	}
	if limits.Plan != nil {
		if err := constraint.CheckWindow(limits.Plan, &next); err != nil {
			return nil, err
		}
	}
	out, err := s.series.PromoteSeries(ctx, &next, rule, limits)
	if err != nil {
		return nil, classify(err)
	}
	s.afterEdit(ctx, head, &out.Head)
	s.adjustCount(head.OrganizationID, head.PlanID, int64(len(out.Children)))
	logger.Info("occurrence promoted to series", "op", "edit", "occurrence_id", head.ID, "rows", 1+len(out.Children))
	return &out.Head, nil
}

// DeleteOccurrence removes the target and, depending on scope, its siblings.
// Deleting a head while keeping children promotes the earliest survivor.
func (s *Service) DeleteOccurrence(ctx context.Context, actor domain.Actor, id string, scope domain.Scope) error {
	target, err := s.series.Load(ctx, actor.OrganizationID, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, target.ID); err != nil {
		return err
	}
	scope = EffectiveScope(target, scope)

	if scope == domain.ScopeThis && !target.IsHead() {
		if err := s.repo.Delete(ctx, target.OrganizationID, target.ID); err != nil {
			return fmt.Errorf("delete occurrence: %w", err)
		}
		s.adjustCount(target.OrganizationID, target.PlanID, -1)
		logger.Info("occurrence deleted", "op", "delete", "occurrence_id", target.ID, "scope", string(scope), "rows", 1)
		return nil
	}

	ser, err := s.series.Resolve(ctx, target)
	if err != nil {
		return err
	}
	doomed, survivors := Partition(ser, target, scope)
	err = s.repo.InTx(ctx, func(tx series.Repository) error {
		return deleteRows(ctx, tx, ser.Head, doomed, survivors)
	})
	if err != nil {
		return err
	}
	s.adjustCount(target.OrganizationID, target.PlanID, -int64(len(doomed)))
	logger.Info("occurrence deleted", "op", "delete", "occurrence_id", target.ID, "scope", string(scope), "rows", len(doomed))
	return nil
}

// deleteRows removes doomed. When the head goes and children survive, the
// earliest survivor inherits the rule and the others move under it.
func deleteRows(ctx context.Context, tx series.Repository, head domain.Occurrence, doomed []string, survivors []domain.Occurrence) error {
	headGoes := false
	for _, id := range doomed {
		if id == head.ID {
			headGoes = true
			break
		}
	}
	if headGoes && len(survivors) > 0 && head.RRule != nil {
		heir := survivors[0]
		if err := tx.Promote(ctx, head.OrganizationID, heir.ID, *head.RRule); err != nil {
			return fmt.Errorf("promote %s: %w", heir.ID, err)
		}
		if err := tx.Reparent(ctx, head.OrganizationID, head.ID, heir.ID); err != nil {
			return fmt.Errorf("reparent under %s: %w", heir.ID, err)
		}
	}
	if err := tx.Delete(ctx, head.OrganizationID, doomed...); err != nil {
		return fmt.Errorf("delete occurrences: %w", err)
	}
	return nil
}

// EffectiveScope collapses the requested scope to ScopeThis for standalone
// occurrences and defaults an empty scope to ScopeThis.
func EffectiveScope(target *domain.Occurrence, requested domain.Scope) domain.Scope {
	if requested == "" || target.IsStandalone() {
		return domain.ScopeThis
	}
	return requested
}

// Partition splits a series into the ids a delete with scope removes and the
// children that stay, in start order.
func Partition(ser *series.Series, target *domain.Occurrence, scope domain.Scope) (doomed []string, survivors []domain.Occurrence) {
	members := append([]domain.Occurrence{ser.Head}, ser.Children...)
	for _, m := range members {
		var goes bool
		switch scope {
		case domain.ScopeAll:
			goes = true
		case domain.ScopeFollowing:
			goes = !m.StartDate.Before(target.StartDate)
		default:
			goes = m.ID == target.ID
		}
		if goes {
			doomed = append(doomed, m.ID)
		} else if m.ID != ser.Head.ID {
			survivors = append(survivors, m)
		}
	}
	return doomed, survivors
}

// rowsInScope returns the rows an edit reaches, target first.
func (s *Service) rowsInScope(ctx context.Context, target *domain.Occurrence, scope domain.Scope) ([]domain.Occurrence, error) {
	rows := []domain.Occurrence{target.Clone()}
	if scope == domain.ScopeThis {
		return rows, nil
	}
	ser, err := s.series.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	for _, m := range append([]domain.Occurrence{ser.Head}, ser.Children...) {
		if m.ID == target.ID {
			continue
		}
		if scope == domain.ScopeFollowing && m.StartDate.Before(target.StartDate) {
			continue
		}
		rows = append(rows, m)
	}
	return rows, nil
}

func (s *Service) authorize(ctx context.Context, actor domain.Actor, occurrenceID string) error {
	ok, err := s.access.CanEdit(ctx, actor.UserID, occurrenceID)
	if err != nil {
		return fmt.Errorf("check access: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: user %s on %s", ErrForbidden, actor.UserID, occurrenceID)
	}
	return nil
}

// afterEdit fires the notifications for one edited occurrence. Callers invoke
// it once per request, never per cascaded row.
func (s *Service) afterEdit(ctx context.Context, before, after *domain.Occurrence) {
	s.notifier.Edited(ctx, before, after)
	if before.Status != after.Status {
		s.notifier.StatusChanged(ctx, after, before.Status)
	}
}

// limits fetches the plan, the organization's occurrence count and its quota
// concurrently.
func (s *Service) limits(ctx context.Context, orgID, planID string) (constraint.Limits, error) {
	var (
		plan         *domain.Plan
		count, quota int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.plans.GetPlan(gctx, orgID, planID)
		if err != nil {
			return fmt.Errorf("get plan %s: %w", planID, err)
		}
		plan = p
		return nil
	})
	g.Go(func() error {
		n, err := s.orgs.OccurrenceCount(gctx, orgID)
		if err != nil {
			return fmt.Errorf("count occurrences: %w", err)
		}
		count = n
		return nil
	})
	g.Go(func() error {
		q, err := s.orgs.OccurrenceQuota(gctx, orgID)
		if err != nil {
			return fmt.Errorf("get quota: %w", err)
		}
		quota = q
		return nil
	})
	if err := g.Wait(); err != nil {
		return constraint.Limits{}, err
	}
	return constraint.Limits{
		Plan:     plan,
		Occupied: count,
		Quota:    quota,
		Ceiling:  s.cfg.MaxOccurrences,
	}, nil
}

// adjustCount pushes a counter delta without holding up the request.
func (s *Service) adjustCount(orgID, planID string, delta int64) {
	if s.counter == nil || delta == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.counter.Adjust(ctx, orgID, planID, delta); err != nil {
			logger.Warn("occurrence: counter update failed", "plan_id", planID, "delta", delta, "error", err)
		}
	}()
}
