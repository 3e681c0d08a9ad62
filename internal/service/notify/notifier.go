// Package notify turns occurrence changes into notification events for
// subscribed users. Everything here is best-effort: lookups that fail are
// logged and the event is dropped, and nothing is ever returned to the
// mutating caller.
package notify

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/logger"
)

// Categories that are not an entity kind.
const (
	CategoryStatus = "status"
)

// DiffNotifier computes classification and field diffs and hands the
// resulting events to a Dispatcher.
type DiffNotifier struct {
	rules      RuleStore
	dispatcher Dispatcher
	now        func() time.Time
}

// NewDiffNotifier creates a notifier.
func NewDiffNotifier(rules RuleStore, dispatcher Dispatcher) *DiffNotifier {
	return &DiffNotifier{rules: rules, dispatcher: dispatcher, now: time.Now}
}

// Created runs only the "added" pass: every classification on o is new.
func (n *DiffNotifier) Created(ctx context.Context, o *domain.Occurrence) {
	for _, kind := range domain.NotifiableKinds {
		n.emit(ctx, o, kind, domain.TemplateEntityAdded, unique(o.Classification.IDs(kind)))
	}
}

// Edited compares before and after. Removed and added classifications go to
// their subscribers; a change to title, schedule or owner produces one
// consolidated event for subscribers of the plan.
func (n *DiffNotifier) Edited(ctx context.Context, before, after *domain.Occurrence) {
	for _, kind := range domain.NotifiableKinds {
		added, removed := Diff(before.Classification.IDs(kind), after.Classification.IDs(kind))
		n.emit(ctx, after, kind, domain.TemplateEntityRemoved, removed)
		n.emit(ctx, after, kind, domain.TemplateEntityAdded, added)
	}

	changes := TrackedChanges(before, after)
	if len(changes) == 0 || after.PlanID == "" {
		return
	}
	subs, err := n.rules.Subscribers(ctx, after.OrganizationID, domain.EntityPlan, []string{after.PlanID})
	if err != nil {
		logger.Warn("notify: plan subscriber lookup failed", "occurrence_id", after.ID, "plan_id", after.PlanID, "error", err)
		return
	}
	recipients := unique(subs[after.PlanID])
	if len(recipients) == 0 {
		return
	}
	n.dispatch(domain.Notification{
		Template:       domain.TemplateOccurrenceUpdated,
		Category:       string(domain.EntityPlan),
		Recipients:     recipients,
		OrganizationID: after.OrganizationID,
		OccurrenceID:   after.ID,
		Data: map[string]string{
			"title":   after.Title,
			"plan_id": after.PlanID,
			"changes": strings.Join(changes, ","),
		},
	})
}

// StatusChanged notifies the owner and team of o that its status moved from
// the given value. Callers invoke it once per cascading batch.
func (n *DiffNotifier) StatusChanged(_ context.Context, o *domain.Occurrence, from domain.OccurrenceStatus) {
	if from == o.Status {
		return
	}
	recipients := unique(append([]string{o.OwnerID}, o.TeamIDs...))
	if len(recipients) == 0 {
		return
	}
	n.dispatch(domain.Notification{
		Template:       domain.TemplateStatusChanged,
		Category:       CategoryStatus,
		Recipients:     recipients,
		OrganizationID: o.OrganizationID,
		OccurrenceID:   o.ID,
		Data: map[string]string{
			"title": o.Title,
			"from":  string(from),
			"to":    string(o.Status),
		},
	})
}

func (n *DiffNotifier) emit(ctx context.Context, o *domain.Occurrence, kind domain.EntityKind, tmpl domain.NotificationTemplate, entityIDs []string) {
	if len(entityIDs) == 0 {
		return
	}
	subs, err := n.rules.Subscribers(ctx, o.OrganizationID, kind, entityIDs)
	if err != nil {
		logger.Warn("notify: subscriber lookup failed",
			"occurrence_id", o.ID, "entity_kind", string(kind), "error", err)
		return
	}
	for _, id := range entityIDs {
		recipients := unique(subs[id])
		if len(recipients) == 0 {
			continue
		}
		n.dispatch(domain.Notification{
			Template:       tmpl,
			Category:       string(kind),
			Recipients:     recipients,
			OrganizationID: o.OrganizationID,
			OccurrenceID:   o.ID,
			Data: map[string]string{
				"title":       o.Title,
				"entity_kind": string(kind),
				"entity_id":   id,
			},
		})
	}
}

func (n *DiffNotifier) dispatch(msg domain.Notification) {
	msg.CreatedAt = n.now().UTC()
	n.dispatcher.Dispatch(msg)
}

// Diff returns the ids only in next (added) and only in prev (removed), each
// in the order they appear.
func Diff(prev, next []string) (added, removed []string) {
	inPrev := make(map[string]bool, len(prev))
	for _, id := range prev {
		inPrev[id] = true
	}
	inNext := make(map[string]bool, len(next))
	for _, id := range next {
		inNext[id] = true
	}
	for _, id := range unique(next) {
		if !inPrev[id] {
			added = append(added, id)
		}
	}
	for _, id := range unique(prev) {
		if !inNext[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// TrackedChanges names the non-classification fields that differ, sorted.
func TrackedChanges(before, after *domain.Occurrence) []string {
	var out []string
	if before.Title != after.Title {
		out = append(out, "title")
	}
	if !before.StartDate.Equal(after.StartDate) {
		out = append(out, "start_date")
	}
	if !before.EndDate.Equal(after.EndDate) {
		out = append(out, "end_date")
	}
	if !sameTime(before.StartTime, after.StartTime) {
		out = append(out, "start_time")
	}
	if !sameTime(before.EndTime, after.EndTime) {
		out = append(out, "end_time")
	}
	if before.OwnerID != after.OwnerID {
		out = append(out, "owner_id")
	}
	sort.Strings(out)
	return out
}

func sameTime(a, b *domain.TimeOfDay) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
