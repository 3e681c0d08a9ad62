// Package constraint checks candidate occurrences against organizational
// limits. It performs no writes and stops at the first violated rule, in the
// order quota, ceiling, date range.
package constraint

import (
	"errors"
	"fmt"

	"github.com/ignite/comms-planner/internal/domain"
)

// Sentinel errors for business-limit violations.
var (
	ErrQuotaExceeded      = errors.New("organization occurrence quota exceeded")
	ErrTooManyOccurrences = errors.New("rule produces too many occurrences")
	ErrDateRange          = errors.New("occurrence falls outside the plan window")
)

// Limits is the context a candidate list is validated against.
type Limits struct {
	Plan *domain.Plan
	// Occupied is the organization's current occurrence count (C).
	Occupied int
	// Quota is the organization's occurrence quota (Q). Zero or less means unlimited.
	Quota int
	// Ceiling is the configured maximum per rule (M). Zero or less means unlimited.
	Ceiling int
}

// ForRegeneration returns a copy of l with the children about to be replaced
// released from the occupied count.
func (l Limits) ForRegeneration(existingChildren int) Limits {
	l.Occupied -= existingChildren
	if l.Occupied < 0 {
		l.Occupied = 0
	}
	return l
}

// WithOccupied returns a copy of l with delta added to the occupied count.
func (l Limits) WithOccupied(delta int) Limits {
	l.Occupied += delta
	return l
}

// Validate checks an ordered candidate list.
func Validate(candidates []domain.Occurrence, l Limits) error {
	n := len(candidates)
	if l.Quota > 0 && l.Occupied+n > l.Quota {
		return fmt.Errorf("%w: %d existing + %d new > %d", ErrQuotaExceeded, l.Occupied, n, l.Quota)
	}
	if l.Ceiling > 0 && n > l.Ceiling {
		return fmt.Errorf("%w: %d > %d", ErrTooManyOccurrences, n, l.Ceiling)
	}
	if n == 0 || l.Plan == nil {
		return nil
	}
	return checkWindow(l.Plan, &candidates[0], &candidates[n-1])
}

// ValidateOne checks a single standalone occurrence against quota and window.
func ValidateOne(o *domain.Occurrence, l Limits) error {
	if l.Quota > 0 && l.Occupied+1 > l.Quota {
		return fmt.Errorf("%w: %d existing + 1 new > %d", ErrQuotaExceeded, l.Occupied, l.Quota)
	}
	if l.Plan == nil {
		return nil
	}
	return checkWindow(l.Plan, o, o)
}

// CheckWindow verifies that o lies inside the plan window.
func CheckWindow(p *domain.Plan, o *domain.Occurrence) error {
	return checkWindow(p, o, o)
}

func checkWindow(p *domain.Plan, first, last *domain.Occurrence) error {
	if domain.DateOf(first.StartDate).Before(domain.DateOf(p.StartDate)) {
		return fmt.Errorf("%w: starts %s before plan start %s",
			ErrDateRange, first.StartDate.Format("2006-01-02"), p.StartDate.Format("2006-01-02"))
	}
	if p.Ongoing || p.EndDate == nil {
		return nil
	}
	if domain.DateOf(last.EndDate).After(domain.DateOf(*p.EndDate)) {
		return fmt.Errorf("%w: ends %s after plan end %s",
			ErrDateRange, last.EndDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"))
	}
	return nil
}
