// Package recurrence expands a recurrence rule anchored on an occurrence into
// the drafts of its child occurrences. Expansion is pure and deterministic.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/ignite/comms-planner/internal/domain"
)

// ErrInvalidRule is returned when a rule cannot be parsed or yields no instants.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// DefaultLimit bounds evaluation when no positive limit is configured.
const DefaultLimit = 1000

// Expander turns an RRULE string plus an anchor occurrence into child drafts.
type Expander struct {
	// Limit caps how many instants are evaluated. Unbounded rules stop here.
	Limit int
}

// NewExpander creates an expander evaluating at most limit instants. A limit
// of zero or less falls back to DefaultLimit.
func NewExpander(limit int) *Expander {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Expander{Limit: limit}
}

// ForCeiling creates the expander matching an occurrence ceiling. It
// evaluates one instant past the ceiling so an overlong rule still fails
// validation instead of being silently truncated.
func ForCeiling(ceiling int) *Expander {
	if ceiling <= 0 {
		return NewExpander(0)
	}
	return NewExpander(ceiling + 1)
}

// Instants evaluates rule from the anchor's start instant.
func (e *Expander) Instants(rule string, anchor *domain.Occurrence) ([]time.Time, error) {
	r, err := parseRule(rule)
	if err != nil {
		return nil, err
	}
	r.DTStart(anchor.StartInstant())

	var out []time.Time
	next := r.Iterator()
	for {
		if len(out) >= e.limit() {
			break
		}
		t, ok := next()
		if !ok {
			break
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: rule %q produces no occurrences", ErrInvalidRule, rule)
	}
	return out, nil
}

func (e *Expander) limit() int {
	if e.Limit <= 0 {
		return DefaultLimit
	}
	return e.Limit
}

// Expand returns one draft per instant, each a clone of the anchor with a
// fresh schedule: parent_id set to the anchor, rrule cleared, id unset.
func (e *Expander) Expand(rule string, anchor *domain.Occurrence) ([]domain.Occurrence, error) {
	instants, err := e.Instants(rule, anchor)
	if err != nil {
		return nil, err
	}
	span := anchor.EndInstant().Sub(anchor.StartInstant())
	timed := anchor.HasTimeOfDay()
	parentID := anchor.ID

	drafts := make([]domain.Occurrence, 0, len(instants))
	for _, start := range instants {
		end := start.Add(span)

		d := anchor.Clone()
		d.ID = ""
		d.RRule = nil
		pid := parentID
		d.ParentID = &pid
		d.StartDate = domain.DateOf(start)
		d.EndDate = domain.DateOf(end)
		if timed {
			st := domain.TimeOfDayOf(start)
			et := domain.TimeOfDayOf(end)
			d.StartTime = &st
			d.EndTime = &et
		} else {
			d.StartTime = nil
			d.EndTime = nil
		}
		d.CreatedAt = time.Time{}
		d.UpdatedAt = time.Time{}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// Validate parses rule without evaluating it.
func Validate(rule string) error {
	_, err := parseRule(rule)
	return err
}

func parseRule(rule string) (*rrule.RRule, error) {
	s := normalize(rule)
	if s == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}
	r, err := rrule.StrToRRule(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return r, nil
}

// normalize keeps only the RRULE line, dropping any DTSTART and the "RRULE:"
// prefix; the anchor's start always wins.
func normalize(rule string) string {
	var kept string
	for _, line := range strings.Split(strings.ReplaceAll(rule, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToUpper(line), "DTSTART") {
			continue
		}
		kept = line
	}
	if len(kept) >= 6 && strings.EqualFold(kept[:6], "RRULE:") {
		kept = kept[6:]
	}
	return strings.TrimSpace(kept)
}
