package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OccurrenceStatus enumerates the lifecycle states of an occurrence.
type OccurrenceStatus string

const (
	StatusPlanned    OccurrenceStatus = "planned"
	StatusInProgress OccurrenceStatus = "in_progress"
	StatusComplete   OccurrenceStatus = "complete"
	StatusCancelled  OccurrenceStatus = "cancelled"
	StatusArchived   OccurrenceStatus = "archived"
	StatusPaused     OccurrenceStatus = "paused"
	StatusDraft      OccurrenceStatus = "draft"
)

// Valid reports whether s is one of the known statuses.
func (s OccurrenceStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusComplete, StatusCancelled,
		StatusArchived, StatusPaused, StatusDraft:
		return true
	}
	return false
}

// Occurrence is one scheduled communication instance. A series head carries
// RRule; its children carry ParentID. A standalone occurrence has neither.
type Occurrence struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	PlanID         string `json:"plan_id" db:"plan_id"`

	Title       string           `json:"title" db:"title"`
	Description string           `json:"description" db:"description"`
	Status      OccurrenceStatus `json:"status" db:"status"`

	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   time.Time  `json:"end_date" db:"end_date"`
	StartTime *TimeOfDay `json:"start_time" db:"start_time"`
	EndTime   *TimeOfDay `json:"end_time" db:"end_time"`
	NoSetTime bool       `json:"no_set_time" db:"no_set_time"`
	FullDay   bool       `json:"full_day" db:"full_day"`

	RRule    *string `json:"rrule" db:"rrule"`
	ParentID *string `json:"parent_id" db:"parent_id"`

	Classification Classification `json:"classification"`

	OwnerID         string          `json:"owner_id" db:"owner_id"`
	TeamIDs         []string        `json:"team_ids"`
	BusinessUnitIDs []string        `json:"business_unit_ids"`
	Confidential    bool            `json:"confidential" db:"confidential"`
	Budget          decimal.Decimal `json:"budget" db:"budget"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsHead returns true if o bears a recurrence rule.
func (o *Occurrence) IsHead() bool { return o.RRule != nil && o.ParentID == nil }

// IsChild returns true if o was generated from a head.
func (o *Occurrence) IsChild() bool { return o.RRule == nil && o.ParentID != nil }

// IsStandalone returns true if o belongs to no series.
func (o *Occurrence) IsStandalone() bool { return o.RRule == nil && o.ParentID == nil }

// HeadID returns the id of the series head o belongs to, or o's own id for
// heads and standalone occurrences.
func (o *Occurrence) HeadID() string {
	if o.ParentID != nil {
		return *o.ParentID
	}
	return o.ID
}

// HasTimeOfDay returns true if o tracks a start/end time-of-day.
func (o *Occurrence) HasTimeOfDay() bool {
	return !o.NoSetTime && o.StartTime != nil && o.EndTime != nil
}

// StartInstant combines StartDate with StartTime (midnight when unset).
func (o *Occurrence) StartInstant() time.Time {
	if o.HasTimeOfDay() {
		return o.StartTime.On(o.StartDate)
	}
	return DateOf(o.StartDate)
}

// EndInstant combines EndDate with EndTime (midnight when unset).
func (o *Occurrence) EndInstant() time.Time {
	if o.HasTimeOfDay() {
		return o.EndTime.On(o.EndDate)
	}
	return DateOf(o.EndDate)
}

// Clone returns a deep copy of o.
func (o *Occurrence) Clone() Occurrence {
	cp := *o
	if o.StartTime != nil {
		t := *o.StartTime
		cp.StartTime = &t
	}
	if o.EndTime != nil {
		t := *o.EndTime
		cp.EndTime = &t
	}
	if o.RRule != nil {
		r := *o.RRule
		cp.RRule = &r
	}
	if o.ParentID != nil {
		p := *o.ParentID
		cp.ParentID = &p
	}
	cp.Classification = o.Classification.Clone()
	cp.TeamIDs = cloneIDs(o.TeamIDs)
	cp.BusinessUnitIDs = cloneIDs(o.BusinessUnitIDs)
	return cp
}

// Plan is the bounding container for occurrences.
type Plan struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	Name           string     `json:"name" db:"name"`
	StartDate      time.Time  `json:"start_date" db:"start_date"`
	EndDate        *time.Time `json:"end_date" db:"end_date"`
	Ongoing        bool       `json:"ongoing" db:"ongoing"`
	Confidential   bool       `json:"confidential" db:"confidential"`
	OwnerIDs       []string   `json:"owner_ids"`
	TeamIDs        []string   `json:"team_ids"`
}

// Contains reports whether [start, end] falls inside the plan window.
func (p *Plan) Contains(start, end time.Time) bool {
	if DateOf(start).Before(DateOf(p.StartDate)) {
		return false
	}
	if p.Ongoing || p.EndDate == nil {
		return true
	}
	return !DateOf(end).After(DateOf(*p.EndDate))
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
