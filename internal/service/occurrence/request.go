package occurrence

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ignite/comms-planner/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateOccurrenceRequest carries a new occurrence and, optionally, the rule
// that turns it into a series head.
type CreateOccurrenceRequest struct {
	PlanID      string                  `json:"plan_id" validate:"required"`
	Title       string                  `json:"title" validate:"required,max=255"`
	Description string                  `json:"description"`
	Status      domain.OccurrenceStatus `json:"status" validate:"omitempty,oneof=planned in_progress complete cancelled archived paused draft"`

	StartDate time.Time         `json:"start_date" validate:"required"`
	EndDate   time.Time         `json:"end_date" validate:"required,gtefield=StartDate"`
	StartTime *domain.TimeOfDay `json:"start_time"`
	EndTime   *domain.TimeOfDay `json:"end_time"`
	NoSetTime bool              `json:"no_set_time"`
	FullDay   bool              `json:"full_day"`

	RRule *string `json:"rrule"`

	Classification  domain.Classification `json:"classification"`
	OwnerID         string                `json:"owner_id"`
	TeamIDs         []string              `json:"team_ids" validate:"omitempty,dive,required"`
	BusinessUnitIDs []string              `json:"business_unit_ids" validate:"omitempty,dive,required"`
	Confidential    bool                  `json:"confidential"`
	Budget          decimal.Decimal       `json:"budget"`
}

// Normalize trims free text.
func (r *CreateOccurrenceRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.PlanID = strings.TrimSpace(r.PlanID)
	if r.RRule != nil {
		rule := strings.TrimSpace(*r.RRule)
		r.RRule = &rule
	}
}

// Validate checks field tags and the cross-field schedule rules.
func (r *CreateOccurrenceRequest) Validate() error {
	r.Normalize()
	if err := validate.Struct(r); err != nil {
		return fieldErrors(err)
	}
	if r.RRule != nil && *r.RRule == "" {
		return invalid(errors.New("rrule: must not be empty"))
	}
	if r.Budget.IsNegative() {
		return invalid(errors.New("budget: must not be negative"))
	}
	return nil
}

// Occurrence builds the domain value the request describes.
func (r *CreateOccurrenceRequest) Occurrence(actor domain.Actor) domain.Occurrence {
	o := domain.Occurrence{
		OrganizationID:  actor.OrganizationID,
		PlanID:          r.PlanID,
		Title:           r.Title,
		Description:     r.Description,
		Status:          r.Status,
		StartDate:       domain.DateOf(r.StartDate),
		EndDate:         domain.DateOf(r.EndDate),
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		NoSetTime:       r.NoSetTime,
		FullDay:         r.FullDay,
		Classification:  r.Classification.Clone(),
		OwnerID:         r.OwnerID,
		TeamIDs:         r.TeamIDs,
		BusinessUnitIDs: r.BusinessUnitIDs,
		Confidential:    r.Confidential,
		Budget:          r.Budget,
	}
	if o.Status == "" {
		o.Status = domain.StatusPlanned
	}
	if o.OwnerID == "" {
		o.OwnerID = actor.UserID
	}
	if o.NoSetTime {
		o.StartTime, o.EndTime = nil, nil
	}
	return o
}

// OccurrencePatch lists the fields an edit changes. Nil fields are left alone.
type OccurrencePatch struct {
	Title       *string                  `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string                  `json:"description"`
	Status      *domain.OccurrenceStatus `json:"status" validate:"omitempty,oneof=planned in_progress complete cancelled archived paused draft"`

	StartDate *time.Time        `json:"start_date"`
	EndDate   *time.Time        `json:"end_date"`
	StartTime *domain.TimeOfDay `json:"start_time"`
	EndTime   *domain.TimeOfDay `json:"end_time"`
	NoSetTime *bool             `json:"no_set_time"`
	FullDay   *bool             `json:"full_day"`

	// RRule set on any series member regenerates the series through its head.
	// An empty rule on a series detaches it. On a standalone occurrence a
	// rule promotes it to a head.
	RRule *string `json:"rrule"`

	Tags                *[]string `json:"tags"`
	Audiences           *[]string `json:"audiences"`
	Channels            *[]string `json:"channels"`
	StrategicPriorities *[]string `json:"strategic_priorities"`
	ContentTypes        *[]string `json:"content_types"`

	OwnerID         *string          `json:"owner_id" validate:"omitempty,min=1"`
	TeamIDs         *[]string        `json:"team_ids"`
	BusinessUnitIDs *[]string        `json:"business_unit_ids"`
	Confidential    *bool            `json:"confidential"`
	Budget          *decimal.Decimal `json:"budget"`
}

// EditOccurrenceRequest is a patch plus the breadth it applies to.
type EditOccurrenceRequest struct {
	Patch OccurrencePatch `json:"patch"`
	Scope domain.Scope    `json:"scope" validate:"omitempty,oneof=this following all"`
}

// Validate checks field tags.
func (r *EditOccurrenceRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fieldErrors(err)
	}
	if r.Patch.Budget != nil && r.Patch.Budget.IsNegative() {
		return invalid(errors.New("budget: must not be negative"))
	}
	return nil
}

// TouchesSchedule reports whether the patch moves dates or times.
func (p *OccurrencePatch) TouchesSchedule() bool {
	return p.StartDate != nil || p.EndDate != nil || p.StartTime != nil ||
		p.EndTime != nil || p.NoSetTime != nil || p.FullDay != nil
}

// TouchesMembership reports whether the patch can change who has access.
func (p *OccurrencePatch) TouchesMembership() bool {
	return p.OwnerID != nil || p.TeamIDs != nil || p.BusinessUnitIDs != nil
}

// Apply writes the patch onto o. Schedule fields are applied only when
// schedule is true.
func (p *OccurrencePatch) Apply(o *domain.Occurrence, schedule bool) {
	if p.Title != nil {
		o.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		o.Description = *p.Description
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if schedule {
		if p.StartDate != nil {
			o.StartDate = domain.DateOf(*p.StartDate)
		}
		if p.EndDate != nil {
			o.EndDate = domain.DateOf(*p.EndDate)
		}
		if p.StartTime != nil {
			t := *p.StartTime
			o.StartTime = &t
		}
		if p.EndTime != nil {
			t := *p.EndTime
			o.EndTime = &t
		}
		if p.NoSetTime != nil {
			o.NoSetTime = *p.NoSetTime
			if o.NoSetTime {
				o.StartTime, o.EndTime = nil, nil
			}
		}
		if p.FullDay != nil {
			o.FullDay = *p.FullDay
		}
	}
	for kind, ids := range map[domain.EntityKind]*[]string{
		domain.EntityTag:               p.Tags,
		domain.EntityAudience:          p.Audiences,
		domain.EntityChannel:           p.Channels,
		domain.EntityStrategicPriority: p.StrategicPriorities,
		domain.EntityContentType:       p.ContentTypes,
	} {
		if ids != nil {
			o.Classification.Set(kind, append([]string(nil), (*ids)...))
		}
	}
	if p.OwnerID != nil {
		o.OwnerID = *p.OwnerID
	}
	if p.TeamIDs != nil {
		o.TeamIDs = append([]string(nil), (*p.TeamIDs)...)
	}
	if p.BusinessUnitIDs != nil {
		o.BusinessUnitIDs = append([]string(nil), (*p.BusinessUnitIDs)...)
	}
	if p.Confidential != nil {
		o.Confidential = *p.Confidential
	}
	if p.Budget != nil {
		o.Budget = *p.Budget
	}
}

// checkSchedule enforces that times come in pairs and that the occurrence
// does not end before it starts.
func checkSchedule(o *domain.Occurrence) error {
	if !o.NoSetTime && (o.StartTime == nil) != (o.EndTime == nil) {
		return invalid(errors.New("start_time and end_time must both be set or both be empty"))
	}
	if o.EndInstant().Before(o.StartInstant()) {
		return invalid(fmt.Errorf("end %s is before start %s",
			o.EndInstant().Format(time.RFC3339), o.StartInstant().Format(time.RFC3339)))
	}
	return nil
}

func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
	}
	return invalid(errors.New(strings.Join(msgs, "; ")))
}
