package domain

import "time"

// NotificationRule subscribes a user to changes of one entity.
type NotificationRule struct {
	UserID     string     `json:"user_id" db:"user_id"`
	EntityKind EntityKind `json:"entity_kind" db:"entity_kind"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
}

// NotificationTemplate identifies the message shape to deliver.
type NotificationTemplate string

const (
	TemplateEntityAdded       NotificationTemplate = "entity_added"
	TemplateEntityRemoved     NotificationTemplate = "entity_removed"
	TemplateOccurrenceUpdated NotificationTemplate = "occurrence_updated"
	TemplateStatusChanged     NotificationTemplate = "status_changed"
)

// Notification is one dispatch request: (template, recipients, category)
// plus the data the template needs.
type Notification struct {
	Template       NotificationTemplate `json:"template"`
	Category       string               `json:"category"`
	Recipients     []string             `json:"recipients"`
	OrganizationID string               `json:"organization_id"`
	OccurrenceID   string               `json:"occurrence_id"`
	Data           map[string]string    `json:"data,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}
