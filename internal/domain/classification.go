package domain

// EntityKind names a classification relation (or the plan itself) that users
// can subscribe to.
type EntityKind string

const (
	EntityTag               EntityKind = "tag"
	EntityAudience          EntityKind = "audience"
	EntityChannel           EntityKind = "channel"
	EntityStrategicPriority EntityKind = "strategic_priority"
	EntityContentType       EntityKind = "content_type"
	EntityPlan              EntityKind = "plan"
)

// NotifiableKinds are the classification kinds that carry notification rules.
var NotifiableKinds = []EntityKind{EntityTag, EntityAudience, EntityChannel, EntityStrategicPriority}

// Classification holds the many-to-many references of an occurrence.
type Classification struct {
	Tags                []string `json:"tags"`
	Audiences           []string `json:"audiences"`
	Channels            []string `json:"channels"`
	StrategicPriorities []string `json:"strategic_priorities"`
	ContentTypes        []string `json:"content_types"`
}

// IDs returns the references held for kind.
func (c *Classification) IDs(kind EntityKind) []string {
	switch kind {
	case EntityTag:
		return c.Tags
	case EntityAudience:
		return c.Audiences
	case EntityChannel:
		return c.Channels
	case EntityStrategicPriority:
		return c.StrategicPriorities
	case EntityContentType:
		return c.ContentTypes
	}
	return nil
}

// Set replaces the references held for kind.
func (c *Classification) Set(kind EntityKind, ids []string) {
	switch kind {
	case EntityTag:
		c.Tags = ids
	case EntityAudience:
		c.Audiences = ids
	case EntityChannel:
		c.Channels = ids
	case EntityStrategicPriority:
		c.StrategicPriorities = ids
	case EntityContentType:
		c.ContentTypes = ids
	}
}

// Clone returns a deep copy of c.
func (c Classification) Clone() Classification {
	return Classification{
		Tags:                cloneIDs(c.Tags),
		Audiences:           cloneIDs(c.Audiences),
		Channels:            cloneIDs(c.Channels),
		StrategicPriorities: cloneIDs(c.StrategicPriorities),
		ContentTypes:        cloneIDs(c.ContentTypes),
	}
}

// ClassificationKinds lists every kind stored on an occurrence.
var ClassificationKinds = []EntityKind{EntityTag, EntityAudience, EntityChannel, EntityStrategicPriority, EntityContentType}
