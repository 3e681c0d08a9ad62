package domain

// Permission is the level of access a user holds on an occurrence.
type Permission string

const (
	PermissionRead Permission = "read"
	PermissionEdit Permission = "edit"
)

// Covers reports whether p grants at least want.
func (p Permission) Covers(want Permission) bool {
	if p == PermissionEdit {
		return true
	}
	return p == want
}

// Role is an organization-wide role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// AccessGrant is a derived (user, occurrence, permission) row. Grants are
// always regenerated wholesale, never patched.
type AccessGrant struct {
	UserID       string     `json:"user_id" db:"user_id"`
	OccurrenceID string     `json:"occurrence_id" db:"occurrence_id"`
	Permission   Permission `json:"permission" db:"permission"`
}

// User is the slice of identity the engine needs.
type User struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Email          string `json:"email" db:"email"`
	Name           string `json:"name" db:"name"`
	Role           Role   `json:"role" db:"role"`
}

// BusinessUnit is a node in an organization's unit hierarchy.
type BusinessUnit struct {
	ID       string  `json:"id" db:"id"`
	ParentID *string `json:"parent_id" db:"parent_id"`
	Name     string  `json:"name" db:"name"`
}

// UnitPermission is a permission a user holds on a business unit. It rolls
// down to every descendant unit.
type UnitPermission struct {
	UserID     string     `json:"user_id" db:"user_id"`
	UnitID     string     `json:"business_unit_id" db:"business_unit_id"`
	Permission Permission `json:"permission" db:"permission"`
}

// Actor is the explicit request context passed into every engine call.
type Actor struct {
	UserID         string
	OrganizationID string
}
