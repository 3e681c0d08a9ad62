package domain

import "fmt"

// Scope is the breadth of a cascaded edit or delete across a series.
type Scope string

const (
	ScopeThis      Scope = "this"
	ScopeFollowing Scope = "following"
	ScopeAll       Scope = "all"
)

// ParseScope maps a request value to a Scope. Empty means ScopeThis.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeThis:
		return ScopeThis, nil
	case ScopeFollowing:
		return ScopeFollowing, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}
