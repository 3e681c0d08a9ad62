package access

import (
	"sort"

	"github.com/ignite/comms-planner/internal/domain"
)

// Hierarchy is an organization's business-unit tree held as an adjacency
// list. All queries are pure and tolerate cycles in bad data.
type Hierarchy struct {
	parent   map[string]string
	children map[string][]string
}

// NewHierarchy indexes units by parent and child.
func NewHierarchy(units []domain.BusinessUnit) *Hierarchy {
	h := &Hierarchy{
		parent:   make(map[string]string, len(units)),
		children: make(map[string][]string),
	}
	for _, u := range units {
		if u.ParentID == nil || *u.ParentID == "" {
			continue
		}
		h.parent[u.ID] = *u.ParentID
		h.children[*u.ParentID] = append(h.children[*u.ParentID], u.ID)
	}
	return h
}

// Ancestors returns every unit above id, nearest first.
func (h *Hierarchy) Ancestors(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	for cur, ok := h.parent[id]; ok && !seen[cur]; cur, ok = h.parent[cur] {
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}

// Descendants returns every unit below id, breadth first.
func (h *Hierarchy) Descendants(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range h.children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// WithAncestors returns ids plus every ancestor of each, sorted and unique.
// A permission on any of these units covers an occurrence tagged with ids.
func (h *Hierarchy) WithAncestors(ids []string) []string {
	set := make(map[string]struct{})
	for _, id := range ids {
		set[id] = struct{}{}
		for _, a := range h.Ancestors(id) {
			set[a] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Closure returns ids plus all their ancestors and descendants, sorted.
func (h *Hierarchy) Closure(ids []string) []string {
	set := make(map[string]struct{})
	for _, id := range ids {
		set[id] = struct{}{}
		for _, a := range h.Ancestors(id) {
			set[a] = struct{}{}
		}
		for _, d := range h.Descendants(id) {
			set[d] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
