// Package series owns the consistency of a recurring series: one head
// occurrence bearing the rule plus the children generated from it.
//
// Regeneration is a destructive full replace. Children are never diffed
// against the new rule; any per-child edit is lost when the rule changes.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package series
