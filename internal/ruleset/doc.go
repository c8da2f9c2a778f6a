// Package ruleset owns the rule arena and its administrative operations.
//
// A Registry keeps every rule of every workspace keyed by id. Readers take
// an immutable ir.Snapshot per workspace; writers (Put, Delete, Reorder,
// BulkToggle) build the next state copy-on-write, persist it, and publish
// it with one atomic pointer swap. A batch that took a snapshot before a
// reorder keeps processing against it, so it sees the old ordering or the
// new one, never a mix.
//
// Each workspace carries a version stamp bumped by every write. Reorder
// takes the version the caller listed rules at and fails with a
// concurrency RuleError when it is stale. The Persister repeats the check
// in storage so two processes sharing a database cannot interleave.
//
// Invariants enforced at this boundary:
//   - every rule passes compiler.ValidateRule
//   - priorities are unique within (workspace, stage), inactive rules included
//   - at most Limits.MaxRulesPerStage rules per (workspace, stage)
//   - a rule never moves between workspaces
package ruleset
