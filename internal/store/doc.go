// Package store provides SQLite-backed durable storage for rules and their
// application logs.
//
// Tables:
//   - rules: rule rows with conditions and actions as JSON
//   - ruleset_versions: one version stamp per workspace
//   - application_logs: append-only audit of rule firings
//   - rule_stats: times_applied and last_applied_at per rule
//
// # Critical Patterns
//
// Atomic log and counters: AppendLog inserts the log row and bumps the rule
// counters in one SQL transaction. A failed write leaves neither.
//
// Optimistic versioning: every rule write names the workspace version it
// was computed from. The write bumps the stamp with
// UPDATE ... WHERE version = ?, and a stale stamp aborts the whole
// transaction with a concurrency RuleError.
//
// Deterministic queries: rule reads order by (workspace, stage, priority,
// id COLLATE BINARY); log reads order by seq.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
