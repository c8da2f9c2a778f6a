// Package engine evaluates rule snapshots against transactions.
//
// ARCHITECTURE:
//
// Staged pipeline:
// A transaction passes through the pre, default and post stages in that
// order. Within a stage, active rules run sorted by (priority, id). Each
// rule sees the transaction as left by every earlier rule, including rules
// of earlier stages.
//
// Rule evaluation:
//  1. Conditions are ANDed and short-circuit on the first false
//  2. A rule with no conditions never matches
//  3. Matching rules execute every action in declaration order
//  4. A log entry is produced only if at least one action changed the record
//
// Failure handling:
// A condition that cannot be evaluated (bad regex, malformed value, dangling
// reference) is false and reported as an issue. An action that cannot apply
// is reported with applied=false. Neither aborts processing. A failed audit
// write is a warning; the transaction result stands.
//
// Concurrency:
// A Snapshot is immutable, so ProcessBatch fans transactions out across a
// bounded worker pool (golang.org/x/sync/errgroup) with no locking on the
// hot path. Results are returned in input order.
//
// CRITICAL PATTERNS:
//   - Transactions are values; the caller's copy is never mutated
//   - Evaluation never panics on user data
//   - Dry runs never touch the audit log or counters
package engine
