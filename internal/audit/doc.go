// Package audit persists application logs and per-rule counters.
//
// A Recorder sits between the engine and a Sink. It retries transient sink
// failures with exponential backoff (github.com/cenkalti/backoff/v5) and
// reports a persistence RuleError once retries are exhausted.
//
// Logs are append-only. Counters (times_applied, last_applied_at) are
// maintained per rule with atomic operations in MemorySink, and inside the
// same SQL transaction as the log row in store.Store, so concurrent batch
// workers never lose an increment.
package audit
