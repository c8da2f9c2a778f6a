// Package ir provides the shared data model for the finrules engine.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Monetary values are decimal.Decimal, never floats
//   - Calendar dates are civil.Date (no time-of-day, no zone)
//   - All JSON tags use snake_case
//   - Rules and transactions are values; a snapshot is never mutated after
//     construction
package ir
