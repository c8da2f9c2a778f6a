// Package compiler turns authored rule definitions into validated rules.
//
// Rules are written in CUE (unified against an embedded schema) or YAML,
// decoded into RuleDoc values and converted to ir.Rule. ValidateRule then
// enforces the per-rule invariants with code-numbered ValidationErrors
// (E200-E299):
//   - at least one condition and one action
//   - every operator belongs to its field's family
//   - each operator has the value representation it needs
//   - priority within ir.MinPriority..ir.MaxPriority
//   - condition and action counts within ir.Limits
//
// Invariants spanning several rules (unique priority per stage, rules per
// stage) are enforced by the ruleset registry.
package compiler
