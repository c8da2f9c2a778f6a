package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainRule     = "finrules/rule/v1"
	DomainSnapshot = "finrules/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RuleHash computes a content hash over the parts of r that affect
// evaluation: id, activity, stage, priority, conditions and actions.
// Names, descriptions and counters are excluded.
func RuleHash(r Rule) (string, error) {
	canonical, err := MarshalCanonical(ruleCanonicalMap(r))
	if err != nil {
		return "", fmt.Errorf("RuleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

func ruleCanonicalMap(r Rule) map[string]any {
	conds := make([]any, len(r.Conditions))
	for i, c := range r.Conditions {
		conds[i] = conditionCanonicalMap(c)
	}
	acts := make([]any, len(r.Actions))
	for i, a := range r.Actions {
		acts[i] = actionCanonicalMap(a)
	}
	return map[string]any{
		"id":         r.ID,
		"active":     r.IsActive,
		"stage":      string(r.Stage),
		"priority":   r.Priority,
		"workspace":  r.WorkspaceID,
		"conditions": conds,
		"actions":    acts,
	}
}

func conditionCanonicalMap(c Condition) map[string]any {
	m := map[string]any{
		"field":          string(c.Field),
		"operator":       string(c.Operator),
		"case_sensitive": c.CaseSensitive,
	}
	if c.TextValue != "" {
		m["text_value"] = c.TextValue
	}
	if len(c.TextValues) > 0 {
		m["text_values"] = c.TextValues
	}
	if c.NumericValue != nil {
		m["numeric_value"] = *c.NumericValue
	}
	if c.NumericMax != nil {
		m["numeric_max"] = *c.NumericMax
	}
	if c.DateValue != nil {
		m["date_value"] = c.DateValue.String()
	}
	if c.DateMax != nil {
		m["date_max"] = c.DateMax.String()
	}
	if len(c.Refs) > 0 {
		m["refs"] = c.Refs
	}
	return m
}

func actionCanonicalMap(a Action) map[string]any {
	m := map[string]any{
		"type":      string(a.Type),
		"overwrite": a.OverwriteExisting,
	}
	if a.Ref != nil {
		m["ref"] = map[string]any{"id": a.Ref.ID, "name": a.Ref.Name}
	}
	if a.TextValue != "" {
		m["text_value"] = a.TextValue
	}
	if a.NumericValue != nil {
		m["numeric_value"] = *a.NumericValue
	}
	if a.DateValue != nil {
		m["date_value"] = a.DateValue.String()
	}
	return m
}
