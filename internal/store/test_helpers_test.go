package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/finrules/internal/ir"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRule creates a rule with one condition and one action.
func createTestRule(id, workspace string, stage ir.Stage, priority int) ir.Rule {
	amount := decimal.RequireFromString("-12.50")
	return ir.Rule{
		ID:          id,
		Name:        "rule " + id,
		IsActive:    true,
		Stage:       stage,
		Type:        ir.RuleTypeCategorization,
		Priority:    priority,
		WorkspaceID: workspace,
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
		Conditions: []ir.Condition{
			{ID: id + "-c1", Field: ir.FieldDescription, Operator: ir.OpContains, TextValue: "UBER"},
			{ID: id + "-c2", Field: ir.FieldAmount, Operator: ir.OpLess, NumericValue: &amount},
		},
		Actions: []ir.Action{
			{ID: id + "-a1", Type: ir.ActionSetCategory, Ref: &ir.Ref{ID: "cat-transport", Name: "Transporte"}},
		},
	}
}

// createTestLog creates a log for ruleID with minimal required fields.
func createTestLog(id, ruleID string, seq int64) ir.ApplicationLog {
	return ir.ApplicationLog{
		ID:            id,
		RuleID:        ruleID,
		RuleName:      "rule " + ruleID,
		Stage:         ir.StageDefault,
		WorkspaceID:   "ws",
		TransactionID: "tx-" + id,
		Seq:           seq,
		AppliedAt:     testTime.Add(time.Duration(seq) * time.Second),
		ConditionsMatched: []ir.ConditionMatch{
			{Field: ir.FieldDescription, Operator: ir.OpContains, Expected: "UBER", Actual: "UBER TRIP", Matched: true},
		},
		ActionsExecuted: []ir.ActionDiff{
			{Type: ir.ActionSetCategory, Field: ir.FieldCategory, OldValue: "", NewValue: "Transporte", Applied: true},
		},
		ExecutionTime: 1500 * time.Microsecond,
	}
}
