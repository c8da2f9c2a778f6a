package testutil

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/roach88/finrules/internal/ir"
)

// RuleBuilder assembles valid rules for tests.
//
// The zero configuration is an active categorization rule in the default
// stage at the default priority, workspace "ws".
type RuleBuilder struct {
	rule ir.Rule
}

// NewRule starts a rule with the given id.
func NewRule(id string) *RuleBuilder {
	return &RuleBuilder{rule: ir.Rule{
		ID:          id,
		Name:        "rule " + id,
		IsActive:    true,
		Stage:       ir.StageDefault,
		Type:        ir.RuleTypeCategorization,
		Priority:    ir.DefaultPriority,
		WorkspaceID: "ws",
	}}
}

func (b *RuleBuilder) Workspace(ws string) *RuleBuilder {
	b.rule.WorkspaceID = ws
	return b
}

func (b *RuleBuilder) Stage(s ir.Stage) *RuleBuilder {
	b.rule.Stage = s
	return b
}

func (b *RuleBuilder) Priority(p int) *RuleBuilder {
	b.rule.Priority = p
	return b
}

func (b *RuleBuilder) Inactive() *RuleBuilder {
	b.rule.IsActive = false
	return b
}

// When appends a condition. Empty condition ids are numbered.
func (b *RuleBuilder) When(c ir.Condition) *RuleBuilder {
	if c.ID == "" {
		c.ID = b.rule.ID + "/c" + strconv.Itoa(len(b.rule.Conditions)+1)
	}
	b.rule.Conditions = append(b.rule.Conditions, c)
	return b
}

// Then appends an action. Empty action ids are numbered.
func (b *RuleBuilder) Then(a ir.Action) *RuleBuilder {
	if a.ID == "" {
		a.ID = b.rule.ID + "/a" + strconv.Itoa(len(b.rule.Actions)+1)
	}
	b.rule.Actions = append(b.rule.Actions, a)
	return b
}

// Build returns a copy of the assembled rule.
func (b *RuleBuilder) Build() ir.Rule {
	return b.rule.Clone()
}

// Text builds a text-family condition.
func Text(field ir.Field, op ir.Operator, value string) ir.Condition {
	return ir.Condition{Field: field, Operator: op, TextValue: value}
}

// Amount builds a numeric condition; max is only read by range.
func Amount(op ir.Operator, value string, max ...string) ir.Condition {
	c := ir.Condition{Field: ir.FieldAmount, Operator: op, NumericValue: Dec(value)}
	if len(max) > 0 {
		c.NumericMax = Dec(max[0])
	}
	return c
}

// RefIn builds a one_of condition over reference ids.
func RefIn(field ir.Field, ids ...string) ir.Condition {
	return ir.Condition{Field: field, Operator: ir.OpOneOf, Refs: ids}
}

// SetRef builds a reference-writing action that overwrites.
func SetRef(t ir.ActionType, id string) ir.Action {
	return ir.Action{Type: t, Ref: &ir.Ref{ID: id}, OverwriteExisting: true}
}

// SetText builds a text-writing action that overwrites.
func SetText(t ir.ActionType, value string) ir.Action {
	return ir.Action{Type: t, TextValue: value, OverwriteExisting: true}
}

// Dec parses s or panics. Test input only.
func Dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// Tx builds a transaction of workspace "ws".
func Tx(id, description, amount string) ir.Transaction {
	return ir.Transaction{
		ID:          id,
		WorkspaceID: "ws",
		Description: description,
		Amount:      *Dec(amount),
	}
}

