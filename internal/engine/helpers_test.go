package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/roach88/finrules/internal/ir"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func day(s string) *civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func textCond(field ir.Field, op ir.Operator, value string) ir.Condition {
	return ir.Condition{Field: field, Operator: op, TextValue: value}
}

func setCategory(id string, overwrite bool) ir.Action {
	return ir.Action{Type: ir.ActionSetCategory, Ref: &ir.Ref{ID: id, Name: id}, OverwriteExisting: overwrite}
}

func newRule(id string, stage ir.Stage, priority int, conds []ir.Condition, acts []ir.Action) ir.Rule {
	return ir.Rule{
		ID:          id,
		Name:        id,
		IsActive:    true,
		Stage:       stage,
		Type:        ir.RuleTypeCombination,
		Priority:    priority,
		WorkspaceID: "ws",
		Conditions:  conds,
		Actions:     acts,
	}
}

func snapshotOf(rules ...ir.Rule) *ir.Snapshot {
	return ir.NewSnapshot("ws", 1, rules)
}

// newTestEngine returns an engine with deterministic ids and time.
func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithNow(FixedNow(testNow)),
		WithIDGenerator(NewSequenceGenerator("log")),
	}
	e := New(append(base, opts...)...)
	t.Cleanup(e.Close)
	return e
}

// memoryRecorder collects logs and counts per rule.
type memoryRecorder struct {
	mu     sync.Mutex
	logs   []ir.ApplicationLog
	counts map[string]int
	fail   error
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{counts: make(map[string]int)}
}

func (m *memoryRecorder) Record(_ context.Context, log ir.ApplicationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.logs = append(m.logs, log)
	m.counts[log.RuleID]++
	return nil
}

func (m *memoryRecorder) count(ruleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[ruleID]
}

func (m *memoryRecorder) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

var errDiskFull = errors.New("disk full")
