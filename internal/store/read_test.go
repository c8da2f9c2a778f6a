package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/roach88/finrules/internal/ir"
)

func TestLoadRules_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	rules, err := s.LoadRules(context.Background())
	if err != nil {
		t.Fatalf("LoadRules() failed: %v", err)
	}
	if rules == nil {
		t.Error("LoadRules() returned nil, want empty slice")
	}
}

func TestLoadRules_JoinsCounters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SaveRules(ctx, []ir.Rule{createTestRule("r1", "ws", ir.StageDefault, 1)}, nil); err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := s.AppendLog(ctx, createTestLog(fmt.Sprint(i), "r1", i)); err != nil {
			t.Fatal(err)
		}
	}

	rules, err := s.LoadRules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rules[0].TimesApplied != 3 {
		t.Errorf("TimesApplied = %d, want 3", rules[0].TimesApplied)
	}
	if rules[0].LastAppliedAt == nil {
		t.Error("LastAppliedAt not joined")
	}
}

func TestRuleStats_UnknownRule(t *testing.T) {
	s := createTestStore(t)

	stats, err := s.RuleStats(context.Background(), "never")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TimesApplied != 0 || stats.LastAppliedAt != nil {
		t.Errorf("unexpected stats for unknown rule: %+v", stats)
	}
}

func TestListLogs_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := createTestLog("l1", "r1", 1)
	if err := s.AppendLog(ctx, want); err != nil {
		t.Fatal(err)
	}

	logs, err := s.ListLogs(ctx, ir.LogFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("ListLogs() returned %d logs, want 1", len(logs))
	}
	got := logs[0]
	if got.ID != want.ID || got.RuleName != want.RuleName || got.Seq != 1 || got.Stage != ir.StageDefault {
		t.Errorf("log header mismatch: %+v", got)
	}
	if !got.AppliedAt.Equal(want.AppliedAt) {
		t.Errorf("AppliedAt = %v, want %v", got.AppliedAt, want.AppliedAt)
	}
	if got.ExecutionTime != want.ExecutionTime {
		t.Errorf("ExecutionTime = %v, want %v", got.ExecutionTime, want.ExecutionTime)
	}
	if len(got.ConditionsMatched) != 1 || got.ConditionsMatched[0].Actual != "UBER TRIP" {
		t.Errorf("conditions_matched mismatch: %+v", got.ConditionsMatched)
	}
	if len(got.ActionsExecuted) != 1 || !got.ActionsExecuted[0].Applied {
		t.Errorf("actions_executed mismatch: %+v", got.ActionsExecuted)
	}
}

func TestListLogs_FiltersNewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 60; i++ {
		rule := "a"
		if i%3 == 0 {
			rule = "b"
		}
		if err := s.AppendLog(ctx, createTestLog(fmt.Sprint(i), rule, i)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		filter    ir.LogFilter
		wantLen   int
		wantFirst int64
	}{
		{"default limit", ir.LogFilter{}, ir.DefaultLogLimit, 60},
		{"by rule", ir.LogFilter{RuleID: "b", Limit: 5}, 5, 60},
		{"by transaction", ir.LogFilter{TransactionID: "tx-7"}, 1, 7},
		{"by workspace", ir.LogFilter{WorkspaceID: "other"}, 0, 0},
		{"since", ir.LogFilter{Since: testTime.Add(58 * time.Second)}, 3, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, err := s.ListLogs(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(logs) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(logs), tt.wantLen)
			}
			if tt.wantLen > 0 && logs[0].Seq != tt.wantFirst {
				t.Errorf("first seq = %d, want %d", logs[0].Seq, tt.wantFirst)
			}
			for i := 1; i < len(logs); i++ {
				if logs[i].Seq > logs[i-1].Seq {
					t.Fatalf("logs not newest first at %d", i)
				}
			}
		})
	}
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.MaxSeq(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Errorf("MaxSeq() on empty log = %d, want 0", seq)
	}

	for _, n := range []int64{4, 11, 7} {
		if err := s.AppendLog(ctx, createTestLog(fmt.Sprint(n), "r", n)); err != nil {
			t.Fatal(err)
		}
	}
	if seq, _ = s.MaxSeq(ctx); seq != 11 {
		t.Errorf("MaxSeq() = %d, want 11", seq)
	}
}
