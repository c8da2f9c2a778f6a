package ruleset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/finrules/internal/engine"
	"github.com/roach88/finrules/internal/ir"
	"github.com/roach88/finrules/internal/store"
	"github.com/roach88/finrules/internal/testutil"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func rule(id string, stage ir.Stage, priority int, category string) ir.Rule {
	return testutil.NewRule(id).
		Stage(stage).
		Priority(priority).
		When(testutil.Text(ir.FieldDescription, ir.OpContains, "UBER")).
		Then(testutil.SetRef(ir.ActionSetCategory, category)).
		Build()
}

func newRegistry(t *testing.T, rules ...ir.Rule) *Registry {
	t.Helper()
	r := New(ir.DefaultLimits(), WithNow(fixedNow))
	if len(rules) > 0 {
		_, err := r.PutAll(context.Background(), rules)
		require.NoError(t, err)
	}
	return r
}

func ids(rules []ir.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func TestPutAssignsTimestampsAndVersion(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	saved, err := r.Put(ctx, rule("a", ir.StageDefault, 1, "cat-a"))
	require.NoError(t, err)
	assert.Equal(t, t0, saved.CreatedAt)
	assert.Equal(t, t0, saved.UpdatedAt)
	assert.Equal(t, int64(1), r.Version("ws"))

	later := t0.Add(time.Hour)
	r.now = func() time.Time { return later }
	updated := rule("a", ir.StageDefault, 2, "cat-b")
	saved, err = r.Put(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, t0, saved.CreatedAt, "created_at survives updates")
	assert.Equal(t, later, saved.UpdatedAt)
	assert.Equal(t, int64(2), r.Version("ws"))
}

func TestPutRejectsInvalidRules(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "cat-a"))
	ctx := context.Background()

	noConds := rule("b", ir.StageDefault, 2, "cat")
	noConds.Conditions = nil
	_, err := r.Put(ctx, noConds)
	assert.True(t, ir.IsValidationError(err))
	assert.Equal(t, ir.CodeInvalidRule, ir.CodeOf(err))

	_, err = r.Put(ctx, rule("c", ir.StageDefault, 1, "cat"))
	assert.Equal(t, ir.CodeDuplicatePrio, ir.CodeOf(err))

	_, err = r.Put(ctx, rule("d", ir.StageDefault, 5000, "cat"))
	assert.Equal(t, ir.CodePriorityRange, ir.CodeOf(err))

	foreign := rule("a", ir.StageDefault, 1, "cat-a")
	foreign.WorkspaceID = "other"
	_, err = r.Put(ctx, foreign)
	assert.Equal(t, ir.CodeForeignRule, ir.CodeOf(err))

	// Same priority in another stage is fine
	_, err = r.Put(ctx, rule("e", ir.StagePost, 1, "cat"))
	assert.NoError(t, err)

	assert.Equal(t, []string{"a", "e"}, ids(r.List("ws")))
}

func TestPutAllIsAllOrNothing(t *testing.T) {
	r := newRegistry(t)

	_, err := r.PutAll(context.Background(), []ir.Rule{
		rule("a", ir.StageDefault, 1, "x"),
		rule("b", ir.StageDefault, 1, "y"),
	})
	assert.Equal(t, ir.CodeDuplicatePrio, ir.CodeOf(err))
	assert.Empty(t, r.List("ws"))
	assert.Equal(t, int64(0), r.Version("ws"))
}

func TestPerStageLimit(t *testing.T) {
	r := New(ir.Limits{MaxRulesPerStage: 2}, WithNow(fixedNow))
	ctx := context.Background()

	_, err := r.PutAll(ctx, []ir.Rule{rule("a", ir.StagePre, 1, "x"), rule("b", ir.StagePre, 2, "x")})
	require.NoError(t, err)

	_, err = r.Put(ctx, rule("c", ir.StagePre, 3, "x"))
	assert.Equal(t, ir.CodeLimitExceeded, ir.CodeOf(err))
}

func TestSnapshotIsImmutableAcrossWrites(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "x"), rule("b", ir.StageDefault, 2, "y"))

	before := r.Snapshot("ws")
	require.Len(t, before.Rules(ir.StageDefault), 2)

	_, err := r.BulkToggle(context.Background(), []string{"a"}, false)
	require.NoError(t, err)

	assert.Len(t, before.Rules(ir.StageDefault), 2, "old snapshot unchanged")
	after := r.Snapshot("ws")
	assert.Equal(t, []string{"b"}, ids(after.Rules(ir.StageDefault)))
	assert.Greater(t, after.Version(), before.Version())
}

func TestSnapshotOfUnknownWorkspaceIsEmpty(t *testing.T) {
	r := newRegistry(t)
	snap := r.Snapshot("nobody")
	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, "nobody", snap.Workspace())
}

func TestListGroupedByStage(t *testing.T) {
	inactive := rule("off", ir.StagePost, 9, "x")
	inactive.IsActive = false
	r := newRegistry(t,
		rule("b", ir.StageDefault, 2, "x"),
		rule("a", ir.StageDefault, 1, "x"),
		rule("p", ir.StagePre, 1, "x"),
		inactive,
	)

	g := r.ListGroupedByStage("ws")
	assert.Equal(t, int64(1), g.Version)
	assert.Equal(t, []string{"p"}, ids(g.Pre))
	assert.Equal(t, []string{"a", "b"}, ids(g.Default))
	assert.Equal(t, []string{"off"}, ids(g.Post), "inactive rules are listed")

	empty := r.ListGroupedByStage("other")
	assert.NotNil(t, empty.Pre)
	assert.Empty(t, empty.Default)
}

func TestReorder(t *testing.T) {
	r := newRegistry(t,
		rule("a", ir.StageDefault, 1, "x"),
		rule("b", ir.StageDefault, 2, "x"),
		rule("c", ir.StageDefault, 3, "x"),
	)
	ctx := context.Background()

	g, err := r.Reorder(ctx, "ws", ir.StageDefault, []ir.PriorityChange{
		{RuleID: "a", Priority: 3},
		{RuleID: "c", Priority: 1},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(g.Default))
	assert.Equal(t, int64(2), g.Version)
	assert.Equal(t, g.Default, r.ListGroupedByStage("ws").Default, "returned listing is canonical")
}

func TestReorderRejectsAndLeavesOrderingUntouched(t *testing.T) {
	r := newRegistry(t,
		rule("a", ir.StageDefault, 1, "x"),
		rule("b", ir.StageDefault, 2, "x"),
		rule("p", ir.StagePre, 1, "x"),
	)
	ctx := context.Background()

	tests := []struct {
		name    string
		stage   ir.Stage
		pairs   []ir.PriorityChange
		version int64
		check   func(error) bool
	}{
		{"duplicate result", ir.StageDefault, []ir.PriorityChange{{RuleID: "a", Priority: 2}}, 1,
			func(err error) bool { return ir.CodeOf(err) == ir.CodeDuplicatePrio }},
		{"other stage", ir.StageDefault, []ir.PriorityChange{{RuleID: "p", Priority: 5}}, 1,
			func(err error) bool { return ir.CodeOf(err) == ir.CodeForeignRule }},
		{"unknown rule", ir.StageDefault, []ir.PriorityChange{{RuleID: "zz", Priority: 5}}, 1,
			func(err error) bool { return ir.CodeOf(err) == ir.CodeNotFound }},
		{"listed twice", ir.StageDefault, []ir.PriorityChange{{RuleID: "a", Priority: 5}, {RuleID: "a", Priority: 6}}, 1,
			func(err error) bool { return ir.CodeOf(err) == ir.CodeDuplicateRule }},
		{"out of range", ir.StageDefault, []ir.PriorityChange{{RuleID: "a", Priority: 0}}, 1,
			func(err error) bool { return ir.CodeOf(err) == ir.CodePriorityRange }},
		{"bad stage", "later", []ir.PriorityChange{{RuleID: "a", Priority: 5}}, 1, ir.IsValidationError},
		{"stale version", ir.StageDefault, []ir.PriorityChange{{RuleID: "a", Priority: 5}}, 0, ir.IsConcurrencyError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Reorder(ctx, "ws", tt.stage, tt.pairs, tt.version)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)

			g := r.ListGroupedByStage("ws")
			assert.Equal(t, int64(1), g.Version)
			assert.Equal(t, []string{"a", "b"}, ids(g.Default))
			assert.Equal(t, 1, g.Default[0].Priority)
		})
	}
}

func TestReorderSwapThroughSwappedPriorities(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "x"), rule("b", ir.StageDefault, 2, "x"))

	g, err := r.Reorder(context.Background(), "ws", ir.StageDefault, []ir.PriorityChange{
		{RuleID: "a", Priority: 2},
		{RuleID: "b", Priority: 1},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(g.Default))
}

func TestBulkToggle(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "x"), rule("b", ir.StageDefault, 2, "x"))
	ctx := context.Background()

	out, err := r.BulkToggle(ctx, []string{"b", "a"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(out))
	for _, rl := range out {
		assert.False(t, rl.IsActive)
	}
	assert.Equal(t, 2, out[0].Priority, "priority untouched")
	assert.Equal(t, int64(2), r.Version("ws"))

	// No-op toggle does not bump the version
	_, err = r.BulkToggle(ctx, []string{"a"}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Version("ws"))

	_, err = r.BulkToggle(ctx, []string{"a", "ghost"}, true)
	assert.Equal(t, ir.CodeNotFound, ir.CodeOf(err))
	got, _ := r.Get("a")
	assert.False(t, got.IsActive, "unknown id aborts the whole toggle")
}

func TestToggle(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "x"))
	ctx := context.Background()

	got, err := r.Toggle(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got, err = r.Toggle(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestDelete(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "x"))
	ctx := context.Background()

	require.NoError(t, r.Delete(ctx, "a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Snapshot("ws").Len())

	assert.Equal(t, ir.CodeNotFound, ir.CodeOf(r.Delete(ctx, "a")))
}

func TestCancelledContext(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.BulkToggle(ctx, []string{"a"}, false)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = r.Reorder(ctx, "ws", ir.StageDefault, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

// failingPersister fails every write.
type failingPersister struct{ err error }

func (f failingPersister) LoadRules(context.Context) ([]ir.Rule, error)            { return nil, nil }
func (f failingPersister) LoadVersions(context.Context) (map[string]int64, error) { return nil, nil }
func (f failingPersister) SaveRules(context.Context, []ir.Rule, map[string]int64) error {
	return f.err
}
func (f failingPersister) DeleteRule(context.Context, string, string, int64) error { return f.err }
func (f failingPersister) ApplyReorder(context.Context, string, []ir.PriorityChange, time.Time, int64) error {
	return f.err
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	r, err := Open(ctx, failingPersister{err: errors.New("disk full")}, ir.DefaultLimits())
	require.NoError(t, err)

	_, err = r.Put(ctx, rule("a", ir.StageDefault, 1, "x"))
	require.Error(t, err)
	assert.True(t, ir.IsPersistenceError(err))
	assert.Equal(t, ir.CodeRuleSetWrite, ir.CodeOf(err))
	assert.Empty(t, r.List("ws"))
	assert.Equal(t, int64(0), r.Version("ws"))
}

func TestPersistedRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r, err := Open(ctx, st, ir.DefaultLimits(), WithNow(fixedNow))
	require.NoError(t, err)
	_, err = r.PutAll(ctx, []ir.Rule{rule("a", ir.StageDefault, 1, "x"), rule("b", ir.StageDefault, 2, "y")})
	require.NoError(t, err)
	_, err = r.Reorder(ctx, "ws", ir.StageDefault, []ir.PriorityChange{{RuleID: "a", Priority: 3}}, 1)
	require.NoError(t, err)
	_, err = r.Toggle(ctx, "b")
	require.NoError(t, err)

	reopened, err := Open(ctx, st, ir.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, r.Version("ws"), reopened.Version("ws"))
	assert.Equal(t, int64(3), reopened.Version("ws"))
	want, got := r.ListGroupedByStage("ws"), reopened.ListGroupedByStage("ws")
	assert.Equal(t, ids(want.Default), ids(got.Default))
	assert.Equal(t, 3, got.Default[1].Priority)
	assert.False(t, got.Default[0].IsActive)

	// A second registry on the same database is now stale
	_, err = r.Reorder(ctx, "ws", ir.StageDefault, []ir.PriorityChange{{RuleID: "a", Priority: 4}}, 3)
	require.NoError(t, err)
	_, err = reopened.Reorder(ctx, "ws", ir.StageDefault, []ir.PriorityChange{{RuleID: "a", Priority: 5}}, 3)
	assert.True(t, ir.IsConcurrencyError(err), "got %v", err)

	require.NoError(t, reopened.Reload(ctx))
	assert.Equal(t, int64(4), reopened.Version("ws"))
}

// Batches running while rules are reordered must each see one consistent
// ordering: the category written is always that of the highest-priority
// number in the snapshot the batch started with.
func TestReorderIsAtomicForConcurrentBatches(t *testing.T) {
	r := newRegistry(t, rule("a", ir.StageDefault, 1, "cat-a"), rule("b", ir.StageDefault, 2, "cat-b"))
	eng := engine.New(engine.WithWorkers(4))
	defer eng.Close()

	txs := make([]ir.Transaction, 20)
	for i := range txs {
		txs[i] = testutil.Tx(fmt.Sprint(i), "UBER TRIP", "-10")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil && i < 200; i++ {
			v := r.Version("ws")
			a, b := 1, 2
			if i%2 == 0 {
				a, b = 2, 1
			}
			_, err := r.Reorder(ctx, "ws", ir.StageDefault, []ir.PriorityChange{
				{RuleID: "a", Priority: a},
				{RuleID: "b", Priority: b},
			}, v)
			if err != nil && !errors.Is(err, context.Canceled) {
				assert.NoError(t, err)
				return
			}
		}
	}()

	for range 50 {
		snap := r.Snapshot("ws")
		rules := snap.Rules(ir.StageDefault)
		require.Len(t, rules, 2)
		require.NotEqual(t, rules[0].Priority, rules[1].Priority, "snapshot with duplicate priorities")
		want := rules[1].Actions[0].Ref.ID

		res, err := eng.ProcessBatch(context.Background(), txs, snap)
		require.NoError(t, err)
		assert.Equal(t, snap.Version(), res.SnapshotVersion)
		for _, tr := range res.Results {
			assert.Equal(t, want, tr.Transaction.Category.ID)
		}
	}
	cancel()
	wg.Wait()
}
