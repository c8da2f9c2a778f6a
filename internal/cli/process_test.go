package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/finrules/internal/ir"
)

func processSummary(t *testing.T, env *testEnv, args ...string) ProcessSummary {
	t.Helper()
	var summary ProcessSummary
	decodeData(t, env.mustRun(append([]string{"--format", "json", "process"}, args...)...), &summary)
	return summary
}

func resultFor(t *testing.T, s ProcessSummary, id string) TransactionResult {
	t.Helper()
	for _, r := range s.Results {
		if r.Transaction.ID == id {
			return r
		}
	}
	require.Failf(t, "missing result", "transaction %s", id)
	return TransactionResult{}
}

func TestProcessCommand(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")

	s := processSummary(t, env, "testdata/transactions.yaml")
	assert.False(t, s.DryRun)
	assert.Equal(t, int64(1), s.SnapshotVersion)
	assert.NotEmpty(t, s.SnapshotHash)
	assert.Equal(t, 4, s.TransactionsProcessed)
	assert.Equal(t, 3, s.TransactionsChanged)
	assert.Equal(t, 4, s.RulesApplied)
	assert.Empty(t, s.PersistenceWarnings)

	t1 := resultFor(t, s, "t1")
	assert.Equal(t, []string{"uber"}, t1.RulesFired)
	assert.Equal(t, "transport", t1.Transaction.Category.ID)

	t2 := resultFor(t, s, "t2")
	assert.Equal(t, []string{"coffee"}, t2.RulesFired)
	assert.Equal(t, "dining", t2.Transaction.Category.ID)
	assert.Equal(t, []string{"coffee"}, t2.Transaction.Tags)

	t3 := resultFor(t, s, "t3")
	assert.Equal(t, []string{"normalize", "big-spend"}, t3.RulesFired, "stages run pre, default, post")
	assert.Equal(t, "card purchase", t3.Transaction.Notes)
	assert.Equal(t, []string{"review"}, t3.Transaction.Tags)

	assert.Empty(t, resultFor(t, s, "t4").RulesFired)

	// Logs and counters were written.
	var logs LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs", "--rule", "uber"), &logs)
	require.Len(t, logs.Logs, 1)
	require.NotNil(t, logs.Stats)
	assert.Equal(t, int64(1), logs.Stats.TimesApplied)
}

func TestProcessCommand_DryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")

	s := processSummary(t, env, "--dry-run", "testdata/transactions.yaml")
	assert.True(t, s.DryRun)
	assert.Equal(t, 4, s.RulesApplied)
	for _, r := range s.Results {
		for _, l := range r.Logs {
			assert.True(t, l.DryRun)
			assert.Zero(t, l.Seq)
		}
	}

	var logs LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs"), &logs)
	assert.Empty(t, logs.Logs)

	var grouped ir.Grouped
	decodeData(t, env.mustRun("--format", "json", "rules", "list"), &grouped)
	for _, r := range grouped.Default {
		assert.Zero(t, r.TimesApplied)
	}
}

func TestProcessCommand_SeqContinuesAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")
	processSummary(t, env, "testdata/transactions.yaml")
	processSummary(t, env, "testdata/transactions.yaml")

	var logs LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs"), &logs)
	require.Len(t, logs.Logs, 8)
	seen := make(map[int64]bool)
	for _, l := range logs.Logs {
		assert.False(t, seen[l.Seq], "seq %d reused", l.Seq)
		seen[l.Seq] = true
	}
	assert.Equal(t, int64(8), logs.Logs[0].Seq, "newest first")
}

func TestProcessCommand_DanglingReferences(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")

	s := processSummary(t, env, "--refs", "testdata/refs.yaml", "testdata/transactions.yaml")
	assert.Equal(t, 3, s.RulesApplied, "uber targets a deleted category")

	t1 := resultFor(t, s, "t1")
	assert.Empty(t, t1.RulesFired)
	assert.True(t, t1.Transaction.Category.IsZero())
	require.Len(t, t1.Issues, 1)
	assert.Equal(t, ir.CodeDanglingRef, t1.Issues[0].Code)
	assert.Equal(t, ir.KindAction, t1.Issues[0].Kind)
	assert.Equal(t, "uber", t1.Issues[0].RuleID)
}

func TestProcessCommand_OnlySelectedRules(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")

	s := processSummary(t, env, "--rule", "big-spend", "--rule", "uber", "testdata/transactions.yaml")
	assert.Equal(t, []string{"big-spend", "uber"}, s.RuleFilter)
	assert.Equal(t, 2, s.TransactionsChanged)
	assert.Equal(t, 2, s.RulesApplied)
	assert.Equal(t, []string{"uber"}, resultFor(t, s, "t1").RulesFired)
	assert.Empty(t, resultFor(t, s, "t2").RulesFired, "coffee was not selected")
	t3 := resultFor(t, s, "t3")
	assert.Equal(t, []string{"big-spend"}, t3.RulesFired)
	assert.Empty(t, t3.Transaction.Notes, "normalize was not selected")

	var full ProcessSummary
	decodeData(t, env.mustRun("--format", "json", "process", "--dry-run", "testdata/transactions.yaml"), &full)
	assert.NotEqual(t, full.SnapshotHash, s.SnapshotHash, "a filtered rule set hashes on its own")
	assert.Equal(t, full.SnapshotVersion, s.SnapshotVersion)

	var logs LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs"), &logs)
	assert.Len(t, logs.Logs, 2)

	out := env.mustRun("process", "--dry-run", "--rule", "coffee", "testdata/transactions.yaml")
	assert.Contains(t, out, "✓ t2 ← coffee")
	assert.Contains(t, out, "(rule set version 1, only coffee)")
}

func TestProcessCommand_UnknownSelectedRule(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")

	out, err := env.run("--format", "json", "process", "--rule", "uber,ghost", "testdata/transactions.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ir.CodeNotFound)

	var logs LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs"), &logs)
	assert.Empty(t, logs.Logs, "nothing runs when the selection is invalid")
}

func TestProcessCommand_TextOutput(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")

	out := env.mustRun("process", "--dry-run", "testdata/transactions.yaml")
	assert.Contains(t, out, "✓ t1 ← uber")
	assert.Contains(t, out, "✓ t3 ← normalize, big-spend")
	assert.Contains(t, out, "· t4")
	assert.Contains(t, out, "Previewed 4 transactions: 3 changed, 4 rules applied (rule set version 1)")
}

func TestProcessCommand_EmptyWorkspace(t *testing.T) {
	env := newTestEnv(t)

	s := processSummary(t, env, "testdata/transactions.yaml")
	assert.Equal(t, 4, s.TransactionsProcessed)
	assert.Zero(t, s.RulesApplied)
	assert.Zero(t, s.SnapshotVersion)
}

func TestProcessCommand_BadInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("process", "testdata/missing.yaml")
	require.Error(t, err)

	_, err = env.run("process", "--refs", "testdata/missing-refs.yaml", "testdata/transactions.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
