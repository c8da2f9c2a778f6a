package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogsCommand_Filters(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")
	env.mustRun("process", "testdata/transactions.yaml")

	var all LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs"), &all)
	require.Len(t, all.Logs, 4)
	assert.Nil(t, all.Stats)

	var byTx LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs", "--transaction", "t3"), &byTx)
	require.Len(t, byTx.Logs, 2)
	assert.Equal(t, "big-spend", byTx.Logs[0].RuleID, "newest first")
	assert.Equal(t, "normalize", byTx.Logs[1].RuleID)

	var limited LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs", "--limit", "1"), &limited)
	assert.Len(t, limited.Logs, 1)

	var future LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs", "--since", time.Now().Add(time.Hour).UTC().Format(time.RFC3339)), &future)
	assert.Empty(t, future.Logs)

	var recent LogsResult
	decodeData(t, env.mustRun("--format", "json", "logs", "--since", "1h"), &recent)
	assert.Len(t, recent.Logs, 4)
}

func TestLogsCommand_OtherWorkspaceSeesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("rules", "import", "testdata/rules.yaml")
	env.mustRun("process", "testdata/transactions.yaml")

	var other LogsResult
	decodeData(t, env.mustRun("--format", "json", "--workspace", "office", "logs"), &other)
	assert.Empty(t, other.Logs)
}

func TestLogsCommand_TextOutput(t *testing.T) {
	env := newTestEnv(t)
	assert.Contains(t, env.mustRun("logs"), "No application logs")

	env.mustRun("rules", "import", "testdata/rules.yaml")
	env.mustRun("process", "testdata/transactions.yaml")

	out := env.mustRun("logs", "--rule", "coffee")
	assert.Contains(t, out, "coffee: applied 1 times, last")
	assert.Contains(t, out, "coffee → t2 [default] 2/2 actions applied")
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseSince("2024-04-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("yesterday", now)
	assert.Error(t, err)
	_, err = parseSince("-1h", now)
	assert.Error(t, err)
}
