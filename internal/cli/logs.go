package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/finrules/internal/ir"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	RuleID        string
	TransactionID string
	Since         string
	Limit         int
}

// LogsResult is the JSON payload of logs.
type LogsResult struct {
	Logs  []ir.ApplicationLog `json:"logs"`
	Stats *ir.RuleStats       `json:"stats,omitempty"`
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show application logs, newest first",
		Long: `Show the audit trail of rule applications, newest first.

--since takes either an RFC 3339 timestamp or a duration such as 24h,
meaning that long ago. With --rule the rule's counters are shown too.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RuleID, "rule", "", "only logs of this rule")
	cmd.Flags().StringVar(&opts.TransactionID, "transaction", "", "only logs of this transaction")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only logs at or after this time")
	cmd.Flags().IntVar(&opts.Limit, "limit", ir.DefaultLogLimit, "maximum number of logs")
	return cmd
}

func runLogs(opts *LogsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	since, err := parseSince(opts.Since, time.Now())
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}

	sess, err := openSession(ctx, opts.RootOptions, nil)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer sess.Close()

	logs, err := sess.store.ListLogs(ctx, ir.LogFilter{
		RuleID:        opts.RuleID,
		TransactionID: opts.TransactionID,
		WorkspaceID:   opts.Config.Workspace,
		Since:         since,
		Limit:         opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list logs", err)
	}

	result := LogsResult{Logs: logs}
	if opts.RuleID != "" {
		stats, err := sess.store.RuleStats(ctx, opts.RuleID)
		if err != nil {
			_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read rule stats", err)
		}
		result.Stats = &stats
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	printLogs(formatter.Writer, result)
	return nil
}

// parseSince accepts an RFC 3339 timestamp or a duration before now.
// An empty string means no bound.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339 time or a positive duration", s)
	}
	return now.Add(-d), nil
}

func printLogs(w io.Writer, result LogsResult) {
	if result.Stats != nil {
		last := "never"
		if result.Stats.LastAppliedAt != nil {
			last = humanize.Time(*result.Stats.LastAppliedAt)
		}
		fmt.Fprintf(w, "%s: applied %s times, last %s\n\n",
			result.Stats.RuleID, humanize.Comma(result.Stats.TimesApplied), last)
	}
	if len(result.Logs) == 0 {
		fmt.Fprintln(w, "No application logs")
		return
	}
	for _, l := range result.Logs {
		fmt.Fprintf(w, "#%d %s  %s → %s [%s] %d/%d actions applied\n",
			l.Seq,
			l.AppliedAt.Format(time.RFC3339),
			l.RuleID,
			l.TransactionID,
			l.Stage,
			l.AppliedCount(),
			len(l.ActionsExecuted),
		)
	}
}
