package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/finrules/internal/compiler"
	"github.com/roach88/finrules/internal/engine"
	"github.com/roach88/finrules/internal/ir"
)

// ProcessSummary is the JSON payload of process.
type ProcessSummary struct {
	DryRun                bool                `json:"dry_run"`
	RuleFilter            []string            `json:"rule_filter,omitempty"`
	SnapshotVersion       int64               `json:"snapshot_version"`
	SnapshotHash          string              `json:"snapshot_hash"`
	TransactionsProcessed int                 `json:"transactions_processed"`
	TransactionsChanged   int                 `json:"transactions_changed"`
	RulesApplied          int                 `json:"rules_applied"`
	PersistenceWarnings   []Issue             `json:"persistence_warnings"`
	Results               []TransactionResult `json:"results"`
}

// TransactionResult is the outcome for one processed transaction.
type TransactionResult struct {
	Transaction ir.Transaction      `json:"transaction"`
	RulesFired  []string            `json:"rules_fired"`
	Logs        []ir.ApplicationLog `json:"logs,omitempty"`
	Issues      []Issue             `json:"issues,omitempty"`
}

// Issue is the printable form of an ir.RuleError.
type Issue struct {
	Kind        ir.ErrorKind `json:"kind"`
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	RuleID      string       `json:"rule_id,omitempty"`
	ConditionID string       `json:"condition_id,omitempty"`
	ActionID    string       `json:"action_id,omitempty"`
}

func toIssues(errs []*ir.RuleError) []Issue {
	if len(errs) == 0 {
		return nil
	}
	out := make([]Issue, len(errs))
	for i, e := range errs {
		out[i] = Issue{
			Kind:        e.Kind,
			Code:        e.Code,
			Message:     e.Message,
			RuleID:      e.RuleID,
			ConditionID: e.ConditionID,
			ActionID:    e.ActionID,
		}
	}
	return out
}

// ProcessOptions holds flags for the process command.
type ProcessOptions struct {
	*RootOptions
	DryRun   bool
	RefsFile string
	RuleIDs  []string
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process <transactions-file>",
		Short: "Run the rule set over a batch of transactions",
		Long: `Run every active rule of the workspace over each transaction in the file.

Stages run in order pre, default, post; rules within a stage run by
priority. All transactions are evaluated against one rule-set version.
With --rule only the listed rules run, in their usual stage and priority
order. With --dry-run nothing is written: the logs that would be recorded
are printed instead.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "preview without writing logs or counters")
	cmd.Flags().StringVar(&opts.RefsFile, "refs", "", "YAML file of entity ids that still exist")
	cmd.Flags().StringSliceVar(&opts.RuleIDs, "rule", nil, "run only these rule ids (repeatable)")
	return cmd
}

func runProcess(opts *ProcessOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()
	ws := opts.Config.Workspace

	txs, err := compiler.LoadTransactions(path, ws)
	if err != nil {
		return formatter.Fail("failed to load transactions", err)
	}
	resolver, err := loadResolver(opts.RefsFile)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load refs", err)
	}

	sess, err := openSession(ctx, opts.RootOptions, resolver)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer sess.Close()

	snap, err := sess.snapshot(ws, opts.RuleIDs)
	if err != nil {
		return formatter.Fail("failed to select rules", err)
	}
	formatter.VerboseLog("Processing %d transactions against %d rules (version %d)", len(txs), snap.Len(), snap.Version())

	var batch engine.BatchResult
	if opts.DryRun {
		batch, err = sess.engine.DryRunBatch(ctx, txs, snap)
	} else {
		batch, err = sess.engine.ProcessBatch(ctx, txs, snap)
	}
	if err != nil {
		return formatter.Fail("processing interrupted", err)
	}

	summary := ProcessSummary{
		DryRun:                opts.DryRun,
		RuleFilter:            opts.RuleIDs,
		SnapshotVersion:       batch.SnapshotVersion,
		SnapshotHash:          batch.SnapshotHash,
		TransactionsProcessed: len(batch.Results),
		TransactionsChanged:   batch.Changed(),
		RulesApplied:          batch.RulesApplied(),
		PersistenceWarnings:   toIssues(batch.Warnings()),
		Results:               make([]TransactionResult, len(batch.Results)),
	}
	if summary.PersistenceWarnings == nil {
		summary.PersistenceWarnings = []Issue{}
	}
	for i, r := range batch.Results {
		summary.Results[i] = TransactionResult{
			Transaction: r.Transaction,
			RulesFired:  r.FiredRules(),
			Logs:        r.Logs,
			Issues:      toIssues(r.Issues),
		}
	}
	sess.logger.Info("batch processed",
		"transactions", summary.TransactionsProcessed,
		"rules_applied", summary.RulesApplied,
		"dry_run", opts.DryRun,
		"warnings", len(summary.PersistenceWarnings),
	)

	if formatter.JSON() {
		return formatter.Success(summary)
	}
	printProcessSummary(formatter.Writer, summary, formatter.Verbose)
	return nil
}

func printProcessSummary(w io.Writer, s ProcessSummary, verbose bool) {
	for _, r := range s.Results {
		mark := "·"
		if len(r.RulesFired) > 0 {
			mark = "✓"
		}
		fmt.Fprintf(w, "%s %s", mark, r.Transaction.ID)
		if len(r.RulesFired) > 0 {
			fmt.Fprintf(w, " ← %s", strings.Join(r.RulesFired, ", "))
		}
		fmt.Fprintln(w)
		if verbose {
			for _, l := range r.Logs {
				for _, a := range l.ActionsExecuted {
					fmt.Fprintf(w, "    %s %s: %q → %q\n", l.RuleID, a.Field, a.OldValue, a.NewValue)
				}
			}
		}
		for _, issue := range r.Issues {
			fmt.Fprintf(w, "    ✗ [%s] %s\n", issue.Code, issue.Message)
		}
	}

	verb := "Processed"
	if s.DryRun {
		verb = "Previewed"
	}
	scope := fmt.Sprintf("rule set version %d", s.SnapshotVersion)
	if len(s.RuleFilter) > 0 {
		scope += ", only " + strings.Join(s.RuleFilter, ", ")
	}
	fmt.Fprintf(w, "\n%s %s transactions: %s changed, %s rules applied (%s)\n",
		verb,
		humanize.Comma(int64(s.TransactionsProcessed)),
		humanize.Comma(int64(s.TransactionsChanged)),
		humanize.Comma(int64(s.RulesApplied)),
		scope,
	)
	for _, warn := range s.PersistenceWarnings {
		fmt.Fprintf(w, "⚠ [%s] %s (rule %s)\n", warn.Code, warn.Message, warn.RuleID)
	}
}
