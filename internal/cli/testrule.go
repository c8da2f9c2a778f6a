package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/finrules/internal/compiler"
	"github.com/roach88/finrules/internal/engine"
	"github.com/roach88/finrules/internal/ir"
)

// TestRuleOptions holds flags for the test-rule command.
type TestRuleOptions struct {
	*RootOptions
	RuleIDs  []string
	All      bool
	Apply    bool
	File     string
	RefsFile string
}

// RuleTest is the preview of one rule against one transaction.
type RuleTest struct {
	TransactionID string `json:"transaction_id"`
	engine.TestResult
	Issues []Issue `json:"issues,omitempty"`
}

// TestRuleResult is the JSON payload of test-rule.
type TestRuleResult struct {
	RuleID string     `json:"rule_id"`
	Draft  bool       `json:"draft"`
	Tests  []RuleTest `json:"tests"`
}

// RuleSetTest is the outcome of several rules against one transaction.
type RuleSetTest struct {
	TransactionID string              `json:"transaction_id"`
	MatchedRules  []engine.RuleMatch  `json:"matched_rules"`
	Transaction   ir.Transaction      `json:"transaction"`
	Logs          []ir.ApplicationLog `json:"logs,omitempty"`
	Issues        []Issue             `json:"issues,omitempty"`
}

// RuleSetTestResult is the JSON payload of test-rule with several rules or
// --all. Applied is set when --apply wrote the changes.
type RuleSetTestResult struct {
	RuleIDs             []string      `json:"rule_ids"`
	Applied             bool          `json:"applied"`
	SnapshotVersion     int64         `json:"snapshot_version"`
	SnapshotHash        string        `json:"snapshot_hash"`
	Tests               []RuleSetTest `json:"tests"`
	PersistenceWarnings []Issue       `json:"persistence_warnings"`
}

// NewTestRuleCommand creates the test-rule command.
func NewTestRuleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestRuleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test-rule <transactions-file>",
		Short: "Preview rules against sample transactions",
		Long: `Preview rules against each transaction in the file.

A single rule is either a stored rule (--rule) or a draft read from a rule
file (--file, with --rule choosing among several). Inactive rules are
evaluated too.

Several stored rules (--rule repeated) or every active rule (--all) run
together in stage and priority order, and each transaction lists the rules
that matched with what their actions would do. Inactive rules are skipped.
With --apply the changes are recorded as by process.

Nothing is written without --apply.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestRule(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.RuleIDs, "rule", nil, "rule id (repeatable)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "test every active rule of the workspace")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "record the changes of matching rules")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "rule file holding a draft rule")
	cmd.Flags().StringVar(&opts.RefsFile, "refs", "", "YAML file of entity ids that still exist")
	return cmd
}

func runTestRule(opts *TestRuleOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()
	ws := opts.Config.Workspace

	ruleSet := opts.All || opts.Apply || len(opts.RuleIDs) > 1
	var usage string
	switch {
	case len(opts.RuleIDs) == 0 && opts.File == "" && !opts.All:
		usage = "one of --rule, --file or --all is required"
	case opts.All && len(opts.RuleIDs) > 0:
		usage = "--all and --rule are mutually exclusive"
	case ruleSet && opts.File != "":
		usage = "--file previews a single draft rule; drop --all, --apply and extra --rule ids"
	}
	if usage != "" {
		_ = formatter.Error(ErrCodeGeneric, usage, nil)
		return NewExitError(ExitCommandError, usage)
	}

	txs, err := compiler.LoadTransactions(path, ws)
	if err != nil {
		return formatter.Fail("failed to load transactions", err)
	}
	resolver, err := loadResolver(opts.RefsFile)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load refs", err)
	}

	if ruleSet {
		return runRuleSetTest(opts, txs, resolver, formatter, cmd)
	}
	ruleID := ""
	if len(opts.RuleIDs) == 1 {
		ruleID = opts.RuleIDs[0]
	}

	var (
		rule ir.Rule
		eng  *engine.Engine
	)
	if opts.File != "" {
		rule, err = draftRule(opts.File, ruleID, ws, opts.Config.Limits)
		if err != nil {
			return formatter.Fail("failed to load draft rule", err)
		}
		engineOpts := []engine.Option{engine.WithMaxEvaluations(opts.Config.MaxEvaluations)}
		if resolver != nil {
			engineOpts = append(engineOpts, engine.WithResolver(resolver))
		}
		eng = engine.New(engineOpts...)
		defer eng.Close()
	} else {
		sess, err := openSession(ctx, opts.RootOptions, resolver)
		if err != nil {
			return formatter.Fail("failed to open database", err)
		}
		defer sess.Close()

		var ok bool
		rule, ok = sess.registry.Get(ruleID)
		if !ok || rule.WorkspaceID != ws {
			return formatter.Fail("failed to load rule",
				ir.NewValidationError(ruleID, ir.CodeNotFound, "rule not found in workspace %q", ws))
		}
		eng = sess.engine
	}

	result := TestRuleResult{RuleID: rule.ID, Draft: opts.File != "", Tests: make([]RuleTest, 0, len(txs))}
	for _, tx := range txs {
		tr, err := eng.TestRule(ctx, rule, tx)
		if err != nil {
			return formatter.Fail("failed to test rule", err)
		}
		result.Tests = append(result.Tests, RuleTest{
			TransactionID: tx.ID,
			TestResult:    tr,
			Issues:        toIssues(tr.Issues),
		})
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	printRuleTests(formatter.Writer, result)
	return nil
}

// runRuleSetTest runs several stored rules together over txs. Without
// --apply it is a dry run.
func runRuleSetTest(opts *TestRuleOptions, txs []ir.Transaction, resolver engine.Resolver, formatter *OutputFormatter, cmd *cobra.Command) error {
	ctx := cmd.Context()
	ws := opts.Config.Workspace

	sess, err := openSession(ctx, opts.RootOptions, resolver)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer sess.Close()

	snap, err := sess.snapshot(ws, opts.RuleIDs)
	if err != nil {
		return formatter.Fail("failed to select rules", err)
	}

	var batch engine.BatchResult
	if opts.Apply {
		batch, err = sess.engine.ProcessBatch(ctx, txs, snap)
	} else {
		batch, err = sess.engine.DryRunBatch(ctx, txs, snap)
	}
	if err != nil {
		return formatter.Fail("testing interrupted", err)
	}

	result := RuleSetTestResult{
		RuleIDs:             make([]string, 0, snap.Len()),
		Applied:             opts.Apply,
		SnapshotVersion:     batch.SnapshotVersion,
		SnapshotHash:        batch.SnapshotHash,
		Tests:               make([]RuleSetTest, len(batch.Results)),
		PersistenceWarnings: toIssues(batch.Warnings()),
	}
	for _, r := range snap.All() {
		result.RuleIDs = append(result.RuleIDs, r.ID)
	}
	if result.PersistenceWarnings == nil {
		result.PersistenceWarnings = []Issue{}
	}
	for i, r := range batch.Results {
		matches := r.Matches
		if matches == nil {
			matches = []engine.RuleMatch{}
		}
		result.Tests[i] = RuleSetTest{
			TransactionID: r.Transaction.ID,
			MatchedRules:  matches,
			Transaction:   r.Transaction,
			Logs:          r.Logs,
			Issues:        toIssues(r.Issues),
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	printRuleSetTests(formatter.Writer, result)
	return nil
}

// draftRule picks the rule to test from a rule file. A file with a single
// rule needs no id.
func draftRule(path, id, ws string, limits ir.Limits) (ir.Rule, error) {
	rules, err := compiler.LoadRules(path, ws, limits)
	if err != nil {
		return ir.Rule{}, err
	}
	if id == "" {
		if len(rules) != 1 {
			return ir.Rule{}, fmt.Errorf("%s holds %d rules; choose one with --rule", path, len(rules))
		}
		return rules[0], nil
	}
	for _, r := range rules {
		if r.ID == id {
			return r, nil
		}
	}
	return ir.Rule{}, ir.NewValidationError(id, ir.CodeNotFound, "rule not found in %s", path)
}

func printRuleTests(w io.Writer, result TestRuleResult) {
	matched := 0
	for _, t := range result.Tests {
		mark := "✗"
		if t.Matched {
			mark = "✓"
			matched++
		}
		fmt.Fprintf(w, "%s %s\n", mark, t.TransactionID)
		for _, c := range t.Conditions {
			state := "no match"
			if c.Matched {
				state = "match"
			}
			line := fmt.Sprintf("    %s %s %q: %q (%s)", c.Field, c.Operator, c.Expected, c.Actual, state)
			if c.Error != "" {
				line += " error: " + c.Error
			}
			fmt.Fprintln(w, line)
		}
		for _, a := range t.Actions {
			var note []string
			if !a.Applied && a.Reason != "" {
				note = append(note, a.Reason)
			}
			if a.Error != "" {
				note = append(note, a.Error)
			}
			fmt.Fprintf(w, "    → %s %s: %q → %q", a.Type, a.Field, a.OldValue, a.NewValue)
			if len(note) > 0 {
				fmt.Fprintf(w, " (%s)", strings.Join(note, "; "))
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "\n%s matched %d of %d transactions\n", result.RuleID, matched, len(result.Tests))
}

func printRuleSetTests(w io.Writer, result RuleSetTestResult) {
	matched := 0
	for _, t := range result.Tests {
		if len(t.MatchedRules) == 0 {
			fmt.Fprintf(w, "✗ %s\n", t.TransactionID)
			continue
		}
		matched++
		ids := make([]string, len(t.MatchedRules))
		for i, m := range t.MatchedRules {
			ids[i] = m.RuleID
		}
		fmt.Fprintf(w, "✓ %s ← %s\n", t.TransactionID, strings.Join(ids, ", "))
		for _, m := range t.MatchedRules {
			for _, a := range m.Actions {
				fmt.Fprintf(w, "    %s → %s %s: %q → %q", m.RuleID, a.Type, a.Field, a.OldValue, a.NewValue)
				if !a.Applied && a.Reason != "" {
					fmt.Fprintf(w, " (%s)", a.Reason)
				}
				fmt.Fprintln(w)
			}
		}
		for _, issue := range t.Issues {
			fmt.Fprintf(w, "    ✗ [%s] %s\n", issue.Code, issue.Message)
		}
	}

	verb := "previewed"
	if result.Applied {
		verb = "applied"
	}
	fmt.Fprintf(w, "\n%d of %d transactions matched %d rules (%s, rule set version %d)\n",
		matched, len(result.Tests), len(result.RuleIDs), verb, result.SnapshotVersion)
	for _, warn := range result.PersistenceWarnings {
		fmt.Fprintf(w, "⚠ [%s] %s (rule %s)\n", warn.Code, warn.Message, warn.RuleID)
	}
}
