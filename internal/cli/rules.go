package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/finrules/internal/compiler"
	"github.com/roach88/finrules/internal/ir"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the stored rule set",
	}

	cmd.AddCommand(newRulesImportCommand(rootOpts))
	cmd.AddCommand(newRulesListCommand(rootOpts))
	cmd.AddCommand(newRulesReorderCommand(rootOpts))
	cmd.AddCommand(newRulesToggleCommand(rootOpts))
	cmd.AddCommand(newRulesDeleteCommand(rootOpts))
	return cmd
}

// ImportResult is the JSON payload of rules import.
type ImportResult struct {
	Imported int      `json:"imported"`
	RuleIDs  []string `json:"rule_ids"`
	Version  int64    `json:"version"`
}

func newRulesImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <rules-file>",
		Short: "Create or replace rules from a YAML, JSON or CUE file",
		Long: `Create or replace rules from a rule file.

The file is validated as a whole and written in one step: if any rule is
invalid, or the result would break priority uniqueness or the per-stage
limit, nothing is stored.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			cfg := rootOpts.Config

			rules, err := compiler.LoadRules(args[0], cfg.Workspace, cfg.Limits)
			if err != nil {
				return formatter.Fail("failed to load rules", err)
			}
			formatter.VerboseLog("Loaded %d rules from %s", len(rules), args[0])

			sess, err := openSession(cmd.Context(), rootOpts, nil)
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer sess.Close()

			saved, err := sess.registry.PutAll(cmd.Context(), rules)
			if err != nil {
				return formatter.Fail("failed to import rules", err)
			}

			result := ImportResult{
				Imported: len(saved),
				RuleIDs:  make([]string, len(saved)),
				Version:  sess.registry.Version(cfg.Workspace),
			}
			for i, r := range saved {
				result.RuleIDs[i] = r.ID
			}
			if formatter.JSON() {
				return formatter.Success(result)
			}
			fmt.Fprintf(formatter.Writer, "✓ Imported %d rules into workspace %q (version %d)\n",
				result.Imported, cfg.Workspace, result.Version)
			return nil
		},
	}
}

func newRulesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List rules grouped by stage in execution order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			sess, err := openSession(cmd.Context(), rootOpts, nil)
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer sess.Close()

			grouped := sess.registry.ListGroupedByStage(rootOpts.Config.Workspace)
			if formatter.JSON() {
				return formatter.Success(grouped)
			}
			printGrouped(formatter.Writer, rootOpts.Config.Workspace, grouped)
			return nil
		},
	}
}

// printGrouped renders a by-stage listing.
func printGrouped(w io.Writer, workspace string, g ir.Grouped) {
	fmt.Fprintf(w, "Workspace %q, version %d\n", workspace, g.Version)
	for _, stage := range ir.StageOrder {
		rules := g.Stage(stage)
		fmt.Fprintf(w, "\n%s (%d)\n", strings.ToUpper(string(stage)), len(rules))
		for _, r := range rules {
			mark := "●"
			if !r.IsActive {
				mark = "○"
			}
			last := "never"
			if r.LastAppliedAt != nil {
				last = humanize.Time(*r.LastAppliedAt)
			}
			fmt.Fprintf(w, "  %s %6d  %-24s %-32s applied %s, last %s\n",
				mark, r.Priority, r.ID, r.Name, humanize.Comma(r.TimesApplied), last)
		}
	}
}

func newRulesReorderCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		stage   string
		set     []string
		version int64
	)

	cmd := &cobra.Command{
		Use:   "reorder --stage <stage> --set <rule=priority>... --version <n>",
		Short: "Assign new priorities within one stage",
		Long: `Assign new priorities to rules of one stage as a single atomic change.

--version must be the version printed by "rules list". If another change
landed in between, the reorder is rejected and nothing moves.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			changes, err := parsePriorityChanges(set)
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid --set", err)
			}

			sess, err := openSession(cmd.Context(), rootOpts, nil)
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer sess.Close()

			ws := rootOpts.Config.Workspace
			grouped, err := sess.registry.Reorder(cmd.Context(), ws, ir.Stage(stage), changes, version)
			if err != nil {
				return formatter.Fail("failed to reorder rules", err)
			}
			if formatter.JSON() {
				return formatter.Success(grouped)
			}
			fmt.Fprintf(formatter.Writer, "✓ Reordered %d rules in stage %s\n\n", len(changes), stage)
			printGrouped(formatter.Writer, ws, grouped)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", string(ir.StageDefault), "stage to reorder (pre|default|post)")
	cmd.Flags().StringArrayVar(&set, "set", nil, "rule=priority pair (repeatable)")
	cmd.Flags().Int64Var(&version, "version", 0, "rule-set version the priorities were chosen against")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

// parsePriorityChanges parses rule=priority pairs. The result is sorted by
// rule id so the same flags always produce the same change.
func parsePriorityChanges(pairs []string) ([]ir.PriorityChange, error) {
	changes := make([]ir.PriorityChange, 0, len(pairs))
	for _, p := range pairs {
		id, raw, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid pair %q: want rule=priority", p)
		}
		prio, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid priority in %q: %w", p, err)
		}
		changes = append(changes, ir.PriorityChange{RuleID: strings.TrimSpace(id), Priority: prio})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].RuleID < changes[j].RuleID })
	return changes, nil
}

// ToggleResult is the JSON payload of rules toggle.
type ToggleResult struct {
	Rules   []ir.Rule `json:"rules"`
	Version int64     `json:"version"`
}

func newRulesToggleCommand(rootOpts *RootOptions) *cobra.Command {
	var on, off bool

	cmd := &cobra.Command{
		Use:   "toggle <rule-id>...",
		Short: "Activate, deactivate or flip rules",
		Long: `Change is_active on rules without touching their priorities.

With --on or --off every listed rule is set to that state in one change.
Without either flag a single rule is flipped.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			if !on && !off && len(args) > 1 {
				_ = formatter.Error(ErrCodeGeneric, "flipping needs exactly one rule; use --on or --off for several", nil)
				return NewExitError(ExitCommandError, "toggle needs --on or --off for several rules")
			}

			sess, err := openSession(cmd.Context(), rootOpts, nil)
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer sess.Close()

			var rules []ir.Rule
			if on || off {
				rules, err = sess.registry.BulkToggle(cmd.Context(), args, on)
			} else {
				var rule ir.Rule
				rule, err = sess.registry.Toggle(cmd.Context(), args[0])
				rules = []ir.Rule{rule}
			}
			if err != nil {
				return formatter.Fail("failed to toggle rules", err)
			}

			result := ToggleResult{Rules: rules, Version: sess.registry.Version(rootOpts.Config.Workspace)}
			if formatter.JSON() {
				return formatter.Success(result)
			}
			for _, r := range rules {
				state := "inactive"
				if r.IsActive {
					state = "active"
				}
				fmt.Fprintf(formatter.Writer, "✓ %s is %s\n", r.ID, state)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&on, "on", false, "activate the listed rules")
	cmd.Flags().BoolVar(&off, "off", false, "deactivate the listed rules")
	cmd.MarkFlagsMutuallyExclusive("on", "off")
	return cmd
}

func newRulesDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <rule-id>",
		Short:         "Delete a rule; its application logs are kept",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			sess, err := openSession(cmd.Context(), rootOpts, nil)
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer sess.Close()

			if err := sess.registry.Delete(cmd.Context(), args[0]); err != nil {
				return formatter.Fail("failed to delete rule", err)
			}
			if formatter.JSON() {
				return formatter.Success(map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(formatter.Writer, "✓ Deleted %s\n", args[0])
			return nil
		},
	}
}
