package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/finrules/internal/compiler"
	"github.com/roach88/finrules/internal/ir"
	"github.com/roach88/finrules/internal/logging"
	"github.com/roach88/finrules/internal/ruleset"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Rules  int                        `json:"rules"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-file>",
		Short: "Validate a rule file without storing it",
		Long: `Validate a YAML, JSON or CUE rule file without touching the database.

Checks every rule in isolation (fields, operators, values, regex syntax,
limits) and then the file as a whole: rule ids and the priorities of each
stage must be unique, and no stage may exceed the per-stage limit.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg := opts.Config

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("rule file not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "rule file not found", err)
	}

	docs, err := compiler.LoadRuleFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to parse rule file", err)
	}
	formatter.VerboseLog("Parsed %d rules from %s", len(docs), path)

	result := ValidationResult{Valid: true, Rules: len(docs)}
	rules, err := compiler.Compile(docs, cfg.Workspace, cfg.Limits)
	var verrs compiler.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		result.Valid = false
		result.Errors = verrs
	case err != nil:
		return formatter.Fail("validation failed", err)
	default:
		// Cross-rule checks run against an empty in-memory rule set.
		reg := ruleset.New(cfg.Limits, ruleset.WithLogger(logging.Discard()))
		if _, err := reg.PutAll(cmd.Context(), rules); err != nil {
			result.Valid = false
			result.Errors = []compiler.ValidationError{ruleSetViolation(err)}
		}
	}

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printValidation(formatter, path, result)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d errors", len(result.Errors)))
	}
	return nil
}

// ruleSetViolation turns a registry rejection into a validation error.
func ruleSetViolation(err error) compiler.ValidationError {
	verr := compiler.ValidationError{Field: "rules", Code: ir.CodeOf(err), Message: err.Error()}
	var re *ir.RuleError
	if errors.As(err, &re) {
		verr.Message = re.Message
		if re.RuleID != "" {
			verr.Field = fmt.Sprintf("rules[%s]", re.RuleID)
		}
	}
	return verr
}

func printValidation(formatter *OutputFormatter, path string, result ValidationResult) {
	w := formatter.Writer
	if result.Valid {
		fmt.Fprintf(w, "✓ %s: %d rules valid\n", path, result.Rules)
		return
	}
	fmt.Fprintf(w, "✗ %s: %d errors\n", path, len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
