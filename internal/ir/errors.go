package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a RuleError.
type ErrorKind string

const (
	// KindValidation rejects a rule or request at the store boundary.
	KindValidation ErrorKind = "validation"

	// KindEvaluation marks a condition that could not be evaluated.
	// The condition is treated as false.
	KindEvaluation ErrorKind = "evaluation"

	// KindAction marks an action that could not be applied.
	// The action is reported with applied=false.
	KindAction ErrorKind = "action"

	// KindPersistence marks a failed audit or counter write.
	// The transaction result stands.
	KindPersistence ErrorKind = "persistence"

	// KindConcurrency marks a write against a stale rule-set version.
	KindConcurrency ErrorKind = "concurrency"
)

// Error codes carried by RuleError.Code.
const (
	CodeInvalidRegex     = "E_REGEX"
	CodeDanglingRef      = "E_DANGLING_REF"
	CodeMalformed        = "E_MALFORMED"
	CodeUnsupported      = "E_UNSUPPORTED"
	CodeBudgetExceeded   = "E_BUDGET"
	CodeNotFound         = "E_NOT_FOUND"
	CodeInvalidRule      = "E_INVALID_RULE"
	CodeDuplicatePrio    = "E_DUPLICATE_PRIORITY"
	CodeForeignRule      = "E_FOREIGN_RULE"
	CodeLimitExceeded    = "E_LIMIT"
	CodeStaleVersion     = "E_STALE_VERSION"
	CodeLogWrite         = "E_LOG_WRITE"
	CodeRuleSetWrite     = "E_RULESET_WRITE"
	CodePriorityRange    = "E_PRIORITY_RANGE"
	CodeDuplicateRule    = "E_DUPLICATE_RULE"
)

// RuleError is the single error type surfaced by the engine, the rule
// registry and the audit recorder.
type RuleError struct {
	Kind        ErrorKind
	Code        string
	Message     string
	RuleID      string
	ConditionID string
	ActionID    string
	Err         error
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Kind, e.Code, e.Message)

	var ctx []string
	if e.RuleID != "" {
		ctx = append(ctx, "rule="+e.RuleID)
	}
	if e.ConditionID != "" {
		ctx = append(ctx, "condition="+e.ConditionID)
	}
	if e.ActionID != "" {
		ctx = append(ctx, "action="+e.ActionID)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a RuleError of kind validation.
func NewValidationError(ruleID, code, format string, args ...any) *RuleError {
	return &RuleError{
		Kind:    KindValidation,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		RuleID:  ruleID,
	}
}

// NewEvaluationError creates a RuleError for a condition that failed to evaluate.
func NewEvaluationError(ruleID, conditionID, code, message string, cause error) *RuleError {
	return &RuleError{
		Kind:        KindEvaluation,
		Code:        code,
		Message:     message,
		RuleID:      ruleID,
		ConditionID: conditionID,
		Err:         cause,
	}
}

// NewActionError creates a RuleError for an action that could not apply.
func NewActionError(ruleID, actionID, code, message string) *RuleError {
	return &RuleError{
		Kind:     KindAction,
		Code:     code,
		Message:  message,
		RuleID:   ruleID,
		ActionID: actionID,
	}
}

// NewPersistenceError wraps a failed durable write.
func NewPersistenceError(ruleID, code string, cause error) *RuleError {
	return &RuleError{
		Kind:    KindPersistence,
		Code:    code,
		Message: "durable write failed",
		RuleID:  ruleID,
		Err:     cause,
	}
}

// NewConcurrencyError reports a stale expected version.
func NewConcurrencyError(workspace string, expected, actual int64) *RuleError {
	return &RuleError{
		Kind:    KindConcurrency,
		Code:    CodeStaleVersion,
		Message: fmt.Sprintf("workspace %q is at version %d, expected %d", workspace, actual, expected),
	}
}

// KindOf returns the kind of the first RuleError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsValidationError reports whether err is a validation RuleError.
func IsValidationError(err error) bool { return KindOf(err) == KindValidation }

// IsEvaluationError reports whether err is an evaluation RuleError.
func IsEvaluationError(err error) bool { return KindOf(err) == KindEvaluation }

// IsActionError reports whether err is an action RuleError.
func IsActionError(err error) bool { return KindOf(err) == KindAction }

// IsPersistenceError reports whether err is a persistence RuleError.
func IsPersistenceError(err error) bool { return KindOf(err) == KindPersistence }

// IsConcurrencyError reports whether err is a concurrency RuleError.
// Uses errors.As to handle wrapped errors.
func IsConcurrencyError(err error) bool { return KindOf(err) == KindConcurrency }

// CodeOf returns the code of the first RuleError in err's chain, or "".
func CodeOf(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
