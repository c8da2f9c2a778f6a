package compiler

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/roach88/finrules/internal/ir"
)

// Validation error codes (E200-E299)
const (
	// Rule header errors (E200-E209)
	ErrUnsupportedInput = "E200" // input could not be converted to a rule
	ErrRuleIDEmpty      = "E201" // id is required
	ErrRuleNameInvalid  = "E202" // name is required, at most MaxNameLength
	ErrInvalidStage     = "E203" // stage must be pre, default or post
	ErrInvalidRuleType  = "E204" // unknown rule type
	ErrNoConditions     = "E205" // at least one condition required
	ErrNoActions        = "E206" // at least one action required
	ErrPriorityRange    = "E207" // priority outside MinPriority..MaxPriority
	ErrWorkspaceEmpty   = "E208" // workspace is required
	ErrDuplicateID      = "E209" // condition or action id repeated within a rule

	// Condition errors (E210-E219)
	ErrInvalidField     = "E210" // field is not a condition target
	ErrOperatorMismatch = "E211" // operator not supported by the field's family
	ErrMissingValue     = "E212" // value representation missing for the operator
	ErrInvalidRegex     = "E213" // matches pattern does not compile
	ErrInvalidRange     = "E214" // range minimum exceeds maximum
	ErrValueTooLong     = "E215" // text value longer than MaxTextLength

	// Action errors (E220-E229)
	ErrInvalidActionType  = "E220" // unknown action type
	ErrMissingActionValue = "E221" // action value or target missing

	// Limit errors (E230-E239)
	ErrTooManyConditions = "E230"
	ErrTooManyActions    = "E231"
)

// Length bounds for authored text.
const (
	MaxNameLength = 100
	MaxTextLength = 255
)

// ValidationError represents a rule validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is a non-empty list of problems found in one input.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// AsRuleError converts validation errors for ruleID into a validation-kind
// RuleError, or returns nil when errs is empty. The RuleError code is
// E_PRIORITY_RANGE or E_LIMIT when that is the only kind of problem found,
// E_INVALID_RULE otherwise.
func AsRuleError(ruleID string, errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	code := ir.CodeInvalidRule
	switch {
	case allCodes(errs, ErrPriorityRange):
		code = ir.CodePriorityRange
	case allCodes(errs, ErrTooManyConditions, ErrTooManyActions):
		code = ir.CodeLimitExceeded
	}
	return &ir.RuleError{
		Kind:    ir.KindValidation,
		Code:    code,
		Message: ValidationErrors(errs).Error(),
		RuleID:  ruleID,
		Err:     ValidationErrors(errs),
	}
}

func allCodes(errs []ValidationError, codes ...string) bool {
	for _, e := range errs {
		found := false
		for _, c := range codes {
			if e.Code == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ValidateRule checks one rule in isolation.
// Returns all errors found (does not fail-fast).
//
// Cross-rule invariants (priority uniqueness within a stage, rules per
// stage) need the whole rule set and are checked by the ruleset registry.
func ValidateRule(r ir.Rule, limits ir.Limits) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(r.ID) == "" {
		add("id", ErrRuleIDEmpty, "id is required")
	}
	if name := strings.TrimSpace(r.Name); name == "" {
		add("name", ErrRuleNameInvalid, "name is required")
	} else if utf8.RuneCountInString(name) > MaxNameLength {
		add("name", ErrRuleNameInvalid, "name exceeds %d characters", MaxNameLength)
	}
	if strings.TrimSpace(r.WorkspaceID) == "" {
		add("workspace_id", ErrWorkspaceEmpty, "workspace is required")
	}
	if !r.Stage.Valid() {
		add("stage", ErrInvalidStage, "invalid stage %q (must be pre, default or post)", r.Stage)
	}
	if !ir.ValidRuleTypes[r.Type] {
		add("rule_type", ErrInvalidRuleType, "invalid rule type %q", r.Type)
	}
	if r.Priority < ir.MinPriority || r.Priority > ir.MaxPriority {
		add("priority", ErrPriorityRange, "priority %d outside %d..%d", r.Priority, ir.MinPriority, ir.MaxPriority)
	}

	// E205: a rule with no conditions would match everything
	if len(r.Conditions) == 0 {
		add("conditions", ErrNoConditions, "at least one condition is required")
	} else if limits.MaxConditionsPerRule > 0 && len(r.Conditions) > limits.MaxConditionsPerRule {
		add("conditions", ErrTooManyConditions, "%d conditions exceed the limit of %d",
			len(r.Conditions), limits.MaxConditionsPerRule)
	}
	if len(r.Actions) == 0 {
		add("actions", ErrNoActions, "at least one action is required")
	} else if limits.MaxActionsPerRule > 0 && len(r.Actions) > limits.MaxActionsPerRule {
		add("actions", ErrTooManyActions, "%d actions exceed the limit of %d",
			len(r.Actions), limits.MaxActionsPerRule)
	}

	ids := make(map[string]bool)
	for i, c := range r.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		if c.ID != "" {
			if ids[c.ID] {
				add(path+".id", ErrDuplicateID, "duplicate id %q", c.ID)
			}
			ids[c.ID] = true
		}
		errs = append(errs, validateCondition(path, c)...)
	}
	for i, a := range r.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if a.ID != "" {
			if ids[a.ID] {
				add(path+".id", ErrDuplicateID, "duplicate id %q", a.ID)
			}
			ids[a.ID] = true
		}
		errs = append(errs, validateAction(path, a)...)
	}

	return errs
}

func validateCondition(path string, c ir.Condition) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: path + field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	family := c.Family()
	if family == "" {
		add(".field", ErrInvalidField, "%q is not a condition field", c.Field)
		return errs
	}
	if !family.Supports(c.Operator) {
		add(".operator", ErrOperatorMismatch, "operator %q is not supported for %s field %q", c.Operator, family, c.Field)
		return errs
	}

	switch family {
	case ir.FamilyText:
		switch c.Operator {
		case ir.OpOneOf, ir.OpNotOneOf:
			if len(c.TextValues) == 0 {
				add(".text_values", ErrMissingValue, "%s requires at least one value", c.Operator)
			}
			for j, v := range c.TextValues {
				if utf8.RuneCountInString(v) > MaxTextLength {
					add(fmt.Sprintf(".text_values[%d]", j), ErrValueTooLong, "value exceeds %d characters", MaxTextLength)
				}
			}
		default:
			if c.TextValue == "" {
				add(".text_value", ErrMissingValue, "%s requires a text value", c.Operator)
				break
			}
			if utf8.RuneCountInString(c.TextValue) > MaxTextLength {
				add(".text_value", ErrValueTooLong, "value exceeds %d characters", MaxTextLength)
			}
			if c.Operator == ir.OpMatches {
				pattern := c.TextValue
				if !c.CaseSensitive {
					pattern = "(?i)" + pattern
				}
				if _, err := regexp.Compile(pattern); err != nil {
					add(".text_value", ErrInvalidRegex, "invalid pattern: %v", err)
				}
			}
		}

	case ir.FamilyNumeric:
		if c.NumericValue == nil {
			add(".numeric_value", ErrMissingValue, "%s requires a numeric value", c.Operator)
			break
		}
		if c.Operator == ir.OpRange {
			if c.NumericMax == nil {
				add(".numeric_max", ErrMissingValue, "range requires a maximum")
			} else if c.NumericValue.GreaterThan(*c.NumericMax) {
				add(".numeric_max", ErrInvalidRange, "minimum %s exceeds maximum %s", c.NumericValue, c.NumericMax)
			}
		}

	case ir.FamilyDate:
		if c.DateValue == nil || !c.DateValue.IsValid() {
			add(".date_value", ErrMissingValue, "%s requires a valid date", c.Operator)
			break
		}
		if c.Operator == ir.OpRange {
			if c.DateMax == nil || !c.DateMax.IsValid() {
				add(".date_max", ErrMissingValue, "range requires a valid end date")
			} else if c.DateValue.After(*c.DateMax) {
				add(".date_max", ErrInvalidRange, "start %s is after end %s", c.DateValue, c.DateMax)
			}
		}

	case ir.FamilyReference:
		switch c.Operator {
		case ir.OpIs, ir.OpIsNot:
			if len(c.Refs) != 1 {
				add(".refs", ErrMissingValue, "%s requires exactly one reference", c.Operator)
			}
		default:
			if len(c.Refs) == 0 {
				add(".refs", ErrMissingValue, "%s requires at least one reference", c.Operator)
			}
		}
		for j, ref := range c.Refs {
			if strings.TrimSpace(ref) == "" {
				add(fmt.Sprintf(".refs[%d]", j), ErrMissingValue, "reference id is empty")
			}
		}
	}

	return errs
}

func validateAction(path string, a ir.Action) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: path + field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	switch a.Type {
	case ir.ActionSetBeneficiary, ir.ActionSetCategory, ir.ActionSetAccount:
		if a.Ref == nil || a.Ref.IsZero() {
			add(".ref", ErrMissingActionValue, "%s requires a target", a.Type)
		}
	case ir.ActionAddTag:
		if a.Ref == nil || strings.TrimSpace(a.Ref.ID) == "" {
			add(".ref", ErrMissingActionValue, "add_tag requires a tag id")
		}
	case ir.ActionSetDescription, ir.ActionAppendNotes, ir.ActionPrependNotes:
		if ir.IsEmptyText(a.TextValue) {
			add(".text_value", ErrMissingActionValue, "%s requires a text value", a.Type)
		} else if utf8.RuneCountInString(a.TextValue) > MaxTextLength {
			add(".text_value", ErrValueTooLong, "value exceeds %d characters", MaxTextLength)
		}
	case ir.ActionSetNotes:
		if utf8.RuneCountInString(a.TextValue) > MaxTextLength {
			add(".text_value", ErrValueTooLong, "value exceeds %d characters", MaxTextLength)
		}
	case ir.ActionSetAmount:
		if a.NumericValue == nil {
			add(".numeric_value", ErrMissingActionValue, "set_amount requires a numeric value")
		}
	case ir.ActionSetDate:
		if a.DateValue == nil || !a.DateValue.IsValid() {
			add(".date_value", ErrMissingActionValue, "set_date requires a valid date")
		}
	case ir.ActionMarkCleared:
	default:
		add(".action_type", ErrInvalidActionType, "unknown action type %q", a.Type)
	}

	return errs
}
