package engine

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/finrules/internal/ir"
)

// Outcome is the result of evaluating one condition.
type Outcome struct {
	Matched bool
	Actual  string
	// Err is an evaluation RuleError when the condition could not be
	// evaluated. Matched is always false in that case.
	Err *ir.RuleError
}

// evalError is the internal failure signal of an evalFunc.
type evalError struct {
	code  string
	msg   string
	cause error
}

func (e *evalError) Error() string { return e.msg }

func malformed(msg string) error {
	return &evalError{code: ir.CodeMalformed, msg: msg}
}

// evalFunc decides one (family, operator) combination.
type evalFunc func(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error)

type opKey struct {
	family ir.Family
	op     ir.Operator
}

// evaluators is the dispatch table. Every supported (family, operator)
// pair has exactly one entry; a missing entry is an unsupported condition.
var evaluators = map[opKey]evalFunc{
	{ir.FamilyText, ir.OpIs}:          textIs,
	{ir.FamilyText, ir.OpIsNot}:       negate(textIs),
	{ir.FamilyText, ir.OpContains}:    textContains,
	{ir.FamilyText, ir.OpNotContains}: negate(textContains),
	{ir.FamilyText, ir.OpMatches}:     textMatches,
	{ir.FamilyText, ir.OpOneOf}:       textOneOf,
	{ir.FamilyText, ir.OpNotOneOf}:    negate(textOneOf),

	{ir.FamilyNumeric, ir.OpEquals}:    numericEquals,
	{ir.FamilyNumeric, ir.OpNotEquals}: negate(numericEquals),
	{ir.FamilyNumeric, ir.OpGreater}:   numericGreater,
	{ir.FamilyNumeric, ir.OpLess}:      numericLess,
	{ir.FamilyNumeric, ir.OpRange}:     numericRange,

	{ir.FamilyDate, ir.OpIs}:     dateIs,
	{ir.FamilyDate, ir.OpIsNot}:  dateIsNot,
	{ir.FamilyDate, ir.OpBefore}: dateBefore,
	{ir.FamilyDate, ir.OpAfter}:  dateAfter,
	{ir.FamilyDate, ir.OpRange}:  dateRange,

	{ir.FamilyReference, ir.OpIs}:       refIs,
	{ir.FamilyReference, ir.OpIsNot}:    refIsNot,
	{ir.FamilyReference, ir.OpOneOf}:    refOneOf,
	{ir.FamilyReference, ir.OpNotOneOf}: refNotOneOf,
}

// negate inverts a predicate but keeps its errors. A failed evaluation
// stays false under negation.
func negate(f evalFunc) evalFunc {
	return func(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
		ok, err := f(ev, c, tx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}

// Evaluator decides single conditions against a transaction.
//
// Thread-safety: Evaluator is safe for concurrent use.
type Evaluator struct {
	regexes  *regexCache
	resolver Resolver
}

// NewEvaluator creates an evaluator. A nil resolver treats every
// referenced id as live. cacheSize bounds the compiled regex cache; zero
// disables caching.
func NewEvaluator(resolver Resolver, cacheSize int64) *Evaluator {
	if resolver == nil {
		resolver = allExist{}
	}
	return &Evaluator{
		regexes:  newRegexCache(cacheSize),
		resolver: resolver,
	}
}

// Close releases the regex cache.
func (ev *Evaluator) Close() {
	ev.regexes.close()
}

// Evaluate decides c against tx. It never panics on user data: malformed
// conditions, invalid patterns and dangling references all produce
// Matched=false with Err set.
func (ev *Evaluator) Evaluate(c ir.Condition, tx ir.Transaction) Outcome {
	out := Outcome{Actual: actualValue(&c, &tx)}

	fn, ok := evaluators[opKey{c.Family(), c.Operator}]
	if !ok {
		out.Err = ir.NewEvaluationError("", c.ID, ir.CodeUnsupported,
			"operator "+string(c.Operator)+" is not supported for field "+string(c.Field), nil)
		return out
	}

	matched, err := fn(ev, &c, &tx)
	if err != nil {
		code, msg, cause := ir.CodeMalformed, err.Error(), error(nil)
		if ee, ok := err.(*evalError); ok {
			code, msg, cause = ee.code, ee.msg, ee.cause
		}
		out.Err = ir.NewEvaluationError("", c.ID, code, msg, cause)
		return out
	}
	out.Matched = matched
	return out
}

// fold returns the case-folded form of s. A Caser is stateful, so each
// call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

func textActual(c *ir.Condition, tx *ir.Transaction) string {
	if c.Field == ir.FieldPayee {
		if tx.Payee.Name != "" {
			return tx.Payee.Name
		}
		return tx.Payee.ID
	}
	return tx.Description
}

func actualValue(c *ir.Condition, tx *ir.Transaction) string {
	if c.Family() == ir.FamilyText {
		return textActual(c, tx)
	}
	if c.Family() == ir.FamilyReference {
		ref, _ := tx.RefOf(c.Field)
		return ref.ID
	}
	return tx.Display(c.Field)
}

func textEqual(c *ir.Condition, a, b string) bool {
	if c.CaseSensitive {
		return a == b
	}
	return fold(a) == fold(b)
}

func textIs(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	return textEqual(c, textActual(c, tx), c.TextValue), nil
}

func textContains(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.TextValue == "" {
		return false, malformed("contains requires a non-empty text value")
	}
	actual := textActual(c, tx)
	if c.CaseSensitive {
		return strings.Contains(actual, c.TextValue), nil
	}
	return strings.Contains(fold(actual), fold(c.TextValue)), nil
}

func textMatches(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	re, err := ev.regexes.compile(c.TextValue, c.CaseSensitive)
	if err != nil {
		return false, &evalError{code: ir.CodeInvalidRegex, msg: "invalid pattern " + c.TextValue, cause: err}
	}
	return re.MatchString(textActual(c, tx)), nil
}

func textOneOf(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if len(c.TextValues) == 0 {
		return false, malformed(string(c.Operator) + " requires a list of values")
	}
	actual := textActual(c, tx)
	return slices.ContainsFunc(c.TextValues, func(v string) bool {
		return textEqual(c, actual, v)
	}), nil
}

func numericEquals(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.NumericValue == nil {
		return false, malformed("amount comparison requires a numeric value")
	}
	return tx.Amount.Equal(*c.NumericValue), nil
}

func numericGreater(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.NumericValue == nil {
		return false, malformed("amount comparison requires a numeric value")
	}
	return tx.Amount.GreaterThan(*c.NumericValue), nil
}

func numericLess(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.NumericValue == nil {
		return false, malformed("amount comparison requires a numeric value")
	}
	return tx.Amount.LessThan(*c.NumericValue), nil
}

func numericRange(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.NumericValue == nil || c.NumericMax == nil {
		return false, malformed("amount range requires a minimum and a maximum")
	}
	if c.NumericValue.GreaterThan(*c.NumericMax) {
		return false, malformed("amount range minimum exceeds maximum")
	}
	return tx.Amount.GreaterThanOrEqual(*c.NumericValue) &&
		tx.Amount.LessThanOrEqual(*c.NumericMax), nil
}

// Date operators treat an unset transaction date as matching nothing, so
// is_not is the only operator that holds for it.

func dateIs(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.DateValue == nil {
		return false, malformed("date comparison requires a date value")
	}
	return !tx.Date.IsZero() && tx.Date == *c.DateValue, nil
}

func dateIsNot(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	ok, err := dateIs(ev, c, tx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func dateBefore(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.DateValue == nil {
		return false, malformed("date comparison requires a date value")
	}
	return !tx.Date.IsZero() && tx.Date.Before(*c.DateValue), nil
}

func dateAfter(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.DateValue == nil {
		return false, malformed("date comparison requires a date value")
	}
	return !tx.Date.IsZero() && tx.Date.After(*c.DateValue), nil
}

func dateRange(_ *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	if c.DateValue == nil || c.DateMax == nil {
		return false, malformed("date range requires a start and an end")
	}
	if c.DateValue.After(*c.DateMax) {
		return false, malformed("date range start is after its end")
	}
	if tx.Date.IsZero() {
		return false, nil
	}
	return !tx.Date.Before(*c.DateValue) && !tx.Date.After(*c.DateMax), nil
}

// resolveRefs checks every referenced id and returns the transaction's
// current id for the field ("" when empty).
func (ev *Evaluator) resolveRefs(c *ir.Condition, tx *ir.Transaction) (string, error) {
	if len(c.Refs) == 0 {
		return "", malformed(string(c.Operator) + " requires at least one reference")
	}
	kind := refKindOf(c.Field)
	for _, id := range c.Refs {
		if !ev.resolver.Exists(kind, id) {
			return "", &evalError{code: ir.CodeDanglingRef, msg: string(kind) + " " + id + " no longer exists"}
		}
	}
	ref, _ := tx.RefOf(c.Field)
	return strings.TrimSpace(ref.ID), nil
}

// Reference operators on an empty field: is and one_of are false,
// is_not and not_one_of are true.

func refIs(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	current, err := ev.resolveRefs(c, tx)
	if err != nil {
		return false, err
	}
	if len(c.Refs) != 1 {
		return false, malformed("is requires exactly one reference")
	}
	return current != "" && current == c.Refs[0], nil
}

func refIsNot(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	current, err := ev.resolveRefs(c, tx)
	if err != nil {
		return false, err
	}
	if len(c.Refs) != 1 {
		return false, malformed("is_not requires exactly one reference")
	}
	return current == "" || current != c.Refs[0], nil
}

func refOneOf(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	current, err := ev.resolveRefs(c, tx)
	if err != nil {
		return false, err
	}
	return current != "" && slices.Contains(c.Refs, current), nil
}

func refNotOneOf(ev *Evaluator, c *ir.Condition, tx *ir.Transaction) (bool, error) {
	current, err := ev.resolveRefs(c, tx)
	if err != nil {
		return false, err
	}
	return current == "" || !slices.Contains(c.Refs, current), nil
}

// expectedValue renders the condition's comparison value for logs.
func expectedValue(c *ir.Condition) string {
	switch c.Family() {
	case ir.FamilyText:
		if len(c.TextValues) > 0 {
			return strings.Join(c.TextValues, ", ")
		}
		return c.TextValue
	case ir.FamilyNumeric:
		if c.NumericValue == nil {
			return ""
		}
		if c.Operator == ir.OpRange && c.NumericMax != nil {
			return c.NumericValue.String() + ".." + c.NumericMax.String()
		}
		return c.NumericValue.String()
	case ir.FamilyDate:
		if c.DateValue == nil {
			return ""
		}
		if c.Operator == ir.OpRange && c.DateMax != nil {
			return c.DateValue.String() + ".." + c.DateMax.String()
		}
		return c.DateValue.String()
	case ir.FamilyReference:
		return strings.Join(c.Refs, ", ")
	default:
		return ""
	}
}
