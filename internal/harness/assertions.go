package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/finrules/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Trace of the transaction involved, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventApplied:
				fmt.Fprintf(&buf, "  [%d] %s applied %s (stage %s)\n", i+1, event.TransactionID, event.RuleID, event.Stage)
			case EventIssue:
				fmt.Fprintf(&buf, "  [%d] %s issue %s from %s\n", i+1, event.TransactionID, event.Code, event.RuleID)
			}
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFieldEquals:
		return assertFieldEquals(result, a)
	case AssertFired:
		return assertFired(result, a)
	case AssertNotFired:
		return assertNotFired(result, a)
	case AssertTimesApplied:
		return assertTimesApplied(result, a)
	case AssertIssue:
		return assertIssue(result, a)
	case AssertLogCount:
		return assertLogCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// FieldValue renders field f of tx for comparison. Reference fields
// compare by id, or by name when the reference has no id.
func FieldValue(tx ir.Transaction, f ir.Field) string {
	if ref, ok := tx.RefOf(f); ok {
		if ref.ID != "" {
			return ref.ID
		}
		return ref.Name
	}
	return tx.Display(f)
}

func assertFieldEquals(result *Result, a Assertion) error {
	tx, ok := result.Transactions[a.Transaction]
	if !ok {
		return missingTransaction(a)
	}
	got := FieldValue(tx, ir.Field(a.Field))
	if got == a.Value {
		return nil
	}
	return &AssertionError{
		Type:     AssertFieldEquals,
		Expected: fmt.Sprintf("%s.%s = %q", a.Transaction, a.Field, a.Value),
		Actual:   fmt.Sprintf("%q", got),
		Trace:    transactionTrace(result, a.Transaction),
	}
}

// assertFired checks the exact ordered list of rules that fired.
// An empty list asserts that nothing fired.
func assertFired(result *Result, a Assertion) error {
	if _, ok := result.Transactions[a.Transaction]; !ok {
		return missingTransaction(a)
	}
	fired := firedRules(result, a.Transaction)
	want := a.Rules
	if want == nil {
		want = []string{}
	}
	if slices.Equal(fired, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFired,
		Expected: fmt.Sprintf("%s fired %v", a.Transaction, want),
		Actual:   fmt.Sprintf("fired %v", fired),
		Trace:    transactionTrace(result, a.Transaction),
	}
}

func assertNotFired(result *Result, a Assertion) error {
	if _, ok := result.Transactions[a.Transaction]; !ok {
		return missingTransaction(a)
	}
	if !slices.Contains(firedRules(result, a.Transaction), a.Rule) {
		return nil
	}
	return &AssertionError{
		Type:     AssertNotFired,
		Expected: fmt.Sprintf("%s not fired on %s", a.Rule, a.Transaction),
		Actual:   "fired",
		Trace:    transactionTrace(result, a.Transaction),
	}
}

func assertTimesApplied(result *Result, a Assertion) error {
	stats, ok := result.Stats[a.Rule]
	if !ok {
		return fmt.Errorf("rule %q is not part of the scenario", a.Rule)
	}
	if stats.TimesApplied == int64(a.Count) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTimesApplied,
		Expected: fmt.Sprintf("%s applied %d times", a.Rule, a.Count),
		Actual:   fmt.Sprintf("%d times", stats.TimesApplied),
	}
}

// assertIssue checks that a diagnostic with the code was reported for the
// transaction, optionally from a specific rule.
func assertIssue(result *Result, a Assertion) error {
	var codes []string
	for _, ev := range result.Trace {
		if ev.Type != EventIssue || ev.TransactionID != a.Transaction {
			continue
		}
		if ev.Code == a.Code && (a.Rule == "" || ev.RuleID == a.Rule) {
			return nil
		}
		codes = append(codes, ev.Code)
	}
	return &AssertionError{
		Type:     AssertIssue,
		Expected: fmt.Sprintf("issue %s on %s", a.Code, a.Transaction),
		Actual:   fmt.Sprintf("issues %v", codes),
		Trace:    transactionTrace(result, a.Transaction),
	}
}

func assertLogCount(result *Result, a Assertion) error {
	if len(result.Logs) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertLogCount,
		Expected: fmt.Sprintf("%d application logs", a.Count),
		Actual:   fmt.Sprintf("%d", len(result.Logs)),
		Trace:    result.Trace,
	}
}

func missingTransaction(a Assertion) error {
	return fmt.Errorf("%s: transaction %q was not processed", a.Type, a.Transaction)
}

// firedRules returns the ids of rules applied to txID in execution order.
func firedRules(result *Result, txID string) []string {
	fired := []string{}
	for _, ev := range result.Trace {
		if ev.Type == EventApplied && ev.TransactionID == txID {
			fired = append(fired, ev.RuleID)
		}
	}
	return fired
}

func transactionTrace(result *Result, txID string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range result.Trace {
		if ev.TransactionID == txID {
			out = append(out, ev)
		}
	}
	return out
}
