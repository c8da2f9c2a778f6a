package engine

import "github.com/roach88/finrules/internal/ir"

// matchResult is the outcome of evaluating one rule's conditions.
type matchResult struct {
	matched    bool
	conditions []ir.ConditionMatch
	issues     []*ir.RuleError
	// budget is set when the evaluation budget ran out mid-rule.
	budget *ir.RuleError
}

// matchRule evaluates rule's conditions against tx in declaration order.
//
// Conditions are ANDed and short-circuit: evaluation stops at the first
// condition that is false or fails to evaluate. A rule with no conditions
// never matches.
func (e *Engine) matchRule(rule *ir.Rule, tx *ir.Transaction, budget *evaluationBudget) matchResult {
	var res matchResult
	if len(rule.Conditions) == 0 {
		return res
	}

	res.conditions = make([]ir.ConditionMatch, 0, len(rule.Conditions))
	for i := range rule.Conditions {
		c := &rule.Conditions[i]
		if err := budget.spend(); err != nil {
			err.RuleID = rule.ID
			res.budget = err
			return res
		}

		out := e.evaluator.Evaluate(*c, *tx)
		cm := ir.ConditionMatch{
			ConditionID: c.ID,
			Field:       c.Field,
			Operator:    c.Operator,
			Expected:    expectedValue(c),
			Actual:      out.Actual,
			Matched:     out.Matched,
		}
		if out.Err != nil {
			out.Err.RuleID = rule.ID
			cm.Error = out.Err.Error()
			res.issues = append(res.issues, out.Err)
		}
		res.conditions = append(res.conditions, cm)
		if !out.Matched {
			return res
		}
	}
	res.matched = true
	return res
}

// applyActions runs every action of rule in declaration order. Each action
// sees the transaction as left by the previous one.
func (e *Engine) applyActions(rule *ir.Rule, tx ir.Transaction) (ir.Transaction, []ir.ActionDiff, []*ir.RuleError) {
	diffs := make([]ir.ActionDiff, 0, len(rule.Actions))
	var issues []*ir.RuleError
	for _, a := range rule.Actions {
		var diff ir.ActionDiff
		var failure *actionFailure
		tx, diff, failure = e.executor.apply(a, tx)
		if failure != nil {
			issues = append(issues, ir.NewActionError(rule.ID, a.ID, failure.code, failure.msg))
		}
		diffs = append(diffs, diff)
	}
	return tx, diffs, issues
}
