package engine

import (
	"fmt"

	"github.com/roach88/finrules/internal/ir"
)

// DefaultMaxEvaluations bounds condition evaluations per transaction.
// Rules cannot trigger each other, so evaluation always terminates; the
// budget only caps the cost of a pathological rule set.
const DefaultMaxEvaluations = 10000

// evaluationBudget counts condition evaluations for one transaction.
//
// Each Process call gets its own budget. Once exhausted, remaining rules
// are skipped and a single E_BUDGET issue is reported.
type evaluationBudget struct {
	max  int // <= 0 means unlimited
	used int
}

func newEvaluationBudget(max int) *evaluationBudget {
	return &evaluationBudget{max: max}
}

// spend consumes one evaluation, returning an error once the budget is gone.
func (b *evaluationBudget) spend() *ir.RuleError {
	if b.max <= 0 {
		return nil
	}
	b.used++
	if b.used > b.max {
		return &ir.RuleError{
			Kind:    ir.KindEvaluation,
			Code:    ir.CodeBudgetExceeded,
			Message: fmt.Sprintf("evaluation budget exhausted (%d conditions)", b.max),
		}
	}
	return nil
}
