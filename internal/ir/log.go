package ir

import "time"

// ConditionMatch records one evaluated condition.
type ConditionMatch struct {
	ConditionID string   `json:"condition_id,omitempty"`
	Field       Field    `json:"field"`
	Operator    Operator `json:"operator"`
	Expected    string   `json:"expected"`
	Actual      string   `json:"actual"`
	Matched     bool     `json:"matched"`
	Error       string   `json:"error,omitempty"`
}

// Reasons an action reports applied=false without an error.
const (
	ReasonProtected      = "existing value protected"
	ReasonUnchanged      = "value unchanged"
	ReasonAlreadyCleared = "already cleared"
	ReasonAlreadyTagged  = "tag already present"
)

// ActionDiff records one attempted action with before/after values.
type ActionDiff struct {
	ActionID string     `json:"action_id,omitempty"`
	Type     ActionType `json:"action_type"`
	Field    Field      `json:"field"`
	OldValue string     `json:"old_value"`
	NewValue string     `json:"new_value"`
	Applied  bool       `json:"applied"`
	Reason   string     `json:"reason,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ApplicationLog is the audit record of one rule firing on one transaction.
// Logs are append-only; nothing updates or deletes them.
type ApplicationLog struct {
	ID                string           `json:"id"`
	RuleID            string           `json:"rule_id"`
	RuleName          string           `json:"rule_name"`
	Stage             Stage            `json:"stage"`
	WorkspaceID       string           `json:"workspace_id,omitempty"`
	TransactionID     string           `json:"transaction_id"`
	Seq               int64            `json:"seq"`
	AppliedAt         time.Time        `json:"applied_at"`
	ConditionsMatched []ConditionMatch `json:"conditions_matched"`
	ActionsExecuted   []ActionDiff     `json:"actions_executed"`
	ExecutionTime     time.Duration    `json:"-"`
	DryRun            bool             `json:"dry_run,omitempty"`
}

// ExecutionTimeMS returns the execution time in milliseconds.
func (l ApplicationLog) ExecutionTimeMS() float64 {
	return float64(l.ExecutionTime) / float64(time.Millisecond)
}

// AppliedCount returns the number of actions that changed the transaction.
func (l ApplicationLog) AppliedCount() int {
	n := 0
	for _, a := range l.ActionsExecuted {
		if a.Applied {
			n++
		}
	}
	return n
}

// RuleStats holds the mutable per-rule application counters.
type RuleStats struct {
	RuleID        string     `json:"rule_id"`
	TimesApplied  int64      `json:"times_applied"`
	LastAppliedAt *time.Time `json:"last_applied_at,omitempty"`
}

// LogFilter selects application logs. Zero fields do not filter.
type LogFilter struct {
	RuleID        string
	TransactionID string
	WorkspaceID   string
	Since         time.Time
	Limit         int
}

// DefaultLogLimit is the page size used when LogFilter.Limit is zero.
const DefaultLogLimit = 50
