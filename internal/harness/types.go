package harness

import "github.com/roach88/finrules/internal/ir"

// Trace event types.
const (
	EventApplied = "applied"
	EventIssue   = "issue"
	EventResult  = "result"
)

// ActionTrace is one attempted action of an applied rule.
type ActionTrace struct {
	Type    string `json:"type"`
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TraceEvent is one entry of a scenario trace. Which fields are set
// depends on Type.
type TraceEvent struct {
	Type          string            `json:"type"`
	TransactionID string            `json:"transaction_id"`
	RuleID        string            `json:"rule_id,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	Seq           int64             `json:"seq,omitempty"`
	Actions       []ActionTrace     `json:"actions,omitempty"`
	Code          string            `json:"code,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Trace contains every applied rule, issue and final transaction state
	// in processing order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Transactions holds the final state of each transaction by id.
	Transactions map[string]ir.Transaction `json:"-"`

	// Logs holds every application log in processing order.
	Logs []ir.ApplicationLog `json:"-"`

	// Stats holds the application counters of every rule in the scenario.
	Stats map[string]ir.RuleStats `json:"-"`

	dryRunLogs []ir.ApplicationLog
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Trace:        []TraceEvent{},
		Errors:       []string{},
		Transactions: make(map[string]ir.Transaction),
		Stats:        make(map[string]ir.RuleStats),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddAppliedTrace adds one rule firing to the trace.
func (r *Result) AddAppliedTrace(log ir.ApplicationLog) {
	actions := make([]ActionTrace, len(log.ActionsExecuted))
	for i, d := range log.ActionsExecuted {
		actions[i] = ActionTrace{
			Type:    string(d.Type),
			Field:   string(d.Field),
			Old:     d.OldValue,
			New:     d.NewValue,
			Applied: d.Applied,
			Reason:  d.Reason,
			Error:   d.Error,
		}
	}
	r.Trace = append(r.Trace, TraceEvent{
		Type:          EventApplied,
		TransactionID: log.TransactionID,
		RuleID:        log.RuleID,
		Stage:         string(log.Stage),
		Seq:           log.Seq,
		Actions:       actions,
	})
}

// AddIssueTrace adds an evaluation or action diagnostic to the trace.
func (r *Result) AddIssueTrace(txID string, issue *ir.RuleError) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:          EventIssue,
		TransactionID: txID,
		RuleID:        issue.RuleID,
		Code:          issue.Code,
	})
}

// AddResultTrace adds the final state of tx to the trace. Empty fields are
// left out.
func (r *Result) AddResultTrace(tx ir.Transaction) {
	fields := make(map[string]string)
	for _, f := range traceFields {
		if v := tx.Display(f); v != "" {
			fields[string(f)] = v
		}
	}
	r.Trace = append(r.Trace, TraceEvent{
		Type:          EventResult,
		TransactionID: tx.ID,
		Fields:        fields,
	})
	r.Transactions[tx.ID] = tx
}

var traceFields = []ir.Field{
	ir.FieldDescription,
	ir.FieldAmount,
	ir.FieldDate,
	ir.FieldCategory,
	ir.FieldAccount,
	ir.FieldPayee,
	ir.FieldNotes,
	ir.FieldTags,
	ir.FieldCleared,
}
