package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/finrules/internal/ir"
)

// Recorder persists application logs and bumps the rule counters.
// Implemented by audit.Recorder.
type Recorder interface {
	Record(ctx context.Context, log ir.ApplicationLog) error
}

// DefaultWorkers is the batch worker pool size.
const DefaultWorkers = 4

// Engine runs snapshots against transactions.
//
// Thread-safety model:
//   - Process, DryRun, TestRule and ProcessBatch are safe from any goroutine
//   - The engine holds no per-transaction state; each call owns its budget
//     and its working copy of the transaction
type Engine struct {
	evaluator      *Evaluator
	executor       *Executor
	recorder       Recorder
	clock          *Clock
	now            NowFunc
	ids            IDGenerator
	logger         *slog.Logger
	resolver       Resolver
	workers        int
	maxEvaluations int
	regexCacheSize int64
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithRecorder sets where application logs are written. Without a
// recorder, Process still returns logs but nothing is persisted.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithResolver sets the entity resolver used for dangling-reference checks.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithClock sets the logical clock that stamps log seq numbers.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNow sets the wall clock used for applied_at and timings.
func WithNow(now NowFunc) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the log id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers sets the ProcessBatch worker pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMaxEvaluations bounds condition evaluations per transaction.
// Use 0 to disable the bound.
func WithMaxEvaluations(n int) Option {
	return func(e *Engine) { e.maxEvaluations = n }
}

// WithRegexCacheSize bounds the compiled pattern cache. Use 0 to disable it.
func WithRegexCacheSize(n int64) Option {
	return func(e *Engine) { e.regexCacheSize = n }
}

// New creates an Engine configured by opts.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:          NewClock(),
		now:            time.Now,
		ids:            UUIDv7Generator{},
		logger:         slog.Default(),
		resolver:       allExist{},
		workers:        DefaultWorkers,
		maxEvaluations: DefaultMaxEvaluations,
		regexCacheSize: DefaultRegexCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = NewEvaluator(e.resolver, e.regexCacheSize)
	e.executor = NewExecutor(e.resolver)
	return e
}

// Close releases engine resources.
func (e *Engine) Close() {
	e.evaluator.Close()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Result is the outcome of processing one transaction.
type Result struct {
	// Transaction is the final state after every stage.
	Transaction ir.Transaction
	// Logs holds one entry per rule that changed the transaction, in
	// execution order.
	Logs []ir.ApplicationLog
	// Issues are evaluation and action failures. They never abort
	// processing.
	Issues []*ir.RuleError
	// Warnings are persistence failures. The transaction result stands.
	Warnings []*ir.RuleError
	// Matches lists every rule whose conditions held, in execution order,
	// including rules whose actions all reported applied=false.
	Matches []RuleMatch
}

// RuleMatch is one rule that matched a transaction and what each of its
// actions did, or would do in a dry run.
type RuleMatch struct {
	RuleID   string          `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	RuleType ir.RuleType     `json:"rule_type"`
	Stage    ir.Stage        `json:"stage"`
	Actions  []ir.ActionDiff `json:"actions"`
}

// Applied reports whether any action of the match changed the transaction.
func (m RuleMatch) Applied() bool {
	for _, d := range m.Actions {
		if d.Applied {
			return true
		}
	}
	return false
}

// Changed reports whether any rule modified the transaction.
func (r Result) Changed() bool {
	return len(r.Logs) > 0
}

// MatchedRules returns the ids of rules whose conditions held, in order.
func (r Result) MatchedRules() []string {
	ids := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		ids[i] = m.RuleID
	}
	return ids
}

// FiredRules returns the ids of rules that produced a log, in order.
func (r Result) FiredRules() []string {
	ids := make([]string, len(r.Logs))
	for i, l := range r.Logs {
		ids[i] = l.RuleID
	}
	return ids
}

// Process runs every active rule of snap against tx, then persists the
// resulting logs through the recorder in execution order. A nil snapshot
// is empty.
func (e *Engine) Process(ctx context.Context, tx ir.Transaction, snap *ir.Snapshot) Result {
	return e.run(ctx, tx, snap, false)
}

// DryRun is Process without side effects: logs are returned marked as dry
// runs, and neither the audit log nor the counters are touched.
func (e *Engine) DryRun(ctx context.Context, tx ir.Transaction, snap *ir.Snapshot) Result {
	return e.run(ctx, tx, snap, true)
}

func (e *Engine) run(ctx context.Context, tx ir.Transaction, snap *ir.Snapshot, dryRun bool) Result {
	res := Result{Transaction: tx.Clone()}
	budget := newEvaluationBudget(e.maxEvaluations)

stages:
	for _, stage := range ir.StageOrder {
		rules := snap.Rules(stage)
		for i := range rules {
			rule := &rules[i]
			log, stop := e.runRule(rule, &res, budget, dryRun)
			if stop {
				break stages
			}
			if log != nil {
				res.Logs = append(res.Logs, *log)
			}
		}
	}

	// Recording waits until every stage has run; sink retries never sit
	// between two rule evaluations.
	if !dryRun {
		for _, log := range res.Logs {
			e.record(ctx, log, &res)
		}
	}

	if len(res.Logs) > 0 {
		e.logger.Debug("transaction processed",
			"transaction_id", tx.ID,
			"rules_applied", len(res.Logs),
			"dry_run", dryRun,
			"snapshot_version", snap.Version(),
		)
	}
	return res
}

// runRule evaluates one rule and, on a match, applies its actions to the
// working transaction in res. It returns a log only if at least one action
// applied. stop is set when the evaluation budget is exhausted.
func (e *Engine) runRule(rule *ir.Rule, res *Result, budget *evaluationBudget, dryRun bool) (log *ir.ApplicationLog, stop bool) {
	start := e.now()
	m := e.matchRule(rule, &res.Transaction, budget)
	res.Issues = append(res.Issues, m.issues...)
	if m.budget != nil {
		res.Issues = append(res.Issues, m.budget)
		e.logger.Warn("evaluation budget exhausted",
			"transaction_id", res.Transaction.ID,
			"rule_id", rule.ID,
		)
		return nil, true
	}
	if !m.matched {
		return nil, false
	}

	next, diffs, issues := e.applyActions(rule, res.Transaction)
	res.Issues = append(res.Issues, issues...)
	res.Transaction = next

	match := RuleMatch{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		RuleType: rule.Type,
		Stage:    rule.Stage,
		Actions:  diffs,
	}
	res.Matches = append(res.Matches, match)
	if !match.Applied() {
		return nil, false
	}

	return e.buildLog(rule, res.Transaction.ID, m.conditions, diffs, start, dryRun), false
}

// buildLog assembles the audit entry for one rule firing. Dry-run logs do
// not consume a seq number.
func (e *Engine) buildLog(rule *ir.Rule, txID string, conds []ir.ConditionMatch, diffs []ir.ActionDiff, start time.Time, dryRun bool) *ir.ApplicationLog {
	end := e.now()
	log := &ir.ApplicationLog{
		ID:                e.ids.Generate(),
		RuleID:            rule.ID,
		RuleName:          rule.Name,
		Stage:             rule.Stage,
		WorkspaceID:       rule.WorkspaceID,
		TransactionID:     txID,
		AppliedAt:         end,
		ConditionsMatched: conds,
		ActionsExecuted:   diffs,
		ExecutionTime:     end.Sub(start),
		DryRun:            dryRun,
	}
	if !dryRun {
		log.Seq = e.clock.Next()
	}
	return log
}

// record persists one log. A failure becomes a warning on the result;
// the in-memory transaction is not rolled back.
func (e *Engine) record(ctx context.Context, log ir.ApplicationLog, res *Result) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, log); err != nil {
		var re *ir.RuleError
		if !errors.As(err, &re) {
			re = ir.NewPersistenceError(log.RuleID, ir.CodeLogWrite, err)
		}
		res.Warnings = append(res.Warnings, re)
		e.logger.Error("application log write failed",
			"error", err,
			"rule_id", log.RuleID,
			"transaction_id", log.TransactionID,
			"log_id", log.ID,
		)
	}
}

// TestResult is the preview of one rule against one transaction.
type TestResult struct {
	Matched     bool                `json:"matched"`
	Conditions  []ir.ConditionMatch `json:"conditions"`
	Actions     []ir.ActionDiff     `json:"actions"`
	Transaction ir.Transaction      `json:"transaction"`
	// Log is the dry-run log the rule would write, or nil if nothing
	// would change.
	Log    *ir.ApplicationLog `json:"log,omitempty"`
	Issues []*ir.RuleError    `json:"-"`
}

// TestRule previews a single rule, saved or draft, against tx. The rule is
// evaluated even if inactive. Nothing is persisted.
func (e *Engine) TestRule(ctx context.Context, rule ir.Rule, tx ir.Transaction) (TestResult, error) {
	if err := ctx.Err(); err != nil {
		return TestResult{}, err
	}
	if len(rule.Conditions) == 0 {
		return TestResult{}, ir.NewValidationError(rule.ID, ir.CodeInvalidRule, "rule has no conditions")
	}

	start := e.now()
	work := tx.Clone()
	m := e.matchRule(&rule, &work, newEvaluationBudget(e.maxEvaluations))
	out := TestResult{
		Matched:     m.matched,
		Conditions:  m.conditions,
		Transaction: work,
		Issues:      m.issues,
	}
	if m.budget != nil {
		out.Issues = append(out.Issues, m.budget)
	}
	if !m.matched {
		return out, nil
	}

	next, diffs, issues := e.applyActions(&rule, work)
	out.Transaction = next
	out.Actions = diffs
	out.Issues = append(out.Issues, issues...)
	for _, d := range diffs {
		if d.Applied {
			out.Log = e.buildLog(&rule, tx.ID, m.conditions, diffs, start, true)
			break
		}
	}
	return out, nil
}
