package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/finrules/internal/audit"
	"github.com/roach88/finrules/internal/compiler"
	"github.com/roach88/finrules/internal/engine"
	"github.com/roach88/finrules/internal/ir"
	"github.com/roach88/finrules/internal/ruleset"
	"github.com/roach88/finrules/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and log ids.
type Harness struct {
	registry *ruleset.Registry
	engine   *engine.Engine
	sink     *audit.MemorySink
	clock    *testutil.StepClock
	logger   *slog.Logger
}

// Option configures a Harness.
type Option func(*harnessConfig)

type harnessConfig struct {
	logger *slog.Logger
	limits ir.Limits
}

// WithLogger routes engine and registry logs to l. By default they are
// discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *harnessConfig) { c.logger = l }
}

// WithLimits overrides the rule-set limits.
func WithLimits(limits ir.Limits) Option {
	return func(c *harnessConfig) { c.limits = limits }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory rule set and log sink.
// Execution flow:
// 1. Compile and load the rules
// 2. Apply setup steps
// 3. Process each transaction in order
// 4. Evaluate assertions
//
// The returned error covers scenarios that cannot run at all (invalid
// rules, failed setup). Failed assertions are reported on the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := harnessConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		limits: ir.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ws := scenario.Workspace
	if ws == "" {
		ws = DefaultWorkspace
	}

	rules, err := compiler.Compile(scenario.Rules, ws, cfg.limits)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	txs, err := compiler.CompileTransactions(scenario.Transactions, ws)
	if err != nil {
		return nil, fmt.Errorf("failed to compile transactions: %w", err)
	}

	clock := testutil.NewStepClock()
	sink := audit.NewMemorySink()

	engineOpts := []engine.Option{
		engine.WithRecorder(audit.NewRecorder(sink, audit.WithLogger(cfg.logger))),
		engine.WithNow(clock.Now),
		engine.WithIDGenerator(engine.NewSequenceGenerator("log")),
		engine.WithLogger(cfg.logger),
		engine.WithWorkers(1),
	}
	if scenario.KnownRefs != nil {
		known := make(map[ir.RefKind][]string, len(scenario.KnownRefs))
		for kind, ids := range scenario.KnownRefs {
			known[ir.RefKind(kind)] = ids
		}
		engineOpts = append(engineOpts, engine.WithResolver(engine.NewStaticResolver(known)))
	}
	if scenario.MaxEvaluations > 0 {
		engineOpts = append(engineOpts, engine.WithMaxEvaluations(scenario.MaxEvaluations))
	}

	h := &Harness{
		registry: ruleset.New(cfg.limits, ruleset.WithNow(clock.Now), ruleset.WithLogger(cfg.logger)),
		engine:   engine.New(engineOpts...),
		sink:     sink,
		clock:    clock,
		logger:   cfg.logger,
	}
	defer h.engine.Close()

	ctx := context.Background()
	if len(rules) > 0 {
		if _, err := h.registry.PutAll(ctx, rules); err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
	}
	if err := h.executeSetup(ctx, ws, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	h.executeTransactions(ctx, ws, txs, scenario.DryRun, result)

	for _, rule := range rules {
		result.Stats[rule.ID] = sink.Stats(rule.ID)
	}
	result.Logs = sink.Logs()
	if scenario.DryRun {
		// Dry runs never reach the sink; keep the previews for assertions.
		result.Logs = result.dryRunLogs
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeSetup applies the setup steps against the registry in order.
func (h *Harness) executeSetup(ctx context.Context, ws string, steps []SetupStep) error {
	for i, step := range steps {
		var err error
		switch step.Op {
		case OpReorder:
			pairs := make([]ir.PriorityChange, 0, len(step.Priorities))
			for _, id := range slices.Sorted(maps.Keys(step.Priorities)) {
				pairs = append(pairs, ir.PriorityChange{RuleID: id, Priority: step.Priorities[id]})
			}
			_, err = h.registry.Reorder(ctx, ws, ir.Stage(step.Stage), pairs, h.registry.Version(ws))
		case OpActivate, OpDeactivate:
			_, err = h.registry.BulkToggle(ctx, step.Rules, step.Op == OpActivate)
		case OpToggle:
			for _, id := range step.Rules {
				if _, err = h.registry.Toggle(ctx, id); err != nil {
					break
				}
			}
		case OpDelete:
			for _, id := range step.Rules {
				if err = h.registry.Delete(ctx, id); err != nil {
					break
				}
			}
		default:
			err = fmt.Errorf("unknown op %q", step.Op)
		}
		if err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Op, err)
		}

		h.logger.Info("setup step completed",
			"step", i,
			"op", step.Op,
			"version", h.registry.Version(ws),
		)
	}
	return nil
}

// executeTransactions processes txs one at a time against a single
// snapshot and builds the trace.
func (h *Harness) executeTransactions(ctx context.Context, ws string, txs []ir.Transaction, dryRun bool, result *Result) {
	snap := h.registry.Snapshot(ws)
	for _, tx := range txs {
		var res engine.Result
		if dryRun {
			res = h.engine.DryRun(ctx, tx, snap)
			result.dryRunLogs = append(result.dryRunLogs, res.Logs...)
		} else {
			res = h.engine.Process(ctx, tx, snap)
		}

		for _, log := range res.Logs {
			result.AddAppliedTrace(log)
		}
		for _, issue := range res.Issues {
			result.AddIssueTrace(tx.ID, issue)
		}
		for _, warning := range res.Warnings {
			result.AddIssueTrace(tx.ID, warning)
		}
		result.AddResultTrace(res.Transaction)

		h.logger.Info("transaction processed",
			"transaction_id", tx.ID,
			"rules_applied", len(res.Logs),
			"issues", len(res.Issues),
		)
	}
}
