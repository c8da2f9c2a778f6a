package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/finrules/internal/ir"
)

// BatchResult is the outcome of ProcessBatch.
type BatchResult struct {
	// SnapshotVersion and SnapshotHash identify the single rule-set
	// version every transaction in the batch was evaluated against.
	SnapshotVersion int64
	SnapshotHash    string
	// Results is in input order.
	Results []Result
}

// RulesApplied returns the total number of logs across the batch.
func (b BatchResult) RulesApplied() int {
	n := 0
	for _, r := range b.Results {
		n += len(r.Logs)
	}
	return n
}

// Changed returns the number of transactions at least one rule modified.
func (b BatchResult) Changed() int {
	n := 0
	for _, r := range b.Results {
		if r.Changed() {
			n++
		}
	}
	return n
}

// Warnings returns every persistence warning in the batch.
func (b BatchResult) Warnings() []*ir.RuleError {
	var out []*ir.RuleError
	for _, r := range b.Results {
		out = append(out, r.Warnings...)
	}
	return out
}

// ProcessBatch runs Process over txs against one snapshot using a bounded
// worker pool. Transactions are independent, so they are processed in
// parallel; results are returned in input order.
//
// The only error is context cancellation. Per-transaction failures are
// carried on each Result.
func (e *Engine) ProcessBatch(ctx context.Context, txs []ir.Transaction, snap *ir.Snapshot) (BatchResult, error) {
	return e.batch(ctx, txs, snap, false)
}

// DryRunBatch is ProcessBatch without side effects.
func (e *Engine) DryRunBatch(ctx context.Context, txs []ir.Transaction, snap *ir.Snapshot) (BatchResult, error) {
	return e.batch(ctx, txs, snap, true)
}

func (e *Engine) batch(ctx context.Context, txs []ir.Transaction, snap *ir.Snapshot, dryRun bool) (BatchResult, error) {
	hash, err := snap.Hash()
	if err != nil {
		return BatchResult{}, err
	}
	out := BatchResult{
		SnapshotVersion: snap.Version(),
		SnapshotHash:    hash,
		Results:         make([]Result, len(txs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, tx := range txs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Each worker writes only its own slot.
			out.Results[i] = e.run(gctx, tx, snap, dryRun)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	e.logger.Info("batch processed",
		"transactions", len(txs),
		"changed", out.Changed(),
		"rules_applied", out.RulesApplied(),
		"snapshot_version", out.SnapshotVersion,
		"dry_run", dryRun,
	)
	return out, nil
}
