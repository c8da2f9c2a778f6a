package audit

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/finrules/internal/ir"
)

// Reader queries recorded logs and counters.
// Implemented by MemorySink and store.Store.
type Reader interface {
	ListLogs(ctx context.Context, filter ir.LogFilter) ([]ir.ApplicationLog, error)
	RuleStats(ctx context.Context, ruleID string) (ir.RuleStats, error)
}

// counter is one rule's lock-free application counter.
type counter struct {
	times atomic.Int64
	last  atomic.Int64 // unix nanos, 0 when never applied
}

// bump records one application at t. last only moves forward.
func (c *counter) bump(t time.Time) {
	c.times.Add(1)
	n := t.UnixNano()
	for {
		old := c.last.Load()
		if n <= old || c.last.CompareAndSwap(old, n) {
			return
		}
	}
}

// MemorySink keeps logs and counters in memory. It backs dry-run previews,
// the scenario harness and tests.
//
// Thread-safety: MemorySink is safe for concurrent use. Counters are
// per-rule atomics; only the log slice is guarded by a mutex.
type MemorySink struct {
	mu       sync.RWMutex
	logs     []ir.ApplicationLog
	counters sync.Map // rule id -> *counter
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// AppendLog implements Sink.
func (m *MemorySink) AppendLog(ctx context.Context, log ir.ApplicationLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.logs = append(m.logs, log)
	m.mu.Unlock()

	c, _ := m.counters.LoadOrStore(log.RuleID, &counter{})
	c.(*counter).bump(log.AppliedAt)
	return nil
}

// Logs returns a copy of every recorded log in append order.
func (m *MemorySink) Logs() []ir.ApplicationLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.logs)
}

// Stats returns the counters for ruleID. Unknown rules report zero.
func (m *MemorySink) Stats(ruleID string) ir.RuleStats {
	stats := ir.RuleStats{RuleID: ruleID}
	v, ok := m.counters.Load(ruleID)
	if !ok {
		return stats
	}
	c := v.(*counter)
	stats.TimesApplied = c.times.Load()
	if n := c.last.Load(); n != 0 {
		t := time.Unix(0, n).UTC()
		stats.LastAppliedAt = &t
	}
	return stats
}

// RuleStats implements Reader.
func (m *MemorySink) RuleStats(_ context.Context, ruleID string) (ir.RuleStats, error) {
	return m.Stats(ruleID), nil
}

// ListLogs implements Reader. Results are newest first (by seq, then
// applied_at) and capped at filter.Limit, or ir.DefaultLogLimit.
func (m *MemorySink) ListLogs(_ context.Context, filter ir.LogFilter) ([]ir.ApplicationLog, error) {
	m.mu.RLock()
	var out []ir.ApplicationLog
	for _, l := range m.logs {
		if MatchesFilter(l, filter) {
			out = append(out, l)
		}
	}
	m.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b ir.ApplicationLog) int {
		if c := cmp.Compare(b.Seq, a.Seq); c != 0 {
			return c
		}
		return b.AppliedAt.Compare(a.AppliedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = ir.DefaultLogLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MatchesFilter reports whether log passes every set field of filter.
func MatchesFilter(log ir.ApplicationLog, filter ir.LogFilter) bool {
	switch {
	case filter.RuleID != "" && log.RuleID != filter.RuleID:
		return false
	case filter.TransactionID != "" && log.TransactionID != filter.TransactionID:
		return false
	case filter.WorkspaceID != "" && log.WorkspaceID != filter.WorkspaceID:
		return false
	case !filter.Since.IsZero() && log.AppliedAt.Before(filter.Since):
		return false
	}
	return true
}
