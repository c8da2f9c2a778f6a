package ruleset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/finrules/internal/ir"
)

// Persister durably stores rules and workspace versions.
// Implemented by store.Store.
//
// Every write names the workspace version it was computed from and bumps
// it by one; a stale version must fail with a concurrency RuleError and
// write nothing.
type Persister interface {
	LoadRules(ctx context.Context) ([]ir.Rule, error)
	LoadVersions(ctx context.Context) (map[string]int64, error)
	SaveRules(ctx context.Context, rules []ir.Rule, expected map[string]int64) error
	DeleteRule(ctx context.Context, workspace, id string, expected int64) error
	ApplyReorder(ctx context.Context, workspace string, changes []ir.PriorityChange, updatedAt time.Time, expected int64) error
}

// state is one published generation of the registry. It is never modified
// after publication.
type state struct {
	rules     map[string]ir.Rule
	versions  map[string]int64
	snapshots map[string]*ir.Snapshot
}

func newState() *state {
	return &state{
		rules:     make(map[string]ir.Rule),
		versions:  make(map[string]int64),
		snapshots: make(map[string]*ir.Snapshot),
	}
}

// next returns a copy whose maps can be modified freely. Rule values are
// replaced, never mutated in place.
func (s *state) next() *state {
	return &state{
		rules:     maps.Clone(s.rules),
		versions:  maps.Clone(s.versions),
		snapshots: maps.Clone(s.snapshots),
	}
}

func (s *state) workspaceRules(ws string) []ir.Rule {
	var out []ir.Rule
	for _, r := range s.rules {
		if r.WorkspaceID == ws {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b ir.Rule) int {
		if a.Stage != b.Stage {
			return a.Stage.Index() - b.Stage.Index()
		}
		return ir.CompareRules(a, b)
	})
	return out
}

// Registry is the in-memory rule arena backed by an optional Persister.
//
// Thread-safety: reads are lock-free; writes are serialized by a mutex and
// published atomically.
type Registry struct {
	mu        sync.Mutex
	cur       atomic.Pointer[state]
	persister Persister
	limits    ir.Limits
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithNow sets the wall clock used for created_at/updated_at.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty, memory-only Registry.
func New(limits ir.Limits, opts ...Option) *Registry {
	r := &Registry{
		limits: limits,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cur.Store(newState())
	return r
}

// Open creates a Registry persisted through p and loads its contents.
func Open(ctx context.Context, p Persister, limits ir.Limits, opts ...Option) (*Registry, error) {
	r := New(limits, opts...)
	r.persister = p
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the in-memory state with the persisted one, picking up
// writes from other processes and fresh application counters.
func (r *Registry) Reload(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, err := r.persister.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	versions, err := r.persister.LoadVersions(ctx)
	if err != nil {
		return fmt.Errorf("load versions: %w", err)
	}

	st := newState()
	maps.Copy(st.versions, versions)
	workspaces := make(map[string]bool)
	for _, rule := range rules {
		st.rules[rule.ID] = rule
		workspaces[rule.WorkspaceID] = true
	}
	for ws := range workspaces {
		st.snapshots[ws] = ir.NewSnapshot(ws, st.versions[ws], st.workspaceRules(ws))
	}
	r.cur.Store(st)

	r.logger.Debug("rule set loaded", "rules", len(rules), "workspaces", len(workspaces))
	return nil
}

// publish bumps the version of every touched workspace, rebuilds their
// snapshots and makes next visible to readers. Caller holds r.mu.
func (r *Registry) publish(next *state, touched ...string) {
	for _, ws := range touched {
		next.versions[ws]++
		next.snapshots[ws] = ir.NewSnapshot(ws, next.versions[ws], next.workspaceRules(ws))
	}
	r.cur.Store(next)
}

// Snapshot returns the immutable active rule set of ws. The snapshot stays
// valid, and unchanged, after later writes.
func (r *Registry) Snapshot(ws string) *ir.Snapshot {
	st := r.cur.Load()
	if snap, ok := st.snapshots[ws]; ok {
		return snap
	}
	return ir.NewSnapshot(ws, st.versions[ws], nil)
}

// Version returns the current rule-set version of ws (0 if never written).
func (r *Registry) Version(ws string) int64 {
	return r.cur.Load().versions[ws]
}

// Get returns a copy of the rule with the given id.
func (r *Registry) Get(id string) (ir.Rule, bool) {
	rule, ok := r.cur.Load().rules[id]
	if !ok {
		return ir.Rule{}, false
	}
	return rule.Clone(), true
}

// List returns every rule of ws, active or not, ordered by stage then
// (priority, id).
func (r *Registry) List(ws string) []ir.Rule {
	rules := r.cur.Load().workspaceRules(ws)
	for i := range rules {
		rules[i] = rules[i].Clone()
	}
	return rules
}

// ListGroupedByStage returns every rule of ws grouped by stage, together
// with the version to pass back to Reorder.
func (r *Registry) ListGroupedByStage(ws string) ir.Grouped {
	st := r.cur.Load()
	rules := st.workspaceRules(ws)
	for i := range rules {
		rules[i] = rules[i].Clone()
	}
	return ir.GroupByStage(st.versions[ws], rules)
}

// Workspaces returns the workspaces that hold at least one rule, sorted.
func (r *Registry) Workspaces() []string {
	seen := make(map[string]bool)
	for _, rule := range r.cur.Load().rules {
		seen[rule.WorkspaceID] = true
	}
	return slices.Sorted(maps.Keys(seen))
}

// persistErr keeps RuleErrors from the persister and wraps anything else
// as a persistence error.
func persistErr(ruleID string, err error) error {
	var ruleErr *ir.RuleError
	if errors.As(err, &ruleErr) {
		return err
	}
	return ir.NewPersistenceError(ruleID, ir.CodeRuleSetWrite, err)
}
