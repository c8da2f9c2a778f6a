package ir

import (
	"fmt"
	"slices"
)

// Snapshot is an immutable, ordered view of one workspace's rule set.
//
// Rules are grouped by stage and sorted by (priority, id). A snapshot is
// shared by every transaction processed against it, so callers must not
// modify the slices it returns.
type Snapshot struct {
	workspace string
	version   int64
	stages    map[Stage][]Rule
	all       []Rule
}

// NewSnapshot builds a snapshot from rules, keeping only active rules of
// the given workspace. The input slice is not retained.
func NewSnapshot(workspace string, version int64, rules []Rule) *Snapshot {
	s := &Snapshot{
		workspace: workspace,
		version:   version,
		stages:    make(map[Stage][]Rule, len(StageOrder)),
	}
	for _, r := range rules {
		if !r.IsActive || r.WorkspaceID != workspace || !r.Stage.Valid() {
			continue
		}
		s.stages[r.Stage] = append(s.stages[r.Stage], r.Clone())
	}
	for _, stage := range StageOrder {
		slices.SortFunc(s.stages[stage], CompareRules)
		s.all = append(s.all, s.stages[stage]...)
	}
	return s
}

// EmptySnapshot returns a snapshot with no rules.
func EmptySnapshot(workspace string) *Snapshot {
	return NewSnapshot(workspace, 0, nil)
}

// Workspace returns the workspace the snapshot belongs to.
func (s *Snapshot) Workspace() string {
	if s == nil {
		return ""
	}
	return s.workspace
}

// Version returns the rule-set version the snapshot was taken at.
func (s *Snapshot) Version() int64 {
	if s == nil {
		return 0
	}
	return s.version
}

// Rules returns the active rules of a stage in execution order.
func (s *Snapshot) Rules(stage Stage) []Rule {
	if s == nil {
		return nil
	}
	return s.stages[stage]
}

// All returns every active rule in execution order across stages.
func (s *Snapshot) All() []Rule {
	if s == nil {
		return nil
	}
	return s.all
}

// Len returns the number of active rules.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.all)
}

// Only returns a snapshot restricted to the listed rule ids, keeping stage
// and priority order, workspace and version. Ids not in s are ignored. With
// no ids, s itself is returned.
func (s *Snapshot) Only(ids ...string) *Snapshot {
	if s == nil || len(ids) == 0 {
		return s
	}
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := &Snapshot{
		workspace: s.workspace,
		version:   s.version,
		stages:    make(map[Stage][]Rule, len(StageOrder)),
	}
	for _, stage := range StageOrder {
		for _, r := range s.stages[stage] {
			if keep[r.ID] {
				out.stages[stage] = append(out.stages[stage], r)
				out.all = append(out.all, r)
			}
		}
	}
	return out
}

// Hash returns a content hash of the snapshot's rules in execution order.
// Two snapshots with the same hash evaluate every transaction identically.
func (s *Snapshot) Hash() (string, error) {
	if s == nil {
		s = EmptySnapshot("")
	}
	rules := make([]any, 0, s.Len())
	for _, r := range s.All() {
		rules = append(rules, ruleCanonicalMap(r))
	}
	canonical, err := MarshalCanonical(map[string]any{
		"workspace": s.workspace,
		"rules":     rules,
	})
	if err != nil {
		return "", fmt.Errorf("Snapshot.Hash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// Grouped is the by-stage listing of a workspace's rules, including
// inactive ones, each stage sorted by (priority, id).
type Grouped struct {
	Version int64  `json:"version"`
	Pre     []Rule `json:"pre"`
	Default []Rule `json:"default"`
	Post    []Rule `json:"post"`
}

// Stage returns the rules listed under stage.
func (g Grouped) Stage(stage Stage) []Rule {
	switch stage {
	case StagePre:
		return g.Pre
	case StageDefault:
		return g.Default
	case StagePost:
		return g.Post
	default:
		return nil
	}
}

// GroupByStage groups rules by stage. Rules with an unknown stage are dropped.
func GroupByStage(version int64, rules []Rule) Grouped {
	g := Grouped{
		Version: version,
		Pre:     []Rule{},
		Default: []Rule{},
		Post:    []Rule{},
	}
	for _, r := range rules {
		switch r.Stage {
		case StagePre:
			g.Pre = append(g.Pre, r)
		case StageDefault:
			g.Default = append(g.Default, r)
		case StagePost:
			g.Post = append(g.Post, r)
		}
	}
	slices.SortFunc(g.Pre, CompareRules)
	slices.SortFunc(g.Default, CompareRules)
	slices.SortFunc(g.Post, CompareRules)
	return g
}
