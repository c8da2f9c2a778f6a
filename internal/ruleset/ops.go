package ruleset

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/finrules/internal/compiler"
	"github.com/roach88/finrules/internal/ir"
)

// Put creates or replaces one rule. See PutAll.
func (r *Registry) Put(ctx context.Context, rule ir.Rule) (ir.Rule, error) {
	saved, err := r.PutAll(ctx, []ir.Rule{rule})
	if err != nil {
		return ir.Rule{}, err
	}
	return saved[0], nil
}

// PutAll creates or replaces rules as one all-or-nothing write.
//
// created_at and the application counters of an existing rule are kept;
// updated_at is set to now. Each rule must pass compiler.ValidateRule, keep
// its workspace, and leave every (workspace, stage) with unique priorities
// and within the per-stage limit.
func (r *Registry) PutAll(ctx context.Context, rules []ir.Rule) ([]ir.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return []ir.Rule{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.cur.Load()
	next := cur.next()
	now := r.now().UTC()
	seen := make(map[string]bool, len(rules))
	touched := make(map[string]bool)
	saved := make([]ir.Rule, 0, len(rules))

	for _, in := range rules {
		rule := in.Clone()
		if seen[rule.ID] {
			return nil, ir.NewValidationError(rule.ID, ir.CodeDuplicateRule, "rule %q appears more than once", rule.ID)
		}
		seen[rule.ID] = true

		if existing, ok := cur.rules[rule.ID]; ok {
			if existing.WorkspaceID != rule.WorkspaceID {
				return nil, ir.NewValidationError(rule.ID, ir.CodeForeignRule,
					"rule belongs to workspace %q", existing.WorkspaceID)
			}
			rule.CreatedAt = existing.CreatedAt
			if rule.CreatedBy == "" {
				rule.CreatedBy = existing.CreatedBy
			}
			rule.TimesApplied = existing.TimesApplied
			rule.LastAppliedAt = existing.LastAppliedAt
		} else {
			rule.CreatedAt = now
			rule.TimesApplied = 0
			rule.LastAppliedAt = nil
		}
		rule.UpdatedAt = now

		if err := compiler.AsRuleError(rule.ID, compiler.ValidateRule(rule, r.limits)); err != nil {
			return nil, err
		}

		next.rules[rule.ID] = rule
		touched[rule.WorkspaceID] = true
		saved = append(saved, rule)
	}

	for ws := range touched {
		if err := r.checkStages(next, ws); err != nil {
			return nil, err
		}
	}

	workspaces := slices.Sorted(maps.Keys(touched))
	if r.persister != nil {
		expected := make(map[string]int64, len(workspaces))
		for _, ws := range workspaces {
			expected[ws] = cur.versions[ws]
		}
		if err := r.persister.SaveRules(ctx, saved, expected); err != nil {
			return nil, persistErr(saved[0].ID, err)
		}
	}
	r.publish(next, workspaces...)

	r.logger.Info("rules saved", "count", len(saved), "workspaces", workspaces)
	return cloneAll(saved), nil
}

// checkStages enforces unique priorities and the per-stage limit for every
// stage of ws in st.
func (r *Registry) checkStages(st *state, ws string) error {
	for _, stage := range ir.StageOrder {
		byPriority := make(map[int]string)
		count := 0
		for _, rule := range st.workspaceRules(ws) {
			if rule.Stage != stage {
				continue
			}
			count++
			if other, ok := byPriority[rule.Priority]; ok {
				return ir.NewValidationError(rule.ID, ir.CodeDuplicatePrio,
					"priority %d already used by rule %q in stage %s", rule.Priority, other, stage)
			}
			byPriority[rule.Priority] = rule.ID
		}
		if limit := r.limits.MaxRulesPerStage; limit > 0 && count > limit {
			return ir.NewValidationError("", ir.CodeLimitExceeded,
				"stage %s of workspace %q would hold %d rules (limit %d)", stage, ws, count, limit)
		}
	}
	return nil
}

// Delete removes one rule. Its application logs and counters are kept.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.cur.Load()
	rule, ok := cur.rules[id]
	if !ok {
		return ir.NewValidationError(id, ir.CodeNotFound, "rule not found")
	}

	ws := rule.WorkspaceID
	if r.persister != nil {
		if err := r.persister.DeleteRule(ctx, ws, id, cur.versions[ws]); err != nil {
			return persistErr(id, err)
		}
	}
	next := cur.next()
	delete(next.rules, id)
	r.publish(next, ws)

	r.logger.Info("rule deleted", "rule_id", id, "workspace", ws)
	return nil
}

// Reorder assigns new priorities to rules of one (workspace, stage).
//
// expectedVersion is the version the caller listed the rules at (see
// ListGroupedByStage). Every rule id must exist in that workspace and
// stage, and the resulting priorities of the whole stage must be unique.
// The change is all-or-nothing; on success the new grouped listing is
// returned.
func (r *Registry) Reorder(
	ctx context.Context,
	ws string,
	stage ir.Stage,
	pairs []ir.PriorityChange,
	expectedVersion int64,
) (ir.Grouped, error) {
	if err := ctx.Err(); err != nil {
		return ir.Grouped{}, err
	}
	if !stage.Valid() {
		return ir.Grouped{}, ir.NewValidationError("", ir.CodeInvalidRule, "invalid stage %q", stage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.cur.Load()
	if actual := cur.versions[ws]; actual != expectedVersion {
		return ir.Grouped{}, ir.NewConcurrencyError(ws, expectedVersion, actual)
	}
	if len(pairs) == 0 {
		return ir.GroupByStage(cur.versions[ws], cloneAll(cur.workspaceRules(ws))), nil
	}

	next := cur.next()
	now := r.now().UTC()
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		rule, ok := cur.rules[p.RuleID]
		switch {
		case !ok:
			return ir.Grouped{}, ir.NewValidationError(p.RuleID, ir.CodeNotFound, "rule not found")
		case rule.WorkspaceID != ws || rule.Stage != stage:
			return ir.Grouped{}, ir.NewValidationError(p.RuleID, ir.CodeForeignRule,
				"rule is in workspace %q stage %s, not %q stage %s", rule.WorkspaceID, rule.Stage, ws, stage)
		case seen[p.RuleID]:
			return ir.Grouped{}, ir.NewValidationError(p.RuleID, ir.CodeDuplicateRule, "rule listed more than once")
		case p.Priority < ir.MinPriority || p.Priority > ir.MaxPriority:
			return ir.Grouped{}, ir.NewValidationError(p.RuleID, ir.CodePriorityRange,
				"priority %d outside %d..%d", p.Priority, ir.MinPriority, ir.MaxPriority)
		}
		seen[p.RuleID] = true

		rule = rule.Clone()
		rule.Priority = p.Priority
		rule.UpdatedAt = now
		next.rules[rule.ID] = rule
	}

	if err := r.checkStages(next, ws); err != nil {
		return ir.Grouped{}, err
	}

	if r.persister != nil {
		if err := r.persister.ApplyReorder(ctx, ws, pairs, now, expectedVersion); err != nil {
			return ir.Grouped{}, persistErr("", err)
		}
	}
	r.publish(next, ws)

	r.logger.Info("rules reordered",
		"workspace", ws,
		"stage", stage,
		"changes", len(pairs),
		"version", next.versions[ws],
	)
	return ir.GroupByStage(next.versions[ws], cloneAll(next.workspaceRules(ws))), nil
}

// BulkToggle sets is_active on every listed rule, leaving priorities
// alone. Unknown ids fail the whole call. Rules already in the requested
// state are not rewritten. The updated rules are returned in input order.
func (r *Registry) BulkToggle(ctx context.Context, ids []string, active bool) ([]ir.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setActive(ctx, ids, func(ir.Rule) bool { return active })
}

// Toggle flips is_active on one rule and returns it.
func (r *Registry) Toggle(ctx context.Context, id string) (ir.Rule, error) {
	if err := ctx.Err(); err != nil {
		return ir.Rule{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rules, err := r.setActive(ctx, []string{id}, func(rule ir.Rule) bool { return !rule.IsActive })
	if err != nil {
		return ir.Rule{}, err
	}
	return rules[0], nil
}

// setActive applies want to each listed rule. Caller holds r.mu.
func (r *Registry) setActive(ctx context.Context, ids []string, want func(ir.Rule) bool) ([]ir.Rule, error) {
	cur := r.cur.Load()
	for _, id := range ids {
		if _, ok := cur.rules[id]; !ok {
			return nil, ir.NewValidationError(id, ir.CodeNotFound, "rule not found")
		}
	}

	next := cur.next()
	now := r.now().UTC()
	touched := make(map[string]bool)
	var changed []ir.Rule
	for _, id := range ids {
		rule := next.rules[id]
		active := want(rule)
		if rule.IsActive == active {
			continue
		}
		rule = rule.Clone()
		rule.IsActive = active
		rule.UpdatedAt = now
		next.rules[id] = rule
		touched[rule.WorkspaceID] = true
		changed = append(changed, rule)
	}

	out := make([]ir.Rule, len(ids))
	for i, id := range ids {
		out[i] = next.rules[id].Clone()
	}
	if len(changed) == 0 {
		return out, nil
	}

	workspaces := slices.Sorted(maps.Keys(touched))
	if r.persister != nil {
		expected := make(map[string]int64, len(workspaces))
		for _, ws := range workspaces {
			expected[ws] = cur.versions[ws]
		}
		if err := r.persister.SaveRules(ctx, changed, expected); err != nil {
			return nil, persistErr(changed[0].ID, err)
		}
	}
	r.publish(next, workspaces...)

	r.logger.Info("rules toggled", "changed", len(changed), "workspaces", workspaces)
	return out, nil
}

func cloneAll(rules []ir.Rule) []ir.Rule {
	out := make([]ir.Rule, len(rules))
	for i, rule := range rules {
		out[i] = rule.Clone()
	}
	return out
}
