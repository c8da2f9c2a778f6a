package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/finrules/internal/ir"
)

// LoadRules returns every stored rule with its counters, ordered by
// (workspace, stage, priority, id).
//
// Returns an empty slice (not nil) when no rules exist.
func (s *Store) LoadRules(ctx context.Context) ([]ir.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.workspace_id, r.name, r.description, r.rule_type, r.stage,
		       r.priority, r.is_active, r.created_by, r.created_at, r.updated_at,
		       r.conditions, r.actions,
		       COALESCE(st.times_applied, 0), st.last_applied_at
		FROM rules r
		LEFT JOIN rule_stats st ON st.rule_id = r.id
		ORDER BY r.workspace_id ASC, r.stage ASC, r.priority ASC, r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := []ir.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func scanRule(rows *sql.Rows) (ir.Rule, error) {
	var (
		r                    ir.Rule
		ruleType, stage      string
		active               int
		createdAt, updatedAt string
		conds, actions       string
		lastApplied          sql.NullString
	)
	err := rows.Scan(
		&r.ID, &r.WorkspaceID, &r.Name, &r.Description, &ruleType, &stage,
		&r.Priority, &active, &r.CreatedBy, &createdAt, &updatedAt,
		&conds, &actions,
		&r.TimesApplied, &lastApplied,
	)
	if err != nil {
		return ir.Rule{}, fmt.Errorf("scan rule: %w", err)
	}

	r.Type = ir.RuleType(ruleType)
	r.Stage = ir.Stage(stage)
	r.IsActive = active != 0
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ir.Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.LastAppliedAt, err = parseNullTime(lastApplied); err != nil {
		return ir.Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Conditions, err = unmarshalConditions(conds); err != nil {
		return ir.Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Actions, err = unmarshalActions(actions); err != nil {
		return ir.Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return r, nil
}

// LoadVersions returns the version stamp of every workspace that has ever
// been written.
func (s *Store) LoadVersions(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, version FROM ruleset_versions
	`)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int64)
	for rows.Next() {
		var ws string
		var v int64
		if err := rows.Scan(&ws, &v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions[ws] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

// RuleStats returns the counters for one rule. A rule that never fired
// reports zero. It implements audit.Reader.
func (s *Store) RuleStats(ctx context.Context, ruleID string) (ir.RuleStats, error) {
	stats := ir.RuleStats{RuleID: ruleID}
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT times_applied, last_applied_at FROM rule_stats WHERE rule_id = ?
	`, ruleID).Scan(&stats.TimesApplied, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return ir.RuleStats{}, fmt.Errorf("query rule stats %s: %w", ruleID, err)
	}
	if stats.LastAppliedAt, err = parseNullTime(last); err != nil {
		return ir.RuleStats{}, fmt.Errorf("rule stats %s: %w", ruleID, err)
	}
	return stats, nil
}

// ListLogs returns application logs matching filter, newest first
// (seq DESC, id DESC), capped at filter.Limit or ir.DefaultLogLimit.
// It implements audit.Reader.
func (s *Store) ListLogs(ctx context.Context, filter ir.LogFilter) ([]ir.ApplicationLog, error) {
	var (
		where []string
		args  []any
	)
	if filter.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, filter.TransactionID)
	}
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "applied_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = ir.DefaultLogLimit
	}

	query := `
		SELECT id, rule_id, rule_name, stage, workspace_id, transaction_id, seq,
		       applied_at, conditions_matched, actions_executed, execution_time_ms
		FROM application_logs`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq DESC, id COLLATE BINARY DESC\n\t\tLIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	logs := []ir.ApplicationLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return logs, nil
}

func scanLog(rows *sql.Rows) (ir.ApplicationLog, error) {
	var (
		l                 ir.ApplicationLog
		stage, appliedAt  string
		matched, executed string
		ms                float64
	)
	err := rows.Scan(
		&l.ID, &l.RuleID, &l.RuleName, &stage, &l.WorkspaceID, &l.TransactionID, &l.Seq,
		&appliedAt, &matched, &executed, &ms,
	)
	if err != nil {
		return ir.ApplicationLog{}, fmt.Errorf("scan log: %w", err)
	}

	l.Stage = ir.Stage(stage)
	l.ExecutionTime = time.Duration(ms * float64(time.Millisecond))
	if l.AppliedAt, err = parseTime(appliedAt); err != nil {
		return ir.ApplicationLog{}, fmt.Errorf("log %s: %w", l.ID, err)
	}
	if l.ConditionsMatched, err = unmarshalJSON[ir.ConditionMatch](matched); err != nil {
		return ir.ApplicationLog{}, fmt.Errorf("log %s: unmarshal conditions: %w", l.ID, err)
	}
	if l.ActionsExecuted, err = unmarshalJSON[ir.ActionDiff](executed); err != nil {
		return ir.ApplicationLog{}, fmt.Errorf("log %s: unmarshal actions: %w", l.ID, err)
	}
	return l, nil
}

// MaxSeq returns the highest logged seq, or 0 for an empty log.
// Used to resume the engine clock after restart.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM application_logs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}
