package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/finrules/internal/audit"
	"github.com/roach88/finrules/internal/ir"
)

// AppendLog writes an application log and bumps the rule counters in one
// transaction. It implements audit.Sink.
//
// A log whose id already exists is rejected with an error wrapping
// audit.ErrPermanent; retrying cannot succeed and the first write stands.
func (s *Store) AppendLog(ctx context.Context, log ir.ApplicationLog) error {
	matched, err := marshalJSON(log.ConditionsMatched)
	if err != nil {
		return fmt.Errorf("append log: marshal conditions: %w", err)
	}
	executed, err := marshalJSON(log.ActionsExecuted)
	if err != nil {
		return fmt.Errorf("append log: marshal actions: %w", err)
	}
	appliedAt := formatTime(log.AppliedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append log: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO application_logs
		(id, rule_id, rule_name, stage, workspace_id, transaction_id, seq, applied_at,
		 conditions_matched, actions_executed, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		log.ID,
		log.RuleID,
		log.RuleName,
		string(log.Stage),
		log.WorkspaceID,
		log.TransactionID,
		log.Seq,
		appliedAt,
		matched,
		executed,
		log.ExecutionTimeMS(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("append log %s: %w: %w", log.ID, audit.ErrPermanent, err)
		}
		return fmt.Errorf("append log: insert: %w", err)
	}

	// last_applied_at only moves forward, whatever order workers commit in
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rule_stats (rule_id, times_applied, last_applied_at)
		VALUES (?, 1, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			times_applied = times_applied + 1,
			last_applied_at = MAX(COALESCE(last_applied_at, ''), excluded.last_applied_at)
	`, log.RuleID, appliedAt)
	if err != nil {
		return fmt.Errorf("append log: bump counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append log: commit: %w", err)
	}
	return nil
}

// SaveRules upserts rules in one transaction. expected maps each touched
// workspace to the version the rules were computed from; each touched
// workspace's version is bumped once. Nothing is written if any stamp is
// stale.
func (s *Store) SaveRules(ctx context.Context, rules []ir.Rule, expected map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save rules: begin tx: %w", err)
	}
	defer tx.Rollback()

	bumped := make(map[string]bool)
	for _, r := range rules {
		if !bumped[r.WorkspaceID] {
			if err := bumpVersion(ctx, tx, r.WorkspaceID, expected[r.WorkspaceID]); err != nil {
				return err
			}
			bumped[r.WorkspaceID] = true
		}
		if err := upsertRule(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save rules: commit: %w", err)
	}
	return nil
}

func upsertRule(ctx context.Context, tx *sql.Tx, r ir.Rule) error {
	conds, err := marshalConditions(r.Conditions)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	actions, err := marshalActions(r.Actions)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules
		(id, workspace_id, name, description, rule_type, stage, priority, is_active,
		 created_by, created_at, updated_at, conditions, actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rule_type = excluded.rule_type,
			stage = excluded.stage,
			priority = excluded.priority,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at,
			conditions = excluded.conditions,
			actions = excluded.actions
		WHERE rules.workspace_id = excluded.workspace_id
	`,
		r.ID,
		r.WorkspaceID,
		r.Name,
		r.Description,
		string(r.Type),
		string(r.Stage),
		r.Priority,
		boolToInt(r.IsActive),
		r.CreatedBy,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		conds,
		actions,
	)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes one rule and bumps the workspace version.
// Its logs and counters are kept.
func (s *Store) DeleteRule(ctx context.Context, workspace, id string, expected int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete rule: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := bumpVersion(ctx, tx, workspace, expected); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM rules WHERE id = ? AND workspace_id = ?
	`, id, workspace)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete rule %s: rows affected: %w", id, err)
	} else if n == 0 {
		return ir.NewValidationError(id, ir.CodeNotFound, "rule not found in workspace %q", workspace)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete rule: commit: %w", err)
	}
	return nil
}

// ApplyReorder sets new priorities for rules of one workspace in one
// transaction, guarded by the workspace version stamp.
func (s *Store) ApplyReorder(
	ctx context.Context,
	workspace string,
	changes []ir.PriorityChange,
	updatedAt time.Time,
	expected int64,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reorder: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := bumpVersion(ctx, tx, workspace, expected); err != nil {
		return err
	}

	stamp := formatTime(updatedAt)
	for _, c := range changes {
		res, err := tx.ExecContext(ctx, `
			UPDATE rules SET priority = ?, updated_at = ?
			WHERE id = ? AND workspace_id = ?
		`, c.Priority, stamp, c.RuleID, workspace)
		if err != nil {
			return fmt.Errorf("reorder %s: %w", c.RuleID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reorder %s: rows affected: %w", c.RuleID, err)
		}
		if n == 0 {
			return ir.NewValidationError(c.RuleID, ir.CodeNotFound, "rule not found in workspace %q", workspace)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reorder: commit: %w", err)
	}
	return nil
}

// bumpVersion advances the workspace stamp from expected to expected+1,
// or returns a concurrency RuleError carrying the stored version.
func bumpVersion(ctx context.Context, tx *sql.Tx, workspace string, expected int64) error {
	var res sql.Result
	var err error
	if expected == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO ruleset_versions (workspace_id, version) VALUES (?, 1)
			ON CONFLICT(workspace_id) DO NOTHING
		`, workspace)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE ruleset_versions SET version = version + 1
			WHERE workspace_id = ? AND version = ?
		`, workspace, expected)
	}
	if err != nil {
		return fmt.Errorf("bump version %s: %w", workspace, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump version %s: rows affected: %w", workspace, err)
	}
	if n == 1 {
		return nil
	}

	actual, err := readVersion(ctx, tx, workspace)
	if err != nil {
		return err
	}
	return ir.NewConcurrencyError(workspace, expected, actual)
}

func readVersion(ctx context.Context, tx *sql.Tx, workspace string) (int64, error) {
	var v int64
	err := tx.QueryRowContext(ctx, `
		SELECT version FROM ruleset_versions WHERE workspace_id = ?
	`, workspace).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version %s: %w", workspace, err)
	}
	return v, nil
}

func isConstraintViolation(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint
}
