package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/finrules/internal/ir"
)

// timeLayout is fixed-width so TEXT comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// parseNullTime maps NULL to nil.
func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalJSON encodes v as JSON TEXT with HTML escaping disabled.
// Nil slices are stored as "[]" so columns are never "null".
func marshalJSON[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalJSON[T any](data string) ([]T, error) {
	out := []T{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalConditions(conds []ir.Condition) (string, error) {
	s, err := marshalJSON(conds)
	if err != nil {
		return "", fmt.Errorf("marshal conditions: %w", err)
	}
	return s, nil
}

func unmarshalConditions(data string) ([]ir.Condition, error) {
	out, err := unmarshalJSON[ir.Condition](data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	return out, nil
}

func marshalActions(actions []ir.Action) (string, error) {
	s, err := marshalJSON(actions)
	if err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	return s, nil
}

func unmarshalActions(data string) ([]ir.Action, error) {
	out, err := unmarshalJSON[ir.Action](data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
