package ir

import (
	"slices"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Ref points at a category, account, payee or tag by id.
// Name is a display label carried alongside the id.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether r references nothing.
func (r Ref) IsZero() bool {
	return strings.TrimSpace(r.ID) == "" && strings.TrimSpace(r.Name) == ""
}

// String renders the ref for logs and diffs.
func (r Ref) String() string {
	switch {
	case r.Name == "":
		return r.ID
	case r.ID == "" || r.ID == r.Name:
		return r.Name
	default:
		return r.Name + " (" + r.ID + ")"
	}
}

// Transaction is the engine's working record.
//
// The engine never mutates a caller's transaction: every stage works on a
// copy, and Tags is copied before it grows.
type Transaction struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        civil.Date      `json:"date"`
	Category    Ref             `json:"category"`
	Account     Ref             `json:"account"`
	Payee       Ref             `json:"payee"`
	Notes       string          `json:"notes,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Cleared     bool            `json:"cleared"`
}

// Clone returns a copy of t that shares no mutable state.
func (t Transaction) Clone() Transaction {
	out := t
	out.Tags = slices.Clone(t.Tags)
	return out
}

// HasTag reports whether tag id is attached to t.
func (t Transaction) HasTag(id string) bool {
	return slices.Contains(t.Tags, id)
}

// Equal reports field-wise equality. Amounts compare numerically.
func (t Transaction) Equal(o Transaction) bool {
	return t.ID == o.ID &&
		t.WorkspaceID == o.WorkspaceID &&
		t.Description == o.Description &&
		t.Amount.Equal(o.Amount) &&
		t.Date == o.Date &&
		t.Category == o.Category &&
		t.Account == o.Account &&
		t.Payee == o.Payee &&
		t.Notes == o.Notes &&
		slices.Equal(t.Tags, o.Tags) &&
		t.Cleared == o.Cleared
}

// RefOf returns the reference stored in a reference-typed field.
func (t Transaction) RefOf(f Field) (Ref, bool) {
	switch f {
	case FieldCategory:
		return t.Category, true
	case FieldAccount:
		return t.Account, true
	case FieldPayee:
		return t.Payee, true
	default:
		return Ref{}, false
	}
}

// Display renders field f as a string for logs.
func (t Transaction) Display(f Field) string {
	switch f {
	case FieldDescription:
		return t.Description
	case FieldAmount:
		return t.Amount.String()
	case FieldDate:
		if t.Date.IsZero() {
			return ""
		}
		return t.Date.String()
	case FieldCategory:
		return t.Category.String()
	case FieldAccount:
		return t.Account.String()
	case FieldPayee:
		return t.Payee.String()
	case FieldNotes:
		return t.Notes
	case FieldTags:
		return strings.Join(t.Tags, ",")
	case FieldCleared:
		if t.Cleared {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// IsEmptyText reports whether s counts as an empty text value.
// Absent and whitespace-only strings are treated the same.
func IsEmptyText(s string) bool {
	return strings.TrimSpace(s) == ""
}

// IsEmpty reports whether field f holds no value on t.
//
// Text is empty when blank, amount when zero, date when unset, and a
// reference when it has neither id nor name. Overwrite protection and the
// empty-field operator rules both use this definition.
func (t Transaction) IsEmpty(f Field) bool {
	switch f {
	case FieldDescription:
		return IsEmptyText(t.Description)
	case FieldAmount:
		return t.Amount.IsZero()
	case FieldDate:
		return t.Date.IsZero()
	case FieldCategory:
		return t.Category.IsZero()
	case FieldAccount:
		return t.Account.IsZero()
	case FieldPayee:
		return t.Payee.IsZero()
	case FieldNotes:
		return IsEmptyText(t.Notes)
	case FieldTags:
		return len(t.Tags) == 0
	case FieldCleared:
		return !t.Cleared
	default:
		return true
	}
}
