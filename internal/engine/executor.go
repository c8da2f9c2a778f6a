package engine

import (
	"strings"

	"github.com/roach88/finrules/internal/ir"
)

// Executor applies actions to transactions.
//
// Apply is a pure function of its inputs: it returns a modified copy and
// a diff, and never touches the caller's transaction.
type Executor struct {
	resolver Resolver
}

// NewExecutor creates an executor. A nil resolver treats every target id
// as live.
func NewExecutor(resolver Resolver) *Executor {
	if resolver == nil {
		resolver = allExist{}
	}
	return &Executor{resolver: resolver}
}

// Apply executes a against tx and returns the new transaction with a diff.
//
// The diff reports applied=false, leaving tx unchanged, when:
//   - a set action is not allowed to overwrite a non-empty field
//   - the new value equals the current one
//   - mark_cleared hits an already cleared transaction
//   - add_tag hits a tag that is already present
//   - the action is malformed or its target entity no longer exists
//     (Error is set on the diff)
func (x *Executor) Apply(a ir.Action, tx ir.Transaction) (ir.Transaction, ir.ActionDiff) {
	out, diff, _ := x.apply(a, tx)
	return out, diff
}

// actionFailure is a malformed or dangling action.
type actionFailure struct {
	code string
	msg  string
}

func failed(msg string) *actionFailure {
	return &actionFailure{code: ir.CodeMalformed, msg: msg}
}

func dangling(kind ir.RefKind, id string) *actionFailure {
	return &actionFailure{code: ir.CodeDanglingRef, msg: string(kind) + " " + id + " no longer exists"}
}

func (x *Executor) apply(a ir.Action, tx ir.Transaction) (ir.Transaction, ir.ActionDiff, *actionFailure) {
	field := a.Type.Target()
	diff := ir.ActionDiff{
		ActionID: a.ID,
		Type:     a.Type,
		Field:    field,
		OldValue: tx.Display(field),
	}
	out := tx.Clone()

	var reason string
	var failure *actionFailure
	switch a.Type {
	case ir.ActionSetCategory, ir.ActionSetAccount, ir.ActionSetBeneficiary:
		reason, failure = x.setRef(a, &out)
	case ir.ActionSetDescription:
		if ir.IsEmptyText(a.TextValue) {
			failure = failed("set_description requires a text value")
			break
		}
		reason = setText(a, &out.Description, ir.FieldDescription, &out)
	case ir.ActionSetNotes:
		reason = setText(a, &out.Notes, ir.FieldNotes, &out)
	case ir.ActionSetAmount:
		if a.NumericValue == nil {
			failure = failed("set_amount requires a numeric value")
			break
		}
		switch {
		case !a.OverwriteExisting && !out.IsEmpty(ir.FieldAmount):
			reason = ir.ReasonProtected
		case out.Amount.Equal(*a.NumericValue):
			reason = ir.ReasonUnchanged
		default:
			out.Amount = *a.NumericValue
		}
	case ir.ActionSetDate:
		if a.DateValue == nil || !a.DateValue.IsValid() {
			failure = failed("set_date requires a valid date value")
			break
		}
		switch {
		case !a.OverwriteExisting && !out.IsEmpty(ir.FieldDate):
			reason = ir.ReasonProtected
		case out.Date == *a.DateValue:
			reason = ir.ReasonUnchanged
		default:
			out.Date = *a.DateValue
		}
	case ir.ActionAppendNotes, ir.ActionPrependNotes:
		if ir.IsEmptyText(a.TextValue) {
			failure = failed(string(a.Type) + " requires a text value")
			break
		}
		out.Notes = joinNotes(out.Notes, a.TextValue, a.Type == ir.ActionPrependNotes)
	case ir.ActionMarkCleared:
		if out.Cleared {
			reason = ir.ReasonAlreadyCleared
		} else {
			out.Cleared = true
		}
	case ir.ActionAddTag:
		reason, failure = x.addTag(a, &out)
	default:
		failure = failed("unknown action type " + string(a.Type))
	}

	if failure != nil || reason != "" {
		diff.NewValue = diff.OldValue
		diff.Reason = reason
		if failure != nil {
			diff.Error = failure.msg
		}
		return tx, diff, failure
	}
	diff.NewValue = out.Display(field)
	diff.Applied = true
	return out, diff, nil
}

func (x *Executor) setRef(a ir.Action, out *ir.Transaction) (string, *actionFailure) {
	if a.Ref == nil || a.Ref.IsZero() {
		return "", failed(string(a.Type) + " requires a target")
	}
	// Only ids are resolved. A name-only target is free text.
	target := *a.Ref
	if strings.TrimSpace(target.ID) != "" && !x.resolver.Exists(a.Type.RefKind(), target.ID) {
		return "", dangling(a.Type.RefKind(), target.ID)
	}

	var slot *ir.Ref
	switch a.Type {
	case ir.ActionSetCategory:
		slot = &out.Category
	case ir.ActionSetAccount:
		slot = &out.Account
	default:
		slot = &out.Payee
	}
	switch {
	case !a.OverwriteExisting && !slot.IsZero():
		return ir.ReasonProtected, nil
	case *slot == target:
		return ir.ReasonUnchanged, nil
	}
	*slot = target
	return "", nil
}

func setText(a ir.Action, slot *string, field ir.Field, out *ir.Transaction) string {
	switch {
	case !a.OverwriteExisting && !out.IsEmpty(field):
		return ir.ReasonProtected
	case *slot == a.TextValue:
		return ir.ReasonUnchanged
	}
	*slot = a.TextValue
	return ""
}

func (x *Executor) addTag(a ir.Action, out *ir.Transaction) (string, *actionFailure) {
	if a.Ref == nil || strings.TrimSpace(a.Ref.ID) == "" {
		return "", failed("add_tag requires a tag id")
	}
	if !x.resolver.Exists(ir.RefTag, a.Ref.ID) {
		return "", dangling(ir.RefTag, a.Ref.ID)
	}
	if out.HasTag(a.Ref.ID) {
		return ir.ReasonAlreadyTagged, nil
	}
	// out.Tags was cloned, so appending cannot alias the caller's slice.
	out.Tags = append(out.Tags, a.Ref.ID)
	return "", nil
}

// joinNotes adds text on its own line after (or before) existing notes.
func joinNotes(existing, text string, prepend bool) string {
	existing = strings.TrimSpace(existing)
	text = strings.TrimSpace(text)
	switch {
	case existing == "":
		return text
	case prepend:
		return text + "\n" + existing
	default:
		return existing + "\n" + text
	}
}
