package ir

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Stage names one of the three ordered processing phases.
type Stage string

const (
	StagePre     Stage = "pre"
	StageDefault Stage = "default"
	StagePost    Stage = "post"
)

// StageOrder is the fixed execution order of stages.
var StageOrder = []Stage{StagePre, StageDefault, StagePost}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s == StagePre || s == StageDefault || s == StagePost
}

// Index returns the position of s in StageOrder, or -1.
func (s Stage) Index() int {
	return slices.Index(StageOrder, s)
}

// RuleType is a descriptive label. It does not affect evaluation.
type RuleType string

const (
	RuleTypeCategorization RuleType = "categorization"
	RuleTypeBeneficiary    RuleType = "beneficiary"
	RuleTypeTag            RuleType = "tag"
	RuleTypeCombination    RuleType = "combination"
)

// ValidRuleTypes defines allowed rule types.
var ValidRuleTypes = map[RuleType]bool{
	RuleTypeCategorization: true,
	RuleTypeBeneficiary:    true,
	RuleTypeTag:            true,
	RuleTypeCombination:    true,
}

// Field names a transaction attribute.
//
// The first six are condition targets. Notes, tags and cleared are only
// ever written by actions.
type Field string

const (
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
	FieldCategory    Field = "category"
	FieldDate        Field = "date"
	FieldAccount     Field = "account"
	FieldPayee       Field = "payee"
	FieldNotes       Field = "notes"
	FieldTags        Field = "tags"
	FieldCleared     Field = "cleared"
)

// ConditionFields lists the fields a condition may inspect.
var ConditionFields = []Field{
	FieldDescription, FieldAmount, FieldCategory, FieldDate, FieldAccount, FieldPayee,
}

// Valid reports whether f names a transaction attribute.
func (f Field) Valid() bool {
	switch f {
	case FieldDescription, FieldAmount, FieldCategory, FieldDate, FieldAccount,
		FieldPayee, FieldNotes, FieldTags, FieldCleared:
		return true
	}
	return false
}

// Operator is a comparison applied by a condition.
type Operator string

const (
	OpIs          Operator = "is"
	OpIsNot       Operator = "is_not"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpMatches     Operator = "matches"
	OpOneOf       Operator = "one_of"
	OpNotOneOf    Operator = "not_one_of"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreater     Operator = "greater"
	OpLess        Operator = "less"
	OpRange       Operator = "range"
	OpBefore      Operator = "before"
	OpAfter       Operator = "after"
)

// Family groups fields that share comparison semantics.
type Family string

const (
	FamilyText      Family = "text"
	FamilyNumeric   Family = "numeric"
	FamilyDate      Family = "date"
	FamilyReference Family = "reference"
)

// familyOperators is the closed operator set per family.
var familyOperators = map[Family][]Operator{
	FamilyText:      {OpIs, OpIsNot, OpContains, OpNotContains, OpMatches, OpOneOf, OpNotOneOf},
	FamilyNumeric:   {OpEquals, OpNotEquals, OpGreater, OpLess, OpRange},
	FamilyDate:      {OpIs, OpIsNot, OpBefore, OpAfter, OpRange},
	FamilyReference: {OpIs, OpIsNot, OpOneOf, OpNotOneOf},
}

// Operators returns the operators valid for family f.
func (f Family) Operators() []Operator {
	return slices.Clone(familyOperators[f])
}

// Supports reports whether op is valid for family f.
func (f Family) Supports(op Operator) bool {
	return slices.Contains(familyOperators[f], op)
}

// RefKind identifies the entity table an id points into.
type RefKind string

const (
	RefCategory RefKind = "category"
	RefAccount  RefKind = "account"
	RefPayee    RefKind = "payee"
	RefTag      RefKind = "tag"
)

// Rule is a named, prioritized unit of conditions and actions.
type Rule struct {
	ID            string      `json:"id" yaml:"id"`
	Name          string      `json:"name" yaml:"name"`
	Description   string      `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive      bool        `json:"is_active" yaml:"is_active"`
	Stage         Stage       `json:"stage" yaml:"stage"`
	Type          RuleType    `json:"rule_type" yaml:"rule_type"`
	Priority      int         `json:"priority" yaml:"priority"`
	WorkspaceID   string      `json:"workspace_id" yaml:"workspace_id"`
	CreatedBy     string      `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time   `json:"updated_at" yaml:"-"`
	TimesApplied  int64       `json:"times_applied" yaml:"-"`
	LastAppliedAt *time.Time  `json:"last_applied_at,omitempty" yaml:"-"`
	Conditions    []Condition `json:"conditions" yaml:"conditions"`
	Actions       []Action    `json:"actions" yaml:"actions"`
}

// Clone returns a deep copy of r.
func (r Rule) Clone() Rule {
	out := r
	if r.LastAppliedAt != nil {
		t := *r.LastAppliedAt
		out.LastAppliedAt = &t
	}
	out.Conditions = make([]Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		out.Conditions[i] = c.Clone()
	}
	out.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		out.Actions[i] = a.Clone()
	}
	return out
}

// Less orders rules by (priority, id), the execution order within a stage.
func (r Rule) Less(other Rule) bool {
	if r.Priority != other.Priority {
		return r.Priority < other.Priority
	}
	return r.ID < other.ID
}

// CompareRules is a slices.SortFunc comparator using Rule.Less.
func CompareRules(a, b Rule) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// Condition is a single predicate over one transaction field.
//
// Exactly one value representation is meaningful per family: TextValue or
// TextValues for text, NumericValue (and NumericMax for range) for amounts,
// DateValue (and DateMax for range) for dates, Refs for references.
type Condition struct {
	ID            string           `json:"id,omitempty"`
	Field         Field            `json:"field"`
	Operator      Operator         `json:"operator"`
	CaseSensitive bool             `json:"case_sensitive,omitempty"`
	TextValue     string           `json:"text_value,omitempty"`
	TextValues    []string         `json:"text_values,omitempty"`
	NumericValue  *decimal.Decimal `json:"numeric_value,omitempty"`
	NumericMax    *decimal.Decimal `json:"numeric_max,omitempty"`
	DateValue     *civil.Date      `json:"date_value,omitempty"`
	DateMax       *civil.Date      `json:"date_max,omitempty"`
	Refs          []string         `json:"refs,omitempty"`
}

// Family returns the comparison family of the condition's field.
//
// Payee is the one field with two families: a condition that carries Refs
// compares payee ids, otherwise it compares the payee name as text.
func (c Condition) Family() Family {
	switch c.Field {
	case FieldDescription:
		return FamilyText
	case FieldAmount:
		return FamilyNumeric
	case FieldDate:
		return FamilyDate
	case FieldCategory, FieldAccount:
		return FamilyReference
	case FieldPayee:
		if len(c.Refs) > 0 {
			return FamilyReference
		}
		return FamilyText
	default:
		return ""
	}
}

// Clone returns a deep copy of c.
func (c Condition) Clone() Condition {
	out := c
	out.TextValues = slices.Clone(c.TextValues)
	out.Refs = slices.Clone(c.Refs)
	if c.NumericValue != nil {
		v := *c.NumericValue
		out.NumericValue = &v
	}
	if c.NumericMax != nil {
		v := *c.NumericMax
		out.NumericMax = &v
	}
	if c.DateValue != nil {
		v := *c.DateValue
		out.DateValue = &v
	}
	if c.DateMax != nil {
		v := *c.DateMax
		out.DateMax = &v
	}
	return out
}

// ActionType names a transaction mutation.
type ActionType string

const (
	ActionSetBeneficiary ActionType = "set_beneficiary"
	ActionSetCategory    ActionType = "set_category"
	ActionSetAccount     ActionType = "set_account"
	ActionSetDescription ActionType = "set_description"
	ActionSetAmount      ActionType = "set_amount"
	ActionSetDate        ActionType = "set_date"
	ActionSetNotes       ActionType = "set_notes"
	ActionAppendNotes    ActionType = "append_notes"
	ActionPrependNotes   ActionType = "prepend_notes"
	ActionMarkCleared    ActionType = "mark_cleared"
	ActionAddTag         ActionType = "add_tag"
)

// actionTargets maps each action type to the field it writes.
var actionTargets = map[ActionType]Field{
	ActionSetBeneficiary: FieldPayee,
	ActionSetCategory:    FieldCategory,
	ActionSetAccount:     FieldAccount,
	ActionSetDescription: FieldDescription,
	ActionSetAmount:      FieldAmount,
	ActionSetDate:        FieldDate,
	ActionSetNotes:       FieldNotes,
	ActionAppendNotes:    FieldNotes,
	ActionPrependNotes:   FieldNotes,
	ActionMarkCleared:    FieldCleared,
	ActionAddTag:         FieldTags,
}

// Target returns the field written by t, or "" for unknown types.
func (t ActionType) Target() Field {
	return actionTargets[t]
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	_, ok := actionTargets[t]
	return ok
}

// RefKind returns the entity kind an action of type t points at, or "".
func (t ActionType) RefKind() RefKind {
	switch t {
	case ActionSetBeneficiary:
		return RefPayee
	case ActionSetCategory:
		return RefCategory
	case ActionSetAccount:
		return RefAccount
	case ActionAddTag:
		return RefTag
	default:
		return ""
	}
}

// Action is a single mutation applied when a rule matches.
//
// OverwriteExisting only guards the set_* family: when false, a set action
// leaves a non-empty target untouched.
type Action struct {
	ID                string           `json:"id,omitempty"`
	Type              ActionType       `json:"action_type"`
	Ref               *Ref             `json:"ref,omitempty"`
	TextValue         string           `json:"text_value,omitempty"`
	NumericValue      *decimal.Decimal `json:"numeric_value,omitempty"`
	DateValue         *civil.Date      `json:"date_value,omitempty"`
	OverwriteExisting bool             `json:"overwrite_existing"`
}

// Clone returns a deep copy of a.
func (a Action) Clone() Action {
	out := a
	if a.Ref != nil {
		r := *a.Ref
		out.Ref = &r
	}
	if a.NumericValue != nil {
		v := *a.NumericValue
		out.NumericValue = &v
	}
	if a.DateValue != nil {
		v := *a.DateValue
		out.DateValue = &v
	}
	return out
}

// PriorityChange moves one rule to a new priority.
type PriorityChange struct {
	RuleID   string `json:"rule_id"`
	Priority int    `json:"priority"`
}

// Limits bounds rule size and per-stage rule count.
// A zero field disables that bound.
type Limits struct {
	MaxConditionsPerRule int
	MaxActionsPerRule    int
	MaxRulesPerStage     int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxConditionsPerRule: 20,
		MaxActionsPerRule:    20,
		MaxRulesPerStage:     500,
	}
}
