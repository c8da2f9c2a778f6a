package compiler

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/finrules/internal/ir"
)

// RuleDoc is the authored form of a rule, shared by the CUE and YAML
// loaders. Omitted fields take defaults when converted: stage "default",
// type "categorization", priority ir.DefaultPriority, active true.
type RuleDoc struct {
	ID          string         `json:"id,omitempty" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Active      *bool          `json:"active,omitempty" yaml:"active,omitempty"`
	Stage       string         `json:"stage,omitempty" yaml:"stage,omitempty"`
	Type        string         `json:"type,omitempty" yaml:"type,omitempty"`
	Priority    int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Workspace   string         `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Conditions  []ConditionDoc `json:"conditions" yaml:"conditions"`
	Actions     []ActionDoc    `json:"actions" yaml:"actions"`
}

// ConditionDoc is the authored form of a condition.
//
// Value carries the single operand of every family; amounts and dates are
// written as strings ("-12.50", "2024-03-01"). Values carries one_of lists.
// Min and Max bound a range. Refs selects entity ids for reference fields;
// on payee it switches the condition from name text to payee ids.
type ConditionDoc struct {
	ID            string   `json:"id,omitempty" yaml:"id,omitempty"`
	Field         string   `json:"field" yaml:"field"`
	Op            string   `json:"op" yaml:"op"`
	CaseSensitive bool     `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
	Value         string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values        []string `json:"values,omitempty" yaml:"values,omitempty"`
	Min           string   `json:"min,omitempty" yaml:"min,omitempty"`
	Max           string   `json:"max,omitempty" yaml:"max,omitempty"`
	Refs          []string `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// ActionDoc is the authored form of an action. Overwrite defaults to true.
type ActionDoc struct {
	ID        string  `json:"id,omitempty" yaml:"id,omitempty"`
	Type      string  `json:"type" yaml:"type"`
	Value     string  `json:"value,omitempty" yaml:"value,omitempty"`
	Ref       *RefDoc `json:"ref,omitempty" yaml:"ref,omitempty"`
	Overwrite *bool   `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
}

// RefDoc names an entity. In YAML a bare scalar is shorthand for a ref
// whose id and name are both that scalar.
type RefDoc struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// UnmarshalYAML accepts either a scalar or an {id, name} mapping.
func (r *RefDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.ID, r.Name = node.Value, node.Value
		return nil
	}
	type plain RefDoc
	return node.Decode((*plain)(r))
}

// Ref converts the doc to an ir.Ref. A nil doc is the zero Ref.
func (r *RefDoc) Ref() ir.Ref {
	if r == nil {
		return ir.Ref{}
	}
	return ir.Ref{ID: r.ID, Name: r.Name}
}

// TransactionDoc is the authored form of a transaction fixture.
type TransactionDoc struct {
	ID          string   `json:"id" yaml:"id"`
	Workspace   string   `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Amount      string   `json:"amount,omitempty" yaml:"amount,omitempty"`
	Date        string   `json:"date,omitempty" yaml:"date,omitempty"`
	Category    *RefDoc  `json:"category,omitempty" yaml:"category,omitempty"`
	Account     *RefDoc  `json:"account,omitempty" yaml:"account,omitempty"`
	Payee       *RefDoc  `json:"payee,omitempty" yaml:"payee,omitempty"`
	Notes       string   `json:"notes,omitempty" yaml:"notes,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Cleared     bool     `json:"cleared,omitempty" yaml:"cleared,omitempty"`
}

// ToRule converts doc into a rule of workspace. Workspace fills in only
// when doc does not name its own. Conversion problems (unparseable
// amounts or dates) are returned as validation errors; the rule itself is
// not validated here, see ValidateRule.
func (doc RuleDoc) ToRule(workspace string) (ir.Rule, []ValidationError) {
	var errs []ValidationError

	r := ir.Rule{
		ID:          strings.TrimSpace(doc.ID),
		Name:        strings.TrimSpace(doc.Name),
		Description: doc.Description,
		IsActive:    doc.Active == nil || *doc.Active,
		Stage:       ir.Stage(doc.Stage),
		Type:        ir.RuleType(doc.Type),
		Priority:    doc.Priority,
		WorkspaceID: doc.Workspace,
		CreatedBy:   doc.CreatedBy,
	}
	if r.Stage == "" {
		r.Stage = ir.StageDefault
	}
	if r.Type == "" {
		r.Type = ir.RuleTypeCategorization
	}
	if r.Priority == 0 {
		r.Priority = ir.DefaultPriority
	}
	if r.WorkspaceID == "" {
		r.WorkspaceID = workspace
	}

	r.Conditions = make([]ir.Condition, 0, len(doc.Conditions))
	for i, cd := range doc.Conditions {
		c, cerrs := cd.toCondition(fmt.Sprintf("conditions[%d]", i))
		if c.ID == "" && r.ID != "" {
			c.ID = fmt.Sprintf("%s/c%d", r.ID, i+1)
		}
		r.Conditions = append(r.Conditions, c)
		errs = append(errs, cerrs...)
	}
	r.Actions = make([]ir.Action, 0, len(doc.Actions))
	for i, ad := range doc.Actions {
		a, aerrs := ad.toAction(fmt.Sprintf("actions[%d]", i))
		if a.ID == "" && r.ID != "" {
			a.ID = fmt.Sprintf("%s/a%d", r.ID, i+1)
		}
		r.Actions = append(r.Actions, a)
		errs = append(errs, aerrs...)
	}
	return r, errs
}

func (cd ConditionDoc) toCondition(path string) (ir.Condition, []ValidationError) {
	c := ir.Condition{
		ID:            cd.ID,
		Field:         ir.Field(cd.Field),
		Operator:      ir.Operator(cd.Op),
		CaseSensitive: cd.CaseSensitive,
		Refs:          cd.Refs,
	}
	var errs []ValidationError

	// Reference fields take their ids from refs, or from value/values.
	isRef := c.Field == ir.FieldCategory || c.Field == ir.FieldAccount
	if isRef && len(c.Refs) == 0 {
		switch {
		case len(cd.Values) > 0:
			c.Refs = cd.Values
		case cd.Value != "":
			c.Refs = []string{cd.Value}
		}
	}

	switch c.Family() {
	case ir.FamilyNumeric:
		lo, hi := cd.Value, cd.Max
		if c.Operator == ir.OpRange && cd.Min != "" {
			lo = cd.Min
		}
		var err *ValidationError
		if c.NumericValue, err = parseDecimal(path+".value", lo); err != nil {
			errs = append(errs, *err)
		}
		if c.NumericMax, err = parseDecimal(path+".max", hi); err != nil {
			errs = append(errs, *err)
		}
	case ir.FamilyDate:
		lo, hi := cd.Value, cd.Max
		if c.Operator == ir.OpRange && cd.Min != "" {
			lo = cd.Min
		}
		var err *ValidationError
		if c.DateValue, err = parseDate(path+".value", lo); err != nil {
			errs = append(errs, *err)
		}
		if c.DateMax, err = parseDate(path+".max", hi); err != nil {
			errs = append(errs, *err)
		}
	case ir.FamilyText:
		c.TextValue = cd.Value
		c.TextValues = cd.Values
	}
	return c, errs
}

func (ad ActionDoc) toAction(path string) (ir.Action, []ValidationError) {
	a := ir.Action{
		ID:                ad.ID,
		Type:              ir.ActionType(ad.Type),
		OverwriteExisting: ad.Overwrite == nil || *ad.Overwrite,
	}
	var errs []ValidationError

	switch a.Type {
	case ir.ActionSetBeneficiary, ir.ActionSetCategory, ir.ActionSetAccount:
		ref := ad.Ref.Ref()
		if ref.IsZero() && ad.Value != "" {
			ref = ir.Ref{Name: ad.Value}
		}
		if !ref.IsZero() {
			a.Ref = &ref
		}
	case ir.ActionAddTag:
		ref := ad.Ref.Ref()
		if ref.ID == "" {
			ref.ID = ad.Value
		}
		if ref.ID != "" {
			a.Ref = &ref
		}
	case ir.ActionSetAmount:
		var err *ValidationError
		if a.NumericValue, err = parseDecimal(path+".value", ad.Value); err != nil {
			errs = append(errs, *err)
		}
	case ir.ActionSetDate:
		var err *ValidationError
		if a.DateValue, err = parseDate(path+".value", ad.Value); err != nil {
			errs = append(errs, *err)
		}
	default:
		a.TextValue = ad.Value
	}
	return a, errs
}

// ToTransaction converts doc into a transaction of workspace.
func (doc TransactionDoc) ToTransaction(workspace string) (ir.Transaction, []ValidationError) {
	tx := ir.Transaction{
		ID:          doc.ID,
		WorkspaceID: doc.Workspace,
		Description: doc.Description,
		Category:    doc.Category.Ref(),
		Account:     doc.Account.Ref(),
		Payee:       doc.Payee.Ref(),
		Notes:       doc.Notes,
		Tags:        doc.Tags,
		Cleared:     doc.Cleared,
	}
	if tx.WorkspaceID == "" {
		tx.WorkspaceID = workspace
	}

	var errs []ValidationError
	if strings.TrimSpace(doc.ID) == "" {
		errs = append(errs, ValidationError{Field: "id", Code: ErrUnsupportedInput, Message: "transaction id is required"})
	}
	if amount, err := parseDecimal("amount", doc.Amount); err != nil {
		errs = append(errs, *err)
	} else if amount != nil {
		tx.Amount = *amount
	}
	if date, err := parseDate("date", doc.Date); err != nil {
		errs = append(errs, *err)
	} else if date != nil {
		tx.Date = *date
	}
	return tx, errs
}

// parseDecimal returns nil for an empty string.
func parseDecimal(field, s string) (*decimal.Decimal, *ValidationError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, &ValidationError{Field: field, Code: ErrUnsupportedInput, Message: fmt.Sprintf("invalid amount %q", s)}
	}
	return &d, nil
}

// parseDate returns nil for an empty string.
func parseDate(field, s string) (*civil.Date, *ValidationError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return nil, &ValidationError{Field: field, Code: ErrUnsupportedInput, Message: fmt.Sprintf("invalid date %q (want YYYY-MM-DD)", s)}
	}
	return &d, nil
}
