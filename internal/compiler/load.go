package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/finrules/internal/ir"
)

// RuleFile is the YAML rule document: a list under rules.
type RuleFile struct {
	Rules []RuleDoc `yaml:"rules"`
}

// TransactionFile is the YAML transaction fixture document.
type TransactionFile struct {
	Transactions []TransactionDoc `yaml:"transactions"`
}

// LoadYAML parses YAML (or JSON) rule definitions.
// Unknown fields are rejected so typos like "condition:" fail loudly.
func LoadYAML(data []byte) ([]RuleDoc, error) {
	var file RuleFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if file.Rules == nil {
		file.Rules = []RuleDoc{}
	}
	return file.Rules, nil
}

// LoadRuleFile reads rule definitions from path. The format follows the
// extension: .cue is CUE, .yaml, .yml and .json are YAML.
func LoadRuleFile(path string) ([]RuleDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return LoadCUE(data, path)
	case ".yaml", ".yml", ".json":
		return LoadYAML(data)
	default:
		return nil, fmt.Errorf("unsupported rule file extension %q (want .cue, .yaml, .yml or .json)", ext)
	}
}

// Compile converts docs into rules of workspace and validates each one.
// Rule ids must be unique across docs. All problems are collected; the
// returned error is ValidationErrors with fields prefixed by rule.
func Compile(docs []RuleDoc, workspace string, limits ir.Limits) ([]ir.Rule, error) {
	var errs ValidationErrors
	rules := make([]ir.Rule, 0, len(docs))
	seen := make(map[string]bool)

	for i, doc := range docs {
		prefix := fmt.Sprintf("rules[%d]", i)
		if doc.ID != "" {
			prefix = fmt.Sprintf("rules[%s]", doc.ID)
		}

		r, convErrs := doc.ToRule(workspace)
		found := append(convErrs, ValidateRule(r, limits)...)
		if r.ID != "" {
			if seen[r.ID] {
				found = append(found, ValidationError{Field: "id", Code: ErrDuplicateID, Message: fmt.Sprintf("duplicate rule id %q", r.ID)})
			}
			seen[r.ID] = true
		}
		for _, e := range found {
			e.Field = prefix + "." + e.Field
			errs = append(errs, e)
		}
		rules = append(rules, r)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rules, nil
}

// LoadRules reads, converts and validates the rule file at path.
func LoadRules(path, workspace string, limits ir.Limits) ([]ir.Rule, error) {
	docs, err := LoadRuleFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(docs, workspace, limits)
}

// LoadTransactions reads a YAML (or JSON) transaction fixture file.
func LoadTransactions(path, workspace string) ([]ir.Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction file: %w", err)
	}

	var file TransactionFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return CompileTransactions(file.Transactions, workspace)
}

// CompileTransactions converts transaction docs, collecting every problem.
func CompileTransactions(docs []TransactionDoc, workspace string) ([]ir.Transaction, error) {
	var errs ValidationErrors
	txs := make([]ir.Transaction, 0, len(docs))
	for i, doc := range docs {
		tx, found := doc.ToTransaction(workspace)
		for _, e := range found {
			e.Field = fmt.Sprintf("transactions[%d].%s", i, e.Field)
			errs = append(errs, e)
		}
		txs = append(txs, tx)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return txs, nil
}
