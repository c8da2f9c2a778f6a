package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/finrules/internal/compiler"
	"github.com/roach88/finrules/internal/ir"
)

// DefaultWorkspace is used when a scenario does not name one.
const DefaultWorkspace = "test"

// Scenario defines a conformance test scenario.
// Scenarios validate engine behavior by processing transactions against a
// rule set and asserting on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workspace the rules and transactions belong to.
	Workspace string `yaml:"workspace,omitempty"`

	// Rules are loaded into an empty rule set before setup runs.
	Rules []compiler.RuleDoc `yaml:"rules"`

	// KnownRefs lists the category/account/payee/tag ids that exist.
	// When set, references outside it are dangling. When nil, every
	// reference exists.
	KnownRefs map[string][]string `yaml:"known_refs,omitempty"`

	// Setup contains rule-set operations applied after loading, in order.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Transactions are processed in order, one at a time.
	Transactions []compiler.TransactionDoc `yaml:"transactions"`

	// DryRun processes without recording logs or counters.
	DryRun bool `yaml:"dry_run,omitempty"`

	// MaxEvaluations overrides the per-transaction evaluation budget.
	MaxEvaluations int `yaml:"max_evaluations,omitempty"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// SetupStep is one rule-set operation.
type SetupStep struct {
	// Op is one of reorder, activate, deactivate, toggle, delete.
	Op string `yaml:"op"`

	// Stage is the stage being reordered (reorder only).
	Stage string `yaml:"stage,omitempty"`

	// Priorities maps rule id to new priority (reorder only).
	Priorities map[string]int `yaml:"priorities,omitempty"`

	// Rules lists the rule ids the step applies to.
	Rules []string `yaml:"rules,omitempty"`
}

// Setup operations.
const (
	OpReorder    = "reorder"
	OpActivate   = "activate"
	OpDeactivate = "deactivate"
	OpToggle     = "toggle"
	OpDelete     = "delete"
)

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "field_equals": Transaction field has the given value after processing
	// - "fired": Exactly these rules fired on the transaction, in this order
	// - "not_fired": Rule did not fire on the transaction
	// - "times_applied": Rule counter equals Count
	// - "issue": A diagnostic with Code was reported for the transaction
	// - "log_count": Total number of application logs equals Count
	Type string `yaml:"type"`

	// Transaction is the transaction id (field_equals, fired, not_fired, issue).
	Transaction string `yaml:"transaction,omitempty"`

	// Field and Value are used by field_equals. Reference fields compare
	// against the reference id.
	Field string `yaml:"field,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Rules is the expected firing order (fired).
	Rules []string `yaml:"rules,omitempty"`

	// Rule is the rule id (not_fired, times_applied, issue).
	Rule string `yaml:"rule,omitempty"`

	// Code is the expected RuleError code (issue).
	Code string `yaml:"code,omitempty"`

	// Count is the expected number (times_applied, log_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFieldEquals  = "field_equals"
	AssertFired        = "fired"
	AssertNotFired     = "not_fired"
	AssertTimesApplied = "times_applied"
	AssertIssue        = "issue"
	AssertLogCount     = "log_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Workspace == "" {
		scenario.Workspace = DefaultWorkspace
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Rule contents are checked later by the compiler.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for kind := range s.KnownRefs {
		if !slices.Contains(refKinds, ir.RefKind(kind)) {
			return fmt.Errorf("known_refs: unknown reference kind %q", kind)
		}
	}

	for i, step := range s.Setup {
		if err := validateSetupStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

var refKinds = []ir.RefKind{ir.RefCategory, ir.RefAccount, ir.RefPayee, ir.RefTag}

func validateSetupStep(index int, s *SetupStep) error {
	switch s.Op {
	case OpReorder:
		if !ir.Stage(s.Stage).Valid() {
			return fmt.Errorf("setup[%d]: reorder needs a valid stage, got %q", index, s.Stage)
		}
		if len(s.Priorities) == 0 {
			return fmt.Errorf("setup[%d]: priorities are required for reorder", index)
		}
	case OpActivate, OpDeactivate, OpToggle, OpDelete:
		if len(s.Rules) == 0 {
			return fmt.Errorf("setup[%d]: rules list is required for %s", index, s.Op)
		}
	case "":
		return fmt.Errorf("setup[%d]: op is required", index)
	default:
		return fmt.Errorf("setup[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFieldEquals:
		if a.Transaction == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: transaction and field are required for field_equals", index)
		}
		if !ir.Field(a.Field).Valid() {
			return fmt.Errorf("assertions[%d]: unknown field %q", index, a.Field)
		}
	case AssertFired:
		if a.Transaction == "" {
			return fmt.Errorf("assertions[%d]: transaction is required for fired", index)
		}
	case AssertNotFired:
		if a.Transaction == "" || a.Rule == "" {
			return fmt.Errorf("assertions[%d]: transaction and rule are required for not_fired", index)
		}
	case AssertTimesApplied:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for times_applied", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for times_applied", index)
		}
	case AssertIssue:
		if a.Transaction == "" || a.Code == "" {
			return fmt.Errorf("assertions[%d]: transaction and code are required for issue", index)
		}
	case AssertLogCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for log_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
