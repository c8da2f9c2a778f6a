package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/finrules/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	DryRun       bool         `json:"dry_run,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles primitives, slices and maps.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type":           event.Type,
			"transaction_id": event.TransactionID,
		}
		if event.RuleID != "" {
			eventMap["rule_id"] = event.RuleID
		}
		if event.Stage != "" {
			eventMap["stage"] = event.Stage
		}
		if event.Type == EventApplied {
			eventMap["seq"] = event.Seq
			actions := make([]any, len(event.Actions))
			for j, a := range event.Actions {
				am := map[string]any{
					"type":    a.Type,
					"field":   a.Field,
					"old":     a.Old,
					"new":     a.New,
					"applied": a.Applied,
				}
				if a.Reason != "" {
					am["reason"] = a.Reason
				}
				if a.Error != "" {
					am["error"] = a.Error
				}
				actions[j] = am
			}
			eventMap["actions"] = actions
		}
		if event.Code != "" {
			eventMap["code"] = event.Code
		}
		if event.Fields != nil {
			fields := make(map[string]any, len(event.Fields))
			for k, v := range event.Fields {
				fields[k] = v
			}
			eventMap["fields"] = fields
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.DryRun {
		result["dry_run"] = true
	}
	return result
}

// MarshalTrace renders result's trace as canonical JSON.
func MarshalTrace(name string, dryRun bool, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		DryRun:       dryRun,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}

	traceJSON, err := MarshalTrace(scenario.Name, scenario.DryRun, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, false, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
