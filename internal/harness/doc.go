// Package harness runs YAML conformance scenarios against the rule engine.
//
// A scenario names rules, optional setup operations (reorder, toggle,
// delete), transactions and assertions. Run loads the rules into a fresh
// ruleset.Registry, applies the setup, processes each transaction through
// engine.Engine in file order and records logs into an audit.MemorySink.
//
// Everything that could vary between runs is pinned: the wall clock is a
// testutil.StepClock, log ids come from a sequence generator and
// transactions are processed one at a time, so seq numbers follow file
// order. The resulting trace is therefore byte-identical across runs and
// can be compared against a golden file with RunWithGolden.
//
// # Scenario format
//
//	name: uber_categorization
//	description: Ride-share charges are filed under transport
//	rules:
//	  - id: uber
//	    name: Uber rides
//	    conditions:
//	      - {field: description, op: contains, value: UBER}
//	    actions:
//	      - {type: set_category, ref: transport}
//	transactions:
//	  - {id: t1, description: "UBER *TRIP", amount: "-12.5"}
//	assertions:
//	  - {type: field_equals, transaction: t1, field: category, value: transport}
//
// Supported assertion types: field_equals, fired, not_fired,
// times_applied, issue, log_count.
package harness
