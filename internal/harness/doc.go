// Package harness runs allocation scenarios against a fresh in-memory store.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	retry_budget: "2s"          # optional
//	conflicts: 2                # optional: fail the first N commits
//	always_conflict: false      # optional: fail every commit
//	seed:                       # optional pre-existing records
//	  counters:
//	    - { prefix: "M", last_id: 41 }
//	  issuances:
//	    - { prefix: "A_", designator: "A_1", id: 1 }
//	flow:
//	  - op: allocate
//	    prefix: "A_"
//	    initial_id: 1
//	    count: 2
//	    concurrent: false
//	    expect:
//	      designators: ["A_1", "A_2"]
//	  - op: series
//	    prefix: "A_"
//	    expect: { last_id: 2 }
//	assertions:
//	  - type: unique
//	  - type: contiguous
//	    prefix: "A_"
//	    from: 1
//	    count: 2
//
// Every step appends to a trace. Sequential allocations record one event
// each; a concurrent step records one event with its designators sorted, so
// traces are deterministic and can be compared against golden files.
package harness
