// Package harness runs dependency-runtime scenarios against a real
// engine.Manager with a scripted backend.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	declarations: ../apps/chain.json      # or inline `dependencies:`
//	initial_state:
//	  1: {value: "hello"}
//	responses:
//	  - fn: 0
//	    messages:
//	      - {type: data, data: ["HELLO"]}
//	      - {type: status, status: {stage: complete}}
//	steps:
//	  - dispatch: {type: event, event_name: click, target_id: 9}
//	assertions:
//	  - type: state
//	    component: 2
//	    expect: {value: "HELLO"}
//	  - type: call_order
//	    fns: [0, 1]
//
// # Assertion Types
//
//   - state: final component state contains the expected keys
//   - submit_count: a dependency was submitted exactly N times
//   - submit_data: the Nth submission of a dependency carried the given data
//   - call_order: first submissions happen in the given order
//   - stage: last loading stage of a dependency
//   - notified: a notification with the given title was raised
//   - api_calls: number of calls in the SQLite audit log
//   - update_count: number of state patches a component received
//
// # Deterministic Testing
//
// Every dispatch is drained before the next step, invocation ids come
// from testutil.SequentialIDs, and each trace event takes its seq from a
// logical clock. Traces are therefore identical across runs and are
// compared against goldie golden files.
package harness
