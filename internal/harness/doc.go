// Package harness runs scripted end-to-end scenarios through the submission
// pipeline.
//
// A scenario drives the real pipeline and store against a scripted account
// client. Every client call, failed polling attempt, and step outcome is
// recorded in a trace; assertions then check the trace and the durable
// records left behind.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	owner: "0xa11ce"
//	flow_token: "flow-1"
//	script:
//	  wait_inclusion:
//	    - error: { kind: TRANSIENT, message: "connection reset" }
//	    - tx_hash: "0xfeed"
//	  operation_receipt:
//	    - error: { kind: RATE_LIMITED, message: "429" }
//	flow:
//	  - submit: { kind: message, target: "0xb0b", payload: "gm" }
//	    expect: { status: completed }
//	  - resume: true
//	assertions:
//	  - type: trace_count
//	    event: retry
//	    call: operation_receipt
//	    count: 3
//	  - type: final_state
//	    id: "0xop1"
//	    expect: { status: completed, finality_proof: { provisional: true } }
//
// Unscripted calls succeed. The last response of a script list repeats.
//
// # Assertion Types
//
//   - trace_contains: an event matching the filters appears in the trace
//   - trace_order: calls first appear in the specified order
//   - trace_count: events matching the filters appear exactly N times
//   - final_state: the persisted operation matches the expected fields
//
// # Deterministic Testing
//
// The clock starts at Epoch and advances one second per step, flow tokens
// are fixed, and polling never sleeps. Identical scenarios produce
// byte-identical golden snapshots.
package harness
