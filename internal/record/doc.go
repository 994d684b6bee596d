// Package record defines the tracked-operation data model.
//
// This package contains types and the status state machine only. It imports
// nothing internal, so every other package can depend on it.
//
// Key constraints:
//   - ID and SubmittedAt are set once at creation and never modified
//   - Status moves pending -> completed | failed and never leaves a terminal state
//   - Once terminal, exactly one of InclusionProof / FailureReason is set
//   - All JSON tags use snake_case
package record
