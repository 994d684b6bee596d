// Package pipeline drives a request from submission to a terminal record.
//
// Submit performs, strictly in order:
//
//  1. submit the request to the account client (never retried; a refusal
//     returns ErrSubmissionRejected and creates no record)
//  2. persist a pending record before awaiting anything
//  3. await inclusion, checkpointing the inclusion proof on the pending record
//  4. await the operation receipt, then the transaction receipt
//  5. persist completed or failed with whatever proofs were obtained
//
// Steps 3 and 4 run under the retry executor. Every transition is written to
// the store before Submit returns, so a crash leaves the record in its last
// known state. Records left pending can be re-driven with Resume.
//
// # Rate limits after inclusion
//
// If polling is rate limited after inclusion was already observed, the record
// is marked completed with a finality proof flagged provisional. The inclusion
// proof is evidence the operation executed but not proof that it succeeded;
// consumers that need certainty should check the provisional flag.
package pipeline
