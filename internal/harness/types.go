package harness

import "github.com/roach88/userops/internal/record"

// Trace event types.
const (
	EventCall   = "call"   // a client call was made
	EventRetry  = "retry"  // a polling attempt failed
	EventResult = "result" // a flow step finished
)

// TraceEvent is one observation made while a scenario ran.
type TraceEvent struct {
	Seq           int64  `json:"seq"`
	Type          string `json:"type"`
	Call          string `json:"call,omitempty"`
	ID            string `json:"id,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
	RateLimited   bool   `json:"rate_limited,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Status        string `json:"status,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Rejected      bool   `json:"rejected,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds client calls, failed attempts and step results in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Operations is the owner's durable collection after the last step,
	// newest first.
	Operations []record.Operation `json:"operations"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Operations: []record.Operation{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Operation returns the operation with id from the final collection.
func (r *Result) Operation(id string) (record.Operation, bool) {
	for _, op := range r.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return record.Operation{}, false
}
