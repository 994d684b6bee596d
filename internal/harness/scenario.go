package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/record"
)

// Client call names, as they appear in scripts and the trace.
const (
	CallSubmit             = "submit"
	CallWaitInclusion      = "wait_inclusion"
	CallOperationReceipt   = "operation_receipt"
	CallTransactionReceipt = "transaction_receipt"
)

var pollingCalls = []string{CallWaitInclusion, CallOperationReceipt, CallTransactionReceipt}

var knownCalls = append([]string{CallSubmit}, pollingCalls...)

// Scenario drives the submission pipeline against a scripted account client
// and asserts on the resulting trace and durable records.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Owner is the account every step acts for.
	Owner string `yaml:"owner"`

	// FlowToken is an optional fixed flow token for deterministic logs.
	// If empty, defaults to "test-flow-default".
	FlowToken string `yaml:"flow_token,omitempty"`

	// MaxAttempts caps polling attempts per call (default 3).
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// RatePerSecond paces client calls (default unpaced).
	RatePerSecond float64 `yaml:"rate_per_second,omitempty"`

	// Script sets the client's responses. Unscripted calls succeed.
	Script Script `yaml:"script,omitempty"`

	// Flow is the sequence of submissions and resumes to run.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and records.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Script lists successive responses per client call. The last response of a
// list repeats once the list is exhausted.
type Script struct {
	Submit             []Response `yaml:"submit,omitempty"`
	WaitInclusion      []Response `yaml:"wait_inclusion,omitempty"`
	OperationReceipt   []Response `yaml:"operation_receipt,omitempty"`
	TransactionReceipt []Response `yaml:"transaction_receipt,omitempty"`
}

// Response is one scripted client response. Error wins over every other
// field; the remaining fields apply to the call they are named after.
type Response struct {
	Error *ScriptedError `yaml:"error,omitempty"`

	// ID is the submission id (submit). Defaults to "0xop<n>".
	ID string `yaml:"id,omitempty"`

	// TxHash is the including transaction (wait_inclusion).
	TxHash string `yaml:"tx_hash,omitempty"`

	// Success is the operation receipt outcome (operation_receipt). Defaults to true.
	Success *bool `yaml:"success,omitempty"`

	// Reason is the revert data of an unsuccessful operation receipt.
	Reason string `yaml:"reason,omitempty"`

	// Status is the transaction receipt status (transaction_receipt). Defaults to 1.
	Status *uint64 `yaml:"status,omitempty"`

	// NotReady makes a receipt call report "not yet available".
	NotReady bool `yaml:"not_ready,omitempty"`
}

// ScriptedError is a classified client failure.
type ScriptedError struct {
	Kind    string `yaml:"kind"`
	Message string `yaml:"message,omitempty"`
}

// FlowStep is either a submission or a resume of pending operations.
type FlowStep struct {
	Submit *SubmitStep `yaml:"submit,omitempty"`

	// Resume re-drives the owner's pending operations.
	Resume bool `yaml:"resume,omitempty"`

	// CancelOn cancels the step's context as soon as the named polling call
	// is made, leaving the operation pending.
	CancelOn string `yaml:"cancel_on,omitempty"`

	// Expect validates the step outcome. If nil, the outcome is not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// SubmitStep is a request to submit.
type SubmitStep struct {
	Kind    string `yaml:"kind"`
	Target  string `yaml:"target"`
	Payload string `yaml:"payload"`
}

// ExpectClause specifies the expected step outcome. For a resume step it
// applies to every resumed operation.
type ExpectClause struct {
	Status        string `yaml:"status,omitempty"`
	FailureReason string `yaml:"failure_reason,omitempty"`
	Rejected      bool   `yaml:"rejected,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event matching the filters is in the trace
	// - "trace_order": calls first appear in the given order
	// - "trace_count": events matching the filters appear exactly Count times
	// - "final_state": the operation with ID matches Expect
	Type string `yaml:"type"`

	// Event filters by event type (default "call").
	Event string `yaml:"event,omitempty"`

	// Call filters by client call name.
	Call string `yaml:"call,omitempty"`

	// ErrorKind filters retry events by error kind.
	ErrorKind string `yaml:"error_kind,omitempty"`

	// RateLimited filters retry events by their rate-limit flag.
	RateLimited *bool `yaml:"rate_limited,omitempty"`

	// Calls is the expected call order (trace_order).
	Calls []string `yaml:"calls,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// ID selects the operation (final_state).
	ID string `yaml:"id,omitempty"`

	// Expect contains expected record fields, by their persisted names.
	// Subset match: only specified fields (and nested keys) are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
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

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}
	if s.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second must be non-negative")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for call, responses := range map[string][]Response{
		CallSubmit:             s.Script.Submit,
		CallWaitInclusion:      s.Script.WaitInclusion,
		CallOperationReceipt:   s.Script.OperationReceipt,
		CallTransactionReceipt: s.Script.TransactionReceipt,
	} {
		for i, r := range responses {
			if err := validateResponse(call, r); err != nil {
				return fmt.Errorf("script.%s[%d]: %w", call, i, err)
			}
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateResponse(call string, r Response) error {
	if r.Error != nil {
		switch account.Kind(r.Error.Kind) {
		case account.KindRejected, account.KindRateLimited, account.KindReverted, account.KindTransient:
			return nil
		default:
			return fmt.Errorf("unknown error kind %q", r.Error.Kind)
		}
	}
	if call == CallWaitInclusion && r.TxHash == "" {
		return fmt.Errorf("tx_hash is required")
	}
	if r.NotReady && call != CallOperationReceipt && call != CallTransactionReceipt {
		return fmt.Errorf("not_ready only applies to receipt calls")
	}
	return nil
}

func validateStep(step FlowStep) error {
	switch {
	case step.Submit != nil && step.Resume:
		return fmt.Errorf("submit and resume are mutually exclusive")
	case step.Submit == nil && !step.Resume:
		return fmt.Errorf("one of submit or resume is required")
	}

	if sub := step.Submit; sub != nil {
		switch record.Kind(sub.Kind) {
		case record.KindTransfer, record.KindMessage:
		default:
			return fmt.Errorf("submit: unknown kind %q", sub.Kind)
		}
	}

	if step.CancelOn != "" && !slices.Contains(pollingCalls, step.CancelOn) {
		return fmt.Errorf("cancel_on: unknown polling call %q", step.CancelOn)
	}

	if e := step.Expect; e != nil {
		if e.Rejected {
			if step.Resume {
				return fmt.Errorf("expect: rejected does not apply to resume")
			}
			if e.Status != "" {
				return fmt.Errorf("expect: rejected submissions have no status")
			}
			return nil
		}
		if !record.Status(e.Status).Valid() {
			return fmt.Errorf("expect: status must be pending, completed or failed, got %q", e.Status)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Event {
	case "", EventCall, EventRetry, EventResult:
	default:
		return fmt.Errorf("assertions[%d]: unknown event type %q", index, a.Event)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for trace_order", index)
		}
		for _, c := range a.Calls {
			if !slices.Contains(knownCalls, c) {
				return fmt.Errorf("assertions[%d]: unknown call %q", index, c)
			}
		}
	case AssertTraceCount:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
