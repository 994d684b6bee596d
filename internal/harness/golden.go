package harness

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/userops/internal/codec"
	"github.com/roach88/userops/internal/record"
)

// TraceSnapshot captures the trace and final records of a scenario run.
type TraceSnapshot struct {
	ScenarioName string             `json:"scenario_name"`
	FlowToken    string             `json:"flow_token,omitempty"`
	Trace        []TraceEvent       `json:"trace"`
	Operations   []OperationSummary `json:"operations"`
}

// OperationSummary is the golden-stable projection of an operation.
// Opaque proofs are reduced to the fields callers branch on.
type OperationSummary struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Target        string    `json:"target"`
	Payload       string    `json:"payload"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	Provisional   bool      `json:"provisional,omitempty"`
}

// Summarize projects op for golden comparison.
func Summarize(op record.Operation) OperationSummary {
	txHash, _ := op.InclusionProof["tx_hash"].(string)
	provisional, _ := op.FinalityProof["provisional"].(bool)
	return OperationSummary{
		ID:            op.ID,
		Kind:          string(op.Kind),
		Target:        op.Target,
		Payload:       op.Payload,
		SubmittedAt:   op.SubmittedAt,
		Status:        string(op.Status),
		FailureReason: op.FailureReason,
		TxHash:        txHash,
		Provisional:   provisional,
	}
}

// MarshalSnapshot renders the snapshot of result as indented JSON with
// sorted keys and a trailing newline.
func MarshalSnapshot(name, flowToken string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		FlowToken:    flowToken,
		Trace:        result.Trace,
		Operations:   make([]OperationSummary, 0, len(result.Operations)),
	}
	for _, op := range result.Operations {
		snapshot.Operations = append(snapshot.Operations, Summarize(op))
	}

	compact, err := codec.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass. Returns an error if
// the scenario could not be executed.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, scenario.FlowToken, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, name, flowToken string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(name, flowToken, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
