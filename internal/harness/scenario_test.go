package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one message"
owner: "0xa11ce"
flow:
  - submit: { kind: message, target: "0xb0b", payload: "gm" }
assertions:
  - type: trace_contains
    call: submit
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "0xa11ce", s.Owner)
	require.Len(t, s.Flow, 1)
	require.NotNil(t, s.Flow[0].Submit)
	assert.Equal(t, "message", s.Flow[0].Submit.Kind)
	assert.Equal(t, "0xb0b", s.Flow[0].Submit.Target)
	assert.Nil(t, s.Flow[0].Expect)
	assert.Empty(t, s.Script.Submit)
}

func TestParseScenario_Script(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: scripted
description: "scripted responses"
owner: "0xa11ce"
script:
  wait_inclusion:
    - error: { kind: TRANSIENT, message: "reset" }
    - tx_hash: "0xfeed"
  operation_receipt:
    - not_ready: true
    - success: false
      reason: "0xdead"
  transaction_receipt:
    - status: 0
flow:
  - submit: { kind: transfer, target: "0xb0b", payload: "1" }
assertions:
  - type: trace_contains
    call: submit
`))
	require.NoError(t, err)

	require.Len(t, s.Script.WaitInclusion, 2)
	assert.Equal(t, "TRANSIENT", s.Script.WaitInclusion[0].Error.Kind)
	assert.Equal(t, "0xfeed", s.Script.WaitInclusion[1].TxHash)
	require.Len(t, s.Script.OperationReceipt, 2)
	assert.True(t, s.Script.OperationReceipt[0].NotReady)
	require.NotNil(t, s.Script.OperationReceipt[1].Success)
	assert.False(t, *s.Script.OperationReceipt[1].Success)
	require.NotNil(t, s.Script.TransactionReceipt[0].Status)
	assert.Equal(t, uint64(0), *s.Script.TransactionReceipt[0].Status)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "description is required",
		},
		{
			name:    "missing owner",
			yaml:    "name: n\ndescription: d\nflow: [{resume: true}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "owner is required",
		},
		{
			name:    "empty flow",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: []\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "flow list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: []",
			wantErr: "assertions list is required",
		},
		{
			name:    "step with neither submit nor resume",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{expect: {status: pending}}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "flow[0]: one of submit or resume is required",
		},
		{
			name:    "step with both submit and resume",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true, submit: {kind: message, target: t, payload: p}}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown submit kind",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{submit: {kind: swap, target: t, payload: p}}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: `unknown kind "swap"`,
		},
		{
			name:    "cancel on submit",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true, cancel_on: submit}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: `unknown polling call "submit"`,
		},
		{
			name:    "bad expected status",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true, expect: {status: done}}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "status must be pending, completed or failed",
		},
		{
			name:    "rejected with status",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{submit: {kind: message, target: t, payload: p}, expect: {rejected: true, status: failed}}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "rejected submissions have no status",
		},
		{
			name:    "rejected resume",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true, expect: {rejected: true}}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "rejected does not apply to resume",
		},
		{
			name:    "unknown error kind",
			yaml:    "name: n\ndescription: d\nowner: o\nscript: {submit: [{error: {kind: BOOM}}]}\nflow: [{resume: true}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: `script.submit[0]: unknown error kind "BOOM"`,
		},
		{
			name:    "inclusion without tx hash",
			yaml:    "name: n\ndescription: d\nowner: o\nscript: {wait_inclusion: [{}]}\nflow: [{resume: true}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "script.wait_inclusion[0]: tx_hash is required",
		},
		{
			name:    "not ready submit",
			yaml:    "name: n\ndescription: d\nowner: o\nscript: {submit: [{not_ready: true}]}\nflow: [{resume: true}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "not_ready only applies to receipt calls",
		},
		{
			name:    "negative max attempts",
			yaml:    "name: n\ndescription: d\nowner: o\nmax_attempts: -1\nflow: [{resume: true}]\nassertions: [{type: trace_contains, call: submit}]",
			wantErr: "max_attempts must be non-negative",
		},
		{
			name:    "assertion without type",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{call: submit}]",
			wantErr: "assertions[0]: type is required",
		},
		{
			name:    "unknown assertion type",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_exists}]",
			wantErr: `unknown assertion type "trace_exists"`,
		},
		{
			name:    "unknown event filter",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_contains, event: completion, call: submit}]",
			wantErr: `unknown event type "completion"`,
		},
		{
			name:    "trace_contains without call",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_contains}]",
			wantErr: "call is required for trace_contains",
		},
		{
			name:    "trace_order without calls",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_order}]",
			wantErr: "calls list is required for trace_order",
		},
		{
			name:    "trace_order unknown call",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_order, calls: [submit, settle]}]",
			wantErr: `unknown call "settle"`,
		},
		{
			name:    "trace_count negative",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: trace_count, call: submit, count: -1}]",
			wantErr: "count must be non-negative",
		},
		{
			name:    "final_state without id",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: final_state, expect: {status: completed}}]",
			wantErr: "id is required for final_state",
		},
		{
			name:    "final_state without expect",
			yaml:    "name: n\ndescription: d\nowner: o\nflow: [{resume: true}]\nassertions: [{type: final_state, id: x}]",
			wantErr: "expect is required for final_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarios_SortedByFileName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yaml"} {
		content := []byte(minimalScenario)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	scenarios, err := LoadScenarios(dir)
	require.NoError(t, err)
	assert.Len(t, scenarios, 2)
}

func TestLoadScenarios_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: x\n"), 0o644))

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadScenarios_Testdata(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)
	for _, s := range scenarios {
		assert.NotEmpty(t, s.Name)
	}
}
