package record

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

func pendingOp() Operation {
	return NewPending("0xop1", "0xowner", "0xabc", KindMessage, "hi", t0)
}

func TestNewPending(t *testing.T) {
	op := pendingOp()

	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, t0, op.SubmittedAt)
	assert.False(t, op.Included())
	assert.Empty(t, op.FailureReason)
}

func TestApply_Checkpoint(t *testing.T) {
	op, err := Checkpoint(Artifact{"tx_hash": "0xtx"}).Apply(pendingOp())

	require.NoError(t, err)
	assert.Equal(t, StatusPending, op.Status)
	assert.True(t, op.Included())
}

func TestApply_Complete(t *testing.T) {
	op, err := Complete(Artifact{"tx_hash": "0xtx"}, Artifact{"success": true}).Apply(pendingOp())

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, "0xtx", op.InclusionProof["tx_hash"])
	assert.Empty(t, op.FailureReason)
}

func TestApply_CompleteRequiresInclusion(t *testing.T) {
	_, err := Complete(nil, nil).Apply(pendingOp())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestApply_FailDropsInclusion(t *testing.T) {
	op, err := Checkpoint(Artifact{"tx_hash": "0xtx"}).Apply(pendingOp())
	require.NoError(t, err)

	op, err = Fail("operation reverted: 0x01", Artifact{"success": false}).Apply(op)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, op.Status)
	assert.Nil(t, op.InclusionProof)
	assert.Equal(t, "operation reverted: 0x01", op.FailureReason)
	assert.Equal(t, false, op.FinalityProof["success"])
}

func TestApply_FailRequiresReason(t *testing.T) {
	_, err := Fail("", nil).Apply(pendingOp())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestApply_NoRegressionFromTerminal(t *testing.T) {
	done, err := Complete(Artifact{"tx_hash": "0xtx"}, nil).Apply(pendingOp())
	require.NoError(t, err)

	_, err = Fail("late failure", nil).Apply(done)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	pending := StatusPending
	_, err = Patch{Status: &pending}.Apply(done)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestApply_TerminalAcceptsSameStatus(t *testing.T) {
	done, err := Complete(Artifact{"tx_hash": "0xtx"}, nil).Apply(pendingOp())
	require.NoError(t, err)

	done, err = Complete(nil, Artifact{"block_number": "12"}).Apply(done)
	require.NoError(t, err)
	assert.Equal(t, "12", done.FinalityProof["block_number"])
	assert.Equal(t, "0xtx", done.InclusionProof["tx_hash"])
}

func TestApply_UnknownStatus(t *testing.T) {
	s := Status("included")
	_, err := Patch{Status: &s}.Apply(pendingOp())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	op := pendingOp()
	_, err := Complete(Artifact{"tx_hash": "0xtx"}, nil).Apply(op)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, op.Status)
	assert.Nil(t, op.InclusionProof)
}

func TestApply_IDAndSubmittedAtImmutable(t *testing.T) {
	op, err := Fail("boom", nil).Apply(pendingOp())
	require.NoError(t, err)

	assert.Equal(t, "0xop1", op.ID)
	assert.Equal(t, t0, op.SubmittedAt)
}

func TestEntryProjection(t *testing.T) {
	e := pendingOp().Entry()
	assert.Equal(t, SourceLocal, e.Source)
	assert.Equal(t, t0, e.Timestamp)

	h := Historical{ID: "0xh", Target: "0xabc", Payload: "0.1", Timestamp: t0, Status: StatusCompleted}
	assert.Equal(t, SourceHistorical, h.Entry().Source)
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xABCdef", "0xabcDEF"))
	assert.False(t, SameAddress("0xabc", "0xabd"))
}
