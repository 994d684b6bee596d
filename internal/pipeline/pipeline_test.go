package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/kv"
	"github.com/roach88/userops/internal/record"
	"github.com/roach88/userops/internal/retry"
	"github.com/roach88/userops/internal/store"
	"github.com/roach88/userops/internal/testutil"
)

const owner = "0xOwner"

var t0 = time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

var rateLimited = account.NewError(account.KindRateLimited, "poll", errors.New("HTTP 429"))

type fixture struct {
	p      *Pipeline
	client *testutil.ScriptedClient
	store  *store.Store
	mem    *kv.Memory
	seen   []retry.Attempt
	mu     sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{client: testutil.NewScriptedClient(), mem: kv.NewMemory()}
	f.store = store.New(f.mem)
	f.p = New(f.client, f.store,
		WithClock(testutil.NewManualClock(t0).Now),
		WithFlowGenerator(testutil.NewFixedFlowGenerator("flow-test")),
		WithRetryPolicy(retry.Policy{MaxAttempts: 3, Backoff: retry.None()}),
		WithObserver(func(id, call string, a retry.Attempt) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.seen = append(f.seen, a)
		}),
	)
	return f
}

func (f *fixture) stored(t *testing.T, id string) record.Operation {
	t.Helper()
	op, ok, err := f.store.Find(context.Background(), owner, id)
	require.NoError(t, err)
	require.True(t, ok, "operation %s not stored", id)
	return op
}

func TestSubmit_PendingThenCompleted(t *testing.T) {
	f := newFixture(t)

	var pendingSeen bool
	f.client.OnCall = func(call string) {
		if call != "wait_inclusion" || pendingSeen {
			return
		}
		pendingSeen = true
		op := f.stored(t, "0xop1")
		assert.Equal(t, record.StatusPending, op.Status)
		assert.Nil(t, op.InclusionProof)
		assert.Empty(t, op.FailureReason)
		assert.Equal(t, t0, op.SubmittedAt)
	}

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)
	require.True(t, pendingSeen, "pending record must exist before inclusion is awaited")

	assert.Equal(t, record.StatusCompleted, op.Status)
	assert.Equal(t, "0xtx-op1", op.InclusionProof["tx_hash"])
	assert.Empty(t, op.FailureReason)
	assert.Contains(t, op.FinalityProof, "operation_receipt")
	assert.Contains(t, op.FinalityProof, "transaction_receipt")
	assert.Equal(t, op, f.stored(t, "0xop1"))
	assert.Equal(t, "0xabc", op.Target)
	assert.Equal(t, "hi", op.Payload)
	assert.Equal(t, record.KindMessage, op.Kind)
}

func TestSubmit_CheckpointsInclusionBeforeReceipts(t *testing.T) {
	f := newFixture(t)
	f.client.OnCall = func(call string) {
		if call != "operation_receipt" {
			return
		}
		op := f.stored(t, "0xop1")
		assert.Equal(t, record.StatusPending, op.Status)
		assert.Equal(t, "0xtx-op1", op.InclusionProof["tx_hash"])
	}

	_, err := f.p.SubmitTransfer(context.Background(), owner, "0xabc", "0.01")
	require.NoError(t, err)
}

func TestSubmit_RateLimitedAfterInclusionCompletesProvisionally(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptOperationReceipt(testutil.Fail[*account.OperationReceipt](rateLimited))

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	assert.Equal(t, record.StatusCompleted, op.Status)
	assert.Empty(t, op.FailureReason)
	assert.Equal(t, true, op.FinalityProof["provisional"])
	assert.Equal(t, "0xtx-op1", op.FinalityProof["tx_hash"])
	assert.Equal(t, 3, f.client.Calls("operation_receipt"))

	stored := f.stored(t, "0xop1")
	assert.Equal(t, record.StatusCompleted, stored.Status)
	assert.Equal(t, true, stored.FinalityProof["provisional"])
}

func TestSubmit_RateLimitedBeforeInclusionFails(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptInclusion(testutil.Fail[account.Inclusion](rateLimited))

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	assert.Equal(t, record.StatusFailed, op.Status)
	assert.Contains(t, op.FailureReason, "max retry attempts reached")
	assert.Nil(t, op.InclusionProof)
	for _, a := range f.seen {
		assert.True(t, a.RateLimited)
	}
}

func TestSubmit_RevertFailsWithReason(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptOperationReceipt(testutil.Ok(&account.OperationReceipt{
		ID:            "0xop1",
		Success:       false,
		Reason:        "0xfa06f06e0000",
		ActualGasCost: new(big.Int).Lsh(big.NewInt(1), 80),
	}))

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	assert.Equal(t, record.StatusFailed, op.Status)
	assert.Equal(t, "operation validation failed, possibly a permissions issue", op.FailureReason)
	assert.Nil(t, op.InclusionProof, "a failed record carries a reason, not an inclusion proof")
	require.Contains(t, op.FinalityProof, "operation_receipt")
	rcpt := op.FinalityProof["operation_receipt"].(map[string]any)
	assert.Equal(t, "1208925819614629174706176", rcpt["actual_gas_cost"])
	assert.Equal(t, 1, f.client.Calls("operation_receipt"), "reverts are not retried")
}

func TestSubmit_RevertDuringInclusionIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptInclusion(testutil.Fail[account.Inclusion](account.Reverted("wait_inclusion", "0xdeadbeef")))

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	assert.Equal(t, record.StatusFailed, op.Status)
	assert.Equal(t, "operation reverted: 0xdeadbeef", op.FailureReason)
	assert.Equal(t, 1, f.client.Calls("wait_inclusion"))
}

func TestSubmit_ClientTimeoutWithLiveContextFails(t *testing.T) {
	f := newFixture(t)
	timeout := fmt.Errorf("Get https://bundler.example/rpc: %w", context.DeadlineExceeded)
	f.client.ScriptInclusion(
		testutil.Fail[account.Inclusion](timeout),
		testutil.Fail[account.Inclusion](timeout),
		testutil.Fail[account.Inclusion](timeout),
	)

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	assert.Equal(t, record.StatusFailed, op.Status)
	assert.NotEmpty(t, op.FailureReason)
	assert.Equal(t, record.StatusFailed, f.stored(t, "0xop1").Status)
}

func TestSubmit_TransactionStatusZeroFails(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptTransactionReceipt(testutil.Ok(&account.TransactionReceipt{TxHash: "0xtx-op1", Status: 0}))

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, op.Status)
	assert.Equal(t, "transaction reverted", op.FailureReason)
}

func TestSubmit_TransientFailuresRecovered(t *testing.T) {
	f := newFixture(t)
	blip := account.NewError(account.KindTransient, "wait_inclusion", errors.New("connection reset"))
	f.client.ScriptInclusion(
		testutil.Fail[account.Inclusion](blip),
		testutil.Fail[account.Inclusion](blip),
		testutil.Ok(account.Inclusion{TxHash: "0xtx"}),
	)

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	assert.Equal(t, record.StatusCompleted, op.Status)
	assert.Equal(t, "0xtx", op.InclusionProof["tx_hash"])
	require.Len(t, f.seen, 2)
	assert.Equal(t, 1, f.seen[0].Number)
	assert.Equal(t, 2, f.seen[1].Number)
	assert.False(t, f.seen[0].RateLimited)
}

func TestSubmit_NilReceiptIsPolledAgain(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptOperationReceipt(
		testutil.Ok[*account.OperationReceipt](nil),
		testutil.Ok(&account.OperationReceipt{ID: "0xop1", Success: true}),
	)

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)
	assert.Equal(t, record.StatusCompleted, op.Status)
	assert.Equal(t, 2, f.client.Calls("operation_receipt"))
}

func TestSubmit_ExhaustionFails(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptTransactionReceipt(testutil.Fail[*account.TransactionReceipt](errors.New("node unavailable")))

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	assert.Equal(t, record.StatusFailed, op.Status)
	assert.Contains(t, op.FailureReason, "max retry attempts reached after 3 attempts")
	assert.Contains(t, op.FailureReason, "node unavailable")
	assert.Equal(t, 3, f.client.Calls("transaction_receipt"))
}

func TestSubmit_RejectedCreatesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.client.ScriptSubmit(testutil.Fail[account.Submission](account.NewError(account.KindRejected, "submit", errors.New("insufficient funds"))))

	_, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmissionRejected))
	assert.True(t, account.IsRejected(err))
	assert.Equal(t, 0, f.mem.Len())
	assert.Equal(t, 0, f.client.Calls("wait_inclusion"))
	assert.Equal(t, 1, f.client.Calls("submit"), "submission is never retried")
}

func TestSubmitMessage_LocalRejections(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		text      string
	}{
		{"self", "0xowner", "hi"},
		{"empty text", "0xabc", "  "},
		{"no recipient", "", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.p.SubmitMessage(context.Background(), owner, tt.recipient, tt.text)
			assert.True(t, errors.Is(err, ErrSubmissionRejected))
			assert.Equal(t, 0, f.client.Calls("submit"))
		})
	}
}

func TestSubmitTransfer_InvalidAmount(t *testing.T) {
	for _, amount := range []string{"", "abc", "0", "-1"} {
		f := newFixture(t)
		_, err := f.p.SubmitTransfer(context.Background(), owner, "0xabc", amount)
		assert.True(t, errors.Is(err, ErrSubmissionRejected), "amount %q", amount)
		assert.Equal(t, 0, f.client.Calls("submit"))
	}
}

func TestSubmit_KeepsNormalizedRequest(t *testing.T) {
	f := newFixture(t)
	nonce, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	f.client.ScriptSubmit(testutil.Ok(account.Submission{
		ID:      "0xop1",
		Request: map[string]any{"nonce": nonce, "sender": owner},
	}))

	_, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.NoError(t, err)

	op := f.stored(t, "0xop1")
	assert.Equal(t, "340282366920938463463374607431768211455", op.Request["nonce"])
	assert.Equal(t, owner, op.Request["sender"])
}

func TestSubmit_StoreWriteFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	f.client.OnCall = func(call string) {
		if call == "operation_receipt" {
			f.mem.FailPut = errors.New("disk full")
		}
	}

	_, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	f.mem.FailPut = nil
	op := f.stored(t, "0xop1")
	assert.Equal(t, record.StatusPending, op.Status, "an unpersisted completion is not reported as durable")
}

func TestSubmit_PendingWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.mem.FailPut = errors.New("disk full")

	op, err := f.p.SubmitMessage(context.Background(), owner, "0xabc", "hi")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSubmissionRejected))
	assert.Equal(t, record.Operation{}, op, "an unpersisted pending record is not returned")
	assert.Equal(t, 0, f.client.Calls("wait_inclusion"))
}

func TestSubmit_CancelLeavesPendingThenResume(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.client.OnCall = func(call string) {
		if call == "operation_receipt" {
			cancel()
		}
	}
	f.client.ScriptOperationReceipt(
		testutil.Fail[*account.OperationReceipt](errors.New("timeout")),
		testutil.Ok(&account.OperationReceipt{ID: "0xop1", Success: true}),
	)

	op, err := f.p.SubmitMessage(ctx, owner, "0xabc", "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, record.StatusPending, op.Status)

	stored := f.stored(t, "0xop1")
	assert.Equal(t, record.StatusPending, stored.Status)
	assert.True(t, stored.Included())

	f.client.OnCall = nil
	resumed, err := f.p.Resume(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, record.StatusCompleted, resumed[0].Status)
	assert.Equal(t, 1, f.client.Calls("wait_inclusion"), "inclusion checkpoint is reused")

	pending, err := f.store.Pending(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestResume_PollsInclusionWhenNoCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, owner, record.NewPending("0xstale", owner, "0xabc", record.KindMessage, "hi", t0)))

	resumed, err := f.p.Resume(ctx, owner)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, record.StatusCompleted, resumed[0].Status)
	assert.Equal(t, "0xtx-stale", resumed[0].InclusionProof["tx_hash"])
	assert.Equal(t, 0, f.client.Calls("submit"))
}

func TestResume_NothingPending(t *testing.T) {
	f := newFixture(t)

	resumed, err := f.p.Resume(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, resumed)
}

func TestSubmit_ConcurrentSameOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.p.SubmitMessage(ctx, owner, "0xabc", fmt.Sprintf("msg %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ops, err := f.store.Get(ctx, owner)
	require.NoError(t, err)
	require.Len(t, ops, n)
	for _, op := range ops {
		assert.Equal(t, record.StatusCompleted, op.Status, "operation %s", op.ID)
	}
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
