package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/config"
	"github.com/roach88/userops/internal/kv"
	"github.com/roach88/userops/internal/pipeline"
	"github.com/roach88/userops/internal/record"
	"github.com/roach88/userops/internal/retry"
	"github.com/roach88/userops/internal/store"
	"github.com/roach88/userops/internal/testutil"
)

// Epoch is the clock start of every scenario. Each step advances the clock
// by one second, so step N submits at Epoch + N seconds.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness runs one scenario against a real pipeline, store, and a scripted
// account client.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	client   *testutil.ScriptedClient
	pipeline *pipeline.Pipeline
	clock    *testutil.ManualClock
	logger   *slog.Logger

	mu       sync.Mutex
	seq      int64
	result   *Result
	cancelOn string
	cancel   context.CancelFunc
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs over a fresh in-memory store. The clock, flow token,
// and backoff are deterministic, so the trace is identical across runs.
//
// An error is returned only when the scenario could not be executed; failed
// expectations are reported through Result.Pass and Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h := newHarness(scenario)
	ctx := context.Background()

	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		h.clock.Advance(time.Second)
	}

	ops, err := h.store.Get(ctx, scenario.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	h.result.Operations = ops

	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

func newHarness(scenario *Scenario) *Harness {
	h := &Harness{
		scenario: scenario,
		store:    store.New(kv.NewMemory()),
		client:   scriptClient(scenario.Owner, scenario.Script),
		clock:    testutil.NewManualClock(Epoch),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	h.client.OnCall = h.onCall

	cfg := config.Default()
	cfg.Client.RatePerSecond = scenario.RatePerSecond
	h.pipeline = pipeline.New(cfg.AccountClient(h.client), h.store,
		pipeline.WithClock(h.clock.Now),
		pipeline.WithFlowGenerator(testutil.NewFixedFlowGenerator(scenario.FlowToken)),
		pipeline.WithRetryPolicy(retry.Policy{
			MaxAttempts: scenario.MaxAttempts,
			Backoff:     retry.None(),
		}),
		pipeline.WithObserver(h.onRetry),
	)
	return h
}

func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.mu.Lock()
	h.cancelOn, h.cancel = step.CancelOn, cancel
	h.mu.Unlock()

	if step.Resume {
		ops, err := h.pipeline.Resume(ctx, h.scenario.Owner)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.result.AddError(fmt.Sprintf("flow[%d]: resume: %v", i, err))
		}
		for _, op := range ops {
			h.addResult(op, false)
			h.checkExpect(i, step.Expect, op, false)
		}
		h.logger.Info("resume step completed", "step", i, "resumed", len(ops))
		return nil
	}

	sub := step.Submit
	var (
		op  record.Operation
		err error
	)
	switch record.Kind(sub.Kind) {
	case record.KindTransfer:
		op, err = h.pipeline.SubmitTransfer(ctx, h.scenario.Owner, sub.Target, sub.Payload)
	case record.KindMessage:
		op, err = h.pipeline.SubmitMessage(ctx, h.scenario.Owner, sub.Target, sub.Payload)
	default:
		return fmt.Errorf("unknown kind %q", sub.Kind)
	}

	rejected := errors.Is(err, pipeline.ErrSubmissionRejected)
	if err != nil && !rejected && !errors.Is(err, context.Canceled) {
		h.result.AddError(fmt.Sprintf("flow[%d]: submit: %v", i, err))
	}
	h.addResult(op, rejected)
	h.checkExpect(i, step.Expect, op, rejected)

	h.logger.Info("submit step completed", "step", i, "id", op.ID, "status", op.Status, "rejected", rejected)
	return nil
}

func (h *Harness) checkExpect(i int, expect *ExpectClause, op record.Operation, rejected bool) {
	if expect == nil {
		return
	}
	if expect.Rejected != rejected {
		h.result.AddError(fmt.Sprintf("flow[%d]: expected rejected=%t, got %t", i, expect.Rejected, rejected))
		return
	}
	if rejected {
		return
	}
	if string(op.Status) != expect.Status {
		h.result.AddError(fmt.Sprintf("flow[%d]: operation %s: expected status %s, got %s", i, op.ID, expect.Status, op.Status))
	}
	if expect.FailureReason != "" && op.FailureReason != expect.FailureReason {
		h.result.AddError(fmt.Sprintf("flow[%d]: operation %s: expected failure reason %q, got %q", i, op.ID, expect.FailureReason, op.FailureReason))
	}
}

func (h *Harness) onCall(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(TraceEvent{Type: EventCall, Call: call})
	if h.cancelOn == call && h.cancel != nil {
		h.cancel()
	}
}

func (h *Harness) onRetry(id, call string, a retry.Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(TraceEvent{
		Type:        EventRetry,
		Call:        call,
		ID:          id,
		Attempt:     a.Number,
		RateLimited: a.RateLimited,
		ErrorKind:   string(account.KindOf(a.Err)),
	})
}

func (h *Harness) addResult(op record.Operation, rejected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(TraceEvent{
		Type:          EventResult,
		ID:            op.ID,
		Status:        string(op.Status),
		FailureReason: op.FailureReason,
		Rejected:      rejected,
	})
}

func (h *Harness) appendLocked(e TraceEvent) {
	h.seq++
	e.Seq = h.seq
	h.result.Trace = append(h.result.Trace, e)
}

// scriptClient converts scripted responses into a ScriptedClient.
func scriptClient(owner string, s Script) *testutil.ScriptedClient {
	c := testutil.NewScriptedClient()

	if len(s.Submit) > 0 {
		rs := make([]testutil.Result[account.Submission], len(s.Submit))
		for i, r := range s.Submit {
			if r.Error != nil {
				rs[i] = testutil.Fail[account.Submission](scriptedErr(CallSubmit, r.Error))
				continue
			}
			id := r.ID
			if id == "" {
				id = fmt.Sprintf("0xop%d", i+1)
			}
			rs[i] = testutil.Ok(account.Submission{ID: id, Request: map[string]any{"sender": owner}})
		}
		c.ScriptSubmit(rs...)
	}

	if len(s.WaitInclusion) > 0 {
		rs := make([]testutil.Result[account.Inclusion], len(s.WaitInclusion))
		for i, r := range s.WaitInclusion {
			if r.Error != nil {
				rs[i] = testutil.Fail[account.Inclusion](scriptedErr(CallWaitInclusion, r.Error))
				continue
			}
			rs[i] = testutil.Ok(account.Inclusion{TxHash: r.TxHash})
		}
		c.ScriptInclusion(rs...)
	}

	if len(s.OperationReceipt) > 0 {
		rs := make([]testutil.Result[*account.OperationReceipt], len(s.OperationReceipt))
		for i, r := range s.OperationReceipt {
			switch {
			case r.Error != nil:
				rs[i] = testutil.Fail[*account.OperationReceipt](scriptedErr(CallOperationReceipt, r.Error))
			case r.NotReady:
				rs[i] = testutil.Ok[*account.OperationReceipt](nil)
			default:
				success := r.Success == nil || *r.Success
				rs[i] = testutil.Ok(&account.OperationReceipt{Success: success, Reason: r.Reason})
			}
		}
		c.ScriptOperationReceipt(rs...)
	}

	if len(s.TransactionReceipt) > 0 {
		rs := make([]testutil.Result[*account.TransactionReceipt], len(s.TransactionReceipt))
		for i, r := range s.TransactionReceipt {
			switch {
			case r.Error != nil:
				rs[i] = testutil.Fail[*account.TransactionReceipt](scriptedErr(CallTransactionReceipt, r.Error))
			case r.NotReady:
				rs[i] = testutil.Ok[*account.TransactionReceipt](nil)
			default:
				status := uint64(1)
				if r.Status != nil {
					status = *r.Status
				}
				rs[i] = testutil.Ok(&account.TransactionReceipt{Status: status, Confirmations: 1})
			}
		}
		c.ScriptTransactionReceipt(rs...)
	}

	return c
}

func scriptedErr(call string, e *ScriptedError) error {
	msg := e.Message
	if msg == "" {
		msg = "scripted failure"
	}
	if account.Kind(e.Kind) == account.KindReverted {
		return account.Reverted(call, msg)
	}
	return account.NewError(account.Kind(e.Kind), call, errors.New(msg))
}
