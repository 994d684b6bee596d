package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/codec"
	"github.com/roach88/userops/internal/record"
	"github.com/roach88/userops/internal/retry"
	"github.com/roach88/userops/internal/store"
)

// ErrSubmissionRejected is returned when a request is refused before any
// record exists, either locally (invalid request) or by the account client.
var ErrSubmissionRejected = errors.New("submission rejected")

// Observer is notified of every failed polling attempt. call names the
// client call ("wait_inclusion", "operation_receipt", "transaction_receipt").
type Observer func(id, call string, a retry.Attempt)

// Pipeline submits requests and tracks them to a terminal state.
//
// Thread-safety: safe for concurrent use. Concurrent submissions for the same
// owner are serialized by the store, per write.
type Pipeline struct {
	client   account.Client
	store    *store.Store
	retry    *retry.Executor
	now      func() time.Time
	flows    FlowTokenGenerator
	observer Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used to stamp SubmittedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithFlowGenerator overrides the flow token generator.
func WithFlowGenerator(g FlowTokenGenerator) Option {
	return func(p *Pipeline) { p.flows = g }
}

// WithRetryPolicy sets the polling retry policy. Unset error classifiers
// default to the account error kinds.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) { p.retry = newExecutor(policy) }
}

// WithObserver registers a callback for failed polling attempts.
func WithObserver(obs Observer) Option {
	return func(p *Pipeline) { p.observer = obs }
}

func newExecutor(policy retry.Policy) *retry.Executor {
	if policy.Retryable == nil {
		policy.Retryable = account.IsRetryable
	}
	if policy.RateLimited == nil {
		policy.RateLimited = account.IsRateLimited
	}
	return retry.New(policy)
}

// New creates a Pipeline. The client is shared across all flows.
func New(client account.Client, s *store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		client: client,
		store:  s,
		retry:  newExecutor(retry.Policy{}),
		now:    time.Now,
		flows:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubmitTransfer sends amount (a positive decimal ether string) to target.
func (p *Pipeline) SubmitTransfer(ctx context.Context, owner, target, amount string) (record.Operation, error) {
	v, ok := new(big.Rat).SetString(amount)
	if !ok || v.Sign() <= 0 {
		return record.Operation{}, fmt.Errorf("%w: invalid amount %q", ErrSubmissionRejected, amount)
	}
	if target == "" {
		return record.Operation{}, fmt.Errorf("%w: missing recipient", ErrSubmissionRejected)
	}
	return p.Submit(ctx, account.Request{Kind: account.KindTransfer, Owner: owner, Target: target, Payload: amount})
}

// SubmitMessage sends text to recipient. Messages to oneself are refused.
func (p *Pipeline) SubmitMessage(ctx context.Context, owner, recipient, text string) (record.Operation, error) {
	if strings.TrimSpace(text) == "" {
		return record.Operation{}, fmt.Errorf("%w: empty message", ErrSubmissionRejected)
	}
	if recipient == "" {
		return record.Operation{}, fmt.Errorf("%w: missing recipient", ErrSubmissionRejected)
	}
	if record.SameAddress(owner, recipient) {
		return record.Operation{}, fmt.Errorf("%w: cannot message yourself", ErrSubmissionRejected)
	}
	return p.Submit(ctx, account.Request{Kind: account.KindMessage, Owner: owner, Target: recipient, Payload: text})
}

// Submit submits req and tracks it until a terminal state is persisted.
//
// A terminal record is returned with a nil error whether it completed or
// failed; inspect Status and FailureReason. A non-nil error means the request
// was rejected (no record), a store write failed, or ctx ended while the
// record was still pending.
func (p *Pipeline) Submit(ctx context.Context, req account.Request) (record.Operation, error) {
	log := slog.With("flow", p.flows.Generate(), "owner", req.Owner, "kind", req.Kind)

	sub, err := p.client.Submit(ctx, req)
	if err != nil {
		log.Info("submission rejected", "error", err)
		return record.Operation{}, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}
	log = log.With("id", sub.ID)

	op := record.NewPending(sub.ID, req.Owner, req.Target, record.Kind(req.Kind), req.Payload, p.now())
	op.Request = artifact(sub.Request)
	if err := p.store.Put(ctx, req.Owner, op); err != nil {
		log.Error("persisting pending operation failed", "error", err)
		return record.Operation{}, fmt.Errorf("persist pending %s: %w", op.ID, err)
	}
	log.Info("operation pending", "target", req.Target)

	return p.track(ctx, log, op)
}

// Resume re-drives every pending operation of owner, one at a time.
// Operations with an inclusion checkpoint skip straight to receipt polling.
//
// It stops at the first context error. Other per-operation errors are joined.
func (p *Pipeline) Resume(ctx context.Context, owner string) ([]record.Operation, error) {
	pending, err := p.store.Pending(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}

	out := make([]record.Operation, 0, len(pending))
	var errs []error
	for _, op := range pending {
		log := slog.With("flow", p.flows.Generate(), "owner", owner, "id", op.ID, "resumed", true)
		got, err := p.track(ctx, log, op)
		out = append(out, got)
		if err != nil {
			if ctx.Err() != nil {
				return out, err
			}
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

func (p *Pipeline) track(ctx context.Context, log *slog.Logger, op record.Operation) (record.Operation, error) {
	if !op.Included() {
		inc, err := retry.Do(ctx, p.retry, func(ctx context.Context) (account.Inclusion, error) {
			return p.client.WaitForInclusion(ctx, op.ID)
		}, p.observe(op.ID, "wait_inclusion"))
		if err != nil {
			return p.abort(ctx, log, op, err)
		}
		if op, err = p.transition(ctx, log, op, record.Checkpoint(artifact(inc))); err != nil {
			return op, err
		}
		log.Debug("inclusion observed", "tx_hash", inc.TxHash)
	}

	opReceipt, err := retry.Do(ctx, p.retry, func(ctx context.Context) (*account.OperationReceipt, error) {
		r, err := p.client.OperationReceipt(ctx, op.ID)
		if err == nil && r == nil {
			err = account.NewError(account.KindTransient, "operation_receipt", errors.New("receipt not yet available"))
		}
		return r, err
	}, p.observe(op.ID, "operation_receipt"))
	if err != nil {
		return p.abort(ctx, log, op, err)
	}

	txHash, _ := op.InclusionProof["tx_hash"].(string)
	txReceipt, err := retry.Do(ctx, p.retry, func(ctx context.Context) (*account.TransactionReceipt, error) {
		r, err := p.client.TransactionReceipt(ctx, txHash)
		if err == nil && r == nil {
			err = account.NewError(account.KindTransient, "transaction_receipt", errors.New("receipt not yet available"))
		}
		return r, err
	}, p.observe(op.ID, "transaction_receipt"))
	if err != nil {
		return p.abort(ctx, log, op, err)
	}

	finality := record.Artifact{
		"operation_receipt":   codec.Normalize(opReceipt),
		"transaction_receipt": codec.Normalize(txReceipt),
	}
	switch {
	case !opReceipt.Success:
		reason := account.Reason(account.Reverted("operation_receipt", opReceipt.Reason))
		log.Info("operation reverted", "reason", reason)
		return p.transition(ctx, log, op, record.Fail(reason, finality))
	case txReceipt.Status == 0:
		log.Info("transaction reverted", "tx_hash", txHash)
		return p.transition(ctx, log, op, record.Fail("transaction reverted", finality))
	}
	log.Info("operation completed", "tx_hash", txHash)
	return p.transition(ctx, log, op, record.Complete(op.InclusionProof, finality))
}

// abort finalizes op after polling gave up with err.
func (p *Pipeline) abort(ctx context.Context, log *slog.Logger, op record.Operation, err error) (record.Operation, error) {
	// Only the caller's own context ending leaves the record pending. A
	// transport timeout wrapping context.DeadlineExceeded is a poll failure.
	if ctx.Err() != nil {
		log.Info("tracking abandoned, operation left pending", "error", err)
		return op, err
	}

	if account.IsRateLimited(err) && op.Included() {
		log.Warn("rate limited after inclusion, marking completed provisionally", "error", err)
		finality := record.Artifact{
			"tx_hash":       op.InclusionProof["tx_hash"],
			"confirmations": 1,
			"provisional":   true,
		}
		return p.transition(ctx, log, op, record.Complete(op.InclusionProof, finality))
	}

	reason := account.Reason(err)
	log.Info("operation failed", "reason", reason)
	return p.transition(ctx, log, op, record.Fail(reason, nil))
}

// transition persists patch. The returned record reflects the store only
// when the write succeeded.
func (p *Pipeline) transition(ctx context.Context, log *slog.Logger, op record.Operation, patch record.Patch) (record.Operation, error) {
	// Terminal writes must land even if the caller's context ended mid-poll.
	updated, found, err := p.store.Update(context.WithoutCancel(ctx), op.Owner, op.ID, patch)
	if err != nil {
		log.Error("persisting transition failed", "error", err)
		return op, fmt.Errorf("persist %s: %w", op.ID, err)
	}
	if !found {
		log.Error("operation missing from store")
		return op, fmt.Errorf("persist %s: operation not found", op.ID)
	}
	return updated, nil
}

func (p *Pipeline) observe(id, call string) retry.Observer {
	if p.observer == nil {
		return nil
	}
	return func(a retry.Attempt) { p.observer(id, call, a) }
}

// artifact normalizes v into a JSON-safe opaque record.
func artifact(v any) record.Artifact {
	switch n := codec.Normalize(v).(type) {
	case map[string]any:
		if len(n) == 0 {
			return nil
		}
		return record.Artifact(n)
	case nil:
		return nil
	default:
		return record.Artifact{"value": n}
	}
}
