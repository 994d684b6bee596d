package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/userops/internal/account"
)

// Result is one scripted outcome of a client call.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok scripts a successful call.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail scripts a failed call.
func Fail[T any](err error) Result[T] { return Result[T]{Err: err} }

// script replays results in order and repeats the last one when exhausted.
type script[T any] struct {
	results []Result[T]
	next    int
}

func (s *script[T]) pop(def T) (T, error) {
	if len(s.results) == 0 {
		return def, nil
	}
	r := s.results[s.next]
	if s.next < len(s.results)-1 {
		s.next++
	}
	return r.Value, r.Err
}

// ScriptedClient is an account.Client whose responses are set up front.
//
// Unscripted calls succeed: Submit returns ID "0xop<n>", inclusion returns
// "0xtx-<id>", receipts report success.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedClient struct {
	mu sync.Mutex

	submit    script[account.Submission]
	inclusion script[account.Inclusion]
	opReceipt script[*account.OperationReceipt]
	txReceipt script[*account.TransactionReceipt]

	calls     map[string]int
	submitted []account.Request

	// OnCall runs before each call with the call name. Tests use it to
	// observe durable state while the pipeline is suspended.
	OnCall func(call string)
}

// NewScriptedClient creates a client where every call succeeds.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{calls: make(map[string]int)}
}

// ScriptSubmit sets the outcomes of successive Submit calls.
func (c *ScriptedClient) ScriptSubmit(rs ...Result[account.Submission]) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submit = script[account.Submission]{results: rs}
	return c
}

// ScriptInclusion sets the outcomes of successive WaitForInclusion calls.
func (c *ScriptedClient) ScriptInclusion(rs ...Result[account.Inclusion]) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inclusion = script[account.Inclusion]{results: rs}
	return c
}

// ScriptOperationReceipt sets the outcomes of successive OperationReceipt calls.
func (c *ScriptedClient) ScriptOperationReceipt(rs ...Result[*account.OperationReceipt]) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opReceipt = script[*account.OperationReceipt]{results: rs}
	return c
}

// ScriptTransactionReceipt sets the outcomes of successive TransactionReceipt calls.
func (c *ScriptedClient) ScriptTransactionReceipt(rs ...Result[*account.TransactionReceipt]) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txReceipt = script[*account.TransactionReceipt]{results: rs}
	return c
}

// Calls returns how many times call was made.
func (c *ScriptedClient) Calls(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[call]
}

// Submitted returns the requests passed to Submit.
func (c *ScriptedClient) Submitted() []account.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]account.Request(nil), c.submitted...)
}

func (c *ScriptedClient) record(call string) {
	c.mu.Lock()
	c.calls[call]++
	hook := c.OnCall
	c.mu.Unlock()
	if hook != nil {
		hook(call)
	}
}

func (c *ScriptedClient) Submit(ctx context.Context, req account.Request) (account.Submission, error) {
	c.record("submit")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, req)
	def := account.Submission{
		ID:      fmt.Sprintf("0xop%d", len(c.submitted)),
		Request: map[string]any{"sender": req.Owner},
	}
	return c.submit.pop(def)
}

func (c *ScriptedClient) WaitForInclusion(ctx context.Context, id string) (account.Inclusion, error) {
	c.record("wait_inclusion")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inclusion.pop(account.Inclusion{TxHash: "0xtx-" + strings.TrimPrefix(id, "0x")})
}

func (c *ScriptedClient) OperationReceipt(ctx context.Context, id string) (*account.OperationReceipt, error) {
	c.record("operation_receipt")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opReceipt.pop(&account.OperationReceipt{ID: id, Success: true})
}

func (c *ScriptedClient) TransactionReceipt(ctx context.Context, txHash string) (*account.TransactionReceipt, error) {
	c.record("transaction_receipt")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txReceipt.pop(&account.TransactionReceipt{TxHash: txHash, Status: 1, Confirmations: 1})
}

// StubReader is an account.Reader backed by maps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StubReader struct {
	mu       sync.Mutex
	chats    map[string][]string
	eligible map[string]bool
	ReadErr  error
	CheckErr error
	reads    int
	checks   int
}

// NewStubReader creates an empty reader. Unknown counterparts are ineligible.
func NewStubReader() *StubReader {
	return &StubReader{chats: make(map[string][]string), eligible: make(map[string]bool)}
}

// SetChat sets the remote chat between owner and counterpart.
func (r *StubReader) SetChat(owner, counterpart string, msgs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[strings.ToLower(owner+":"+counterpart)] = msgs
}

// SetEligible marks counterpart eligible or not.
func (r *StubReader) SetEligible(counterpart string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eligible[strings.ToLower(counterpart)] = ok
}

// Reads returns how many ReadChat calls were made.
func (r *StubReader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// Checks returns how many Eligible calls were made.
func (r *StubReader) Checks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checks
}

func (r *StubReader) ReadChat(ctx context.Context, owner, counterpart string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.ReadErr != nil {
		return nil, r.ReadErr
	}
	return append([]string(nil), r.chats[strings.ToLower(owner+":"+counterpart)]...), nil
}

func (r *StubReader) Eligible(ctx context.Context, counterpart string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks++
	if r.CheckErr != nil {
		return false, r.CheckErr
	}
	return r.eligible[strings.ToLower(counterpart)], nil
}
