// Package account defines the boundary to the remote account client.
//
// The account client owns the actual remote protocol (bundling, signing,
// sequencing). This package only states what the reliability layer needs from
// it and how its failures are classified:
//
//   - Client: submit requests and poll for inclusion and receipts
//   - Reader: read remote correspondence state and eligibility
//   - Error:  tagged failures (Rejected, RateLimited, Reverted, Transient)
//
// A single long-lived client is constructed at process start and passed
// explicitly to the pipeline and chat service.
package account

import (
	"context"
	"math/big"
)

// RequestKind distinguishes the request shapes the application submits.
type RequestKind string

const (
	// KindTransfer moves value; payload is an ether amount.
	KindTransfer RequestKind = "transfer"
	// KindMessage sends a chat message; payload is the text.
	KindMessage RequestKind = "message"
)

// Request is a request to submit on behalf of Owner.
type Request struct {
	Kind    RequestKind
	Owner   string
	Target  string
	Payload string
}

// Submission is the handle returned once the service accepts a request.
type Submission struct {
	// ID is the operation hash. It is the record's primary key.
	ID string

	// Request is the request as submitted (nonce, call data, gas fields).
	// Values may include *big.Int.
	Request map[string]any
}

// Inclusion reports that the operation was sequenced into a transaction.
type Inclusion struct {
	TxHash string `json:"tx_hash"`
}

// OperationReceipt is the low-level receipt for a user operation.
type OperationReceipt struct {
	ID            string   `json:"id"`
	Success       bool     `json:"success"`
	Reason        string   `json:"reason,omitempty"`
	Nonce         *big.Int `json:"nonce,omitempty"`
	ActualGasCost *big.Int `json:"actual_gas_cost,omitempty"`
	ActualGasUsed *big.Int `json:"actual_gas_used,omitempty"`
	Logs          []string `json:"logs,omitempty"`
}

// TransactionReceipt is the final transaction-level receipt.
type TransactionReceipt struct {
	TxHash        string   `json:"tx_hash"`
	BlockNumber   *big.Int `json:"block_number,omitempty"`
	GasUsed       *big.Int `json:"gas_used,omitempty"`
	Status        uint64   `json:"status"`
	Confirmations int      `json:"confirmations"`
}

// Client submits requests and reports their progress.
//
// Every method may return an *Error; adapters must classify failures.
type Client interface {
	// Submit hands the request to the remote service. It is never retried.
	Submit(ctx context.Context, req Request) (Submission, error)

	// WaitForInclusion blocks until the operation is included in a transaction.
	WaitForInclusion(ctx context.Context, id string) (Inclusion, error)

	// OperationReceipt returns the operation receipt, or nil if not yet available.
	OperationReceipt(ctx context.Context, id string) (*OperationReceipt, error)

	// TransactionReceipt blocks until the transaction receipt is available.
	TransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// Reader reads remote state used by the chat flow.
type Reader interface {
	// ReadChat returns the messages exchanged between owner and counterpart, oldest first.
	ReadChat(ctx context.Context, owner, counterpart string) ([]string, error)

	// Eligible reports whether counterpart can receive messages
	// (the messaging capability is installed on its account).
	Eligible(ctx context.Context, counterpart string) (bool, error)
}
