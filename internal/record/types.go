package record

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a tracked operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Kind is the request shape an operation was submitted with.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindMessage  Kind = "message"
)

// Artifact is an opaque proof or request snapshot.
// Values must already be normalized (no arbitrary-precision numbers).
type Artifact map[string]any

// Operation is a request submitted on behalf of Owner and tracked until terminal.
type Operation struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Target         string    `json:"target"`
	Kind           Kind      `json:"kind"`
	Payload        string    `json:"payload"`
	SubmittedAt    time.Time `json:"submitted_at"`
	Status         Status    `json:"status"`
	Request        Artifact  `json:"request,omitempty"`
	InclusionProof Artifact  `json:"inclusion_proof,omitempty"`
	FinalityProof  Artifact  `json:"finality_proof,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
}

// NewPending creates a pending operation stamped at now.
func NewPending(id, owner, target string, kind Kind, payload string, now time.Time) Operation {
	return Operation{
		ID:          id,
		Owner:       owner,
		Target:      target,
		Kind:        kind,
		Payload:     payload,
		SubmittedAt: now.UTC(),
		Status:      StatusPending,
	}
}

// Included reports whether inclusion has been observed.
func (o Operation) Included() bool {
	return len(o.InclusionProof) > 0
}

// Historical is a record sourced from an external history query.
// It never carries proofs or a failure reason.
type Historical struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Source identifies where a timeline entry came from.
type Source string

const (
	SourceLocal      Source = "local"
	SourceHistorical Source = "historical"
	SourceChat       Source = "chat"
)

// Entry is one row of the merged timeline.
type Entry struct {
	ID            string    `json:"id"`
	Target        string    `json:"target"`
	Payload       string    `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
	Status        Status    `json:"status"`
	Source        Source    `json:"source"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// Entry projects the operation's observable fields.
func (o Operation) Entry() Entry {
	return Entry{
		ID:            o.ID,
		Target:        o.Target,
		Payload:       o.Payload,
		Timestamp:     o.SubmittedAt,
		Status:        o.Status,
		Source:        SourceLocal,
		FailureReason: o.FailureReason,
	}
}

// Entry projects the historical record.
func (h Historical) Entry() Entry {
	return Entry{
		ID:        h.ID,
		Target:    h.Target,
		Payload:   h.Payload,
		Timestamp: h.Timestamp,
		Status:    h.Status,
		Source:    SourceHistorical,
	}
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
