package record

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a patch would regress a terminal
// operation or break the proof/reason invariant.
var ErrInvalidTransition = errors.New("invalid status transition")

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status         *Status
	InclusionProof Artifact
	FinalityProof  Artifact
	FailureReason  *string
}

// Complete builds a patch moving an operation to completed.
func Complete(inclusion, finality Artifact) Patch {
	s := StatusCompleted
	return Patch{Status: &s, InclusionProof: inclusion, FinalityProof: finality}
}

// Fail builds a patch moving an operation to failed. Finality may carry
// receipts observed before the failure (e.g. a revert receipt).
func Fail(reason string, finality Artifact) Patch {
	s := StatusFailed
	return Patch{Status: &s, FailureReason: &reason, FinalityProof: finality}
}

// Checkpoint builds a patch recording inclusion on a still-pending operation.
func Checkpoint(inclusion Artifact) Patch {
	return Patch{InclusionProof: inclusion}
}

// Apply returns op with p merged in. op is not modified.
//
// Terminal operations accept no status change. A failed result drops any
// inclusion proof so exactly one of InclusionProof/FailureReason remains.
func (p Patch) Apply(op Operation) (Operation, error) {
	next := op

	if p.Status != nil && *p.Status != op.Status {
		if !p.Status.Valid() {
			return op, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *p.Status)
		}
		if op.Status.Terminal() {
			return op, fmt.Errorf("%w: %s -> %s (id=%s)", ErrInvalidTransition, op.Status, *p.Status, op.ID)
		}
		next.Status = *p.Status
	}
	if p.InclusionProof != nil {
		next.InclusionProof = p.InclusionProof
	}
	if p.FinalityProof != nil {
		next.FinalityProof = p.FinalityProof
	}
	if p.FailureReason != nil {
		next.FailureReason = *p.FailureReason
	}

	switch next.Status {
	case StatusFailed:
		next.InclusionProof = nil
		if next.FailureReason == "" {
			return op, fmt.Errorf("%w: failed without reason (id=%s)", ErrInvalidTransition, op.ID)
		}
	case StatusCompleted:
		next.FailureReason = ""
		if !next.Included() {
			return op, fmt.Errorf("%w: completed without inclusion proof (id=%s)", ErrInvalidTransition, op.ID)
		}
	case StatusPending:
		if next.FailureReason != "" {
			return op, fmt.Errorf("%w: pending with failure reason (id=%s)", ErrInvalidTransition, op.ID)
		}
	}

	return next, nil
}
