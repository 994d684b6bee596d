package account

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes failures reported by the account client.
type Kind string

const (
	// KindRejected means the service refused the request outright.
	// Nothing was submitted, so nothing is tracked.
	KindRejected Kind = "REJECTED"

	// KindRateLimited means the service throttled the call (HTTP 429 or equivalent).
	KindRateLimited Kind = "RATE_LIMITED"

	// KindReverted means the request executed and failed at the application level.
	// Retrying a revert is pointless.
	KindReverted Kind = "REVERTED"

	// KindTransient covers every other remote failure.
	KindTransient Kind = "TRANSIENT"
)

// Error is the structured failure returned by client adapters.
//
// Callers branch on Kind, never on message text. Adapters wrapping SDKs that
// only report strings should convert at the boundary with Classify.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the client call that failed ("submit", "wait_inclusion", ...).
	Op string

	// Detail carries revert data or a remote reason, if any.
	Detail string

	// Err is the underlying error (optional).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Reverted creates a KindReverted error carrying the revert detail.
func Reverted(op, detail string) *Error {
	return &Error{Kind: KindReverted, Op: op, Detail: detail}
}

// KindOf returns the Kind of err, or KindTransient if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindRateLimited
}

// IsReverted reports whether err is an application-level revert.
func IsReverted(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindReverted
}

// IsRejected reports whether err is an outright rejection.
func IsRejected(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindRejected
}

// IsRetryable reports whether polling may be retried after err.
// Reverts and rejections are deterministic and never retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindReverted, KindRejected:
		return false
	default:
		return true
	}
}

// validationSelector is the revert selector the account contract emits when
// user operation validation fails.
const validationSelector = "0xfa06f06e"

// Reason renders a human-readable failure reason for a record.
func Reason(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindReverted {
		if strings.Contains(ae.Detail, validationSelector) {
			return "operation validation failed, possibly a permissions issue"
		}
		if ae.Detail != "" {
			return "operation reverted: " + ae.Detail
		}
		return "operation reverted"
	}
	return err.Error()
}

// Classify converts an untyped SDK error into an *Error.
//
// This is the only place message text is inspected. Errors that are already
// classified pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return NewError(KindRateLimited, op, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return &Error{Kind: KindReverted, Op: op, Detail: revertDetail(err.Error()), Err: err}
	default:
		return NewError(KindTransient, op, err)
	}
}

// revertDetail extracts the first hex blob from a revert message.
func revertDetail(msg string) string {
	idx := strings.Index(msg, "0x")
	if idx < 0 {
		return ""
	}
	end := idx + 2
	for end < len(msg) && isHex(msg[end]) {
		end++
	}
	return msg[idx:end]
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
