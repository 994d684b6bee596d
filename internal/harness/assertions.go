package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/userops/internal/codec"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, describe(event))
		}
	}
	return buf.String()
}

func describe(e TraceEvent) string {
	switch e.Type {
	case EventRetry:
		return fmt.Sprintf("retry %s attempt=%d kind=%s rate_limited=%t", e.Call, e.Attempt, e.ErrorKind, e.RateLimited)
	case EventResult:
		if e.Rejected {
			return "result rejected"
		}
		return fmt.Sprintf("result %s %s", e.ID, e.Status)
	default:
		return "call " + e.Call
	}
}

// matches reports whether event passes the assertion's filters.
func matches(event TraceEvent, a Assertion) bool {
	want := a.Event
	if want == "" {
		want = EventCall
	}
	if event.Type != want || event.Call != a.Call {
		return false
	}
	if a.ErrorKind != "" && event.ErrorKind != a.ErrorKind {
		return false
	}
	if a.RateLimited != nil && event.RateLimited != *a.RateLimited {
		return false
	}
	return true
}

func filterString(a Assertion) string {
	s := a.Call
	if a.Event != "" && a.Event != EventCall {
		s = a.Event + " " + s
	}
	if a.ErrorKind != "" {
		s += " kind=" + a.ErrorKind
	}
	if a.RateLimited != nil {
		s += fmt.Sprintf(" rate_limited=%t", *a.RateLimited)
	}
	return s
}

// assertTraceContains checks that some event passes the assertion's filters.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: filterString(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that calls first appear in the specified order.
// Calls don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventCall {
			continue
		}
		if _, seen := positions[event.Call]; !seen {
			positions[event.Call] = i + 1 // 1-indexed for readability
		}
	}

	for _, call := range assertion.Calls {
		if positions[call] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all calls present: %v", assertion.Calls),
				Actual:   fmt.Sprintf("missing call: %s", call),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Calls); i++ {
		prev, curr := assertion.Calls[i-1], assertion.Calls[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", assertion.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events pass the filters.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, filterString(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the persisted form of the operation with
// assertion.ID against the expected fields, using subset semantics.
func assertFinalState(result *Result, assertion Assertion) error {
	op, ok := result.Operation(assertion.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("operation %s", assertion.ID),
			Actual:   "not found",
		}
	}

	data, err := codec.Marshal(op)
	if err != nil {
		return fmt.Errorf("final_state: encode %s: %w", op.ID, err)
	}
	var actual map[string]any
	if err := json.Unmarshal(data, &actual); err != nil {
		return fmt.Errorf("final_state: decode %s: %w", op.ID, err)
	}

	for key, expected := range assertion.Expect {
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", op.ID, key, expected),
				Actual:   "field absent",
			}
		}
		if !subsetEqual(got, expected) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", op.ID, key, expected),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// subsetEqual compares a decoded JSON value against a YAML-decoded expected
// value. Maps match when every expected key matches; numbers compare by value.
func subsetEqual(actual, expected any) bool {
	if em, ok := expected.(map[string]any); ok {
		am, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range em {
			av, exists := am[k]
			if !exists || !subsetEqual(av, ev) {
				return false
			}
		}
		return true
	}

	if ef, ok := toFloat(expected); ok {
		af, ok := toFloat(actual)
		return ok && af == ef
	}
	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
