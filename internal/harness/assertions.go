package harness

import (
	"fmt"
	"strconv"
	"strings"
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

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		switch {
		case event.Error != "":
			fmt.Fprintf(&buf, "  [%d] %s %q -> %s\n", i+1, event.Op, event.Prefix, event.Error)
		case event.LastID != nil:
			fmt.Fprintf(&buf, "  [%d] %s %q -> last_id %d\n", i+1, event.Op, event.Prefix, *event.LastID)
		case event.Designator != "":
			fmt.Fprintf(&buf, "  [%d] %s %q -> %s\n", i+1, event.Op, event.Prefix, event.Designator)
		default:
			fmt.Fprintf(&buf, "  [%d] %s %q -> %v\n", i+1, event.Op, event.Prefix, event.Designators)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %s", i, a.Type, err.Error()))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertUnique:
		return assertUnique(result.Trace)
	case AssertIssuedCount:
		return assertIssuedCount(result, a)
	case AssertContiguous:
		return assertContiguous(result, a)
	case AssertFinalCounter:
		return assertFinalCounter(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertUnique checks that no designator was issued twice across the whole
// trace.
func assertUnique(trace []TraceEvent) error {
	seen := make(map[string]int64)
	check := func(d string, seq int64) error {
		if prev, ok := seen[d]; ok {
			return &AssertionError{
				Type:     AssertUnique,
				Expected: "every designator issued once",
				Actual:   fmt.Sprintf("%s issued at seq %d and seq %d", d, prev, seq),
				Trace:    trace,
			}
		}
		seen[d] = seq
		return nil
	}
	for _, ev := range trace {
		if ev.Op != OpAllocate {
			continue
		}
		if ev.Designator != "" {
			if err := check(ev.Designator, ev.Seq); err != nil {
				return err
			}
		}
		for _, d := range ev.Designators {
			if err := check(d, ev.Seq); err != nil {
				return err
			}
		}
	}
	return nil
}

func assertIssuedCount(result *Result, a Assertion) error {
	got := len(result.issued(a.Prefix))
	if got != a.Count {
		return &AssertionError{
			Type:     AssertIssuedCount,
			Expected: fmt.Sprintf("%d designators for prefix %q", a.Count, a.Prefix),
			Actual:   fmt.Sprintf("%d designators", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertContiguous checks that prefix issued exactly the ids
// from..from+count-1, in any order.
func assertContiguous(result *Result, a Assertion) error {
	issued := result.issued(a.Prefix)
	ids := make(map[int64]bool, len(issued))
	for _, d := range issued {
		id, err := strconv.ParseInt(strings.TrimPrefix(d, a.Prefix), 10, 64)
		if err != nil {
			return fmt.Errorf("designator %q does not end in a decimal id", d)
		}
		ids[id] = true
	}

	var missing []int64
	for i := range int64(a.Count) {
		if !ids[a.From+i] {
			missing = append(missing, a.From+i)
		}
	}
	if len(missing) > 0 || len(issued) != a.Count {
		return &AssertionError{
			Type:     AssertContiguous,
			Expected: fmt.Sprintf("ids %d..%d for prefix %q", a.From, a.From+int64(a.Count)-1, a.Prefix),
			Actual:   fmt.Sprintf("%d designators, missing %v", len(issued), missing),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertFinalCounter(result *Result, a Assertion) error {
	got, ok := result.Counters[a.Prefix]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalCounter,
			Expected: fmt.Sprintf("counter of %q at %d", a.Prefix, a.LastID),
			Actual:   "series not found",
			Trace:    result.Trace,
		}
	}
	if got != a.LastID {
		return &AssertionError{
			Type:     AssertFinalCounter,
			Expected: fmt.Sprintf("counter of %q at %d", a.Prefix, a.LastID),
			Actual:   fmt.Sprintf("counter at %d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}
