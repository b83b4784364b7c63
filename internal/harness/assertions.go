package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/oplog/internal/model"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// messages of those that failed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertEntryKind:
		return assertEntryKind(result, a)
	case AssertLastIndex:
		return assertLastIndex(result, a)
	case AssertEntryCount:
		return assertEntryCount(result, a)
	case AssertViolation:
		return assertViolation(result, a)
	case AssertConsistent:
		return assertConsistent(result)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertEntryKind checks the kind of the entry stored at a.Index.
func assertEntryKind(result *Result, a Assertion) error {
	for _, r := range result.Records {
		if r.Index != model.OplogIndex(a.Index) {
			continue
		}
		if string(r.Entry.Kind()) == a.Kind {
			return nil
		}
		return &AssertionError{
			Type:     AssertEntryKind,
			Expected: fmt.Sprintf("%s at index %d", a.Kind, a.Index),
			Actual:   fmt.Sprintf("%s at index %d", r.Entry.Kind(), a.Index),
			Trace:    result.Trace,
		}
	}
	return &AssertionError{
		Type:     AssertEntryKind,
		Expected: fmt.Sprintf("%s at index %d", a.Kind, a.Index),
		Actual:   "index not stored",
		Trace:    result.Trace,
	}
}

// assertLastIndex checks the index of the last stored entry. Index 0 means
// the oplog must be empty.
func assertLastIndex(result *Result, a Assertion) error {
	var last uint64
	if n := len(result.Records); n > 0 {
		last = uint64(result.Records[n-1].Index)
	}
	if last != a.Index {
		return &AssertionError{
			Type:     AssertLastIndex,
			Expected: fmt.Sprintf("last index %d", a.Index),
			Actual:   fmt.Sprintf("last index %d", last),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertEntryCount(result *Result, a Assertion) error {
	if len(result.Records) != a.Count {
		return &AssertionError{
			Type:     AssertEntryCount,
			Expected: fmt.Sprintf("%d entries", a.Count),
			Actual:   fmt.Sprintf("%d entries", len(result.Records)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertViolation checks that replay reported a.Code, at a.Index when one
// is given.
func assertViolation(result *Result, a Assertion) error {
	for _, v := range result.State.Violations {
		if string(v.Code) != a.Code {
			continue
		}
		if a.Index == 0 || uint64(v.Index) == a.Index {
			return nil
		}
	}

	expected := a.Code
	if a.Index != 0 {
		expected = fmt.Sprintf("%s at index %d", a.Code, a.Index)
	}
	actual := make([]string, len(result.State.Violations))
	for i, v := range result.State.Violations {
		actual[i] = fmt.Sprintf("%s at index %d", v.Code, uint64(v.Index))
	}
	return &AssertionError{
		Type:     AssertViolation,
		Expected: expected,
		Actual:   fmt.Sprintf("violations: [%s]", strings.Join(actual, ", ")),
		Trace:    result.Trace,
	}
}

func assertConsistent(result *Result) error {
	if n := len(result.State.Violations); n > 0 {
		return &AssertionError{
			Type:     AssertConsistent,
			Expected: "no violations",
			Actual:   fmt.Sprintf("%d violation(s), first: %s", n, result.State.Violations[0].Message),
			Trace:    result.Trace,
		}
	}
	return nil
}
