package harness

import (
	"fmt"
	"strings"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/ir"
)

// AssertionError describes one failed assertion with enough context to
// debug it without re-running the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s\n  expected: %s\n  actual: %s", e.Type, e.Expected, e.Actual)
}

func assertOne(res *Result, a Assertion) error {
	switch a.Type {
	case "status":
		return assertStatus(res, a)
	case "final_state":
		return assertFinalState(res, a)
	case "trace_count":
		return assertTraceCount(res, a)
	case "trace_order":
		return assertTraceOrder(res, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertStatus(res *Result, a Assertion) error {
	want, ok := a.Value.(string)
	if !ok {
		return fmt.Errorf("status assertion needs a string value")
	}
	if string(res.LastResult.Status) != want {
		return &AssertionError{
			Type:     "status",
			Expected: want,
			Actual:   string(res.LastResult.Status),
		}
	}
	return nil
}

// assertFinalState checks one snapshot path against an expected value.
// Objects compare as subsets: extra keys in the snapshot are fine.
func assertFinalState(res *Result, a Assertion) error {
	actual, ok := res.FinalSnapshot.Lookup(a.Path)
	if !ok {
		actual = ir.Null{}
	}

	expected, err := ir.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("final_state %q: bad expected value: %w", a.Path, err)
	}

	if !subsetMatch(expected, actual) {
		return &AssertionError{
			Type:     "final_state",
			Expected: fmt.Sprintf("%s = %v", a.Path, ir.ToGo(expected)),
			Actual:   fmt.Sprintf("%v", ir.ToGo(actual)),
		}
	}
	return nil
}

func assertTraceCount(res *Result, a Assertion) error {
	actual := 0
	for _, ev := range res.Trace {
		if matchEvent(ev, a.Event) {
			actual++
		}
	}
	if actual != a.Count {
		return &AssertionError{
			Type:     "trace_count",
			Expected: fmt.Sprintf("%d events matching %q", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d", actual),
		}
	}
	return nil
}

// assertTraceOrder checks that event descriptors appear in the given
// relative order. Intervening events are allowed.
func assertTraceOrder(res *Result, a Assertion) error {
	i := 0
	for _, ev := range res.Trace {
		if i < len(a.Events) && matchEvent(ev, a.Events[i]) {
			i++
		}
	}
	if i != len(a.Events) {
		return &AssertionError{
			Type:     "trace_order",
			Expected: strings.Join(a.Events, " -> "),
			Actual:   fmt.Sprintf("matched %d of %d in order", i, len(a.Events)),
		}
	}
	return nil
}

// matchEvent matches "compute", "effect", or "effect:<type>".
func matchEvent(ev engine.TraceEvent, descriptor string) bool {
	if descriptor == ev.Type {
		return true
	}
	effectType, ok := strings.CutPrefix(descriptor, "effect:")
	if !ok || ev.Type != engine.TraceEffect {
		return false
	}
	s, _ := ev.Payload["effect_type"].(ir.String)
	return string(s) == effectType
}

// subsetMatch reports whether actual contains expected: objects match
// key-by-key recursively, everything else compares structurally.
func subsetMatch(expected, actual ir.Value) bool {
	expObj, expIsObj := expected.(ir.Object)
	actObj, actIsObj := actual.(ir.Object)
	if expIsObj && actIsObj {
		for k, v := range expObj {
			av, ok := actObj[k]
			if !ok || !subsetMatch(v, av) {
				return false
			}
		}
		return true
	}

	ce, err1 := ir.MarshalCanonical(expected)
	ca, err2 := ir.MarshalCanonical(actual)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ce) == string(ca)
}
