package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocEvent(seq int64, prefix, designator string) TraceEvent {
	return TraceEvent{Seq: seq, Op: OpAllocate, Prefix: prefix, Designator: designator, Attempts: 1}
}

func TestAssertUnique(t *testing.T) {
	ok := []TraceEvent{
		allocEvent(1, "A", "A1"),
		{Seq: 2, Op: OpAllocate, Prefix: "A", Designators: []string{"A2", "A3"}},
	}
	assert.NoError(t, assertUnique(ok))

	dup := append(ok, allocEvent(3, "A", "A2"))
	err := assertUnique(dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A2 issued at seq 2 and seq 3")
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertContiguous(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Seq: 1, Op: OpAllocate, Prefix: "C", Designators: []string{"C3", "C1"}},
		allocEvent(2, "C", "C2"),
		allocEvent(3, "D", "D9"),
	}

	assert.NoError(t, assertContiguous(result, Assertion{Type: AssertContiguous, Prefix: "C", From: 1, Count: 3}))

	err := assertContiguous(result, Assertion{Type: AssertContiguous, Prefix: "C", From: 2, Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing [4]")

	err = assertContiguous(result, Assertion{Type: AssertContiguous, Prefix: "C", From: 1, Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 designators")
}

func TestAssertContiguous_NonNumericSuffix(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{allocEvent(1, "C", "Cx")}

	err := assertContiguous(result, Assertion{Type: AssertContiguous, Prefix: "C", From: 1, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not end in a decimal id")
}

func TestAssertIssuedCount(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		allocEvent(1, "A", "A1"),
		{Seq: 2, Op: OpAllocate, Prefix: "A", Error: "EXHAUSTED"},
		{Seq: 3, Op: OpSeries, Prefix: "A"},
	}

	assert.NoError(t, assertIssuedCount(result, Assertion{Type: AssertIssuedCount, Prefix: "A", Count: 1}))
	assert.Error(t, assertIssuedCount(result, Assertion{Type: AssertIssuedCount, Prefix: "A", Count: 2}))
	assert.NoError(t, assertIssuedCount(result, Assertion{Type: AssertIssuedCount, Prefix: "B", Count: 0}))
}

func TestAssertFinalCounter(t *testing.T) {
	result := NewResult()
	result.Counters["A"] = 7

	assert.NoError(t, assertFinalCounter(result, Assertion{Type: AssertFinalCounter, Prefix: "A", LastID: 7}))

	err := assertFinalCounter(result, Assertion{Type: AssertFinalCounter, Prefix: "A", LastID: 8})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter at 7")

	err = assertFinalCounter(result, Assertion{Type: AssertFinalCounter, Prefix: "B", LastID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "series not found")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{allocEvent(1, "A", "A1")}
	result.Counters["A"] = 1

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertUnique},
		{Type: AssertFinalCounter, Prefix: "A", LastID: 2},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1 (final_counter)")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestMarshalSnapshot(t *testing.T) {
	lastID := int64(3)
	result := NewResult()
	result.Trace = []TraceEvent{
		{Seq: 1, Op: OpAllocate, Prefix: "A", Designator: "A3", ID: 3, Attempts: 2},
		{Seq: 2, Op: OpSeries, Prefix: "A", LastID: &lastID},
	}

	data, err := MarshalSnapshot("snap", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"snap","trace":[{"attempts":2,"designator":"A3","id":3,"op":"allocate","prefix":"A","seq":1},{"last_id":3,"op":"series","prefix":"A","seq":2}]}`,
		string(data))
}
