package harness

// TraceEvent is one observed outcome.
type TraceEvent struct {
	Seq         int64    `json:"seq"`
	Op          string   `json:"op"`
	Prefix      string   `json:"prefix"`
	Designator  string   `json:"designator,omitempty"`
	Designators []string `json:"designators,omitempty"`
	ID          int64    `json:"id,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
	LastID      *int64   `json:"last_id,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all step outcomes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Counters holds the final last_id of every series the flow touched.
	Counters map[string]int64 `json:"counters,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Counters: make(map[string]int64),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// issued returns every designator the trace recorded for prefix, in trace
// order.
func (r *Result) issued(prefix string) []string {
	var out []string
	for _, e := range r.Trace {
		if e.Op != OpAllocate || e.Prefix != prefix {
			continue
		}
		if e.Designator != "" {
			out = append(out, e.Designator)
		}
		out = append(out, e.Designators...)
	}
	return out
}
