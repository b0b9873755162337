package harness

// Trace event kinds not named after a step.
const (
	KindWrite = "write"
)

// TraceEvent records one step or one remote bulk write.
type TraceEvent struct {
	Step   int    `json:"step"`
	Kind   string `json:"kind"`
	Type   string `json:"type,omitempty"`
	ID     string `json:"id,omitempty"`
	Tx     string `json:"tx,omitempty"`
	V      int64  `json:"v,omitempty"`
	Rows   int    `json:"rows,omitempty"`
	Synced int64  `json:"synced,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

// Writes returns the write events of the trace.
func (r *Result) Writes() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Kind == KindWrite {
			out = append(out, e)
		}
	}
	return out
}
