package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/replay"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one line per operation, then one per committed entry
	// read back after close, then the verification outcome.
	Trace []string `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Records is the committed oplog read back after close.
	Records []oplog.Record `json:"-"`

	// State is the replay state of Records.
	State replay.State `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Tracef appends a trace line.
func (r *Result) Tracef(format string, args ...any) {
	r.Trace = append(r.Trace, fmt.Sprintf(format, args...))
}

// Render is the text form compared against golden files.
func (r *Result) Render(name string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, line := range r.Trace {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
