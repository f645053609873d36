package tuning

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// Setting is one parameter of a reported configuration.
type Setting struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Report is the presentable form of a run result.
type Report struct {
	Solver      string                `json:"solver"`
	Best        []Setting             `json:"best"`
	Energy      float64               `json:"energy"`
	Interrupted bool                  `json:"interrupted"`
	Duration    time.Duration         `json:"duration_ns"`
	Stats       optimization.RunStats `json:"stats"`
}

// NewReport builds a report with settings in name order.
func NewReport(res *optimization.RunResult) Report {
	r := Report{
		Solver:      res.Solver,
		Energy:      res.Energy,
		Interrupted: res.Interrupted,
		Duration:    res.Duration,
		Stats:       res.Stats,
	}
	for _, k := range res.State.Keys() {
		r.Best = append(r.Best, Setting{Name: k, Value: res.State[k]})
	}
	return r
}

// WriteText writes the human-readable summary printed by the CLI.
func (r Report) WriteText(w io.Writer) error {
	rule := strings.Repeat("-", 72)
	parts := make([]string, len(r.Best))
	for i, s := range r.Best {
		parts[i] = fmt.Sprintf("%s=%d", s.Name, s.Value)
	}
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Best configuration found: {%s}\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, "Energy: %g\n", r.Energy)
	fmt.Fprintf(&b, "Solver: %s  steps=%d evaluations=%d skipped=%d accepted=%d migrations=%d  (%s)\n",
		r.Solver, r.Stats.Steps, r.Stats.Evaluations, r.Stats.Skipped, r.Stats.Accepted, r.Stats.Migrations,
		r.Duration.Round(time.Millisecond))
	if r.Interrupted {
		fmt.Fprintln(&b, "Run was interrupted; this is the best configuration seen before the interrupt.")
	}
	fmt.Fprintln(&b, rule)
	_, err := io.WriteString(w, b.String())
	return err
}
