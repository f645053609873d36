package tuning

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

func TestReport(t *testing.T) {
	res := &optimization.RunResult{
		State:       optimization.State{"threads": 16, "batch": 20},
		Energy:      0.125,
		Solver:      "prsa",
		Interrupted: true,
		Duration:    1500 * time.Millisecond,
		Stats:       optimization.RunStats{Chains: 8, Steps: 800, Evaluations: 808, Accepted: 120, Migrations: 14},
	}
	r := NewReport(res)

	assert.Equal(t, []Setting{{"batch", 20}, {"threads", 16}}, r.Best)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "Best configuration found: {batch=20, threads=16}")
	assert.Contains(t, out, "Energy: 0.125")
	assert.Contains(t, out, "Solver: prsa")
	assert.Contains(t, out, "interrupted")

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"solver": "prsa",
		"best": [{"name": "batch", "value": 20}, {"name": "threads", "value": 16}],
		"energy": 0.125,
		"interrupted": true,
		"duration_ns": 1500000000,
		"stats": {"chains": 8, "steps": 800, "evaluations": 808, "skipped": 0, "accepted": 120, "migrations": 14}
	}`, string(raw))
}
