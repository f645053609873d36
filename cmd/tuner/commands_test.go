package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

const document = `
solver: seqsa
min_temp: 0.001
max_steps: 800
seed: 21
explore_unvisited: false
problem:
  type: rastrigin
  parameters:
    - {name: x, range: {min: -4, max: 4}, initial: 4}
    - {name: y, range: {min: -4, max: 4}, initial: -4}
`

func writeDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunPrintsBestConfiguration(t *testing.T) {
	code, out, errOut := run(t, "run", "--config", writeDoc(t, document))
	require.Equal(t, exitOK, code, errOut)

	assert.Contains(t, out, "Best configuration found: {x=0, y=0}")
	assert.Contains(t, out, "Energy: 0")
	assert.Contains(t, out, "Solver: seqsa")
}

func TestRunReadsConfigFromEnvironment(t *testing.T) {
	t.Setenv("TUNER_CONFIG", writeDoc(t, document))
	code, out, errOut := run(t, "run")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Best configuration found")
}

func TestCalibrate(t *testing.T) {
	code, out, errOut := run(t, "calibrate", "-c", writeDoc(t, document))
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "min_temp: 0.001")
	assert.Contains(t, out, "estimated, 10 samples")

	code, out, _ = run(t, "calibrate", "-c", writeDoc(t, document+"max_temp: 2.5\n"))
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "max_temp: 2.5 (supplied")
}

func TestExitCodes(t *testing.T) {
	code, _, errOut := run(t, "run", "-c", writeDoc(t, "solver: annealing\n"))
	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, errOut, "not a valid value")

	code, _, _ = run(t, "run", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, exitFailure, code)

	code, _, _ = run(t, "bogus")
	assert.Equal(t, exitFailure, code)

	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("search: %w", optimization.ErrInterrupted)))
	assert.Equal(t, exitInvalid, exitCode(optimization.NewError(optimization.ErrInvalidConfig, "bad")))
	assert.Equal(t, exitFailure, exitCode(optimization.ErrCalibration))
}
