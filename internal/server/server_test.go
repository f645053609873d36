package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/tundr-anneal/internal/config"
	"github.com/copyleftdev/tundr-anneal/internal/logging"
	"github.com/copyleftdev/tundr-anneal/internal/metrics"
	"github.com/copyleftdev/tundr-anneal/internal/tuner"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "stdout"

	cfg.Optimization.WorkerCount = 3
	cfg.Optimization.MaxJobs = 4

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	})
	require.NoError(t, err)
	return logger
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(cfg, testLogger(t), WithTunerOptions(
		tuner.WithLogger(zaptest.NewLogger(t)),
		tuner.WithRecorder(metrics.New()),
		tuner.WithMaxWorkers(cfg.Optimization.WorkerCount),
	))
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

const rastriginDoc = `
solver: mir
min_temp: 0.001
max_steps: 600
workers: 8
seed: 5
explore_unvisited: false
problem:
  type: rastrigin
  parameters:
    - {name: x, range: {min: -3, max: 3}, initial: 3}
    - {name: y, range: {min: -3, max: 3}, initial: -3}
`

// slowDoc evaluates a shell benchmark that sleeps, so a job stays running
// long enough to be observed and cancelled.
const slowDoc = `
solver: seqsa
min_temp: 0.01
max_temp: 1
max_steps: 100000
seed: 3
problem:
  parameters:
    - {name: a, range: {min: 1, max: 1000}}
  benchmark:
    command: sh
    args: ["-c", "sleep 0.02; echo $TUNE_A"]
    reference: 500
`

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) JobView {
	t.Helper()
	var v JobView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func waitFor(t *testing.T, srv *Server, id string, cond func(JobView) bool) JobView {
	t.Helper()
	var last JobView
	require.Eventually(t, func() bool {
		v, err := srv.Status(id)
		if err != nil {
			return false
		}
		last = v
		return cond(v)
	}, 20*time.Second, 10*time.Millisecond)
	return last
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/tune", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/tuning/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false}, // Not registered by server package
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := do(t, r, tt.method, tt.path, "")
			// Routes answer with JSON errors; chi's own 404 is plain text.
			routed := strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json")
			assert.Equal(t, tt.shouldExist, routed, "status %d", rr.Code)
		})
	}
}

func TestTuneLifecycle(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/api/v1/tune", rastriginDoc)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	started := decodeView(t, rr)
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "mir", started.Solver)

	done := waitFor(t, srv, started.ID, func(v JobView) bool { return v.Status.Terminal() })
	require.Equal(t, StatusCompleted, done.Status, done.Error)

	rr = do(t, r, http.MethodGet, "/api/v1/status/"+started.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	v := decodeView(t, rr)

	require.NotNil(t, v.Result)
	require.NotNil(t, v.Result.Energy)
	assert.InDelta(t, 0, *v.Result.Energy, 1e-9)
	require.Len(t, v.Result.Best, 2)
	assert.Equal(t, "x", v.Result.Best[0].Name)
	assert.Equal(t, 0, v.Result.Best[0].Value)
	assert.Equal(t, 0, v.Result.Best[1].Value)

	assert.Equal(t, 3, v.Workers, "workers clamp to the configured limit")
	require.NotNil(t, v.Temperature)
	assert.True(t, v.Temperature.Estimated)
	require.NotNil(t, v.Progress)
	assert.Equal(t, uint64(600), v.Progress.MaxSteps)
	assert.NotNil(t, v.EndTime)

	rr = do(t, r, http.MethodDelete, "/api/v1/tuning/"+started.ID, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestTuneAcceptsJSON(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	doc := `{"solver": "seqsa", "min_temp": 0.001, "max_steps": 50, "seed": 1,
		"problem": {"type": "griewank", "parameters": [{"name": "x", "values": [-2, -1, 0, 1, 2]}]}}`
	rr := do(t, r, http.MethodPost, "/api/v1/tune", doc)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	v := waitFor(t, srv, decodeView(t, rr).ID, func(v JobView) bool { return v.Status.Terminal() })
	assert.Equal(t, StatusCompleted, v.Status, v.Error)
}

func TestTuneRejectsInvalidDocument(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown solver", "solver: anneal\nproblem: {type: rastrigin, parameters: [{name: x, values: [1]}]}"},
		{"unknown key", "solvr: mir\n"},
		{"no parameters", "problem: {type: rastrigin}"},
		{"benchmark without command", "problem: {parameters: [{name: x, values: [1]}]}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/api/v1/tune", tt.doc)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Contains(t, body["error"], "invalid configuration")
		})
	}
}

func TestStatusUnknownJob(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodGet, "/api/v1/status/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, r, http.MethodDelete, "/api/v1/tuning/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelKeepsBestSoFar(t *testing.T) {
	requireShell(t)
	srv, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/api/v1/tune", slowDoc)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := decodeView(t, rr).ID

	waitFor(t, srv, id, func(v JobView) bool { return v.Progress != nil && v.Progress.Step >= 2 })

	rr = do(t, r, http.MethodDelete, "/api/v1/tuning/"+id, "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	v := waitFor(t, srv, id, func(v JobView) bool { return v.Status.Terminal() })
	assert.Equal(t, StatusInterrupted, v.Status)
	require.NotNil(t, v.Result)
	assert.True(t, v.Result.Interrupted)
	assert.Len(t, v.Result.Best, 1)
	assert.Less(t, v.Progress.Step, uint64(100000))
}

func TestMaxJobs(t *testing.T) {
	requireShell(t)
	cfg := testConfig(t)
	cfg.Optimization.MaxJobs = 1
	srv, r := newTestServer(t, cfg)

	rr := do(t, r, http.MethodPost, "/api/v1/tune", slowDoc)
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decodeView(t, rr).ID

	rr = do(t, r, http.MethodPost, "/api/v1/tune", slowDoc)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	require.NoError(t, srv.Cancel(id))
	waitFor(t, srv, id, func(v JobView) bool { return v.Status.Terminal() })

	rr = do(t, r, http.MethodPost, "/api/v1/tune", slowDoc)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestFinishedJobsArePruned(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.RetainJobs = 2
	srv, r := newTestServer(t, cfg)

	var ids []string
	for i := 0; i < 4; i++ {
		rr := do(t, r, http.MethodPost, "/api/v1/tune", rastriginDoc)
		require.Equal(t, http.StatusAccepted, rr.Code)
		id := decodeView(t, rr).ID
		waitFor(t, srv, id, func(v JobView) bool { return v.Status.Terminal() })
		ids = append(ids, id)
	}

	// The fourth start dropped the oldest of three finished jobs.
	rr := do(t, r, http.MethodGet, "/api/v1/status/"+ids[0], "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	for _, id := range ids[1:] {
		rr = do(t, r, http.MethodGet, "/api/v1/status/"+id, "")
		assert.Equal(t, http.StatusOK, rr.Code, id)
	}
}

func TestCloseInterruptsJobs(t *testing.T) {
	requireShell(t)
	srv, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/api/v1/tune", slowDoc)
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decodeView(t, rr).ID

	require.NoError(t, srv.Close())

	v, err := srv.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, v.Status)
}

func rpc(t *testing.T, h http.Handler, method string, params ...interface{}) map[string]interface{} {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	return resp
}

func rpcError(t *testing.T, resp map[string]interface{}) (float64, string) {
	t.Helper()
	e, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "expected an error response, got %v", resp)
	return e["code"].(float64), e["message"].(string)
}

func TestJSONRPC(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	doc := map[string]interface{}{
		"solver":    "prsa",
		"min_temp":  0.001,
		"max_steps": 200,
		"workers":   2,
		"seed":      9,
		"problem": map[string]interface{}{
			"type": "rastrigin",
			"parameters": []map[string]interface{}{
				{"name": "x", "range": map[string]int{"min": -2, "max": 2}},
			},
		},
	}
	resp := rpc(t, r, "tuning.start", doc)
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok, "%v", resp)
	id, _ := result["tuning_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, 7.0, resp["id"])

	waitFor(t, srv, id, func(v JobView) bool { return v.Status.Terminal() })

	resp = rpc(t, r, "tuning.status", map[string]string{"tuning_id": id})
	result, ok = resp["result"].(map[string]interface{})
	require.True(t, ok, "%v", resp)
	assert.Equal(t, string(StatusCompleted), result["status"])
	assert.Equal(t, "prsa", result["solver"])

	code, msg := rpcError(t, rpc(t, r, "tuning.cancel", map[string]string{"tuning_id": "nope"}))
	assert.Equal(t, -32000.0, code)
	assert.Contains(t, msg, "not found")

	code, _ = rpcError(t, rpc(t, r, "tuning.start", map[string]string{"solver": "nope"}))
	assert.Equal(t, -32602.0, code)

	code, _ = rpcError(t, rpc(t, r, "tuning.status"))
	assert.Equal(t, -32602.0, code)

	code, _ = rpcError(t, rpc(t, r, "optimization.start", doc))
	assert.Equal(t, -32601.0, code)
}

func TestJSONRPCMalformed(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/rpc", "{")
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	code, _ := rpcError(t, resp)
	assert.Equal(t, -32700.0, code)

	rr = do(t, r, http.MethodPost, "/rpc", `{"jsonrpc": "1.0", "id": 1, "method": "tuning.status"}`)
	resp = nil
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	code, _ = rpcError(t, resp)
	assert.Equal(t, -32600.0, code)
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))

	rr := httptest.NewRecorder()
	srv.respondWithError(rr, -32000, "server error", "123")

	assert.Equal(t, http.StatusOK, rr.Code)
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	errObj, ok := response["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, -32000.0, errObj["code"])
	assert.Equal(t, "server error", errObj["message"])
	assert.Equal(t, "123", response["id"])
}
