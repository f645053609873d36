package server

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/copyleftdev/tundr-anneal/internal/config"
	apierrors "github.com/copyleftdev/tundr-anneal/internal/errors"
	"github.com/copyleftdev/tundr-anneal/internal/logging"
	"github.com/copyleftdev/tundr-anneal/internal/optimization"
	"github.com/copyleftdev/tundr-anneal/internal/optimization/annealing"
	"github.com/copyleftdev/tundr-anneal/internal/tuner"
	"github.com/copyleftdev/tundr-anneal/internal/tuning"
)

// maxDocumentBytes bounds the size of a submitted tuning document.
const maxDocumentBytes = 1 << 20

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// JobStatus is the lifecycle state of a tuning job.
type JobStatus string

// Job statuses. Completed, interrupted and failed are terminal.
const (
	StatusPending     JobStatus = "pending"
	StatusRunning     JobStatus = "running"
	StatusCompleted   JobStatus = "completed"
	StatusInterrupted JobStatus = "interrupted"
	StatusFailed      JobStatus = "failed"
)

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusInterrupted || s == StatusFailed
}

// Progress is the latest step reported by any chain of a running job.
type Progress struct {
	Chain       int      `json:"chain"`
	Step        uint64   `json:"step"`
	MaxSteps    uint64   `json:"max_steps"`
	Fraction    float64  `json:"fraction"`
	Temperature float64  `json:"temperature"`
	Energy      *float64 `json:"energy"`
	BestEnergy  *float64 `json:"best_energy"`
}

// Temperature is the calibrated temperature range of a job.
type Temperature struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Estimated bool    `json:"estimated"`
}

// Result is a finished job's report. Energy is null when no state of the
// run could be evaluated.
type Result struct {
	tuning.Report
	Energy *float64 `json:"energy"`
}

// JobView is the status document returned for a job.
type JobView struct {
	ID          string       `json:"tuning_id"`
	Status      JobStatus    `json:"status"`
	Solver      string       `json:"solver"`
	Workers     int          `json:"workers,omitempty"`
	StartTime   time.Time    `json:"start_time"`
	EndTime     *time.Time   `json:"end_time,omitempty"`
	LastUpdated time.Time    `json:"last_update"`
	Progress    *Progress    `json:"progress,omitempty"`
	Temperature *Temperature `json:"temperature,omitempty"`
	Result      *Result      `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	Stage       string       `json:"stage,omitempty"`
}

// job tracks one tuning run. Its fields are guarded by mu; the progress
// callback writes from solver goroutines.
type job struct {
	mu     sync.Mutex
	view   JobView
	best   float64
	cancel context.CancelFunc
}

func (j *job) snapshot() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := j.view
	if v.Progress != nil {
		p := *v.Progress
		v.Progress = &p
	}
	return v
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.view.Status
}

func (j *job) observe(p annealing.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.BestEnergy < j.best {
		j.best = p.BestEnergy
	}
	var frac float64
	if p.MaxSteps > 0 {
		frac = float64(p.Step) / float64(p.MaxSteps)
	}
	j.view.Progress = &Progress{
		Chain:       p.Chain,
		Step:        p.Step,
		MaxSteps:    p.MaxSteps,
		Fraction:    frac,
		Temperature: p.Temperature,
		Energy:      finite(p.Energy),
		BestEnergy:  finite(j.best),
	}
	j.view.LastUpdated = time.Now()
}

// Option configures a Server.
type Option func(*Server)

// WithTunerOptions sets options applied to the tuner of every job.
func WithTunerOptions(opts ...tuner.Option) Option {
	return func(s *Server) {
		s.tunerOpts = append(s.tunerOpts, opts...)
	}
}

// Server implements the HTTP and JSON-RPC server for the tuning service.
// It manages tuning jobs and provides endpoints to start, monitor, and
// cancel them.
type Server struct {
	cfg       *config.Config
	logger    Logger
	tunerOpts []tuner.Option

	jobs   map[string]*job
	jobsMu sync.RWMutex // Protects the jobs map
	wg     sync.WaitGroup
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tune", s.handleTune)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/tuning/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Start validates a tuning document and launches it as a background job.
func (s *Server) Start(doc []byte) (JobView, error) {
	tc, err := config.ParseTuningYAML(doc)
	if err != nil {
		return JobView{}, err
	}

	s.jobsMu.Lock()
	s.pruneLocked()
	active := 0
	for _, j := range s.jobs {
		if !j.status().Terminal() {
			active++
		}
	}
	if active >= s.cfg.Optimization.MaxJobs {
		s.jobsMu.Unlock()
		return JobView{}, apierrors.Errorf("%d tuning jobs already running", active).
			WithStatus(http.StatusTooManyRequests)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	j := &job{
		view: JobView{
			ID:          uuid.NewString(),
			Status:      StatusPending,
			Solver:      string(tc.Kind()),
			StartTime:   now,
			LastUpdated: now,
		},
		best:   math.Inf(1),
		cancel: cancel,
	}
	s.jobs[j.view.ID] = j
	s.wg.Add(1)
	s.jobsMu.Unlock()

	go s.run(ctx, j, tc)

	s.logger.Info("Tuning job started", map[string]interface{}{
		"tuning_id": j.view.ID,
		"solver":    j.view.Solver,
	})
	return j.snapshot(), nil
}

// Status returns the current view of a job.
func (s *Server) Status(id string) (JobView, error) {
	j, err := s.lookup(id)
	if err != nil {
		return JobView{}, err
	}
	return j.snapshot(), nil
}

// Cancel interrupts a job. The job finishes as interrupted and keeps the
// best configuration found before the interrupt.
func (s *Server) Cancel(id string) error {
	j, err := s.lookup(id)
	if err != nil {
		return err
	}
	if st := j.status(); st.Terminal() {
		return apierrors.Errorf("cannot cancel tuning job with status: %s", st).
			WithStatus(http.StatusConflict)
	}
	j.cancel()

	s.logger.Info("Tuning job cancelled", map[string]interface{}{
		"tuning_id": id,
	})
	return nil
}

func (s *Server) lookup(id string) (*job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apierrors.Errorf("tuning job %s not found", id).WithStatus(http.StatusNotFound)
	}
	return j, nil
}

// pruneLocked drops the oldest finished jobs beyond the retention limit.
// The caller holds jobsMu.
func (s *Server) pruneLocked() {
	type finished struct {
		id  string
		end time.Time
	}
	var done []finished
	for id, j := range s.jobs {
		v := j.snapshot()
		if v.Status.Terminal() && v.EndTime != nil {
			done = append(done, finished{id: id, end: *v.EndTime})
		}
	}
	retain := max(s.cfg.Optimization.RetainJobs, 1)
	if len(done) <= retain {
		return
	}
	slices.SortFunc(done, func(a, b finished) int { return a.end.Compare(b.end) })
	for _, f := range done[:len(done)-retain] {
		delete(s.jobs, f.id)
	}
	s.logger.Debug("Finished tuning jobs pruned", map[string]interface{}{
		"pruned":   len(done) - retain,
		"retained": retain,
	})
}

// run executes a job in its own goroutine.
func (s *Server) run(ctx context.Context, j *job, tc *config.Tuning) {
	defer s.wg.Done()
	defer j.cancel()

	j.mu.Lock()
	j.view.Status = StatusRunning
	j.view.LastUpdated = time.Now()
	id := j.view.ID
	j.mu.Unlock()

	opts := append([]tuner.Option{}, s.tunerOpts...)
	opts = append(opts, tuner.WithProgress(j.observe))
	out, err := tuner.New(opts...).Run(ctx, tc)

	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.view.EndTime = &now
	j.view.LastUpdated = now

	if err != nil {
		j.view.Status = StatusFailed
		if apierrors.Is(err, optimization.ErrInterrupted) {
			j.view.Status = StatusInterrupted
		}
		j.view.Error = err.Error()
		j.view.Stage = tuner.Stage(err)
		s.logger.Error("Tuning job failed", map[string]interface{}{
			"tuning_id": id,
			"stage":     j.view.Stage,
			"error":     err.Error(),
		})
		return
	}

	j.view.Status = StatusCompleted
	if out.Result.Interrupted {
		j.view.Status = StatusInterrupted
	}
	j.view.Workers = out.Workers
	j.view.Temperature = &Temperature{
		Min:       out.Bounds.MinTemp,
		Max:       out.Bounds.MaxTemp,
		Estimated: out.Bounds.Estimated,
	}
	j.view.Result = &Result{Report: out.Report, Energy: finite(out.Report.Energy)}

	s.logger.Info("Tuning job finished", map[string]interface{}{
		"tuning_id": id,
		"status":    string(j.view.Status),
		"energy":    out.Report.Energy,
		"best":      out.Result.State.String(),
	})
}

// Close cancels all running jobs and waits for them to finish.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	for _, j := range s.jobs {
		j.cancel()
	}
	s.jobsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// rpcIDParams carries the job id of tuning.status and tuning.cancel.
type rpcIDParams struct {
	TuningID string `json:"tuning_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes)).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", request.ID)
		return
	}
	if len(request.Params) == 0 {
		s.respondWithError(w, -32602, "Invalid params: missing required parameters", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "tuning.start":
		result, err = s.Start(request.Params[0])
	case "tuning.status":
		var p rpcIDParams
		if err = json.Unmarshal(request.Params[0], &p); err == nil {
			result, err = s.Status(p.TuningID)
		}
	case "tuning.cancel":
		var p rpcIDParams
		if err = json.Unmarshal(request.Params[0], &p); err == nil {
			if err = s.Cancel(p.TuningID); err == nil {
				result = map[string]string{"status": "cancellation requested"}
			}
		}
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		code := -32000
		if apierrors.HTTPStatus(err) == http.StatusBadRequest {
			code = -32602
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Debug("JSON-RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// handleTune handles POST /api/v1/tune. The body is a tuning document in
// YAML or JSON.
func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		apierrors.WriteJSON(w, apierrors.Wrap(err, "cannot read request body").WithStatus(http.StatusBadRequest))
		return
	}

	view, err := s.Start(doc)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancel handles DELETE /api/v1/tuning/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "cancellation requested",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// finite returns nil for infinite or NaN values, which JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
