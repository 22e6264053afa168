package server

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/nmrmix/internal/config"
	apperrors "github.com/copyleftdev/nmrmix/internal/errors"
	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/logging"
	"github.com/copyleftdev/nmrmix/internal/metrics"
	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/annealing"
	"github.com/copyleftdev/nmrmix/internal/optimization/partition"
	"github.com/copyleftdev/nmrmix/internal/optimization/results"
	"github.com/copyleftdev/nmrmix/internal/optimization/scoring"
	"github.com/copyleftdev/nmrmix/internal/store"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
	WithError(err error) *logging.Logger
}

// Job states reported before a run has an outcome.
const (
	StatusPending optimization.Status = "pending"
	StatusRunning optimization.Status = "running"
)

func terminal(s optimization.Status) bool {
	return s != StatusPending && s != StatusRunning
}

// OptimizationState represents the state of an optimization job.
// Fields are guarded by the server's optimizations lock.
type OptimizationState struct {
	ID          string
	Status      optimization.Status
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Progress    float64
	Error       string

	// Latest holds the most recent progress event of every bucket.
	Latest map[string]optimization.Progress

	Parameters optimization.Parameters
	Outcome    *optimization.Outcome
	Report     *results.Report
	Summaries  []results.BucketSummary

	job        *annealing.Job
	stepsTotal map[string]int
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	zlog    *zap.Logger
	params  optimization.Parameters
	library *library.Library
	store   *store.Store
	metrics *metrics.Metrics

	// Optimization state management
	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex // Protects the optimizations map and every state
	wg              sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLibrary sets the library used by requests that do not carry one.
func WithLibrary(lib *library.Library) Option {
	return func(s *Server) { s.library = lib }
}

// WithStore persists every finished run.
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics records run instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new server instance with the given config and logger.
// The optimizer defaults come from cfg.Optimizer.
func NewServer(cfg *config.Config, logger Logger, opts ...Option) (*Server, error) {
	params, err := cfg.Optimizer.Parameters()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		zlog:          logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "optimizer"})),
		params:        params,
		optimizations: make(map[string]*OptimizationState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/results/{id}", s.handleResults)
		r.Delete("/optimization/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// StartRequest is the body of an optimization request. Parameters are
// applied over the server defaults; Library falls back to the server library.
type StartRequest struct {
	Library    *library.Document       `json:"library,omitempty"`
	Parameters json.RawMessage         `json:"parameters,omitempty"`
	Locked     optimization.Assignment `json:"locked,omitempty"`
}

// StartResponse identifies a started job.
type StartResponse struct {
	OptimizationID string              `json:"optimization_id"`
	Status         optimization.Status `json:"status"`
	Buckets        int                 `json:"buckets"`
	Mixtures       int                 `json:"mixtures"`
}

func (s *Server) resolve(req StartRequest) (*library.Library, optimization.Parameters, error) {
	params := s.params
	if len(req.Parameters) > 0 {
		if err := json.Unmarshal(req.Parameters, &params); err != nil {
			return nil, params, apperrors.WithKind(err, apperrors.KindInvalid)
		}
		if err := params.Validate(); err != nil {
			return nil, params, err
		}
	}

	lib := s.library
	if req.Library != nil {
		built, log, err := req.Library.Build()
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindInternal {
				err = apperrors.WithKind(err, apperrors.KindInvalid)
			}
			return nil, params, err
		}
		for _, line := range log {
			s.logger.Warn("ignore region adjusted", map[string]interface{}{"detail": line})
		}
		lib = built
	}
	if lib == nil {
		return nil, params, apperrors.New(apperrors.KindInvalid, "a library is required")
	}
	return lib, params, nil
}

// startOptimization validates the request, builds the initial plan and
// starts the job in the background.
func (s *Server) startOptimization(req StartRequest) (*StartResponse, error) {
	lib, params, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	plan, err := partition.Generate(lib, params, req.Locked, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}

	scorer := scoring.NewScorer(lib, params, s.zlog)
	runnerOpts := []annealing.RunnerOption{
		annealing.WithRunnerLogger(s.zlog),
		annealing.WithWorkers(s.cfg.Optimization.WorkerCount),
		annealing.WithEventBuffer(s.cfg.Optimization.EventBuffer),
	}
	if s.metrics != nil {
		runnerOpts = append(runnerOpts, annealing.WithRunnerRecorder(s.metrics))
	}
	runner, err := annealing.NewRunner(params, scorer, runnerOpts...)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	state := &OptimizationState{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Latest:      make(map[string]optimization.Progress),
		Parameters:  params,
		stepsTotal:  make(map[string]int),
	}
	perIteration := params.Anneal.MaxSteps
	if params.UseRefine {
		perIteration += params.Refine.MaxSteps
	}
	for _, b := range plan.Buckets {
		state.stepsTotal[b.Name] = perIteration * params.Iterations
	}

	s.optimizationsMu.Lock()
	s.pruneLocked(now)
	s.optimizations[state.ID] = state
	state.job = runner.Start(context.Background(), plan)
	s.optimizationsMu.Unlock()

	if s.metrics != nil {
		s.metrics.JobStarted()
	}
	s.logger.Info("Optimization started", map[string]interface{}{
		"optimization_id": state.ID,
		"buckets":         len(plan.Buckets),
		"mixtures":        len(plan.Assignment),
	})

	s.wg.Add(1)
	go s.runOptimization(state, lib, scorer)

	return &StartResponse{
		OptimizationID: state.ID,
		Status:         StatusPending,
		Buckets:        len(plan.Buckets),
		Mixtures:       len(plan.Assignment),
	}, nil
}

// runOptimization follows a job's progress and records its outcome.
func (s *Server) runOptimization(state *OptimizationState, lib *library.Library, scorer *scoring.Scorer) {
	defer s.wg.Done()

	for ev := range state.job.Events() {
		s.optimizationsMu.Lock()
		state.Status = StatusRunning
		state.Latest[ev.Bucket] = ev
		state.Progress = progressOf(state)
		state.LastUpdated = time.Now()
		s.optimizationsMu.Unlock()
	}

	out, err := state.job.Wait()
	var (
		report    *results.Report
		summaries []results.BucketSummary
	)
	if err == nil {
		summaries = results.SummarizeOutcome(out)
		report, err = results.BuildReport(lib, scorer.Fork(), out.Assignment, state.Parameters)
	}

	s.optimizationsMu.Lock()
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
	state.Outcome = out
	state.Report = report
	state.Summaries = summaries
	switch {
	case err != nil:
		state.Status = optimization.StatusFailed
		state.Error = err.Error()
	default:
		state.Status = out.Status
		if out.Status == optimization.StatusCompleted || out.Status == optimization.StatusNotImproved {
			state.Progress = 1
		}
	}
	status := state.Status
	run := s.storedRun(state)
	s.optimizationsMu.Unlock()

	if s.metrics != nil {
		s.metrics.JobFinished(status)
	}
	fields := map[string]interface{}{
		"optimization_id": state.ID,
		"status":          string(status),
	}
	if out != nil {
		fields["initial_score"] = out.Initial.Value
		fields["final_score"] = out.Final.Value
	}
	if err != nil {
		s.logger.WithError(err).Error("Optimization failed", fields)
	} else {
		s.logger.Info("Optimization finished", fields)
	}

	if s.store != nil {
		if err := s.store.Save(context.Background(), run, out); err != nil {
			s.logger.WithError(err).Error("Failed to persist run", fields)
		}
	}
}

// storedRun converts a finished state. Callers hold the lock.
func (s *Server) storedRun(state *OptimizationState) store.Run {
	run := store.Run{
		ID:         state.ID,
		Status:     state.Status,
		Parameters: state.Parameters,
		Error:      state.Error,
		CreatedAt:  state.StartTime,
		FinishedAt: *state.EndTime,
	}
	if state.Outcome != nil {
		run.Initial = state.Outcome.Initial
		run.Final = state.Outcome.Final
	}
	if state.Report != nil {
		run.Mixtures = state.Report.Mixtures
	}
	return run
}

// progressOf averages the completed fraction of every bucket.
func progressOf(state *OptimizationState) float64 {
	if len(state.stepsTotal) == 0 {
		return 0
	}
	var sum float64
	for bucket, total := range state.stepsTotal {
		ev, ok := state.Latest[bucket]
		if !ok || total == 0 {
			continue
		}
		done := ev.Iteration*total/state.Parameters.Iterations + ev.Step
		if ev.Phase == optimization.PhaseRefine {
			done += state.Parameters.Anneal.MaxSteps
		}
		if done > total {
			done = total
		}
		sum += float64(done) / float64(total)
	}
	return sum / float64(len(state.stepsTotal))
}

// pruneLocked forgets finished jobs older than the configured TTL.
func (s *Server) pruneLocked(now time.Time) {
	ttl := s.cfg.Optimization.JobTTL
	if ttl <= 0 {
		return
	}
	for id, st := range s.optimizations {
		if st.EndTime != nil && now.Sub(*st.EndTime) > ttl {
			delete(s.optimizations, id)
		}
	}
}

// StatusResponse reports the state of a job.
type StatusResponse struct {
	OptimizationID string                           `json:"optimization_id"`
	Status         optimization.Status              `json:"status"`
	Progress       float64                          `json:"progress"`
	StartTime      time.Time                        `json:"start_time"`
	LastUpdate     time.Time                        `json:"last_update"`
	EndTime        *time.Time                       `json:"end_time,omitempty"`
	Buckets        map[string]optimization.Progress `json:"buckets,omitempty"`
	Initial        *optimization.Score              `json:"initial,omitempty"`
	Final          *optimization.Score              `json:"final,omitempty"`
	Error          string                           `json:"error,omitempty"`
}

func (s *Server) optimizationStatus(id string) (*StatusResponse, error) {
	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, exists := s.optimizations[id]
	if !exists {
		return nil, apperrors.Errorf(apperrors.KindNotFound, "optimization %s not found", id)
	}

	resp := &StatusResponse{
		OptimizationID: id,
		Status:         state.Status,
		Progress:       state.Progress,
		StartTime:      state.StartTime,
		LastUpdate:     state.LastUpdated,
		EndTime:        state.EndTime,
		Buckets:        make(map[string]optimization.Progress, len(state.Latest)),
		Error:          state.Error,
	}
	for b, p := range state.Latest {
		resp.Buckets[b] = p
	}
	if state.Outcome != nil {
		initial, final := state.Outcome.Initial, state.Outcome.Final
		resp.Initial, resp.Final = &initial, &final
	}
	return resp, nil
}

// ResultsResponse carries the outcome of a finished job.
type ResultsResponse struct {
	OptimizationID string                  `json:"optimization_id"`
	Status         optimization.Status     `json:"status"`
	Initial        optimization.Score      `json:"initial"`
	Final          optimization.Score      `json:"final"`
	Mixtures       []results.MixtureRow    `json:"mixtures"`
	Report         *results.Report         `json:"report,omitempty"`
	Summaries      []results.BucketSummary `json:"summaries,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// optimizationResults returns a finished job from memory or, once pruned,
// from the store.
func (s *Server) optimizationResults(ctx context.Context, id string) (*ResultsResponse, error) {
	s.optimizationsMu.RLock()
	state, exists := s.optimizations[id]
	if exists {
		defer s.optimizationsMu.RUnlock()
		if !terminal(state.Status) {
			return nil, apperrors.Errorf(apperrors.KindConflict, "optimization %s is still %s", id, state.Status)
		}
		resp := &ResultsResponse{
			OptimizationID: id,
			Status:         state.Status,
			Report:         state.Report,
			Summaries:      state.Summaries,
			Error:          state.Error,
		}
		if state.Outcome != nil {
			resp.Initial, resp.Final = state.Outcome.Initial, state.Outcome.Final
		}
		if state.Report != nil {
			resp.Mixtures = state.Report.Mixtures
		}
		return resp, nil
	}
	s.optimizationsMu.RUnlock()

	if s.store == nil {
		return nil, apperrors.Errorf(apperrors.KindNotFound, "optimization %s not found", id)
	}
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ResultsResponse{
		OptimizationID: run.ID,
		Status:         run.Status,
		Initial:        run.Initial,
		Final:          run.Final,
		Mixtures:       run.Mixtures,
		Error:          run.Error,
	}, nil
}

// cancelOptimization requests cooperative cancellation of a running job.
func (s *Server) cancelOptimization(id string) error {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, exists := s.optimizations[id]
	if !exists {
		return apperrors.Errorf(apperrors.KindNotFound, "optimization %s not found", id)
	}
	if terminal(state.Status) {
		return apperrors.Errorf(apperrors.KindConflict, "cannot cancel optimization with status: %s", state.Status)
	}

	state.job.Cancel()
	state.LastUpdated = time.Now()
	s.logger.Info("Optimization cancellation requested", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

// Wait blocks until every job has finished and been recorded.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels every running job and waits for them to be recorded.
func (s *Server) Close() error {
	s.optimizationsMu.Lock()
	ids := make([]string, 0, len(s.optimizations))
	for id, st := range s.optimizations {
		if !terminal(st.Status) {
			st.job.Cancel()
			ids = append(ids, id)
		}
	}
	s.optimizationsMu.Unlock()

	sort.Strings(ids)
	if len(ids) > 0 {
		s.logger.Info("Cancelled running optimizations", map[string]interface{}{"optimization_ids": ids})
	}
	s.wg.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), map[string]interface{}{
		"error": err.Error(),
		"kind":  apperrors.KindOf(err).String(),
	})
}

// handleOptimize handles POST /api/v1/optimize
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.WithKind(err, apperrors.KindInvalid), "invalid request body"))
		return
	}

	resp, err := s.startOptimization(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleStatus handles GET /api/v1/status/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResults handles GET /api/v1/results/{id}
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.optimizationResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/optimization/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "cancellation requested",
	})
}
