// Package api is the HTTP front door of the orchestrator. It is deliberately
// thin: handlers validate, enqueue and read; every state transition happens
// in the pipelines. Raw internal errors never reach a caller, only
// {success:false, error} envelopes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/events"
	"github.com/forge-labs/forge/internal/observability"
	"github.com/forge-labs/forge/internal/pipeline/liquiditypipe"
	"github.com/forge-labs/forge/internal/queue"
	"github.com/forge-labs/forge/internal/recommend"
	"github.com/forge-labs/forge/internal/store"
	"github.com/forge-labs/forge/internal/worker"
)

// Options carries every collaborator the server needs.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Stores     store.Stores
	Launch     *queue.Queue
	Liquidity  *queue.Queue
	Risk       *queue.Queue
	Supervisor *worker.Supervisor
	Hub        *events.Hub
	Advisor    recommend.Advisor
	Gate       *liquiditypipe.Advisor
	Health     *observability.HealthMonitor
	Metrics    *observability.Registry // nil disables /metrics
	Logger     zerolog.Logger
}

// Server is the orchestrator's HTTP surface.
type Server struct {
	opts    Options
	bridge  *events.Bridge
	httpSrv *http.Server
	log     zerolog.Logger
	started time.Time
}

// NewServer wires the handler tree. Start actually listens.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:    opts,
		bridge:  events.NewBridge(opts.Hub, opts.Logger),
		log:     opts.Logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can drive the
// server through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/launches", s.submitLaunch)
	mux.HandleFunc("GET /api/v1/launches", s.listLaunches)
	mux.HandleFunc("GET /api/v1/launches/{id}", s.getLaunch)
	mux.HandleFunc("GET /api/v1/launches/{id}/positions", s.listLaunchPositions)
	mux.HandleFunc("GET /api/v1/launches/{id}/alerts", s.listLaunchAlerts)
	mux.HandleFunc("GET /api/v1/launches/{id}/activity", s.listLaunchActivity)
	mux.HandleFunc("POST /api/v1/launches/{id}/assess", s.submitAssessment)

	mux.HandleFunc("POST /api/v1/liquidity", s.submitLiquidity)
	mux.HandleFunc("GET /api/v1/positions", s.listManagedPositions)
	mux.HandleFunc("GET /api/v1/positions/{id}", s.getPosition)
	mux.HandleFunc("POST /api/v1/positions/{id}/rebalance", s.submitRebalance)
	mux.HandleFunc("POST /api/v1/positions/{id}/harvest", s.submitHarvest)
	mux.HandleFunc("POST /api/v1/positions/{id}/close", s.submitClose)

	mux.HandleFunc("GET /api/v1/jobs/{id}", s.getJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", s.cancelJob)

	mux.HandleFunc("POST /api/v1/alerts/{id}/ack", s.acknowledgeAlert)
	mux.HandleFunc("POST /api/v1/recommend", s.recommendLaunch)

	mux.HandleFunc("GET /health", s.healthz)
	mux.HandleFunc("GET /stats", s.stats)
	if s.opts.Metrics != nil {
		exporter := observability.NewPrometheusExporter(s.opts.Metrics)
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			s.syncGauges()
			exporter.ServeHTTP(w, r)
		})
	}
	mux.Handle("GET /ws", s.bridge)

	return s.instrument(mux)
}

// Start listens until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.opts.Addr).Msg("api server started")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// instrument records request latency when metrics are enabled.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.opts.Metrics == nil {
		return next
	}
	hist := s.opts.Metrics.GetHistogram("forge_http_latency_ms")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		hist.Observe(float64(time.Since(start).Microseconds()) / 1000)
	})
}

// syncGauges refreshes scrape-time gauges from the live components.
func (s *Server) syncGauges() {
	m := s.opts.Metrics
	var depth, active float64
	for _, q := range s.queues() {
		st := q.Stats()
		depth += float64(st.Waiting + st.Delayed)
		active += float64(st.Active)
	}
	m.GetGauge("forge_queue_depth").Set(depth)
	m.GetGauge("forge_queue_active").Set(active)

	var busy float64
	if s.opts.Supervisor != nil {
		for _, ps := range s.opts.Supervisor.Stats() {
			busy += float64(ps.InFlight)
		}
	}
	m.GetGauge("forge_worker_busy").Set(busy)
	m.GetGauge("forge_ws_clients").Set(float64(s.bridge.Clients()))
}

func (s *Server) queues() []*queue.Queue {
	return []*queue.Queue{s.opts.Launch, s.opts.Liquidity, s.opts.Risk}
}

// --- launches ---------------------------------------------------------------

type submitLaunchRequest struct {
	Name                string             `json:"name"`
	Symbol              string             `json:"symbol"`
	Category            string             `json:"category"`
	TotalSupply         decimal.Decimal    `json:"total_supply"`
	TargetMarketCapUSD  decimal.Decimal    `json:"target_marketcap_usd"`
	CommunitySize       int                `json:"community_size"`
	PresaleMode         domain.PresaleMode `json:"presale_mode,omitempty"`
	CurveType           domain.CurveType   `json:"curve_type,omitempty"`
	InitialPrice        decimal.Decimal    `json:"initial_price,omitempty"`
	GraduationThreshold decimal.Decimal    `json:"graduation_threshold,omitempty"`
	AntiSniperSeconds   *int               `json:"anti_sniper_seconds,omitempty"`
}

// submitLaunch accepts a launch request, fills unset strategy parameters from
// the recommendation advisor and enqueues the launch job.
func (s *Server) submitLaunch(w http.ResponseWriter, r *http.Request) {
	var req submitLaunchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := s.opts.Advisor.Recommend(recommend.Profile{
		Name:               req.Name,
		Symbol:             req.Symbol,
		Category:           req.Category,
		TargetMarketCapUSD: req.TargetMarketCapUSD,
		CommunitySize:      req.CommunitySize,
	})
	payload := queue.LaunchPayload{
		LaunchID:            uuid.NewString(),
		Name:                req.Name,
		Symbol:              req.Symbol,
		Category:            req.Category,
		TotalSupply:         req.TotalSupply,
		TargetMarketCapUSD:  req.TargetMarketCapUSD,
		PresaleMode:         req.PresaleMode,
		CurveType:           req.CurveType,
		InitialPrice:        req.InitialPrice,
		GraduationThreshold: req.GraduationThreshold,
	}
	if payload.PresaleMode == "" {
		payload.PresaleMode = rec.PresaleMode
	}
	if payload.CurveType == "" {
		payload.CurveType = rec.CurveType
	}
	if payload.InitialPrice.IsZero() {
		payload.InitialPrice = rec.InitialPrice
	}
	if payload.GraduationThreshold.IsZero() {
		payload.GraduationThreshold = rec.GraduationThreshold
	}
	if req.AntiSniperSeconds != nil {
		payload.AntiSniperSeconds = *req.AntiSniperSeconds
	} else {
		payload.AntiSniperSeconds = rec.AntiSniperSeconds
	}

	jobID, ok := s.enqueue(w, r, s.opts.Launch, payload)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"launch_id": payload.LaunchID,
		"job_id":    jobID,
	})
}

func (s *Server) getLaunch(w http.ResponseWriter, r *http.Request) {
	l, err := s.opts.Stores.Launches.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "launch")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// listLaunches filters by status, or resolves a single launch when the
// caller passes a token mint instead.
func (s *Server) listLaunches(w http.ResponseWriter, r *http.Request) {
	if mint := r.URL.Query().Get("mint"); mint != "" {
		l, err := s.opts.Stores.Launches.GetByTokenMint(r.Context(), domain.Address(mint))
		if err != nil {
			writeLookupError(w, err, "launch")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"launches": []*domain.Launch{l}})
		return
	}
	status := domain.LaunchStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.LaunchActive
	}
	launches, err := s.opts.Stores.Launches.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing launches failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"launches": launches})
}

func (s *Server) listLaunchPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.opts.Stores.Positions.ListByLaunch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing positions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) listLaunchAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.opts.Stores.Alerts.ListByLaunch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing alerts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) listLaunchActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.opts.Stores.Activity.ListByLaunch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing activity failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

// submitAssessment enqueues a risk job for an existing launch. The token
// mint comes from the launch record, never from the caller.
func (s *Server) submitAssessment(w http.ResponseWriter, r *http.Request) {
	l, err := s.opts.Stores.Launches.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "launch")
		return
	}
	var req struct {
		Checks []string `json:"checks"`
	}
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, ok := s.enqueue(w, r, s.opts.Risk, queue.RiskPayload{
		LaunchID:  l.ID,
		TokenMint: l.TokenMint,
		Checks:    req.Checks,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job_id": jobID})
}

// --- liquidity --------------------------------------------------------------

func (s *Server) submitLiquidity(w http.ResponseWriter, r *http.Request) {
	var payload queue.AddLiquidityPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, ok := s.enqueue(w, r, s.opts.Liquidity, payload)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job_id": jobID})
}

// listManagedPositions returns the open book under automated management,
// the set the rebalance gate applies to.
func (s *Server) listManagedPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.opts.Stores.Positions.ListAIManaged(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing positions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.opts.Stores.Positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "position")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type rebalanceRequest struct {
	NewRange    domain.PriceRange `json:"new_range"`
	ExpectedAPR float64           `json:"expected_apr"`
	Confidence  float64           `json:"confidence"`
}

// submitRebalance runs AI-managed positions through the advisor gate before
// a job is enqueued; manually managed positions skip the gate.
func (s *Server) submitRebalance(w http.ResponseWriter, r *http.Request) {
	pos, err := s.opts.Stores.Positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "position")
		return
	}
	var req rebalanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if pos.AIManaged {
		allowed, reason := s.opts.Gate.ShouldRebalance(pos, liquiditypipe.Proposal{
			NewRange:    req.NewRange,
			ExpectedAPR: req.ExpectedAPR,
			Confidence:  req.Confidence,
		})
		if !allowed {
			writeJSON(w, http.StatusConflict, map[string]any{
				"success": false,
				"skipped": true,
				"error":   reason,
			})
			return
		}
	}

	jobID, ok := s.enqueue(w, r, s.opts.Liquidity, queue.RebalancePayload{
		PositionID: pos.ID,
		NewRange:   req.NewRange,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job_id": jobID})
}

func (s *Server) submitHarvest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EstimatedGas decimal.Decimal `json:"estimated_gas"`
	}
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, ok := s.enqueue(w, r, s.opts.Liquidity, queue.HarvestPayload{
		PositionID:   r.PathValue("id"),
		EstimatedGas: req.EstimatedGas,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job_id": jobID})
}

func (s *Server) submitClose(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.enqueue(w, r, s.opts.Liquidity, queue.ClosePayload{
		PositionID: r.PathValue("id"),
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job_id": jobID})
}

// --- jobs -------------------------------------------------------------------

type jobStatusResponse struct {
	JobID     string          `json:"job_id"`
	Queue     string          `json:"queue"`
	Type      string          `json:"type"`
	State     queue.State     `json:"state"`
	Attempt   int             `json:"attempt"`
	Progress  int             `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	NotBefore time.Time       `json:"not_before"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// findJob resolves a job id across the three queues.
func (s *Server) findJob(id string) (*queue.Queue, *queue.Job, error) {
	for _, q := range s.queues() {
		if j, err := q.Get(id); err == nil {
			return q, j, nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	q, j, err := s.findJob(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "job")
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:     j.ID,
		Queue:     q.Name(),
		Type:      j.Type,
		State:     j.State,
		Attempt:   j.Attempt,
		Progress:  j.Progress,
		Result:    j.Result,
		Error:     j.Error,
		NotBefore: j.NotBefore,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	q, j, err := s.findJob(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "job")
		return
	}
	if err := q.Cancel(r.Context(), j.ID); err != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot cancel job in state %s", j.State))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": j.ID})
}

// --- alerts and recommendations ---------------------------------------------

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Stores.Alerts.Acknowledge(r.Context(), r.PathValue("id")); err != nil {
		writeLookupError(w, err, "alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) recommendLaunch(w http.ResponseWriter, r *http.Request) {
	var profile recommend.Profile
	if err := decodeBody(r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Advisor.Recommend(profile))
}

// --- operational surface ----------------------------------------------------

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
		return
	}
	health := s.opts.Health.Check(r.Context())
	code := http.StatusOK
	if health.Status == observability.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	queues := make([]queue.Stats, 0, 3)
	for _, q := range s.queues() {
		queues = append(queues, q.Stats())
	}
	var pools []worker.PoolStats
	if s.opts.Supervisor != nil {
		pools = s.opts.Supervisor.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"queues":         queues,
		"pools":          pools,
		"events":         s.opts.Hub.Stats(),
		"ws_clients":     s.bridge.Clients(),
	})
}

// --- plumbing ---------------------------------------------------------------

// enqueue validates and enqueues, writing the error response itself when the
// submission cannot be accepted. The bool reports whether a job was created.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, q *queue.Queue, p queue.Payload) (string, bool) {
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	jobID, err := q.Enqueue(r.Context(), p)
	if err != nil {
		s.log.Error().Str("queue", q.Name()).Str("type", p.JobType()).Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "submission could not be journaled")
		return "", false
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.GetCounter("forge_jobs_enqueued_total").Inc()
	}
	return jobID, true
}

var errEmptyBody = errors.New("request body is empty")

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// writeLookupError maps store errors onto 404 vs 500.
func writeLookupError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "loading "+what+" failed")
}
