package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/campaign-scaler/internal/config"
	"github.com/radiusdt/campaign-scaler/internal/metrics"
	"github.com/radiusdt/campaign-scaler/internal/middleware"
	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/scaling"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"go.uber.org/zap"
)

const healthTimeout = 5 * time.Second

// RuleRunner runs rule sweeps on demand.
type RuleRunner interface {
	Sweep(ctx context.Context, trigger models.Trigger, cadence scaling.Cadence, dryRun bool) (*scaling.SweepSummary, error)
	RunRule(ctx context.Context, ruleID string, dryRun bool) (*scaling.SweepSummary, error)
}

// ScheduleRunner executes due scheduled actions on demand.
type ScheduleRunner interface {
	RunDue(ctx context.Context) (*scaling.ScheduleSummary, error)
}

// HealthCheck pings one backing store.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Rules     RuleRunner
	Schedules ScheduleRunner
	// Logs is the metrics log store that /rule-logs reads from.
	Logs    storage.ExecutionLogReader
	Checks  map[string]HealthCheck
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wraps the manual trigger and read endpoints.
type Server struct {
	rules     RuleRunner
	schedules ScheduleRunner
	logs      storage.ExecutionLogReader
	checks    map[string]HealthCheck
	logger    *zap.Logger
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		rules:     deps.Rules,
		schedules: deps.Schedules,
		logs:      deps.Logs,
		checks:    deps.Checks,
		logger:    deps.Logger,
	}

	auth := middleware.NewAuthMiddleware(deps.Config.Auth, deps.Logger)
	limit := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger, deps.Metrics)

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger).Handler)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics).Handler)

	// Liveness and health
	r.Get("/", s.handleLiveness)
	r.Get("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		r.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Handler)

		// Manual triggers
		r.With(limit.Handler).Post("/run", s.handleRunSchedules)
		r.With(limit.Handler).Post("/run-rules", s.handleRunRules)
		r.With(limit.Handler).Post("/run-rules/{id}", s.handleRunRule)

		// Execution logs
		r.Get("/rule-logs", s.handleRuleLogs)
	})

	return r
}

// ---- Health ----

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok", "service": "campaign-scaler"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	stores := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("store", name), zap.Error(err))
			stores[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		stores[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	s.jsonStatus(w, status, map[string]any{"status": overall, "stores": stores})
}

// ---- Manual triggers ----

// Manual runs are not cancelled when the caller disconnects; a started run
// always writes its logs.

func (s *Server) handleRunSchedules(w http.ResponseWriter, r *http.Request) {
	summary, err := s.schedules.RunDue(context.WithoutCancel(r.Context()))
	if err != nil {
		s.runError(w, "scheduled actions run failed", err)
		return
	}
	s.jsonResponse(w, summary)
}

// handleRunRules sweeps every Hourly rule, and Midnight rules only during the
// configured midnight hour. Rules left out are listed in rules_not_due; use
// /run-rules/{id} to force one.
func (s *Server) handleRunRules(w http.ResponseWriter, r *http.Request) {
	dryRun, ok := s.dryRun(w, r)
	if !ok {
		return
	}

	summary, err := s.rules.Sweep(context.WithoutCancel(r.Context()), models.TriggerManual, scaling.CadenceManual, dryRun)
	if err != nil {
		s.runError(w, "rule sweep failed", err)
		return
	}
	s.jsonResponse(w, summary)
}

func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	dryRun, ok := s.dryRun(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	summary, err := s.rules.RunRule(context.WithoutCancel(r.Context()), id, dryRun)
	if err != nil {
		s.runError(w, "rule run failed", err)
		return
	}
	s.jsonResponse(w, summary)
}

func (s *Server) dryRun(w http.ResponseWriter, r *http.Request) (bool, bool) {
	v := r.URL.Query().Get("dry")
	if v == "" {
		return false, true
	}
	dry, err := strconv.ParseBool(v)
	if err != nil {
		s.errorResponse(w, "invalid dry flag: "+v, http.StatusBadRequest)
		return false, false
	}
	return dry, true
}

func (s *Server) runError(w http.ResponseWriter, msg string, err error) {
	switch {
	case scaling.IsSweepInProgress(err):
		s.errorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, scaling.ErrRuleNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error(msg, zap.Error(err))
		s.errorResponse(w, msg+": "+err.Error(), http.StatusInternalServerError)
	}
}

// ---- Execution logs ----

func (s *Server) handleRuleLogs(w http.ResponseWriter, r *http.Request) {
	q := storage.LogQuery{RuleID: r.URL.Query().Get("rule_id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			s.errorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		q.Limit = limit
	}

	logs, err := s.logs.ListExecutionLogs(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list execution logs", zap.Error(err))
		s.errorResponse(w, "failed to list execution logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []models.RuleExecutionLog{}
	}
	s.jsonResponse(w, map[string]any{"logs": logs, "count": len(logs)})
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	s.jsonStatus(w, code, map[string]string{"error": message})
}
