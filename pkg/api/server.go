package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/bus"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/cost"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/orchestrator"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/router"
)

// Server is the control API over the orchestrator.
type Server struct {
	cfg         *config.Config
	orch        *orchestrator.Orchestrator
	bus         *bus.Bus
	modelRouter *router.Router
	controller  *cost.Controller
	tracker     *cost.Tracker
	auth        Authorizer

	http *http.Server
}

// NewServer wires the control API. controller and tracker may be nil
// when cost accounting is disabled.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, b *bus.Bus, mr *router.Router, controller *cost.Controller, tracker *cost.Tracker) *Server {
	s := &Server{
		cfg:         cfg,
		orch:        orch,
		bus:         b,
		modelRouter: mr,
		controller:  controller,
		tracker:     tracker,
		auth:        NewStaticAuthorizer(cfg.AuthTokens),
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/builds", func(r chi.Router) {
			r.Post("/", s.handleCreateBuild)
			r.Get("/", s.handleListBuilds)
			r.Get("/{id}", s.handleGetBuild)
			r.Post("/{id}/cancel", s.handleCancelBuild)
			r.Post("/{id}/retry", s.handleRetryBuild)
			r.Post("/{id}/stages/{key}/retry", s.handleRetryStage)
			r.Get("/{id}/events", s.handleEvents)
		})

		r.Route("/costs", func(r chi.Router) {
			r.Get("/", s.handleCostQuery)
			r.Post("/emergency-stop", s.handleEmergencyStop)
			r.Post("/resume", s.handleEmergencyResume)
		})
	})

	return r
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	log.WithComponent("api").Info().Str("addr", s.cfg.ListenAddr).Msg("Control API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// logRequests emits one access log line per request and feeds the API
// metrics, labelled by the matched route pattern.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		log.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

// errorBody is the wire form of an API failure.
type errorBody struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	Stage         string `json:"stage,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func statusFor(kind errdefs.Kind) int {
	switch kind {
	case errdefs.KindValidation:
		return http.StatusBadRequest
	case errdefs.KindUnauthorized:
		return http.StatusUnauthorized
	case errdefs.KindForbidden:
		return http.StatusForbidden
	case errdefs.KindNotFound:
		return http.StatusNotFound
	case errdefs.KindCostDenied:
		return http.StatusPaymentRequired
	case errdefs.KindCancelled:
		return http.StatusConflict
	case errdefs.KindProviderTransient, errdefs.KindProviderUnavailable, errdefs.KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	e := errdefs.AsError(err)
	writeJSON(w, statusFor(e.Kind), errorBody{
		Kind:          string(e.Kind),
		Message:       e.Message,
		Retryable:     e.Retryable,
		Stage:         e.Stage,
		Attempt:       e.Attempt,
		CorrelationID: e.CorrelationID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if s.modelRouter != nil {
		body["providers"] = s.modelRouter.Health()
	}
	if s.controller != nil && s.controller.Stopped() {
		body["emergencyStop"] = true
	}
	writeJSON(w, http.StatusOK, body)
}
