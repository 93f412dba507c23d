// Package api exposes evaluations, observations, reliability, weights and
// tool administration over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/orchestrator"
	"github.com/sells-group/target-signal/internal/pipeline"
	"github.com/sells-group/target-signal/internal/resilience"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to the pipeline and the orchestrator.
type Server struct {
	pipeline *pipeline.Pipeline
	tools    *orchestrator.Orchestrator
	router   *chi.Mux
}

// NewServer builds the router. tools may be nil, in which case the tool
// routes report every tool as unknown.
func NewServer(p *pipeline.Pipeline, tools *orchestrator.Orchestrator, corsOrigins []string) *Server {
	s := &Server{
		pipeline: p,
		tools:    tools,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware(corsOrigins)
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Get("/health", s.handleHealth)

	r.Post("/observations", s.handleRecordObservation)
	r.Post("/observations/import", s.handleImportObservations)
	r.Get("/observations", s.handleListObservations)

	r.Get("/sources/{field}/reliability", s.handleEvaluateReliability)
	r.Get("/sources/{field}/profiles", s.handleListProfiles)

	r.Post("/evaluations", s.handleEvaluate)
	r.Get("/entities/{entityID}/estimates", s.handleListEstimates)

	r.Get("/weights", s.handleCurrentWeights)
	r.Get("/weights/history", s.handleWeightHistory)
	r.Post("/weights/context", s.handleAdaptWeights)
	r.Post("/weights/learn", s.handleLearnWeights)

	r.Route("/tools", func(r chi.Router) {
		r.Get("/", s.handleListTools)
		r.Get("/stats", s.handleToolStats)
		r.Post("/run-parallel", s.handleRunParallel)
		r.Post("/{toolID}/run", s.handleRunTool)
		r.Post("/{toolID}/enable", s.handleEnableTool)
		r.Post("/{toolID}/disable", s.handleDisableTool)
		r.Put("/{toolID}/weight", s.handleToolWeight)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch resilience.Kind(err) {
	case resilience.KindValidation:
		return http.StatusBadRequest
	case resilience.KindQuota:
		return http.StatusTooManyRequests
	case resilience.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: resilience.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// decode reads a JSON body into v. A missing or malformed body is a
// validation error.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return resilience.NewValidationError("body", "too large")
		}
		return resilience.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

// intQuery reads a non-negative integer query parameter.
func intQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, resilience.NewValidationError(key, "must be a non-negative integer")
	}
	return n, nil
}
