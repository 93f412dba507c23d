package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/observation"
	"github.com/sells-group/target-signal/internal/orchestrator"
	"github.com/sells-group/target-signal/internal/resilience"
	"github.com/sells-group/target-signal/internal/weights"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type observationRequest struct {
	EntityID   string    `json:"entity_id"`
	Field      string    `json:"field"`
	Value      any       `json:"value"`
	SourceName string    `json:"source_name"`
	ObservedAt time.Time `json:"observed_at"`
}

func (s *Server) handleRecordObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	obs, err := s.pipeline.Observations().RecordObservation(r.Context(), req.EntityID, req.Field, req.Value, req.SourceName, req.ObservedAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, obs)
}

type importRequest struct {
	Observations []observation.Input `json:"observations"`
}

func (s *Server) handleImportObservations(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	obs, err := s.pipeline.Observations().Import(r.Context(), req.Observations)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": len(obs)})
}

func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	obs, err := s.pipeline.Observations().List(r.Context(), model.ObservationFilter{
		EntityID:   q.Get("entity_id"),
		Field:      q.Get("field"),
		SourceName: q.Get("source_name"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if obs == nil {
		obs = []model.Observation{}
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleEvaluateReliability(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.pipeline.Reliability().EvaluateSourceReliability(r.Context(), chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(profiles))
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.pipeline.Reliability().Profiles(r.Context(), chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(profiles))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req model.EvaluationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.pipeline.Evaluate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEstimates(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ests, err := s.pipeline.Estimates(r.Context(), chi.URLParam(r, "entityID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ests))
}

func (s *Server) handleCurrentWeights(w http.ResponseWriter, r *http.Request) {
	wv, err := s.pipeline.Weights().Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wv)
}

func (s *Server) handleWeightHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	h, err := s.pipeline.Weights().History(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h))
}

// weightsResponse reports the vector in effect after an adaptation.
type weightsResponse struct {
	Weights *model.WeightVector `json:"weights"`
	Changed bool                `json:"changed"`
}

func (s *Server) handleAdaptWeights(w http.ResponseWriter, r *http.Request) {
	var c weights.Context
	if err := decode(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	wv, changed, err := s.pipeline.AdaptWeights(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weightsResponse{Weights: wv, Changed: changed})
}

func (s *Server) handleLearnWeights(w http.ResponseWriter, r *http.Request) {
	wv, changed, err := s.pipeline.LearnWeights(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weightsResponse{Weights: wv, Changed: changed})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusOK, []model.ToolMeta{})
		return
	}
	writeJSON(w, http.StatusOK, s.tools.Registry().List())
}

func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusOK, []orchestrator.ToolStats{})
		return
	}
	writeJSON(w, http.StatusOK, s.tools.Stats())
}

type runToolRequest struct {
	Params      map[string]any `json:"params"`
	UseCache    *bool          `json:"use_cache,omitempty"`
	TimeoutSecs int            `json:"timeout_secs,omitempty"`
}

func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "toolID")
	var req runToolRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if s.tools == nil {
		writeError(w, r, unknownTool(toolID))
		return
	}

	opts := []orchestrator.CallOption{orchestrator.WithCache(req.UseCache == nil || *req.UseCache)}
	if req.TimeoutSecs > 0 {
		opts = append(opts, orchestrator.WithTimeout(time.Duration(req.TimeoutSecs)*time.Second))
	}
	res, err := s.tools.RunTool(r.Context(), toolID, req.Params, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type runParallelRequest struct {
	Calls      []model.ToolCall `json:"calls"`
	MaxWorkers int              `json:"max_workers,omitempty"`
}

func (s *Server) handleRunParallel(w http.ResponseWriter, r *http.Request) {
	var req runParallelRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Calls) == 0 {
		writeError(w, r, resilience.NewValidationError("calls", "must not be empty"))
		return
	}
	if s.tools == nil {
		writeError(w, r, unknownTool(req.Calls[0].ToolID))
		return
	}
	writeJSON(w, http.StatusOK, s.tools.RunToolsParallel(r.Context(), req.Calls, req.MaxWorkers))
}

func (s *Server) handleEnableTool(w http.ResponseWriter, r *http.Request) {
	s.adminTool(w, r, func(o *orchestrator.Orchestrator, id string) error { return o.EnableTool(id) })
}

func (s *Server) handleDisableTool(w http.ResponseWriter, r *http.Request) {
	s.adminTool(w, r, func(o *orchestrator.Orchestrator, id string) error { return o.DisableTool(id) })
}

func (s *Server) handleToolWeight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Weight *float64 `json:"weight"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Weight == nil {
		writeError(w, r, resilience.NewValidationError("weight", "required"))
		return
	}
	s.adminTool(w, r, func(o *orchestrator.Orchestrator, id string) error { return o.UpdateToolWeight(id, *req.Weight) })
}

// adminTool applies fn and responds with the tool's updated metadata.
func (s *Server) adminTool(w http.ResponseWriter, r *http.Request, fn func(*orchestrator.Orchestrator, string) error) {
	toolID := chi.URLParam(r, "toolID")
	if s.tools == nil {
		writeError(w, r, unknownTool(toolID))
		return
	}
	if err := fn(s.tools, toolID); err != nil {
		writeError(w, r, err)
		return
	}
	meta, _ := s.tools.Registry().Get(toolID)
	writeJSON(w, http.StatusOK, meta)
}

func unknownTool(toolID string) error {
	return resilience.NewValidationError("tool_id", "unknown tool "+toolID)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
