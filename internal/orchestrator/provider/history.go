package provider

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/resilience"
)

// Built-in provider kinds.
const (
	KindObservationHistory = "observation_history"
	KindHTTPJSON           = "http_json"
	KindLLMAnalyst         = "llm_analyst"
	KindStatic             = "static"
)

const defaultHistoryLimit = 500

// ObservationHistory summarizes the latest stored value per field for an
// entity from its most recent observations. Observations previously recorded
// under the calling tool's own name are skipped so the tool never echoes
// itself back. Its responses are marked Derived.
type ObservationHistory struct {
	obs    ObservationReader
	fields []string
	limit  int
}

// NewObservationHistory builds the observation_history provider. Options:
// fields (default all), limit (default 500).
func NewObservationHistory(options map[string]any, deps Deps) (Provider, error) {
	if deps.Observations == nil {
		return nil, eris.New("provider: observation_history requires an observation store")
	}
	return &ObservationHistory{
		obs:    deps.Observations,
		fields: stringListOpt(options, "fields"),
		limit:  intOpt(options, "limit", defaultHistoryLimit),
	}, nil
}

// Kind implements Provider.
func (h *ObservationHistory) Kind() string { return KindObservationHistory }

// Invoke implements Provider. params: entity_id (required), fields (optional).
func (h *ObservationHistory) Invoke(ctx context.Context, toolID string, params map[string]any) (*Response, error) {
	entityID := stringOpt(params, "entity_id")
	if entityID == "" {
		return nil, resilience.NewValidationError("entity_id", "required")
	}

	fields := stringListOpt(params, "fields")
	if len(fields) == 0 {
		fields = h.fields
	}
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}

	obs, err := h.obs.ListObservations(ctx, model.ObservationFilter{EntityID: entityID, Limit: h.limit, NewestFirst: true})
	if err != nil {
		return nil, eris.Wrapf(err, "observation_history: list %s", entityID)
	}

	latest := make(map[string]model.Observation)
	for _, o := range obs {
		if strings.EqualFold(o.SourceName, toolID) {
			continue
		}
		if len(want) > 0 && !want[o.Field] {
			continue
		}
		// Newest insertions come first; a later-recorded row only wins with
		// a strictly later observation time.
		if cur, ok := latest[o.Field]; ok && !o.ObservedAt.After(cur.ObservedAt) {
			continue
		}
		latest[o.Field] = o
	}

	payload := make(map[string]any, len(latest))
	for field, o := range latest {
		payload[field] = o.Value
	}
	return &Response{Payload: payload, Derived: true}, nil
}
