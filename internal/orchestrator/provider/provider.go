// Package provider defines the capability provider contract and the
// startup-time registration table of built-in providers.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/resilience"
	"github.com/sells-group/target-signal/pkg/anthropic"
)

// Response is the payload returned by a provider. CostMs is optional; zero
// lets the orchestrator record the measured wall time instead. Derived marks
// a payload restating observations already in the log.
type Response struct {
	Payload map[string]any
	CostMs  int64
	Derived bool
}

// Provider is a capability bound to one or more tools. Implementations must
// not hold references to orchestrator state and must honor ctx cancellation.
type Provider interface {
	// Kind returns the provider kind (matches tools[].provider in config).
	Kind() string
	// Invoke runs the capability for toolID with the caller's params.
	Invoke(ctx context.Context, toolID string, params map[string]any) (*Response, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, toolID string, params map[string]any) (*Response, error)

// Kind implements Provider.
func (f Func) Kind() string { return "func" }

// Invoke implements Provider.
func (f Func) Invoke(ctx context.Context, toolID string, params map[string]any) (*Response, error) {
	return f(ctx, toolID, params)
}

// ObservationReader is the slice of the store used by observation_history.
type ObservationReader interface {
	ListObservations(ctx context.Context, filter model.ObservationFilter) ([]model.Observation, error)
}

// Deps carries the shared collaborators handed to provider constructors.
type Deps struct {
	Observations ObservationReader
	LLM          anthropic.Client
	LLMModel     string
	HTTP         *http.Client
}

// Factory builds a provider from a tool's options.
type Factory func(options map[string]any, deps Deps) (Provider, error)

// Registry maps provider kinds to constructors.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Builtins returns a registry holding every built-in provider kind.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register(KindObservationHistory, NewObservationHistory)
	r.Register(KindHTTPJSON, NewHTTPJSON)
	r.Register(KindLLMAnalyst, NewLLMAnalyst)
	r.Register(KindStatic, NewStatic)
	return r
}

// Register adds a factory to the registry, replacing any prior binding.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Get returns the factory for kind, or nil if not found.
func (r *Registry) Get(kind string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[kind]
}

// List returns all registered kinds, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build constructs a provider of the given kind.
func (r *Registry) Build(kind string, options map[string]any, deps Deps) (Provider, error) {
	f := r.Get(kind)
	if f == nil {
		return nil, resilience.NewValidationError("provider", fmt.Sprintf("unknown kind %q (have %s)", kind, strings.Join(r.List(), ", ")))
	}
	p, err := f(options, deps)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: build %s", kind)
	}
	return p, nil
}

// stringOpt reads a string option.
func stringOpt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intOpt reads an integer option, falling back to def.
func intOpt(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	if f, ok := model.NumericValue(m[key]); ok && f > 0 {
		return int(f)
	}
	return def
}

// stringListOpt accepts a []string, a []any of strings, or a
// comma-separated string.
func stringListOpt(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	var out []string
	switch v := m[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = strings.Split(v, ",")
	}
	clean := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	return clean
}

// stringMapOpt accepts a map[string]string or map[string]any.
func stringMapOpt(m map[string]any, key string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string)
	switch v := m[key].(type) {
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	case map[string]any:
		for k, s := range v {
			if str, ok := s.(string); ok {
				out[k] = str
			}
		}
	}
	return out
}
