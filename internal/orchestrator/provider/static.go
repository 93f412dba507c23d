package provider

import (
	"context"
	"maps"

	"github.com/rotisserie/eris"
)

// Static returns a fixed payload. Used for fixtures and demos.
type Static struct {
	payload map[string]any
}

// NewStatic builds the static provider from options.payload.
func NewStatic(options map[string]any, _ Deps) (Provider, error) {
	payload, ok := options["payload"].(map[string]any)
	if !ok {
		return nil, eris.New("provider: static requires a payload map")
	}
	return &Static{payload: maps.Clone(payload)}, nil
}

// Kind implements Provider.
func (s *Static) Kind() string { return KindStatic }

// Invoke implements Provider.
func (s *Static) Invoke(ctx context.Context, _ string, _ map[string]any) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{Payload: maps.Clone(s.payload)}, nil
}
