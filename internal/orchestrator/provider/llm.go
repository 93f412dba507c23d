package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/target-signal/internal/resilience"
	"github.com/sells-group/target-signal/pkg/anthropic"
)

const (
	defaultLLMMaxTokens = 512
	maxRating           = 5.0
)

var defaultLLMDimensions = []string{"team", "market", "product", "traction", "financials", "media"}

const llmSystemPrompt = `You are an investment analyst. Rate the described company on each requested dimension from 0 (very weak) to 5 (exceptional). Respond with a single JSON object mapping each dimension name to a number and nothing else.`

// LLMAnalyst asks an Anthropic model to rate an entity on scoring
// dimensions.
type LLMAnalyst struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	dimensions []string
}

// NewLLMAnalyst builds the llm_analyst provider. Options: model (default
// anthropic.model), max_tokens (default 512), dimensions.
func NewLLMAnalyst(options map[string]any, deps Deps) (Provider, error) {
	if deps.LLM == nil {
		return nil, eris.New("provider: llm_analyst requires an anthropic client")
	}
	mdl := stringOpt(options, "model")
	if mdl == "" {
		mdl = deps.LLMModel
	}
	if mdl == "" {
		return nil, eris.New("provider: llm_analyst requires a model")
	}
	dims := stringListOpt(options, "dimensions")
	if len(dims) == 0 {
		dims = defaultLLMDimensions
	}
	return &LLMAnalyst{
		client:     deps.LLM,
		model:      mdl,
		maxTokens:  int64(intOpt(options, "max_tokens", defaultLLMMaxTokens)),
		dimensions: dims,
	}, nil
}

// Kind implements Provider.
func (a *LLMAnalyst) Kind() string { return KindLLMAnalyst }

// Invoke implements Provider. params: entity_id (required), description,
// dimensions (optional override).
func (a *LLMAnalyst) Invoke(ctx context.Context, toolID string, params map[string]any) (*Response, error) {
	entityID := stringOpt(params, "entity_id")
	if entityID == "" {
		return nil, resilience.NewValidationError("entity_id", "required")
	}
	dims := stringListOpt(params, "dimensions")
	if len(dims) == 0 {
		dims = a.dimensions
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Company: %s\n", entityID)
	if desc := stringOpt(params, "description"); desc != "" {
		fmt.Fprintf(&prompt, "Description: %s\n", desc)
	}
	fmt.Fprintf(&prompt, "Dimensions: %s\n", strings.Join(dims, ", "))

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      llmSystemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt.String()}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(a.model, toolID)

	ratings, err := ParseRatings(resp.Text(), dims)
	if err != nil {
		return nil, eris.Wrapf(err, "llm_analyst: %s", toolID)
	}
	return &Response{Payload: ratings}, nil
}

// ParseRatings extracts the first JSON object in text and reads a numeric
// rating per dimension, clamped to [0, 5]. Dimensions the model omitted are
// left out of the result.
func ParseRatings(text string, dims []string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in response")
	}
	doc := text[start : end+1]
	if !gjson.Valid(doc) {
		return nil, eris.New("malformed JSON object in response")
	}

	out := make(map[string]any, len(dims))
	for _, d := range dims {
		r := gjson.Get(doc, gjson.Escape(d))
		if r.Type != gjson.Number {
			continue
		}
		out[d] = min(max(r.Float(), 0), maxRating)
	}
	if len(out) == 0 {
		return nil, eris.New("no ratings in response")
	}
	return out, nil
}
