package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// printYAML renders v as YAML.
func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode yaml")
	}
	return enc.Close()
}

// parseValue interprets a CLI value as a number, a bool, or a string.
func parseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// parsePairs parses key=value flags.
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, eris.Errorf("expected key=value, got %q", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// parseInputs parses dimension=score flags.
func parseInputs(pairs []string) (map[string]float64, error) {
	kv, err := parsePairs(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(kv))
	for k, v := range kv {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, eris.Errorf("input %s: %q is not a number", k, v)
		}
		out[k] = f
	}
	return out, nil
}
