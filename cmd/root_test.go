package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/target-signal/internal/observation"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "migrate", "observe", "reliability", "evaluate", "weights", "tools", "cache", "refresh"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "target-signal", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("no-refresh"))
}

func TestObserveRecord_Flags(t *testing.T) {
	for _, name := range []string{"entity", "field", "value", "source", "observed-at"} {
		assert.NotNil(t, observeRecordCmd.Flags().Lookup(name), "observe record should have --%s", name)
	}
}

func TestObserveImport_FileFormat(t *testing.T) {
	assert.NotNil(t, observeImportCmd.Flags().Lookup("file"))

	doc := []byte(`
- entity_id: acme
  field: revenue
  value: 20000
  source_name: pitchbook
  observed_at: 2026-02-01T00:00:00Z
- {"entity_id": "acme", "field": "sector", "value": "fintech", "source_name": "web"}
`)
	var inputs []observation.Input
	require.NoError(t, yaml.Unmarshal(doc, &inputs))
	require.Len(t, inputs, 2)
	assert.Equal(t, 20000, inputs[0].Value)
	assert.Equal(t, 2026, inputs[0].ObservedAt.Year())
	assert.Equal(t, "fintech", inputs[1].Value)
	assert.True(t, inputs[1].ObservedAt.IsZero())
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 4.5, parseValue("4.5"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "seed", parseValue(" seed "))
}

func TestParseInputs(t *testing.T) {
	got, err := parseInputs([]string{"team=4", "market = 3.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"team": 4, "market": 3.5}, got)

	_, err = parseInputs([]string{"team"})
	assert.Error(t, err)
	_, err = parseInputs([]string{"team=high"})
	assert.Error(t, err)
	_, err = parseInputs([]string{"=4"})
	assert.Error(t, err)
}

func TestBuildEvaluationRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"entity_id": "from-file",
		"dimension_inputs": {"team": 2},
		"data_sources": [{"tool_id": "history"}]
	}`), 0o600))

	req, err := buildEvaluationRequest(path, "acme", []string{"team=4", "media=1"}, []string{"crunchbase"})
	require.NoError(t, err)
	assert.Equal(t, "acme", req.EntityID)
	assert.Equal(t, map[string]float64{"team": 4, "media": 1}, req.DimensionInputs)
	require.Len(t, req.DataSources, 2)
	assert.Equal(t, "history", req.DataSources[0].ToolID)
	assert.Equal(t, "crunchbase", req.DataSources[1].ToolID)

	_, err = buildEvaluationRequest(filepath.Join(t.TempDir(), "missing.json"), "", nil, nil)
	assert.Error(t, err)
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printYAML(&buf, map[string]any{"weights": map[string]float64{"team": 25}}))

	var back map[string]map[string]float64
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, 25.0, back["weights"]["team"])
}
