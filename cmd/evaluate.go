package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/target-signal/internal/model"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score one entity",
	Long:  "Records dimension inputs, runs the requested data source tools, and prints the scored evaluation.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")
		entity, _ := cmd.Flags().GetString("entity")
		inputs, _ := cmd.Flags().GetStringArray("input")
		tools, _ := cmd.Flags().GetStringSlice("tool")

		req, err := buildEvaluationRequest(file, entity, inputs, tools)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Pipeline.Evaluate(ctx, req)
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, resp)
	},
}

// buildEvaluationRequest reads a JSON request file when given and layers
// the flag values on top.
func buildEvaluationRequest(file, entity string, inputs, tools []string) (model.EvaluationRequest, error) {
	var req model.EvaluationRequest
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return req, eris.Wrap(err, "evaluate: read request file")
		}
		if err := json.Unmarshal(b, &req); err != nil {
			return req, eris.Wrap(err, "evaluate: parse request file")
		}
	}
	if entity != "" {
		req.EntityID = entity
	}

	parsed, err := parseInputs(inputs)
	if err != nil {
		return req, err
	}
	if len(parsed) > 0 && req.DimensionInputs == nil {
		req.DimensionInputs = make(map[string]float64, len(parsed))
	}
	for d, v := range parsed {
		req.DimensionInputs[d] = v
	}

	for _, id := range tools {
		req.DataSources = append(req.DataSources, model.ToolCall{ToolID: id})
	}
	return req, nil
}

func init() {
	f := evaluateCmd.Flags()
	f.String("file", "", "JSON evaluation request file")
	f.String("entity", "", "entity ID")
	f.StringArray("input", nil, "dimension input as dimension=score (repeatable)")
	f.StringSlice("tool", nil, "data source tool IDs to run")
	rootCmd.AddCommand(evaluateCmd)
}
