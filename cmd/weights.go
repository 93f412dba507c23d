package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/target-signal/internal/weights"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect and adapt the dimension weight vector",
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current weight vector",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		wv, err := env.Pipeline.Weights().Current(cmd.Context())
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, wv)
	},
}

var weightsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored weight versions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		h, err := env.Pipeline.Weights().History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, h)
	},
}

var weightsLearnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Re-learn weights from observation history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		wv, changed, err := env.Pipeline.LearnWeights(cmd.Context())
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, map[string]any{"changed": changed, "weights": wv})
	},
}

var weightsContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Adapt weights to a market context",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var c weights.Context
		c.MarketGrowth, _ = cmd.Flags().GetFloat64("market-growth")
		c.DataQuality, _ = cmd.Flags().GetFloat64("data-quality")
		c.DataAgeDays, _ = cmd.Flags().GetFloat64("data-age-days")
		c.Competitors, _ = cmd.Flags().GetInt("competitors")

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		wv, changed, err := env.Pipeline.AdaptWeights(cmd.Context(), c)
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, map[string]any{
			"factors": weights.ComputeFactors(c),
			"changed": changed,
			"weights": wv,
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute all source profiles and re-learn weights once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Pipeline.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, s)
	},
}

func init() {
	weightsHistoryCmd.Flags().Int("limit", 20, "max versions to list")

	f := weightsContextCmd.Flags()
	f.Float64("market-growth", 0, "fractional market growth, e.g. 0.2")
	f.Float64("data-quality", 0.5, "data quality in [0,1]")
	f.Float64("data-age-days", 0, "age of the underlying data in days")
	f.Int("competitors", 0, "number of direct competitors")

	weightsCmd.AddCommand(weightsShowCmd, weightsHistoryCmd, weightsLearnCmd, weightsContextCmd)
	rootCmd.AddCommand(weightsCmd, refreshCmd)
}
