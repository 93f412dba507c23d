package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "target-signal",
	Short: "Confidence-weighted target scoring",
	Long:  "Reconciles observations from many sources into per-dimension estimates, adapts dimension weights, and scores entities through a rate-limited tool orchestrator.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
