package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/target-signal/internal/orchestrator"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and run registered tools",
	Long:  "Tool enable/disable/weight changes are runtime state; use the HTTP API of a running server for those.",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tools",
	RunE: func(cmd *cobra.Command, _ []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		tools := env.Orchestrator.Registry().List()
		if asYAML {
			return printYAML(os.Stdout, tools)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tENABLED\tWEIGHT\tCONCURRENCY\tRATE/MIN\tCAPABILITIES")
		for _, t := range tools {
			fmt.Fprintf(w, "%s\t%s\t%t\t%.2f\t%d\t%d\t%s\n",
				t.ToolID, t.Provider, t.Enabled, t.Weight, t.ConcurrencyLimit, t.RateLimitPerMin, strings.Join(t.Capabilities, ","))
		}
		return w.Flush()
	},
}

var toolsRunCmd = &cobra.Command{
	Use:   "run <tool-id>",
	Short: "Run one tool call and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rawParams, _ := cmd.Flags().GetStringArray("param")
		noCache, _ := cmd.Flags().GetBool("no-cache")
		timeoutSecs, _ := cmd.Flags().GetInt("timeout")

		kv, err := parsePairs(rawParams)
		if err != nil {
			return err
		}
		params := make(map[string]any, len(kv))
		for k, v := range kv {
			params[k] = parseValue(v)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := []orchestrator.CallOption{orchestrator.WithCache(!noCache)}
		if timeoutSecs > 0 {
			opts = append(opts, orchestrator.WithTimeout(time.Duration(timeoutSecs)*time.Second))
		}
		res, err := env.Orchestrator.RunTool(ctx, args[0], params, opts...)
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, res)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the tool result cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Orchestrator.PruneCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Pruned %d expired %s cache entries.\n", n, cfg.Orchestrator.Cache.Driver)
		return nil
	},
}

func init() {
	toolsListCmd.Flags().Bool("yaml", false, "print as YAML")

	f := toolsRunCmd.Flags()
	f.StringArray("param", nil, "call parameter as key=value (repeatable)")
	f.Bool("no-cache", false, "skip the cache lookup")
	f.Int("timeout", 0, "per-call timeout in seconds (default from config)")

	toolsCmd.AddCommand(toolsListCmd, toolsRunCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(toolsCmd, cacheCmd)
}
