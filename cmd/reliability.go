package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/target-signal/internal/model"
)

var reliabilityCmd = &cobra.Command{
	Use:   "reliability",
	Short: "Compute and inspect source reliability profiles",
}

var reliabilityRefreshCmd = &cobra.Command{
	Use:   "refresh <field>",
	Short: "Recompute and persist profiles for a field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := env.Pipeline.Reliability().EvaluateSourceReliability(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printProfiles(profiles)
	},
}

var reliabilityShowCmd = &cobra.Command{
	Use:   "show <field>",
	Short: "Show the last persisted profiles for a field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := env.Pipeline.Reliability().Profiles(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printProfiles(profiles)
	},
}

func printProfiles(profiles []model.SourceProfile) error {
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "No profiles found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tTYPE\tOBS\tCONFLICTS\tRATE\tWEIGHT")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%.2f\n", p.SourceName, p.SourceType, p.Observations, p.Conflicts, p.ConflictRate, p.SuggestedWeight)
	}
	return w.Flush()
}

func init() {
	reliabilityCmd.AddCommand(reliabilityRefreshCmd, reliabilityShowCmd)
	rootCmd.AddCommand(reliabilityCmd)
}
