package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/observation"
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Record and list observations",
}

// -- observe record --

var observeRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append one observation to the log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		entity, _ := cmd.Flags().GetString("entity")
		field, _ := cmd.Flags().GetString("field")
		value, _ := cmd.Flags().GetString("value")
		source, _ := cmd.Flags().GetString("source")
		at, _ := cmd.Flags().GetString("observed-at")

		var observedAt time.Time
		if at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return eris.Wrap(err, "observe record: parse --observed-at")
			}
			observedAt = t
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		obs, err := observation.NewLog(st).RecordObservation(ctx, entity, field, parseValue(value), source, observedAt)
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, obs)
	},
}

// -- observe import --

var observeImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-append observations from a YAML or JSON file",
	Long:  "Reads a list of observations (entity_id, field, value, source_name, observed_at) and appends them in one batch. Nothing is written if any entry is invalid.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(file)
		if err != nil {
			return eris.Wrapf(err, "observe import: read %s", file)
		}
		var inputs []observation.Input
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return eris.Wrapf(err, "observe import: parse %s", file)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		obs, err := observation.NewLog(st).Import(ctx, inputs)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Imported %d observations.\n", len(obs))
		return nil
	},
}

// -- observe list --

var observeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List observations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		entity, _ := cmd.Flags().GetString("entity")
		field, _ := cmd.Flags().GetString("field")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		obs, err := observation.NewLog(st).List(ctx, model.ObservationFilter{
			EntityID:   entity,
			Field:      field,
			SourceName: source,
			Limit:      limit,
		})
		if err != nil {
			return err
		}
		if len(obs) == 0 {
			fmt.Fprintln(os.Stderr, "No observations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENTITY\tFIELD\tVALUE\tSOURCE\tOBSERVED")
		for _, o := range obs {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", o.EntityID, o.Field, o.Value, o.SourceName, o.ObservedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	f := observeRecordCmd.Flags()
	f.String("entity", "", "entity ID (required)")
	f.String("field", "", "field name (required)")
	f.String("value", "", "observed value; numbers and bools are parsed")
	f.String("source", "", "source name (required)")
	f.String("observed-at", "", "observation time, RFC3339 (default now)")
	_ = observeRecordCmd.MarkFlagRequired("entity")
	_ = observeRecordCmd.MarkFlagRequired("field")
	_ = observeRecordCmd.MarkFlagRequired("source")

	f = observeListCmd.Flags()
	f.String("entity", "", "filter by entity ID")
	f.String("field", "", "filter by field")
	f.String("source", "", "filter by source name")
	f.Int("limit", 100, "max observations to list")

	observeImportCmd.Flags().String("file", "", "YAML or JSON file with a list of observations (required)")
	_ = observeImportCmd.MarkFlagRequired("file")

	observeCmd.AddCommand(observeRecordCmd, observeImportCmd, observeListCmd)
	rootCmd.AddCommand(observeCmd)
}
