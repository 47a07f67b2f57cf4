package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/airport-assistant/src/loader"
)

var exportOut string

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Load the dataset into the configured datastore",
		Long: `Reads the CSV dataset, computes missing embeddings and replaces the contents of
the configured datastore. Booked tickets are kept.

Examples:
  assistant init --data-dir ./data
  DATASTORE_KIND=postgres assistant init`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.load(ctx, e.cfg.DataDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s into %s\n", e.cfg.DataDir, e.cfg.DatastoreKind)
			return nil
		},
	}
}

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored dataset back to CSV files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()
			data, err := e.client.ExportData(ctx)
			if err != nil {
				return fmt.Errorf("exporting: %w", err)
			}
			if err := loader.WriteDataset(exportOut, data); err != nil {
				return fmt.Errorf("writing %s: %w", exportOut, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d airports, %d amenities, %d flights, %d policies to %s\n",
				len(data.Airports), len(data.Amenities), len(data.Flights), len(data.Policies), exportOut)
			return nil
		},
	}
	cmd.Flags().StringVar(&exportOut, "out", "export", "Directory to write the CSV files to")
	return cmd
}

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show node and edge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()
			counts, err := e.client.Counts(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				b, err := json.MarshalIndent(counts, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n", b)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tCOUNT")
			for _, k := range sortedKeys(counts.Nodes) {
				fmt.Fprintf(w, "node\t%s\t%d\n", k, counts.Nodes[k])
			}
			for _, k := range sortedKeys(counts.Edges) {
				fmt.Fprintf(w, "edge\t%s\t%d\n", k, counts.Edges[k])
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
