package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
)

type searchFlags struct {
	topK      int
	threshold float64
	openDay   string
	openTime  string
}

// NewSearchCmd creates the search command and its amenities and policies subcommands.
func NewSearchCmd() *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a semantic search against the datastore",
		Long: `Embeds the query and runs a vector search.

Examples:
  assistant search amenities "coffee near gate A3"
  assistant search amenities --open-day wednesday --open-time 10:00 "luxury goods"
  assistant search policies --top-k 3 "carry-on baggage"`,
	}
	cmd.PersistentFlags().IntVar(&f.topK, "top-k", 0, "Maximum results (defaults to SEARCH_TOP_K)")
	cmd.PersistentFlags().Float64Var(&f.threshold, "threshold", 0, "Minimum cosine similarity (defaults to SEARCH_THRESHOLD)")

	amenities := &cobra.Command{
		Use:   "amenities <query>",
		Short: "Search airport amenities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, f, strings.Join(args, " "), searchAmenities)
		},
	}
	amenities.Flags().StringVar(&f.openDay, "open-day", "", "Only amenities open on this weekday")
	amenities.Flags().StringVar(&f.openTime, "open-time", "", "Only amenities open at this time (HH:MM)")

	policies := &cobra.Command{
		Use:   "policies <query>",
		Short: "Search airline policies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, f, strings.Join(args, " "), searchPolicies)
		},
	}

	cmd.AddCommand(amenities, policies)
	return cmd
}

type searchFunc func(ctx context.Context, e *env, w io.Writer, f *searchFlags, query string, vec []float32) error

func runSearch(cmd *cobra.Command, f *searchFlags, query string, fn searchFunc) error {
	if f.topK < 0 {
		return fmt.Errorf("--top-k must be positive, got %d", f.topK)
	}
	ctx := cmd.Context()
	e, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	opts := e.cfg.SearchOptions()
	if f.topK == 0 {
		f.topK = opts.TopK
	}
	if !cmd.Flags().Changed("threshold") {
		f.threshold = opts.Threshold
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}
	return fn(ctx, e, cmd.OutOrStdout(), f, query, vec)
}

func searchAmenities(ctx context.Context, e *env, out io.Writer, f *searchFlags, query string, vec []float32) error {
	matches, err := e.client.AmenitiesSearch(ctx, model.AmenityQuery{
		Query: query, Embedding: vec, Threshold: f.threshold, TopK: f.topK,
		OpenDay: f.openDay, OpenTime: f.openTime,
	})
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintf(out, "No amenities found for query: %s\n", query)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tNAME\tCATEGORY\tLOCATION\tHOURS")
	for _, m := range matches {
		a := m.Amenity
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\t%s\n", m.Similarity, a.Name, a.Category, strings.TrimSpace(a.Location+" "+a.Terminal), a.Hour)
		for _, r := range m.Related {
			fmt.Fprintf(w, "\t  %s %s\t\t%s\t\n", r.Relation, r.Amenity.Name, r.Amenity.Location)
		}
	}
	return w.Flush()
}

func searchPolicies(ctx context.Context, e *env, out io.Writer, f *searchFlags, query string, vec []float32) error {
	matches, err := e.client.PoliciesSearch(ctx, model.PolicyQuery{
		Query: query, Embedding: vec, Threshold: f.threshold, TopK: f.topK,
	})
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintf(out, "No policies found for query: %s\n", query)
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(out, "[%.3f] %s\n\n", m.Similarity, m.Policy.Content)
	}
	return nil
}
