package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/embed"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func embedQuery(ctx context.Context, embedder embed.Embedder, query string) ([]float32, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errdefs.Validationf("query is required")
	}
	if embedder == nil {
		return nil, errdefs.Configf("no embedder configured")
	}
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// amenityResult is an AmenityMatch without vectors, which only waste the model's context.
type amenityResult struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	Terminal    string          `json:"terminal"`
	Category    string          `json:"category"`
	Hour        string          `json:"hour"`
	Similarity  float64         `json:"similarity"`
	Related     []relatedResult `json:"related,omitempty"`
}

type relatedResult struct {
	Relation string `json:"relationship"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

func toAmenityResults(matches []model.AmenityMatch) []amenityResult {
	out := make([]amenityResult, 0, len(matches))
	for _, m := range matches {
		r := amenityResult{
			Name:        m.Amenity.Name,
			Description: m.Amenity.Description,
			Location:    m.Amenity.Location,
			Terminal:    m.Amenity.Terminal,
			Category:    m.Amenity.Category,
			Hour:        m.Amenity.Hour,
			Similarity:  m.Similarity,
		}
		for _, rel := range m.Related {
			r.Related = append(r.Related, relatedResult{Relation: rel.Relation, Name: rel.Amenity.Name, Location: rel.Amenity.Location})
		}
		out = append(out, r)
	}
	return out
}

func searchAmenities(client datastore.Client, embedder embed.Embedder, opts Options) *funcTool {
	return &funcTool{
		needs: datastore.CapAmenities,
		spec: ToolSpec{
			Name: "search_amenities",
			Description: "Search or recommend airport amenities by description. Optionally filter to amenities open " +
				"at open_time (HH:MM) on open_day (monday, tuesday, ...). open_time and open_day go together: " +
				"default a missing day to today and a missing time to now. Only recommend amenities this tool returns. " +
				"Gates iterate by letter then number, so A3 is close to A2 and B1.",
			InputSchema: schema([]string{"query"}, map[string]string{
				"query":     "What the user is looking for",
				"open_time": "Clock time the amenity must be open, e.g. 10:00",
				"open_day":  "Weekday the amenity must be open, e.g. wednesday",
			}),
			Examples: []map[string]any{
				{"query": "A burger place"},
				{"query": "Shop for luxury goods", "open_time": "10:00", "open_day": "wednesday"},
			},
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			var args struct {
				Query    string `json:"query"`
				OpenTime string `json:"open_time"`
				OpenDay  string `json:"open_day"`
			}
			if err := decodeArgs(req.Arguments, &args); err != nil {
				return nil, err
			}
			// reject a half open filter before paying for an embedding
			if _, err := model.ParseOpenFilter(args.OpenDay, args.OpenTime); err != nil {
				return nil, err
			}
			vec, err := embedQuery(ctx, embedder, args.Query)
			if err != nil {
				return nil, err
			}
			matches, err := client.AmenitiesSearch(ctx, model.AmenityQuery{
				Query:     args.Query,
				Embedding: vec,
				Threshold: opts.Threshold,
				TopK:      opts.TopK,
				OpenTime:  args.OpenTime,
				OpenDay:   args.OpenDay,
			})
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return "No amenities match that request. Let the user know there are no results.", nil
			}
			return toAmenityResults(matches), nil
		},
	}
}

type policyResult struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

func searchPolicies(client datastore.Client, embedder embed.Embedder, opts Options) *funcTool {
	return &funcTool{
		needs: datastore.CapPolicies,
		spec: ToolSpec{
			Name: "search_policies",
			Description: "Search the airline passenger policy: ticket purchase and changes, baggage, check-in and boarding, " +
				"special assistance, overbooking, delays and cancellations. Policies are not negotiable; " +
				"do not answer policy questions beyond what this tool returns.",
			InputSchema: schema([]string{"query"}, map[string]string{"query": "Policy question"}),
			Examples:    []map[string]any{{"query": "How many carry-on bags can I bring?"}},
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := decodeArgs(req.Arguments, &args); err != nil {
				return nil, err
			}
			vec, err := embedQuery(ctx, embedder, args.Query)
			if err != nil {
				return nil, err
			}
			matches, err := client.PoliciesSearch(ctx, model.PolicyQuery{
				Query:     args.Query,
				Embedding: vec,
				Threshold: opts.Threshold,
				TopK:      opts.TopK,
			})
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return "No policy covers that question.", nil
			}
			out := make([]policyResult, 0, len(matches))
			for _, m := range matches {
				out = append(out, policyResult{Content: m.Policy.Content, Similarity: m.Similarity})
			}
			return out, nil
		},
	}
}
