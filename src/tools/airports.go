package tools

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func searchAirports(client datastore.Client) *funcTool {
	return &funcTool{
		needs: datastore.CapAirports,
		spec: ToolSpec{
			Name: "search_airports",
			Description: "List airports matching a country, city or name. At least one is required. " +
				"Returns the first results and the total count.",
			InputSchema: schema(nil, map[string]string{
				"country": "Country, e.g. United States",
				"city":    "City, e.g. San Francisco",
				"name":    "Part of the airport name",
			}),
			Examples: []map[string]any{
				{"country": "United States", "city": "San Francisco"},
				{"city": "Goroka", "name": "Goroka"},
			},
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			var args struct {
				Country string `json:"country"`
				City    string `json:"city"`
				Name    string `json:"name"`
			}
			if err := decodeArgs(req.Arguments, &args); err != nil {
				return nil, err
			}
			airports, err := client.SearchAirports(ctx, model.AirportQuery{Country: args.Country, City: args.City, Name: args.Name})
			if err != nil {
				return nil, err
			}
			return newListing(airports, "airports"), nil
		},
	}
}

// flexID accepts an id sent either as a JSON number or as a string.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var fl float64
		if json.Unmarshal([]byte(s), &fl) != nil || fl != float64(int64(fl)) {
			return errdefs.Validationf("id %s is not an integer", b)
		}
		n = int64(fl)
	}
	*f = flexID(n)
	return nil
}

func getAirport(client datastore.Client) *funcTool {
	return &funcTool{
		needs: datastore.CapAirports,
		spec: ToolSpec{
			Name:        "get_airport",
			Description: "Fetch one airport by numeric id or by 3-letter IATA code.",
			InputSchema: schema(nil, map[string]string{
				"id":   "Airport id",
				"iata": "3-letter IATA code, e.g. SFO",
			}),
			Examples: []map[string]any{{"iata": "SFO"}},
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			var args struct {
				ID   flexID `json:"id"`
				IATA string `json:"iata"`
			}
			if err := decodeArgs(req.Arguments, &args); err != nil {
				return nil, err
			}
			var (
				a   *model.Airport
				err error
			)
			switch {
			case strings.TrimSpace(args.IATA) != "":
				a, err = client.GetAirportByIATA(ctx, args.IATA)
			case args.ID > 0:
				a, err = client.GetAirportByID(ctx, int64(args.ID))
			default:
				return nil, errdefs.Validationf("get_airport requires id or iata")
			}
			if err != nil {
				return nil, err
			}
			if a == nil {
				return "No airport matches that id or code.", nil
			}
			return a, nil
		},
	}
}
