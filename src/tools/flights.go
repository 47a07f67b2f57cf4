package tools

import (
	"context"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func searchFlightsByNumber(client datastore.Client) *funcTool {
	return &funcTool{
		needs: datastore.CapFlights,
		spec: ToolSpec{
			Name: "search_flights_by_number",
			Description: "Get information for a specific flight from its 2-letter airline code and 1 to 4 digit number. " +
				"For CY 0123 the airline is CY and the flight number is 123. Do not guess either value. " +
				"When several dates come back, prefer the one closest to today.",
			InputSchema: schema([]string{"airline", "flight_number"}, map[string]string{
				"airline":       "Airline 2-letter code",
				"flight_number": "1 to 4 digit number",
			}),
			Examples: []map[string]any{
				{"airline": "CY", "flight_number": "888"},
				{"airline": "DL", "flight_number": "1234"},
			},
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			var args struct {
				Airline      string `json:"airline"`
				FlightNumber string `json:"flight_number"`
			}
			if err := decodeArgs(req.Arguments, &args); err != nil {
				return nil, err
			}
			airline, number := normalizeFlight(args.Airline, args.FlightNumber)
			if airline == "" || number == "" {
				return nil, errdefs.Validationf("airline and flight_number are required")
			}
			flights, err := client.SearchFlightsByNumber(ctx, airline, number)
			if err != nil {
				return nil, err
			}
			if len(flights) == 0 {
				return "There is no flight with that airline and number. Ask the user to check the flight information.", nil
			}
			return flights, nil
		},
	}
}

// normalizeFlight uppercases the airline and drops leading zeros from the number, so
// "cy", "0123" and "CY", "123" name the same flight.
func normalizeFlight(airline, number string) (string, string) {
	airline = strings.ToUpper(strings.TrimSpace(airline))
	number = strings.TrimSpace(number)
	if trimmed := strings.TrimLeft(number, "0"); trimmed != "" {
		number = trimmed
	}
	return airline, number
}

func listFlights(client datastore.Client) *funcTool {
	return &funcTool{
		needs: datastore.CapFlights,
		spec: ToolSpec{
			Name: "list_flights",
			Description: "List flights departing on a date from a departure airport, to an arrival airport, or both. " +
				"Airports are 3-letter IATA codes; use search_airports first when only a city is known. " +
				"Do not guess the date; ask the user. The date format is YYYY-MM-DD.",
			InputSchema: schema([]string{"date"}, map[string]string{
				"departure_airport": "Departure airport 3-letter code",
				"arrival_airport":   "Arrival airport 3-letter code",
				"date":              "Departure date, YYYY-MM-DD",
			}),
			Examples: []map[string]any{
				{"departure_airport": "SFO", "date": "2023-10-30"},
				{"departure_airport": "SFO", "arrival_airport": "SEA", "date": "2023-11-01"},
			},
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			var args struct {
				DepartureAirport string `json:"departure_airport"`
				ArrivalAirport   string `json:"arrival_airport"`
				Date             string `json:"date"`
			}
			if err := decodeArgs(req.Arguments, &args); err != nil {
				return nil, err
			}
			flights, err := client.SearchFlightsByAirports(ctx, model.FlightQuery{
				Date:             args.Date,
				DepartureAirport: args.DepartureAirport,
				ArrivalAirport:   args.ArrivalAirport,
			})
			if err != nil {
				return nil, err
			}
			return newListing(flights, "flights"), nil
		},
	}
}
