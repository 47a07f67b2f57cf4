package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

var ticketTimeLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// parseTicketTime reads a departure or arrival time. dateOnly reports that no clock was given.
func parseTicketTime(field, s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, errdefs.Validationf("%s is required", field)
	}
	for _, layout := range ticketTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false, nil
		}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, errdefs.Validationf("%s %q must look like 2024-01-01 05:50:00", field, s)
}

// resolveFlight finds the flight a ticket refers to. With only a date it picks the earliest
// departure of that flight from the airport on that day.
func resolveFlight(ctx context.Context, client datastore.Client, airline, number, from string, dep time.Time, dateOnly bool) (*model.Flight, error) {
	if !dateOnly {
		return client.ValidateTicket(ctx, model.TicketCheck{
			Airline:          airline,
			FlightNumber:     number,
			DepartureAirport: from,
			DepartureTime:    dep,
		})
	}
	flights, err := client.SearchFlightsByNumber(ctx, airline, number)
	if err != nil {
		return nil, err
	}
	end := dep.AddDate(0, 0, 1)
	for _, f := range flights {
		d := f.DepartureTime.UTC()
		if strings.EqualFold(f.DepartureAirport, from) && !d.Before(dep) && d.Before(end) {
			return &f, nil
		}
	}
	return nil, nil
}

func insertTicket(client datastore.Client) *funcTool {
	return &funcTool{
		needs: datastore.CapFlights | datastore.CapTickets,
		spec: ToolSpec{
			Name: "insert_ticket",
			Description: "Book a flight ticket for the signed in user. The flight must exist. " +
				"Ask the user for the airline, flight number, departure airport and date when any is missing.",
			InputSchema: schema([]string{"airline", "flight_number", "departure_airport", "departure_time"}, map[string]string{
				"airline":           "Airline 2-letter code",
				"flight_number":     "1 to 4 digit number",
				"departure_airport": "Departure airport 3-letter code",
				"arrival_airport":   "Arrival airport 3-letter code",
				"departure_time":    "Departure, YYYY-MM-DD HH:MM:SS",
				"arrival_time":      "Arrival, YYYY-MM-DD HH:MM:SS",
			}),
			Examples: []map[string]any{
				{"airline": "AA", "flight_number": "452", "departure_airport": "LAX", "arrival_airport": "SFO", "departure_time": "2024-01-01 05:50:00", "arrival_time": "2024-01-01 09:23:00"},
				{"airline": "UA", "flight_number": "1532", "departure_airport": "SFO", "arrival_airport": "DEN", "departure_time": "2024-01-08 05:50:00", "arrival_time": "2024-01-08 09:23:00"},
			},
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			if req.User == nil || strings.TrimSpace(req.User.ID) == "" {
				return nil, errdefs.Authf("sign in to book tickets")
			}
			var args struct {
				Airline          string `json:"airline"`
				FlightNumber     string `json:"flight_number"`
				DepartureAirport string `json:"departure_airport"`
				ArrivalAirport   string `json:"arrival_airport"`
				DepartureTime    string `json:"departure_time"`
				ArrivalTime      string `json:"arrival_time"`
			}
			if err := decodeArgs(req.Arguments, &args); err != nil {
				return nil, err
			}
			airline, number := normalizeFlight(args.Airline, args.FlightNumber)
			from := strings.ToUpper(strings.TrimSpace(args.DepartureAirport))
			switch {
			case airline == "" || number == "":
				return nil, errdefs.Validationf("ask the user which flight to book: airline and flight number are required")
			case from == "":
				return nil, errdefs.Validationf("ask the user where they are flying from: departure_airport is required")
			}
			dep, dateOnly, err := parseTicketTime("departure_time", args.DepartureTime)
			if err != nil {
				return nil, err
			}
			flight, err := resolveFlight(ctx, client, airline, number, from, dep, dateOnly)
			if err != nil {
				return nil, err
			}
			if flight == nil {
				return nil, errdefs.Validationf("there is no flight %s%s on %s from %s; ask the user to check the flight information",
					airline, number, dep.Format(time.DateOnly), from)
			}
			if to := strings.TrimSpace(args.ArrivalAirport); to != "" && !strings.EqualFold(to, flight.ArrivalAirport) {
				return nil, errdefs.Validationf("flight %s%s arrives at %s, not %s", airline, number, flight.ArrivalAirport, to)
			}
			ticket, err := client.InsertTicket(ctx, model.TicketInsert{
				UserID:           req.User.ID,
				UserName:         req.User.Name,
				UserEmail:        req.User.Email,
				Airline:          flight.Airline,
				FlightNumber:     flight.FlightNumber,
				DepartureAirport: flight.DepartureAirport,
				ArrivalAirport:   flight.ArrivalAirport,
				DepartureTime:    flight.DepartureTime,
				ArrivalTime:      flight.ArrivalTime,
			})
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Booked ticket %d on %s %s from %s to %s departing %s.",
				ticket.ID, ticket.Airline, ticket.FlightNumber, ticket.DepartureAirport, ticket.ArrivalAirport,
				ticket.DepartureTime.Format(time.DateTime)), nil
		},
	}
}

func listTickets(client datastore.Client) *funcTool {
	return &funcTool{
		needs: datastore.CapTickets,
		spec: ToolSpec{
			Name:        "list_tickets",
			Description: "List the flight tickets booked by the signed in user.",
			InputSchema: schema(nil, map[string]string{}),
		},
		run: func(ctx context.Context, req ToolRequest) (any, error) {
			if req.User == nil || strings.TrimSpace(req.User.ID) == "" {
				return nil, errdefs.Authf("sign in to see your tickets")
			}
			tickets, err := client.ListTickets(ctx, req.User.ID)
			if err != nil {
				return nil, err
			}
			if len(tickets) == 0 {
				return "The user has no booked tickets.", nil
			}
			return tickets, nil
		},
	}
}
