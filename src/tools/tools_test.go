package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/auth"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/embed"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

var departure = time.Date(2024, 1, 8, 5, 50, 0, 0, time.UTC)

func testStore(t *testing.T) *datastore.MemoryStore {
	t.Helper()
	amenity := func(id int64, name, category, desc string) model.Amenity {
		return model.Amenity{ID: id, Name: name, Category: category, Description: desc, Location: "Gate A1", Embedding: embed.DeterministicEmbedding(desc)}
	}
	data := model.Dataset{
		Airports: []model.Airport{
			{ID: 1, IATA: "SFO", Name: "San Francisco International Airport", City: "San Francisco", Country: "United States"},
			{ID: 2, IATA: "OAK", Name: "Oakland International Airport", City: "Oakland", Country: "United States"},
			{ID: 3, IATA: "DEN", Name: "Denver International Airport", City: "Denver", Country: "United States"},
		},
		Amenities: []model.Amenity{
			amenity(1, "Cafe", "Food", "espresso coffee pastries"),
			amenity(2, "Lounge", "Lounge", "quiet seating showers"),
			amenity(3, "Bookshop", "Retail", "magazines novels"),
		},
		Flights: []model.Flight{
			{ID: 1, Airline: "UA", FlightNumber: "1532", DepartureAirport: "SFO", ArrivalAirport: "DEN", DepartureTime: departure, ArrivalTime: departure.Add(3 * time.Hour)},
			{ID: 2, Airline: "UA", FlightNumber: "1533", DepartureAirport: "SFO", ArrivalAirport: "OAK", DepartureTime: departure.Add(time.Hour), ArrivalTime: departure.Add(2 * time.Hour)},
			{ID: 3, Airline: "AA", FlightNumber: "100", DepartureAirport: "SFO", ArrivalAirport: "OAK", DepartureTime: departure.Add(2 * time.Hour), ArrivalTime: departure.Add(3 * time.Hour)},
		},
		Policies: []model.Policy{
			{ID: 1, Content: "carry-on bags must fit the overhead bin", Embedding: embed.DeterministicEmbedding("carry-on bags must fit the overhead bin")},
		},
		Relationships: []model.Relationship{{Source: "Cafe", Relation: "NEAR", Target: "Lounge"}},
	}
	s := datastore.NewMemoryStore()
	if err := s.InitializeData(context.Background(), data); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func invoke(t *testing.T, c *Catalog, name string, args map[string]any, user *auth.User) (string, error) {
	t.Helper()
	tool, _, ok := c.Lookup(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	resp, err := tool.Invoke(context.Background(), ToolRequest{SessionID: "s", Arguments: args, User: user})
	return resp.Content, err
}

// capsClient narrows what a store claims to hold.
type capsClient struct {
	datastore.Client
	caps datastore.Capabilities
}

func (c capsClient) Capabilities() datastore.Capabilities { return c.caps }

func TestNewRegistersToolsByCapability(t *testing.T) {
	s := testStore(t)
	full := New(s, embed.Deterministic{}, Options{})
	if full.Len() != 8 {
		t.Fatalf("expected 8 tools, got %d", full.Len())
	}
	if specs := full.Specs(); specs[0].Name != "search_airports" || specs[7].Name != "list_tickets" {
		t.Fatalf("unexpected order %v", specs)
	}
	graphOnly := New(capsClient{Client: s, caps: datastore.CapAmenities | datastore.CapGraph}, embed.Deterministic{}, Options{})
	if graphOnly.Len() != 1 {
		t.Fatalf("expected only search_amenities, got %v", graphOnly.Specs())
	}
	if _, _, ok := graphOnly.Lookup("SEARCH_AMENITIES"); !ok {
		t.Fatal("lookup should ignore case")
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	s := testStore(t)
	c := NewCatalog(searchAirports(s))
	if err := c.Register(searchAirports(s)); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := c.Register(nil); err == nil {
		t.Fatal("expected nil tool error")
	}
}

func TestSearchAirportsSummarisesLongLists(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	out, err := invoke(t, c, "search_airports", map[string]any{"country": "united states", "city": nil}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var got listing[model.Airport]
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Total != 3 || len(got.Results) != ListLimit || got.Results[0].IATA != "SFO" || got.Note == "" {
		t.Fatalf("unexpected listing %+v", got)
	}

	out, err = invoke(t, c, "search_airports", map[string]any{"city": "Goroka"}, nil)
	if err != nil || !strings.HasPrefix(out, "There are no airports") {
		t.Fatalf("unexpected empty result %q %v", out, err)
	}
	if _, err := invoke(t, c, "search_airports", nil, nil); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetAirport(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	for _, args := range []map[string]any{{"iata": "oak"}, {"id": "2"}, {"id": float64(2)}} {
		out, err := invoke(t, c, "get_airport", args, nil)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		var a model.Airport
		if err := json.Unmarshal([]byte(out), &a); err != nil || a.IATA != "OAK" {
			t.Fatalf("%v: unexpected airport %q", args, out)
		}
	}
	if out, err := invoke(t, c, "get_airport", map[string]any{"iata": "XXX"}, nil); err != nil || !strings.HasPrefix(out, "No airport") {
		t.Fatalf("unexpected %q %v", out, err)
	}
	if _, err := invoke(t, c, "get_airport", map[string]any{"id": "abc"}, nil); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchFlightsByNumberNormalises(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	out, err := invoke(t, c, "search_flights_by_number", map[string]any{"airline": "ua", "flight_number": "01532"}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var flights []model.Flight
	if err := json.Unmarshal([]byte(out), &flights); err != nil || len(flights) != 1 || flights[0].ArrivalAirport != "DEN" {
		t.Fatalf("unexpected flights %q", out)
	}
}

func TestListFlights(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	out, err := invoke(t, c, "list_flights", map[string]any{"departure_airport": "SFO", "date": "2024-01-08"}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var got listing[model.Flight]
	if err := json.Unmarshal([]byte(out), &got); err != nil || got.Total != 3 || len(got.Results) != 2 || got.Results[0].FlightNumber != "1532" {
		t.Fatalf("unexpected listing %q", out)
	}
	if _, err := invoke(t, c, "list_flights", map[string]any{"departure_airport": "SFO"}, nil); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("missing date should fail validation, got %v", err)
	}
}

func TestSearchAmenities(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	out, err := invoke(t, c, "search_amenities", map[string]any{"query": "espresso coffee pastries"}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var got []amenityResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) == 0 || got[0].Name != "Cafe" || got[0].Similarity < 0.99 {
		t.Fatalf("unexpected results %+v", got)
	}
	if len(got[0].Related) != 1 || got[0].Related[0].Name != "Lounge" || got[0].Related[0].Relation != "NEAR" {
		t.Fatalf("related amenities missing: %+v", got[0].Related)
	}
	if strings.Contains(out, "embedding") {
		t.Fatal("vectors must not reach the model")
	}
	if _, err := invoke(t, c, "search_amenities", map[string]any{"query": "coffee", "open_day": "monday"}, nil); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := invoke(t, c, "search_amenities", map[string]any{"query": "  "}, nil); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error for blank query, got %v", err)
	}
}

func TestSearchPolicies(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	out, err := invoke(t, c, "search_policies", map[string]any{"query": "carry-on bags overhead bin"}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(out, "overhead bin") {
		t.Fatalf("unexpected policies %q", out)
	}
}

func TestInsertTicketRequiresUser(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	args := map[string]any{"airline": "UA", "flight_number": "1532", "departure_airport": "SFO", "departure_time": "2024-01-08 05:50:00"}
	if _, err := invoke(t, c, "insert_ticket", args, nil); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := invoke(t, c, "list_tickets", nil, &auth.User{}); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestInsertAndListTickets(t *testing.T) {
	s := testStore(t)
	c := New(s, embed.Deterministic{}, DefaultOptions)
	user := &auth.User{ID: "u1", Name: "Ada", Email: "ada@example.com"}

	for _, dep := range []string{"2024-01-08 05:50:00", "2024-01-08T05:50:00Z", "2024-01-08"} {
		args := map[string]any{"airline": "UA", "flight_number": "1532", "departure_airport": "sfo", "arrival_airport": "DEN", "departure_time": dep}
		out, err := invoke(t, c, "insert_ticket", args, user)
		if err != nil {
			t.Fatalf("%s: %v", dep, err)
		}
		if !strings.HasPrefix(out, "Booked ticket") {
			t.Fatalf("%s: unexpected reply %q", dep, out)
		}
	}

	tickets, err := s.ListTickets(context.Background(), "u1")
	if err != nil || len(tickets) != 3 {
		t.Fatalf("expected 3 tickets, got %d %v", len(tickets), err)
	}
	if tickets[0].UserEmail != "ada@example.com" || !tickets[0].ArrivalTime.Equal(departure.Add(3*time.Hour)) {
		t.Fatalf("ticket not filled from the flight: %+v", tickets[0])
	}

	out, err := invoke(t, c, "list_tickets", nil, user)
	if err != nil || !strings.Contains(out, `"flight_number":"1532"`) {
		t.Fatalf("unexpected listing %q %v", out, err)
	}
	out, err = invoke(t, c, "list_tickets", nil, &auth.User{ID: "someone-else"})
	if err != nil || !strings.Contains(out, "no booked tickets") {
		t.Fatalf("tickets leaked across users: %q %v", out, err)
	}
}

func TestInsertTicketRejectsUnknownFlight(t *testing.T) {
	c := New(testStore(t), embed.Deterministic{}, DefaultOptions)
	user := &auth.User{ID: "u1"}
	cases := []map[string]any{
		{"airline": "UA", "flight_number": "1532", "departure_airport": "SFO", "departure_time": "2024-01-09 05:50:00"},
		{"airline": "UA", "flight_number": "1532", "departure_airport": "SFO", "arrival_airport": "OAK", "departure_time": "2024-01-08"},
		{"airline": "UA", "flight_number": "1532", "departure_airport": "SFO", "departure_time": "next tuesday"},
		{"airline": "UA", "departure_airport": "SFO", "departure_time": "2024-01-08"},
	}
	for _, args := range cases {
		if _, err := invoke(t, c, "insert_ticket", args, user); !errors.Is(err, errdefs.ErrValidation) {
			t.Fatalf("%v: expected validation error, got %v", args, err)
		}
	}
}
