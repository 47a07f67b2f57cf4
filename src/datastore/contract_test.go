package datastore

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// axis builds a 768 dimension vector from (index, weight) pairs.
func axis(pairs ...float32) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	for i := 0; i+1 < len(pairs); i += 2 {
		v[int(pairs[i])] = pairs[i+1]
	}
	return v
}

func hours(start, end string) *model.DayHours { return &model.DayHours{Start: start, End: end} }

func sampleDataset() model.Dataset {
	var cafeHours, noodleHours model.WeeklyHours
	cafeHours[time.Monday] = hours("06:00", "22:00")
	cafeHours[time.Tuesday] = hours("06:00", "22:00")
	noodleHours[time.Monday] = hours("20:00", "02:00")

	dep := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	return model.Dataset{
		Airports: []model.Airport{
			{ID: 1, IATA: "SFO", Name: "San Francisco International Airport", City: "San Francisco", Country: "United States"},
			{ID: 2, IATA: "OAK", Name: "Oakland International Airport", City: "Oakland", Country: "United States"},
			{ID: 3, IATA: "YVR", Name: "Vancouver International Airport", City: "Vancouver", Country: "Canada"},
		},
		Amenities: []model.Amenity{
			{ID: 1, Name: "Cafe", Description: "espresso and pastries", Location: "Gate A1", Terminal: "1", Category: "Food", Hour: "6am-10pm", Schedule: cafeHours, Embedding: axis(0, 1, 1, 0.1)},
			{ID: 2, Name: "Lounge", Description: "quiet seating", Location: "Gate B4", Terminal: "2", Category: "Lounge", Hour: "24h", Embedding: axis(0, 1, 2, 1)},
			{ID: 3, Name: "Coffee Bar", Description: "pour over coffee", Location: "Gate A3", Terminal: "1", Category: "Food", Hour: "7am-3pm", Embedding: axis(0, 1, 1, 0.3)},
			{ID: 4, Name: "Bookshop", Description: "magazines and novels", Location: "Gate C2", Terminal: "3", Category: "Retail", Hour: "8am-8pm", Embedding: axis(3, 1)},
			{ID: 5, Name: "Night Noodles", Description: "late ramen", Location: "Gate D1", Terminal: "3", Category: "Food", Hour: "8pm-2am", Schedule: noodleHours, Embedding: axis(0, 1, 1, 2)},
		},
		Flights: []model.Flight{
			{ID: 1, Airline: "UA", FlightNumber: "1532", DepartureAirport: "SFO", ArrivalAirport: "YVR", DepartureTime: dep, ArrivalTime: dep.Add(2 * time.Hour), DepartureGate: "A1", ArrivalGate: "C7"},
			{ID: 2, Airline: "UA", FlightNumber: "1533", DepartureAirport: "YVR", ArrivalAirport: "SFO", DepartureTime: dep.Add(10 * time.Hour), ArrivalTime: dep.Add(12 * time.Hour)},
			{ID: 3, Airline: "AA", FlightNumber: "100", DepartureAirport: "SFO", ArrivalAirport: "OAK", DepartureTime: dep.Add(25 * time.Hour), ArrivalTime: dep.Add(26 * time.Hour)},
		},
		Policies: []model.Policy{
			{ID: 1, Content: "Carry-on bags must fit in the overhead bin.", Embedding: axis(4, 1)},
			{ID: 2, Content: "Refunds are issued within seven days.", Embedding: axis(5, 1)},
		},
		Relationships: []model.Relationship{
			{Source: "cafe", Relation: "near", Target: "LOUNGE"},
			{Source: "Coffee Bar", Relation: "next to", Target: "Cafe"},
			{Source: "Ghost Kiosk", Relation: "NEAR", Target: "Cafe"},
		},
	}
}

func expectedCounts(caps Capabilities) model.Counts {
	c := model.NewCounts()
	if caps.Has(CapAirports) {
		c.Set(model.LabelAirport, 3)
	}
	if caps.Has(CapAmenities) {
		c.Set(model.LabelAmenity, 5)
		c.Set(model.LabelCategory, 3)
		c.SetEdge(model.RelBelongsTo, 5)
	}
	if caps.Has(CapFlights) {
		c.Set(model.LabelFlight, 3)
	}
	if caps.Has(CapPolicies) {
		c.Set(model.LabelPolicy, 2)
	}
	if caps.Has(CapGraph) {
		c.SetEdge("NEAR", 1)
		c.SetEdge("NEXT_TO", 1)
	}
	return c
}

// runClientContract exercises the behaviour every provider shares. It expects an empty store.
func runClientContract(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()
	caps := c.Capabilities()
	data := sampleDataset()

	if err := c.InitializeData(ctx, data); err != nil {
		t.Fatalf("first load: %v", err)
	}
	first, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if err := c.InitializeData(ctx, data); err != nil {
		t.Fatalf("second load: %v", err)
	}
	second, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("loads are not idempotent: %+v vs %+v", first, second)
	}
	if want := expectedCounts(caps); !reflect.DeepEqual(first, want) {
		t.Fatalf("unexpected counts %+v, want %+v", first, want)
	}

	if caps.Has(CapAmenities) {
		checkAmenitySearch(t, c)
	}
	if caps.Has(CapAirports) {
		checkAirports(t, c)
	}
	if caps.Has(CapFlights) {
		checkFlights(t, c)
	}
	if caps.Has(CapTickets) {
		checkTickets(t, c)
	}
	if caps.Has(CapPolicies) {
		checkPolicies(t, c)
	}
	checkExport(t, c, data)
	if caps.Has(CapGraph) {
		checkRelatedDeduped(t, c)
	}
}

// checkRelatedDeduped reloads with an edge listed in both directions. The neighbour must
// take one related slot, not two.
func checkRelatedDeduped(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()
	data := sampleDataset()
	data.Relationships = append(data.Relationships, model.Relationship{Source: "Lounge", Relation: "NEAR", Target: "Cafe"})
	if err := c.InitializeData(ctx, data); err != nil {
		t.Fatalf("load with reversed edge: %v", err)
	}
	matches, err := c.AmenitiesSearch(ctx, model.AmenityQuery{Query: "coffee", Embedding: axis(0, 1), Threshold: 0.5, TopK: 1})
	if err != nil {
		t.Fatalf("amenity search: %v", err)
	}
	if len(matches) != 1 || matches[0].Amenity.Name != "Cafe" {
		t.Fatalf("expected Cafe, got %+v", matches)
	}
	var names []string
	for _, r := range matches[0].Related {
		names = append(names, r.Relation+" "+r.Amenity.Name)
	}
	if want := []string{"NEAR Lounge", "NEXT_TO Coffee Bar"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("related %v, want %v", names, want)
	}
}

func checkAmenitySearch(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()
	coffee := axis(0, 1)

	matches, err := c.AmenitiesSearch(ctx, model.AmenityQuery{Query: "coffee", Embedding: coffee, Threshold: 0.5, TopK: 5})
	if err != nil {
		t.Fatalf("amenity search: %v", err)
	}
	if len(matches) == 0 || len(matches) > 5 {
		t.Fatalf("expected 1..5 matches, got %d", len(matches))
	}
	gotIDs := make([]int64, 0, len(matches))
	for i, m := range matches {
		gotIDs = append(gotIDs, m.Amenity.ID)
		if m.Similarity < 0.5 {
			t.Fatalf("match %d below threshold: %v", m.Amenity.ID, m.Similarity)
		}
		if i > 0 && matches[i-1].Similarity <= m.Similarity {
			t.Fatalf("matches not strictly descending at %d: %v then %v", i, matches[i-1].Similarity, m.Similarity)
		}
		if len(m.Related) > model.MaxRelated {
			t.Fatalf("match %d carries %d related amenities", m.Amenity.ID, len(m.Related))
		}
		if len(m.Amenity.Embedding) != 0 {
			t.Fatalf("match %d leaked its embedding", m.Amenity.ID)
		}
	}
	if want := []int64{1, 3, 2}; !reflect.DeepEqual(gotIDs, want) {
		t.Fatalf("unexpected ranking %v, want %v", gotIDs, want)
	}

	if c.Capabilities().Has(CapGraph) {
		rel := matches[0].Related
		if len(rel) != 2 {
			t.Fatalf("expected two related amenities for Cafe, got %+v", rel)
		}
		if rel[0].Relation != "NEAR" || rel[0].Amenity.Name != "Lounge" {
			t.Fatalf("unexpected first related %+v", rel[0])
		}
		if rel[1].Relation != "NEXT_TO" || rel[1].Amenity.Name != "Coffee Bar" {
			t.Fatalf("unexpected second related %+v", rel[1])
		}
	}

	open, err := c.AmenitiesSearch(ctx, model.AmenityQuery{Embedding: coffee, Threshold: -1, TopK: 10, OpenDay: "monday", OpenTime: "21:00"})
	if err != nil {
		t.Fatalf("open search: %v", err)
	}
	if ids := matchIDs(open); !reflect.DeepEqual(ids, []int64{1, 5}) {
		t.Fatalf("monday 21:00 expected Cafe and Night Noodles, got %v", ids)
	}
	late, err := c.AmenitiesSearch(ctx, model.AmenityQuery{Embedding: coffee, Threshold: -1, TopK: 10, OpenDay: "Mon", OpenTime: "1:30am"})
	if err != nil {
		t.Fatalf("late search: %v", err)
	}
	if ids := matchIDs(late); !reflect.DeepEqual(ids, []int64{5}) {
		t.Fatalf("monday 01:30 expected Night Noodles only, got %v", ids)
	}

	_, err = c.AmenitiesSearch(ctx, model.AmenityQuery{Embedding: coffee, Threshold: 0.5, TopK: 5, OpenDay: "monday"})
	if !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("day without time: expected validation error, got %v", err)
	}

	a, err := c.GetAmenity(ctx, 3)
	if err != nil || a == nil || a.Name != "Coffee Bar" {
		t.Fatalf("get amenity: %+v, %v", a, err)
	}
	if missing, err := c.GetAmenity(ctx, 99); err != nil || missing != nil {
		t.Fatalf("missing amenity: %+v, %v", missing, err)
	}
}

func matchIDs(ms []model.AmenityMatch) []int64 {
	ids := make([]int64, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.Amenity.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func checkAirports(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()
	a, err := c.GetAirportByIATA(ctx, "yvr")
	if err != nil || a == nil || a.ID != 3 {
		t.Fatalf("get by iata: %+v, %v", a, err)
	}
	if a, err := c.GetAirportByID(ctx, 1); err != nil || a == nil || a.IATA != "SFO" {
		t.Fatalf("get by id: %+v, %v", a, err)
	}
	if a, err := c.GetAirportByID(ctx, 42); err != nil || a != nil {
		t.Fatalf("missing airport: %+v, %v", a, err)
	}
	found, err := c.SearchAirports(ctx, model.AirportQuery{Country: "united states", Name: "international"})
	if err != nil {
		t.Fatalf("search airports: %v", err)
	}
	if len(found) != 2 || found[0].ID != 1 || found[1].ID != 2 {
		t.Fatalf("unexpected airports %+v", found)
	}
	if _, err := c.SearchAirports(ctx, model.AirportQuery{}); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("empty airport query: expected validation error, got %v", err)
	}
}

func checkFlights(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()
	byNumber, err := c.SearchFlightsByNumber(ctx, "ua", "1532")
	if err != nil || len(byNumber) != 1 || byNumber[0].ID != 1 {
		t.Fatalf("flights by number: %+v, %v", byNumber, err)
	}
	day, err := c.SearchFlightsByAirports(ctx, model.FlightQuery{Date: "2024-01-15", DepartureAirport: "SFO"})
	if err != nil || len(day) != 1 || day[0].ID != 1 {
		t.Fatalf("flights on day: %+v, %v", day, err)
	}
	arrivals, err := c.SearchFlightsByAirports(ctx, model.FlightQuery{Date: "2024-01-15", ArrivalAirport: "SFO"})
	if err != nil || len(arrivals) != 1 || arrivals[0].ID != 2 {
		t.Fatalf("arrivals on day: %+v, %v", arrivals, err)
	}
	if _, err := c.SearchFlightsByAirports(ctx, model.FlightQuery{Date: "2024-01-15"}); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("flight query without airports: expected validation error, got %v", err)
	}
	if f, err := c.GetFlight(ctx, 3); err != nil || f == nil || f.Airline != "AA" {
		t.Fatalf("get flight: %+v, %v", f, err)
	}
}

func checkTickets(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()
	dep := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	f, err := c.ValidateTicket(ctx, model.TicketCheck{Airline: "UA", FlightNumber: "1532", DepartureAirport: "SFO", DepartureTime: dep})
	if err != nil || f == nil || f.ID != 1 {
		t.Fatalf("validate ticket: %+v, %v", f, err)
	}
	if f, err := c.ValidateTicket(ctx, model.TicketCheck{Airline: "UA", FlightNumber: "1532", DepartureAirport: "SFO", DepartureTime: dep.Add(time.Hour)}); err != nil || f != nil {
		t.Fatalf("validate wrong time: %+v, %v", f, err)
	}
	insert := model.TicketInsert{
		UserID: "user-1", UserName: "Ada", UserEmail: "ada@example.com",
		Airline: f.Airline, FlightNumber: f.FlightNumber,
		DepartureAirport: f.DepartureAirport, ArrivalAirport: f.ArrivalAirport,
		DepartureTime: f.DepartureTime, ArrivalTime: f.ArrivalTime,
	}
	if _, err := c.InsertTicket(ctx, insert); err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
	anon := insert
	anon.UserID = ""
	if _, err := c.InsertTicket(ctx, anon); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("anonymous insert: expected auth error, got %v", err)
	}
	tickets, err := c.ListTickets(ctx, "user-1")
	if err != nil || len(tickets) != 1 || tickets[0].FlightNumber != "1532" || !tickets[0].DepartureTime.Equal(dep) {
		t.Fatalf("list tickets: %+v, %v", tickets, err)
	}
	if other, err := c.ListTickets(ctx, "user-2"); err != nil || len(other) != 0 {
		t.Fatalf("other user tickets: %+v, %v", other, err)
	}
	if _, err := c.ListTickets(ctx, ""); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("anonymous list: expected auth error, got %v", err)
	}
}

func checkPolicies(t *testing.T, c Client) {
	t.Helper()
	matches, err := c.PoliciesSearch(context.Background(), model.PolicyQuery{Query: "bags", Embedding: axis(4, 1, 5, 0.2), Threshold: 0.5, TopK: 3})
	if err != nil {
		t.Fatalf("policy search: %v", err)
	}
	if len(matches) != 1 || matches[0].Policy.ID != 1 {
		t.Fatalf("unexpected policy matches %+v", matches)
	}
}

func checkExport(t *testing.T, c Client, in model.Dataset) {
	t.Helper()
	ctx := context.Background()
	out, err := c.ExportData(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	caps := c.Capabilities()
	if caps.Has(CapAmenities) {
		if len(out.Amenities) != len(in.Amenities) {
			t.Fatalf("exported %d amenities, want %d", len(out.Amenities), len(in.Amenities))
		}
		for i, a := range out.Amenities {
			want := in.Amenities[i]
			if a.ID != want.ID || a.Name != want.Name || a.Category != want.Category {
				t.Fatalf("amenity %d mismatch: %+v", i, a)
			}
			if !reflect.DeepEqual(a.Schedule, want.Schedule) {
				t.Fatalf("amenity %d schedule mismatch: %+v", a.ID, a.Schedule)
			}
			if model.CosineSimilarity(a.Embedding, want.Embedding) < 0.9999 {
				t.Fatalf("amenity %d embedding did not survive export", a.ID)
			}
		}
	}
	if caps.Has(CapAirports) {
		for i, a := range out.Airports {
			if a != in.Airports[i] {
				t.Fatalf("airport %d mismatch: %+v", i, a)
			}
		}
	}
	if caps.Has(CapFlights) {
		for i, f := range out.Flights {
			want := in.Flights[i]
			if f.ID != want.ID || f.FlightNumber != want.FlightNumber || !f.DepartureTime.Equal(want.DepartureTime) {
				t.Fatalf("flight %d mismatch: %+v", i, f)
			}
		}
	}

	// Reloading an export reproduces the same counts.
	reload := NewMemoryStore()
	if err := reload.InitializeData(ctx, out); err != nil {
		t.Fatalf("reload export: %v", err)
	}
	got, err := reload.Counts(ctx)
	if err != nil {
		t.Fatalf("reload counts: %v", err)
	}
	want, _ := c.Counts(ctx)
	delete(want.Nodes, model.LabelTicket)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("export roundtrip counts %+v, want %+v", got, want)
	}
}
