package datastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

func TestMemoryStoreContract(t *testing.T) {
	runClientContract(t, NewMemoryStore())
}

func TestMemoryStoreKeepsTicketsAcrossReload(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.InitializeData(ctx, sampleDataset()); err != nil {
		t.Fatalf("load: %v", err)
	}
	dep := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	_, err := s.InsertTicket(ctx, model.TicketInsert{
		UserID: "u", Airline: "UA", FlightNumber: "1532",
		DepartureAirport: "SFO", ArrivalAirport: "YVR",
		DepartureTime: dep, ArrivalTime: dep.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InitializeData(ctx, sampleDataset()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	tickets, err := s.ListTickets(ctx, "u")
	if err != nil || len(tickets) != 1 {
		t.Fatalf("tickets after reload: %+v, %v", tickets, err)
	}
}

func TestMemoryStoreRejectsBadDatasetWithoutWiping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.InitializeData(ctx, sampleDataset()); err != nil {
		t.Fatalf("load: %v", err)
	}
	bad := sampleDataset()
	bad.Amenities[0].Embedding = bad.Amenities[0].Embedding[:10]
	if err := s.InitializeData(ctx, bad); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	counts, _ := s.Counts(ctx)
	if counts.Nodes[model.LabelAmenity] != 5 {
		t.Fatalf("bad load wiped the store: %+v", counts)
	}
}

func TestMemoryStoreSearchTraces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.InitializeData(ctx, sampleDataset()); err != nil {
		t.Fatalf("load: %v", err)
	}
	tr := &trace.Trace{}
	ctx = trace.NewContext(ctx, tr)
	if _, err := s.AmenitiesSearch(ctx, model.AmenityQuery{Query: "coffee", Embedding: axis(0, 1), Threshold: 0.5, TopK: 2}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if tr.Len() != 1 {
		t.Fatalf("expected one trace line, got %d", tr.Len())
	}
}

func TestMemoryStoreUnknownPhase(t *testing.T) {
	if err := NewMemoryStore().RunPhase(context.Background(), Phase("bogus"), model.Dataset{}); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}
