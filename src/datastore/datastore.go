// Package datastore defines the capability contract every storage provider satisfies and the
// providers themselves: in-memory, SQLite, Postgres with pgvector, MongoDB and Neo4j.
package datastore

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// Kind discriminates provider configurations.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
	KindMongo    Kind = "mongodb"
	KindNeo4j    Kind = "neo4j"
)

// Capabilities is the set of entity families a provider stores.
type Capabilities uint8

const (
	CapAirports Capabilities = 1 << iota
	CapAmenities
	CapFlights
	CapTickets
	CapPolicies
	CapGraph

	CapAll = CapAirports | CapAmenities | CapFlights | CapTickets | CapPolicies | CapGraph
)

// Has reports whether every capability in want is present.
func (c Capabilities) Has(want Capabilities) bool { return c&want == want }

func (c Capabilities) String() string {
	names := []struct {
		cap  Capabilities
		name string
	}{
		{CapAirports, "airports"}, {CapAmenities, "amenities"}, {CapFlights, "flights"},
		{CapTickets, "tickets"}, {CapPolicies, "policies"}, {CapGraph, "graph"},
	}
	var parts []string
	for _, n := range names {
		if c.Has(n.cap) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Phase is one step of the bulk load.
type Phase string

const (
	PhaseWipe          Phase = "wipe"
	PhaseNodes         Phase = "nodes"
	PhaseDerivedEdges  Phase = "derived_edges"
	PhaseManifestEdges Phase = "manifest_edges"
	PhaseIndex         Phase = "index"
)

// Phases lists the bulk load steps in the only order they may run.
var Phases = []Phase{PhaseWipe, PhaseNodes, PhaseDerivedEdges, PhaseManifestEdges, PhaseIndex}

// PhaseRunner applies one bulk load phase as a single atomic unit.
type PhaseRunner interface {
	Kind() Kind
	Capabilities() Capabilities
	RunPhase(ctx context.Context, phase Phase, data model.Dataset) error
}

// Client is the capability contract. Providers return an error matching
// errdefs.ErrUnsupported for operations they do not implement. Entity lookups return
// (nil, nil) when the entity does not exist.
type Client interface {
	PhaseRunner

	GetAirportByID(ctx context.Context, id int64) (*model.Airport, error)
	GetAirportByIATA(ctx context.Context, iata string) (*model.Airport, error)
	SearchAirports(ctx context.Context, q model.AirportQuery) ([]model.Airport, error)

	GetAmenity(ctx context.Context, id int64) (*model.Amenity, error)
	AmenitiesSearch(ctx context.Context, q model.AmenityQuery) ([]model.AmenityMatch, error)

	GetFlight(ctx context.Context, id int64) (*model.Flight, error)
	SearchFlightsByNumber(ctx context.Context, airline, number string) ([]model.Flight, error)
	SearchFlightsByAirports(ctx context.Context, q model.FlightQuery) ([]model.Flight, error)

	ValidateTicket(ctx context.Context, check model.TicketCheck) (*model.Flight, error)
	InsertTicket(ctx context.Context, t model.TicketInsert) (*model.Ticket, error)
	ListTickets(ctx context.Context, userID string) ([]model.Ticket, error)

	PoliciesSearch(ctx context.Context, q model.PolicyQuery) ([]model.PolicyMatch, error)

	InitializeData(ctx context.Context, data model.Dataset) error
	ExportData(ctx context.Context) (model.Dataset, error)
	Counts(ctx context.Context) (model.Counts, error)

	Close() error
}

// Create connects the provider selected by cfg. An unrecognised configuration fails with
// errdefs.ErrConfig before any connection is attempted.
func Create(ctx context.Context, cfg Config) (Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	var (
		client Client
		err    error
	)
	switch c := cfg.(type) {
	case MemoryConfig:
		client = NewMemoryStore()
	case SQLiteConfig:
		client, err = NewSQLiteStore(ctx, c)
	case PostgresConfig:
		client, err = NewPostgresStore(ctx, c)
	case MongoConfig:
		client, err = NewMongoStore(ctx, c)
	case Neo4jConfig:
		client, err = NewNeo4jStore(ctx, c)
	default:
		return nil, errdefs.Configf("unknown datastore kind %q", cfg.Kind())
	}
	if err != nil {
		return nil, fmt.Errorf("create %s datastore: %w", cfg.Kind(), err)
	}
	log.Printf("[datastore] connected %s (%s)", client.Kind(), client.Capabilities())
	return client, nil
}

// requireCap returns an UnsupportedError when caps lacks want.
func requireCap(kind Kind, caps Capabilities, want Capabilities) error {
	if caps.Has(want) {
		return nil
	}
	return errdefs.Unsupported(string(kind), want.String())
}
