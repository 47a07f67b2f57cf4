package datastore

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

// MemoryStore keeps the whole dataset in process. It implements every capability and is
// used for tests and lightweight deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	airports   map[int64]model.Airport
	amenities  map[int64]model.Amenity
	flights    map[int64]model.Flight
	policies   map[int64]model.Policy
	categories map[string]struct{}
	belongsTo  map[int64]string
	edges      map[model.ResolvedEdge]struct{}
	indexed    bool

	tickets    []model.Ticket
	nextTicket int64
}

var _ Client = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.wipeLocked()
	return s
}

func (s *MemoryStore) Kind() Kind                 { return KindMemory }
func (s *MemoryStore) Capabilities() Capabilities { return CapAll }

func (s *MemoryStore) wipeLocked() {
	s.airports = map[int64]model.Airport{}
	s.amenities = map[int64]model.Amenity{}
	s.flights = map[int64]model.Flight{}
	s.policies = map[int64]model.Policy{}
	s.categories = map[string]struct{}{}
	s.belongsTo = map[int64]string{}
	s.edges = map[model.ResolvedEdge]struct{}{}
	s.indexed = false
}

// RunPhase applies one phase under the write lock. Each phase finishes or leaves the store
// as it was.
func (s *MemoryStore) RunPhase(ctx context.Context, phase Phase, data model.Dataset) error {
	if err := checkPhaseInput(s.Kind(), s.Capabilities(), data); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch phase {
	case PhaseWipe:
		s.wipeLocked()
	case PhaseNodes:
		for _, a := range data.Airports {
			s.airports[a.ID] = a
		}
		for _, a := range data.Amenities {
			a.Embedding = append([]float32(nil), a.Embedding...)
			s.amenities[a.ID] = a
		}
		for _, f := range data.Flights {
			s.flights[f.ID] = f
		}
		for _, p := range data.Policies {
			p.Embedding = append([]float32(nil), p.Embedding...)
			s.policies[p.ID] = p
		}
	case PhaseDerivedEdges:
		for _, a := range data.Amenities {
			if _, ok := s.amenities[a.ID]; !ok {
				continue
			}
			s.categories[a.Category] = struct{}{}
			s.belongsTo[a.ID] = a.Category
		}
	case PhaseManifestEdges:
		edges, unresolved := model.ResolveRelationships(s.amenityList(), data.Relationships)
		for _, e := range edges {
			s.edges[e] = struct{}{}
		}
		logUnresolved(s.Kind(), unresolved)
	case PhaseIndex:
		s.indexed = true
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
	return nil
}

// InitializeData runs the full bulk load.
func (s *MemoryStore) InitializeData(ctx context.Context, data model.Dataset) error {
	return NewPipeline(s).Run(ctx, data)
}

func (s *MemoryStore) amenityList() []model.Amenity {
	out := make([]model.Amenity, 0, len(s.amenities))
	for _, a := range s.amenities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) edgeList() []model.ResolvedEdge {
	out := make([]model.ResolvedEdge, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	return out
}

func (s *MemoryStore) GetAirportByID(_ context.Context, id int64) (*model.Airport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.airports[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetAirportByIATA(_ context.Context, iata string) (*model.Airport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Airport
	for _, a := range s.airports {
		if strings.EqualFold(a.IATA, strings.TrimSpace(iata)) && (found == nil || a.ID < found.ID) {
			a := a
			found = &a
		}
	}
	return found, nil
}

func (s *MemoryStore) SearchAirports(ctx context.Context, q model.AirportQuery) ([]model.Airport, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Airport
	for _, a := range s.airports {
		if q.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > model.AirportSearchLimit {
		out = out[:model.AirportSearchLimit]
	}
	trace.Add(ctx, fmt.Sprintf("Searched airports (country=%q city=%q name=%q): %d found.", q.Country, q.City, q.Name, len(out)))
	return out, nil
}

func (s *MemoryStore) GetAmenity(_ context.Context, id int64) (*model.Amenity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.amenities[id]; ok {
		a.Embedding = nil
		return &a, nil
	}
	return nil, nil
}

func (s *MemoryStore) AmenitiesSearch(ctx context.Context, q model.AmenityQuery) ([]model.AmenityMatch, error) {
	filter, err := q.Validate()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := rankAmenities(s.amenityList(), q, filter)
	edges := s.edgeList()
	for i := range matches {
		matches[i].Related = relatedAmenities(matches[i].Amenity.ID, edges, s.amenities)
	}
	trace.Add(ctx, fmt.Sprintf("Vector search over %d amenities for %q (threshold %.2f, top %d): %d matches.", len(s.amenities), q.Query, q.Threshold, q.TopK, len(matches)))
	return matches, nil
}

func (s *MemoryStore) GetFlight(_ context.Context, id int64) (*model.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.flights[id]; ok {
		return &f, nil
	}
	return nil, nil
}

func (s *MemoryStore) SearchFlightsByNumber(ctx context.Context, airline, number string) ([]model.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Flight
	for _, f := range s.flights {
		if strings.EqualFold(f.Airline, strings.TrimSpace(airline)) && f.FlightNumber == strings.TrimSpace(number) {
			out = append(out, f)
		}
	}
	sortFlights(out)
	trace.Add(ctx, fmt.Sprintf("Looked up flight %s %s: %d found.", airline, number, len(out)))
	return out, nil
}

func (s *MemoryStore) SearchFlightsByAirports(ctx context.Context, q model.FlightQuery) ([]model.Flight, error) {
	start, end, err := q.DayRange()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Flight
	for _, f := range s.flights {
		dep := f.DepartureTime.UTC()
		if dep.Before(start) || !dep.Before(end) || !q.Matches(f) {
			continue
		}
		out = append(out, f)
	}
	sortFlights(out)
	trace.Add(ctx, fmt.Sprintf("Listed flights on %s from %q to %q: %d found.", q.Date, q.DepartureAirport, q.ArrivalAirport, len(out)))
	return out, nil
}

func sortFlights(fs []model.Flight) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].DepartureTime.Equal(fs[j].DepartureTime) {
			return fs[i].DepartureTime.Before(fs[j].DepartureTime)
		}
		return fs[i].ID < fs[j].ID
	})
}

func (s *MemoryStore) ValidateTicket(_ context.Context, check model.TicketCheck) (*model.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Flight
	for _, f := range s.flights {
		if strings.EqualFold(f.Airline, check.Airline) && f.FlightNumber == check.FlightNumber &&
			strings.EqualFold(f.DepartureAirport, check.DepartureAirport) && f.DepartureTime.Equal(check.DepartureTime) {
			if found == nil || f.ID < found.ID {
				f := f
				found = &f
			}
		}
	}
	return found, nil
}

func (s *MemoryStore) InsertTicket(ctx context.Context, t model.TicketInsert) (*model.Ticket, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTicket++
	ticket := t.Ticket(s.nextTicket)
	s.tickets = append(s.tickets, ticket)
	trace.Add(ctx, fmt.Sprintf("Inserted ticket %d for %s %s.", ticket.ID, ticket.Airline, ticket.FlightNumber))
	return &ticket, nil
}

func (s *MemoryStore) ListTickets(_ context.Context, userID string) ([]model.Ticket, error) {
	if err := model.RequireUser(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DepartureTime.Equal(out[j].DepartureTime) {
			return out[i].DepartureTime.Before(out[j].DepartureTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) PoliciesSearch(ctx context.Context, q model.PolicyQuery) ([]model.PolicyMatch, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cands := make([]model.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		cands = append(cands, p)
	}
	matches := rankPolicies(cands, q)
	trace.Add(ctx, fmt.Sprintf("Vector search over %d policies for %q: %d matches.", len(cands), q.Query, len(matches)))
	return matches, nil
}

func (s *MemoryStore) ExportData(_ context.Context) (model.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var d model.Dataset
	for _, a := range s.airports {
		d.Airports = append(d.Airports, a)
	}
	for _, a := range s.amenities {
		a.Embedding = append([]float32(nil), a.Embedding...)
		d.Amenities = append(d.Amenities, a)
	}
	for _, f := range s.flights {
		d.Flights = append(d.Flights, f)
	}
	for _, p := range s.policies {
		p.Embedding = append([]float32(nil), p.Embedding...)
		d.Policies = append(d.Policies, p)
	}
	for e := range s.edges {
		d.Relationships = append(d.Relationships, model.Relationship{
			Source:   s.amenities[e.SourceID].Name,
			Relation: e.Relation,
			Target:   s.amenities[e.TargetID].Name,
		})
	}
	d.Sort()
	return d, nil
}

func (s *MemoryStore) Counts(_ context.Context) (model.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := model.NewCounts()
	c.Set(model.LabelAirport, len(s.airports))
	c.Set(model.LabelAmenity, len(s.amenities))
	c.Set(model.LabelCategory, len(s.categories))
	c.Set(model.LabelFlight, len(s.flights))
	c.Set(model.LabelPolicy, len(s.policies))
	c.Set(model.LabelTicket, len(s.tickets))
	c.SetEdge(model.RelBelongsTo, len(s.belongsTo))
	perType := map[string]int{}
	for e := range s.edges {
		perType[e.Relation]++
	}
	for rel, n := range perType {
		c.SetEdge(rel, n)
	}
	return c, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func logUnresolved(kind Kind, rows []model.Relationship) {
	for _, r := range rows {
		log.Printf("[loader] %s: manifest row %q -[%s]-> %q has no matching amenity", kind, r.Source, r.Relation, r.Target)
	}
}
