package model

import "time"

// Airport is immutable reference data.
type Airport struct {
	ID      int64  `json:"id"`
	IATA    string `json:"iata"`
	Name    string `json:"name"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// Amenity is a point of interest inside an airport. It belongs to exactly one category.
type Amenity struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Terminal    string      `json:"terminal"`
	Category    string      `json:"category"`
	Hour        string      `json:"hour"`
	Schedule    WeeklyHours `json:"schedule"`
	Embedding   []float32   `json:"embedding,omitempty"`
}

// Flight is a scheduled departure between two airports.
type Flight struct {
	ID               int64     `json:"id"`
	Airline          string    `json:"airline"`
	FlightNumber     string    `json:"flight_number"`
	DepartureAirport string    `json:"departure_airport"`
	ArrivalAirport   string    `json:"arrival_airport"`
	DepartureTime    time.Time `json:"departure_time"`
	ArrivalTime      time.Time `json:"arrival_time"`
	DepartureGate    string    `json:"departure_gate,omitempty"`
	ArrivalGate      string    `json:"arrival_gate,omitempty"`
}

// Policy is a chunk of airline policy text.
type Policy struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Ticket records a booked flight for a user. Tickets are only ever inserted.
type Ticket struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	UserName         string    `json:"user_name"`
	UserEmail        string    `json:"user_email"`
	Airline          string    `json:"airline"`
	FlightNumber     string    `json:"flight_number"`
	DepartureAirport string    `json:"departure_airport"`
	ArrivalAirport   string    `json:"arrival_airport"`
	DepartureTime    time.Time `json:"departure_time"`
	ArrivalTime      time.Time `json:"arrival_time"`
}

// Relationship is one row of the relationship manifest: amenity names joined by a relation type.
type Relationship struct {
	Source   string `json:"src_id"`
	Relation string `json:"rel_type"`
	Target   string `json:"tgt_id"`
}

// RelatedAmenity is an amenity reached from a search match through one relationship.
type RelatedAmenity struct {
	Relation string  `json:"relationship_type"`
	Amenity  Amenity `json:"amenity"`
}

// AmenityMatch is one ranked amenity search result.
type AmenityMatch struct {
	Amenity    Amenity          `json:"amenity"`
	Similarity float64          `json:"similarity"`
	Related    []RelatedAmenity `json:"related,omitempty"`
}

// PolicyMatch is one ranked policy search result.
type PolicyMatch struct {
	Policy     Policy  `json:"policy"`
	Similarity float64 `json:"similarity"`
}

// Graph labels and the derived relation type shared by every provider's Counts.
const (
	LabelAirport  = "Airport"
	LabelAmenity  = "Amenity"
	LabelCategory = "Category"
	LabelFlight   = "Flight"
	LabelPolicy   = "Policy"
	LabelTicket   = "Ticket"

	RelBelongsTo = "BELONGS_TO"
)

// MaxRelated caps the related amenities attached to one search match.
const MaxRelated = 2

// Counts reports node counts per label and edge counts per relation type.
type Counts struct {
	Nodes map[string]int `json:"nodes"`
	Edges map[string]int `json:"edges"`
}

// NewCounts returns Counts with initialised maps.
func NewCounts() Counts {
	return Counts{Nodes: map[string]int{}, Edges: map[string]int{}}
}

// Set records n under label, skipping zero counts so providers that store different
// families compare cleanly.
func (c Counts) Set(label string, n int) {
	if n > 0 {
		c.Nodes[label] = n
	}
}

// SetEdge records n edges of the given relation type.
func (c Counts) SetEdge(relation string, n int) {
	if n > 0 {
		c.Edges[relation] = n
	}
}
