package model

import (
	"strings"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// AirportSearchLimit caps SearchAirports results.
const AirportSearchLimit = 10

// AirportQuery searches airports by any combination of country, city and name.
type AirportQuery struct {
	Country string
	City    string
	Name    string
}

// Validate requires at least one predicate.
func (q AirportQuery) Validate() error {
	if strings.TrimSpace(q.Country) == "" && strings.TrimSpace(q.City) == "" && strings.TrimSpace(q.Name) == "" {
		return errdefs.Validationf("airport search requires country, city or name")
	}
	return nil
}

// Matches applies the same predicate the SQL providers use.
func (q AirportQuery) Matches(a Airport) bool {
	if c := strings.TrimSpace(q.Country); c != "" && !strings.EqualFold(a.Country, c) {
		return false
	}
	if c := strings.TrimSpace(q.City); c != "" && !strings.EqualFold(a.City, c) {
		return false
	}
	if n := strings.TrimSpace(q.Name); n != "" && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(n)) {
		return false
	}
	return true
}

// FlightQuery lists flights departing on Date from and/or to the given airports.
type FlightQuery struct {
	Date             string
	DepartureAirport string
	ArrivalAirport   string
}

// DayRange validates the query and returns the [start, end) window of the departure date in UTC.
func (q FlightQuery) DayRange() (time.Time, time.Time, error) {
	if strings.TrimSpace(q.DepartureAirport) == "" && strings.TrimSpace(q.ArrivalAirport) == "" {
		return time.Time{}, time.Time{}, errdefs.Validationf("flight search requires a departure or arrival airport")
	}
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(q.Date))
	if err != nil {
		return time.Time{}, time.Time{}, errdefs.Validationf("flight search date %q must be YYYY-MM-DD", q.Date)
	}
	return day, day.AddDate(0, 0, 1), nil
}

// Matches applies the airport predicate; the date window is checked by the caller.
func (q FlightQuery) Matches(f Flight) bool {
	if d := strings.TrimSpace(q.DepartureAirport); d != "" && !strings.EqualFold(f.DepartureAirport, d) {
		return false
	}
	if a := strings.TrimSpace(q.ArrivalAirport); a != "" && !strings.EqualFold(f.ArrivalAirport, a) {
		return false
	}
	return true
}

// AmenityQuery is a hybrid vector search with an optional open-at filter.
type AmenityQuery struct {
	Query     string
	Embedding []float32
	Threshold float64
	TopK      int
	OpenTime  string
	OpenDay   string
}

// Validate checks the vector part and parses the open filter.
func (q AmenityQuery) Validate() (*OpenFilter, error) {
	if err := validateVectorQuery(q.Embedding, q.Threshold, q.TopK); err != nil {
		return nil, err
	}
	return ParseOpenFilter(q.OpenDay, q.OpenTime)
}

// PolicyQuery is a vector search over policy text.
type PolicyQuery struct {
	Query     string
	Embedding []float32
	Threshold float64
	TopK      int
}

// Validate checks embedding length, threshold range and TopK.
func (q PolicyQuery) Validate() error {
	return validateVectorQuery(q.Embedding, q.Threshold, q.TopK)
}

func validateVectorQuery(embedding []float32, threshold float64, topK int) error {
	if err := ValidateEmbedding(embedding); err != nil {
		return err
	}
	if threshold < -1 || threshold > 1 {
		return errdefs.Validationf("similarity threshold %v outside [-1, 1]", threshold)
	}
	if topK < 1 {
		return errdefs.Validationf("top_k must be at least 1, got %d", topK)
	}
	return nil
}

// TicketCheck identifies a flight to book.
type TicketCheck struct {
	Airline          string
	FlightNumber     string
	DepartureAirport string
	DepartureTime    time.Time
}

// TicketInsert carries everything stored on a ticket.
type TicketInsert struct {
	UserID           string
	UserName         string
	UserEmail        string
	Airline          string
	FlightNumber     string
	DepartureAirport string
	ArrivalAirport   string
	DepartureTime    time.Time
	ArrivalTime      time.Time
}

// Validate requires an authenticated user and a complete flight reference.
func (t TicketInsert) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return errdefs.Authf("ticket insert requires a signed in user")
	}
	switch {
	case strings.TrimSpace(t.Airline) == "", strings.TrimSpace(t.FlightNumber) == "":
		return errdefs.Validationf("ticket requires airline and flight number")
	case strings.TrimSpace(t.DepartureAirport) == "", strings.TrimSpace(t.ArrivalAirport) == "":
		return errdefs.Validationf("ticket requires departure and arrival airports")
	case t.DepartureTime.IsZero(), t.ArrivalTime.IsZero():
		return errdefs.Validationf("ticket requires departure and arrival times")
	}
	return nil
}

// Ticket materialises the insert with the given id.
func (t TicketInsert) Ticket(id int64) Ticket {
	return Ticket{
		ID:               id,
		UserID:           t.UserID,
		UserName:         t.UserName,
		UserEmail:        t.UserEmail,
		Airline:          t.Airline,
		FlightNumber:     t.FlightNumber,
		DepartureAirport: t.DepartureAirport,
		ArrivalAirport:   t.ArrivalAirport,
		DepartureTime:    t.DepartureTime.UTC(),
		ArrivalTime:      t.ArrivalTime.UTC(),
	}
}

// RequireUser rejects ticket listing without a user id.
func RequireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errdefs.Authf("ticket listing requires a signed in user")
	}
	return nil
}
