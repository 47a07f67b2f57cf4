package datastore

import (
	"database/sql"
	"strings"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
)

// Column lists shared by the relational providers. Per-day opening hours are stored as
// <weekday>_start_hour and <weekday>_end_hour text columns holding "HH:MM".
var (
	airportColumns = "id, iata, name, city, country"
	flightColumns  = "id, airline, flight_number, departure_airport, arrival_airport, departure_time, arrival_time, departure_gate, arrival_gate"
	ticketColumns  = "id, user_id, user_name, user_email, airline, flight_number, departure_airport, arrival_airport, departure_time, arrival_time"
)

func hourColumns() []string {
	cols := make([]string, 0, 14)
	for d := time.Sunday; d <= time.Saturday; d++ {
		day := model.WeekdayColumn(d)
		cols = append(cols, day+"_start_hour", day+"_end_hour")
	}
	return cols
}

// amenityColumns lists the amenity columns in scan order, qualified by alias when set.
// The embedding column is not included.
func amenityColumns(alias string) string {
	cols := append([]string{"id", "name", "description", "location", "terminal", "category", "hour"}, hourColumns()...)
	if alias != "" {
		for i, c := range cols {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

// relatedColumns is amenityColumns for the nullable side of an outer join. Scalar columns
// fall back to zero values so they scan into amenityScan; hour columns are nullable already.
func relatedColumns(alias string) string {
	cols := []string{"COALESCE(" + alias + ".id, 0)"}
	for _, c := range []string{"name", "description", "location", "terminal", "category", "hour"} {
		cols = append(cols, "COALESCE("+alias+"."+c+", '')")
	}
	for _, c := range hourColumns() {
		cols = append(cols, alias+"."+c)
	}
	return strings.Join(cols, ", ")
}

func scheduleArgs(w model.WeeklyHours) []any {
	args := make([]any, 0, 14)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if h := w.Day(d); h != nil {
			args = append(args, h.Start, h.End)
		} else {
			args = append(args, nil, nil)
		}
	}
	return args
}

// amenityScan collects scan destinations for amenityColumns.
type amenityScan struct {
	a     model.Amenity
	hours [14]sql.NullString
}

func (s *amenityScan) dest() []any {
	d := []any{&s.a.ID, &s.a.Name, &s.a.Description, &s.a.Location, &s.a.Terminal, &s.a.Category, &s.a.Hour}
	for i := range s.hours {
		d = append(d, &s.hours[i])
	}
	return d
}

func (s *amenityScan) amenity() model.Amenity {
	a := s.a
	a.Schedule = model.WeeklyHours{}
	for d := time.Sunday; d <= time.Saturday; d++ {
		start, end := s.hours[2*int(d)], s.hours[2*int(d)+1]
		if start.Valid && end.Valid && start.String != "" && end.String != "" {
			a.Schedule[d] = &model.DayHours{Start: start.String, End: end.String}
		}
	}
	return a
}

// openPredicate renders the SQL condition for amenities open at the filter clock. Both
// column names come from model.WeekdayColumn, never from user input. placeholder yields
// the bind marker for the n-th use of the clock argument.
func openPredicate(f *model.OpenFilter, placeholder func() string) string {
	s, e := f.StartKey(), f.EndKey()
	return "(" + s + " IS NOT NULL AND " + e + " IS NOT NULL AND (" +
		"(" + s + " <= " + e + " AND " + s + " <= " + placeholder() + " AND " + placeholder() + " <= " + e + ")" +
		" OR (" + s + " > " + e + " AND (" + placeholder() + " >= " + s + " OR " + placeholder() + " <= " + e + "))))"
}
