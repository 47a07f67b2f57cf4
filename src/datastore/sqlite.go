package datastore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

// sqliteTime is fixed width so text comparison orders like time.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteTicketsSchema = `CREATE TABLE IF NOT EXISTS tickets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	user_email TEXT NOT NULL DEFAULT '',
	airline TEXT NOT NULL,
	flight_number TEXT NOT NULL,
	departure_airport TEXT NOT NULL,
	arrival_airport TEXT NOT NULL,
	departure_time TEXT NOT NULL,
	arrival_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tickets_user ON tickets(user_id);`

func sqliteSchema() string {
	var hours strings.Builder
	for _, c := range hourColumns() {
		hours.WriteString("\t" + c + " TEXT,\n")
	}
	return `CREATE TABLE IF NOT EXISTS airports (
	id INTEGER PRIMARY KEY,
	iata TEXT NOT NULL,
	name TEXT NOT NULL,
	city TEXT NOT NULL,
	country TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS amenities (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	terminal TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	hour TEXT NOT NULL DEFAULT '',
` + hours.String() + `	embedding BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS categories (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS amenity_categories (
	amenity_id INTEGER NOT NULL,
	category TEXT NOT NULL,
	PRIMARY KEY (amenity_id, category)
);
CREATE TABLE IF NOT EXISTS amenity_relationships (
	source_id INTEGER NOT NULL,
	relation TEXT NOT NULL,
	target_id INTEGER NOT NULL,
	PRIMARY KEY (source_id, relation, target_id)
);
CREATE TABLE IF NOT EXISTS flights (
	id INTEGER PRIMARY KEY,
	airline TEXT NOT NULL,
	flight_number TEXT NOT NULL,
	departure_airport TEXT NOT NULL,
	arrival_airport TEXT NOT NULL,
	departure_time TEXT NOT NULL,
	arrival_time TEXT NOT NULL,
	departure_gate TEXT NOT NULL DEFAULT '',
	arrival_gate TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS policies (
	id INTEGER PRIMARY KEY,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL
);
` + sqliteTicketsSchema
}

// sqliteTables are dropped by the wipe phase. Tickets are never dropped.
var sqliteTables = []string{"amenity_relationships", "amenity_categories", "categories", "amenities", "airports", "flights", "policies"}

// SQLiteStore is the embedded provider. Similarity is computed in process over embeddings
// stored as little endian float32 blobs.
type SQLiteStore struct {
	db *sql.DB
}

var _ Client = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dsn := cfg.Path
	inMemory := cfg.Path == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create data directory: %w", err)
			}
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if inMemory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Kind() Kind                 { return KindSQLite }
func (s *SQLiteStore) Capabilities() Capabilities { return CapAll }

// Close closes the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InitializeData(ctx context.Context, data model.Dataset) error {
	return NewPipeline(s).Run(ctx, data)
}

// RunPhase runs one phase inside a single transaction.
func (s *SQLiteStore) RunPhase(ctx context.Context, phase Phase, data model.Dataset) error {
	if err := checkPhaseInput(s.Kind(), s.Capabilities(), data); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch phase {
	case PhaseWipe:
		err = s.wipe(ctx, tx)
	case PhaseNodes:
		err = s.insertNodes(ctx, tx, data)
	case PhaseDerivedEdges:
		err = s.insertCategories(ctx, tx, data)
	case PhaseManifestEdges:
		err = s.insertRelationships(ctx, tx, data.Relationships)
	case PhaseIndex:
		err = s.createIndexes(ctx, tx)
	default:
		err = fmt.Errorf("unknown phase %q", phase)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) wipe(ctx context.Context, tx *sql.Tx) error {
	for _, t := range sqliteTables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	_, err := tx.ExecContext(ctx, sqliteSchema())
	return err
}

func (s *SQLiteStore) insertNodes(ctx context.Context, tx *sql.Tx, data model.Dataset) error {
	for _, a := range data.Airports {
		if _, err := tx.ExecContext(ctx, "INSERT INTO airports ("+airportColumns+") VALUES (?, ?, ?, ?, ?)",
			a.ID, a.IATA, a.Name, a.City, a.Country); err != nil {
			return fmt.Errorf("insert airport %d: %w", a.ID, err)
		}
	}

	cols := append([]string{"id", "name", "name_key", "description", "location", "terminal", "category", "hour"}, hourColumns()...)
	cols = append(cols, "embedding")
	insertAmenity := "INSERT INTO amenities (" + strings.Join(cols, ", ") + ") VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	for _, a := range data.Amenities {
		args := []any{a.ID, a.Name, model.NameKey(a.Name), a.Description, a.Location, a.Terminal, a.Category, a.Hour}
		args = append(args, scheduleArgs(a.Schedule)...)
		args = append(args, encodeVector(a.Embedding))
		if _, err := tx.ExecContext(ctx, insertAmenity, args...); err != nil {
			return fmt.Errorf("insert amenity %d: %w", a.ID, err)
		}
	}

	for _, f := range data.Flights {
		if _, err := tx.ExecContext(ctx, "INSERT INTO flights ("+flightColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			f.ID, f.Airline, f.FlightNumber, f.DepartureAirport, f.ArrivalAirport,
			formatSQLiteTime(f.DepartureTime), formatSQLiteTime(f.ArrivalTime), f.DepartureGate, f.ArrivalGate); err != nil {
			return fmt.Errorf("insert flight %d: %w", f.ID, err)
		}
	}

	for _, p := range data.Policies {
		if _, err := tx.ExecContext(ctx, "INSERT INTO policies (id, content, embedding) VALUES (?, ?, ?)",
			p.ID, p.Content, encodeVector(p.Embedding)); err != nil {
			return fmt.Errorf("insert policy %d: %w", p.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertCategories(ctx context.Context, tx *sql.Tx, data model.Dataset) error {
	for _, c := range data.Categories() {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO categories (name) VALUES (?)", c); err != nil {
			return fmt.Errorf("insert category %q: %w", c, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO amenity_categories (amenity_id, category)
		SELECT id, category FROM amenities`); err != nil {
		return fmt.Errorf("link categories: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insertRelationships(ctx context.Context, tx *sql.Tx, rels []model.Relationship) error {
	amenities, err := s.amenityNames(ctx, tx)
	if err != nil {
		return err
	}
	edges, unresolved := model.ResolveRelationships(amenities, rels)
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO amenity_relationships (source_id, relation, target_id) VALUES (?, ?, ?)",
			e.SourceID, e.Relation, e.TargetID); err != nil {
			return fmt.Errorf("insert relationship %d-%s-%d: %w", e.SourceID, e.Relation, e.TargetID, err)
		}
	}
	logUnresolved(s.Kind(), unresolved)
	return nil
}

func (s *SQLiteStore) amenityNames(ctx context.Context, tx *sql.Tx) ([]model.Amenity, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, name FROM amenities ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Amenity
	for rows.Next() {
		var a model.Amenity
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) createIndexes(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS airports_iata ON airports(iata COLLATE NOCASE)",
		"CREATE INDEX IF NOT EXISTS amenities_name_key ON amenities(name_key)",
		"CREATE INDEX IF NOT EXISTS flights_number ON flights(airline, flight_number)",
		"CREATE INDEX IF NOT EXISTS flights_departure ON flights(departure_time)",
		"CREATE INDEX IF NOT EXISTS relationships_target ON amenity_relationships(target_id)",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetAirportByID(ctx context.Context, id int64) (*model.Airport, error) {
	return s.oneAirport(ctx, "SELECT "+airportColumns+" FROM airports WHERE id = ?", id)
}

func (s *SQLiteStore) GetAirportByIATA(ctx context.Context, iata string) (*model.Airport, error) {
	return s.oneAirport(ctx, "SELECT "+airportColumns+" FROM airports WHERE iata = ? COLLATE NOCASE ORDER BY id LIMIT 1", strings.TrimSpace(iata))
}

func (s *SQLiteStore) oneAirport(ctx context.Context, query string, args ...any) (*model.Airport, error) {
	var a model.Airport
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.IATA, &a.Name, &a.City, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) SearchAirports(ctx context.Context, q model.AirportQuery) ([]model.Airport, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var (
		conds []string
		args  []any
	)
	if v := strings.TrimSpace(q.Country); v != "" {
		conds = append(conds, "LOWER(country) = LOWER(?)")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.City); v != "" {
		conds = append(conds, "LOWER(city) = LOWER(?)")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Name); v != "" {
		conds = append(conds, "INSTR(LOWER(name), LOWER(?)) > 0")
		args = append(args, v)
	}
	args = append(args, model.AirportSearchLimit)
	rows, err := s.db.QueryContext(ctx, "SELECT "+airportColumns+" FROM airports WHERE "+strings.Join(conds, " AND ")+" ORDER BY id LIMIT ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Airport
	for rows.Next() {
		var a model.Airport
		if err := rows.Scan(&a.ID, &a.IATA, &a.Name, &a.City, &a.Country); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Searched airports (country=%q city=%q name=%q): %d found.", q.Country, q.City, q.Name, len(out)))
	return out, nil
}

func (s *SQLiteStore) GetAmenity(ctx context.Context, id int64) (*model.Amenity, error) {
	var sc amenityScan
	err := s.db.QueryRowContext(ctx, "SELECT "+amenityColumns("")+" FROM amenities WHERE id = ?", id).Scan(sc.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a := sc.amenity()
	return &a, nil
}

func (s *SQLiteStore) AmenitiesSearch(ctx context.Context, q model.AmenityQuery) ([]model.AmenityMatch, error) {
	filter, err := q.Validate()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + amenityColumns("") + ", embedding FROM amenities"
	var args []any
	if filter != nil {
		query += " WHERE " + openPredicate(filter, func() string {
			args = append(args, filter.Clock)
			return "?"
		})
	}
	cands, err := s.scanAmenities(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	matches := rankAmenities(cands, q, filter)
	for i := range matches {
		rel, err := s.related(ctx, matches[i].Amenity.ID)
		if err != nil {
			return nil, err
		}
		matches[i].Related = rel
	}
	trace.Add(ctx, fmt.Sprintf("Vector search over %d amenities for %q (threshold %.2f, top %d): %d matches.", len(cands), q.Query, q.Threshold, q.TopK, len(matches)))
	return matches, nil
}

func (s *SQLiteStore) scanAmenities(ctx context.Context, query string, args ...any) ([]model.Amenity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Amenity
	for rows.Next() {
		var (
			sc   amenityScan
			blob []byte
		)
		if err := rows.Scan(append(sc.dest(), &blob)...); err != nil {
			return nil, err
		}
		a := sc.amenity()
		if a.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("amenity %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) related(ctx context.Context, id int64) ([]model.RelatedAmenity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT MIN(r.relation) AS relation, `+amenityColumns("a")+`
		FROM amenity_relationships r
		JOIN amenities a ON a.id = CASE WHEN r.source_id = ?1 THEN r.target_id ELSE r.source_id END
		WHERE (r.source_id = ?1 OR r.target_id = ?1) AND r.source_id <> r.target_id
		GROUP BY a.id
		ORDER BY relation, a.name, a.id
		LIMIT ?2`, id, model.MaxRelated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RelatedAmenity
	for rows.Next() {
		var (
			rel string
			sc  amenityScan
		)
		if err := rows.Scan(append([]any{&rel}, sc.dest()...)...); err != nil {
			return nil, err
		}
		out = append(out, model.RelatedAmenity{Relation: rel, Amenity: sc.amenity()})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFlight(ctx context.Context, id int64) (*model.Flight, error) {
	flights, err := s.queryFlights(ctx, "SELECT "+flightColumns+" FROM flights WHERE id = ?", id)
	if err != nil || len(flights) == 0 {
		return nil, err
	}
	return &flights[0], nil
}

func (s *SQLiteStore) SearchFlightsByNumber(ctx context.Context, airline, number string) ([]model.Flight, error) {
	out, err := s.queryFlights(ctx, "SELECT "+flightColumns+" FROM flights WHERE airline = ? COLLATE NOCASE AND flight_number = ? ORDER BY departure_time, id",
		strings.TrimSpace(airline), strings.TrimSpace(number))
	if err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Looked up flight %s %s: %d found.", airline, number, len(out)))
	return out, nil
}

func (s *SQLiteStore) SearchFlightsByAirports(ctx context.Context, q model.FlightQuery) ([]model.Flight, error) {
	start, end, err := q.DayRange()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + flightColumns + " FROM flights WHERE departure_time >= ? AND departure_time < ?"
	args := []any{formatSQLiteTime(start), formatSQLiteTime(end)}
	if v := strings.TrimSpace(q.DepartureAirport); v != "" {
		query += " AND departure_airport = ? COLLATE NOCASE"
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.ArrivalAirport); v != "" {
		query += " AND arrival_airport = ? COLLATE NOCASE"
		args = append(args, v)
	}
	out, err := s.queryFlights(ctx, query+" ORDER BY departure_time, id", args...)
	if err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Listed flights on %s from %q to %q: %d found.", q.Date, q.DepartureAirport, q.ArrivalAirport, len(out)))
	return out, nil
}

func (s *SQLiteStore) queryFlights(ctx context.Context, query string, args ...any) ([]model.Flight, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Flight
	for rows.Next() {
		var (
			f        model.Flight
			dep, arr string
		)
		if err := rows.Scan(&f.ID, &f.Airline, &f.FlightNumber, &f.DepartureAirport, &f.ArrivalAirport, &dep, &arr, &f.DepartureGate, &f.ArrivalGate); err != nil {
			return nil, err
		}
		if f.DepartureTime, err = parseSQLiteTime(dep); err != nil {
			return nil, err
		}
		if f.ArrivalTime, err = parseSQLiteTime(arr); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ValidateTicket(ctx context.Context, check model.TicketCheck) (*model.Flight, error) {
	flights, err := s.queryFlights(ctx, "SELECT "+flightColumns+` FROM flights
		WHERE airline = ? COLLATE NOCASE AND flight_number = ? AND departure_airport = ? COLLATE NOCASE AND departure_time = ?
		ORDER BY id LIMIT 1`,
		check.Airline, check.FlightNumber, check.DepartureAirport, formatSQLiteTime(check.DepartureTime))
	if err != nil || len(flights) == 0 {
		return nil, err
	}
	return &flights[0], nil
}

func (s *SQLiteStore) InsertTicket(ctx context.Context, t model.TicketInsert) (*model.Ticket, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO tickets (user_id, user_name, user_email, airline, flight_number,
		departure_airport, arrival_airport, departure_time, arrival_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.UserName, t.UserEmail, t.Airline, t.FlightNumber, t.DepartureAirport, t.ArrivalAirport,
		formatSQLiteTime(t.DepartureTime), formatSQLiteTime(t.ArrivalTime))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	ticket := t.Ticket(id)
	trace.Add(ctx, fmt.Sprintf("Inserted ticket %d for %s %s.", ticket.ID, ticket.Airline, ticket.FlightNumber))
	return &ticket, nil
}

func (s *SQLiteStore) ListTickets(ctx context.Context, userID string) ([]model.Ticket, error) {
	if err := model.RequireUser(userID); err != nil {
		return nil, err
	}
	return s.queryTickets(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE user_id = ? ORDER BY departure_time, id", userID)
}

func (s *SQLiteStore) queryTickets(ctx context.Context, query string, args ...any) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		var (
			t        model.Ticket
			dep, arr string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.UserName, &t.UserEmail, &t.Airline, &t.FlightNumber,
			&t.DepartureAirport, &t.ArrivalAirport, &dep, &arr); err != nil {
			return nil, err
		}
		if t.DepartureTime, err = parseSQLiteTime(dep); err != nil {
			return nil, err
		}
		if t.ArrivalTime, err = parseSQLiteTime(arr); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PoliciesSearch(ctx context.Context, q model.PolicyQuery) ([]model.PolicyMatch, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	cands, err := s.allPolicies(ctx)
	if err != nil {
		return nil, err
	}
	matches := rankPolicies(cands, q)
	trace.Add(ctx, fmt.Sprintf("Vector search over %d policies for %q: %d matches.", len(cands), q.Query, len(matches)))
	return matches, nil
}

func (s *SQLiteStore) allPolicies(ctx context.Context) ([]model.Policy, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, content, embedding FROM policies ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Policy
	for rows.Next() {
		var (
			p    model.Policy
			blob []byte
		)
		if err := rows.Scan(&p.ID, &p.Content, &blob); err != nil {
			return nil, err
		}
		if p.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("policy %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ExportData(ctx context.Context) (model.Dataset, error) {
	var d model.Dataset
	rows, err := s.db.QueryContext(ctx, "SELECT "+airportColumns+" FROM airports ORDER BY id")
	if err != nil {
		return d, err
	}
	for rows.Next() {
		var a model.Airport
		if err := rows.Scan(&a.ID, &a.IATA, &a.Name, &a.City, &a.Country); err != nil {
			rows.Close()
			return d, err
		}
		d.Airports = append(d.Airports, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, err
	}

	if d.Amenities, err = s.scanAmenities(ctx, "SELECT "+amenityColumns("")+", embedding FROM amenities ORDER BY id"); err != nil {
		return d, err
	}
	if d.Flights, err = s.queryFlights(ctx, "SELECT "+flightColumns+" FROM flights ORDER BY id"); err != nil {
		return d, err
	}
	if d.Policies, err = s.allPolicies(ctx); err != nil {
		return d, err
	}

	rels, err := s.db.QueryContext(ctx, `SELECT s.name, r.relation, t.name FROM amenity_relationships r
		JOIN amenities s ON s.id = r.source_id JOIN amenities t ON t.id = r.target_id`)
	if err != nil {
		return d, err
	}
	defer rels.Close()
	for rels.Next() {
		var r model.Relationship
		if err := rels.Scan(&r.Source, &r.Relation, &r.Target); err != nil {
			return d, err
		}
		d.Relationships = append(d.Relationships, r)
	}
	if err := rels.Err(); err != nil {
		return d, err
	}
	d.Sort()
	return d, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (model.Counts, error) {
	c := model.NewCounts()
	tables := []struct{ label, table string }{
		{model.LabelAirport, "airports"},
		{model.LabelAmenity, "amenities"},
		{model.LabelCategory, "categories"},
		{model.LabelFlight, "flights"},
		{model.LabelPolicy, "policies"},
		{model.LabelTicket, "tickets"},
	}
	for _, t := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(&n); err != nil {
			return c, fmt.Errorf("count %s: %w", t.table, err)
		}
		c.Set(t.label, n)
	}
	var belongs int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM amenity_categories").Scan(&belongs); err != nil {
		return c, err
	}
	c.SetEdge(model.RelBelongsTo, belongs)

	rows, err := s.db.QueryContext(ctx, "SELECT relation, COUNT(*) FROM amenity_relationships GROUP BY relation")
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rel string
			n   int
		)
		if err := rows.Scan(&rel, &n); err != nil {
			return c, err
		}
		c.SetEdge(rel, n)
	}
	return c, rows.Err()
}

func formatSQLiteTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// encodeVector packs a vector as little endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errdefs.Validationf("embedding blob of %d bytes is not a float32 vector", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
