package datastore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

const postgresTicketsSchema = `CREATE TABLE IF NOT EXISTS tickets (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	user_email TEXT NOT NULL DEFAULT '',
	airline TEXT NOT NULL,
	flight_number TEXT NOT NULL,
	departure_airport TEXT NOT NULL,
	arrival_airport TEXT NOT NULL,
	departure_time TIMESTAMPTZ NOT NULL,
	arrival_time TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tickets_user ON tickets (user_id);`

func postgresSchema() string {
	var hours strings.Builder
	for _, c := range hourColumns() {
		hours.WriteString("\t" + c + " TEXT,\n")
	}
	dim := strconv.Itoa(model.EmbeddingDimension)
	return `CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS airports (
	id BIGINT PRIMARY KEY,
	iata TEXT NOT NULL,
	name TEXT NOT NULL,
	city TEXT NOT NULL,
	country TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS amenities (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	terminal TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	hour TEXT NOT NULL DEFAULT '',
` + hours.String() + `	embedding vector(` + dim + `) NOT NULL
);
CREATE TABLE IF NOT EXISTS categories (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS amenity_categories (
	amenity_id BIGINT NOT NULL,
	category TEXT NOT NULL,
	PRIMARY KEY (amenity_id, category)
);
CREATE TABLE IF NOT EXISTS amenity_relationships (
	source_id BIGINT NOT NULL,
	relation TEXT NOT NULL,
	target_id BIGINT NOT NULL,
	PRIMARY KEY (source_id, relation, target_id)
);
CREATE TABLE IF NOT EXISTS flights (
	id BIGINT PRIMARY KEY,
	airline TEXT NOT NULL,
	flight_number TEXT NOT NULL,
	departure_airport TEXT NOT NULL,
	arrival_airport TEXT NOT NULL,
	departure_time TIMESTAMPTZ NOT NULL,
	arrival_time TIMESTAMPTZ NOT NULL,
	departure_gate TEXT NOT NULL DEFAULT '',
	arrival_gate TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS policies (
	id BIGINT PRIMARY KEY,
	content TEXT NOT NULL,
	embedding vector(` + dim + `) NOT NULL
);
` + postgresTicketsSchema
}

// PostgresStore is the Postgres + pgvector provider. Similarity is 1 - cosine distance.
type PostgresStore struct {
	DB *pgxpool.Pool
}

var _ Client = (*PostgresStore)(nil)

// NewPostgresStore connects the pool, checks the server and creates missing tables.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, errdefs.Configf("postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", errdefs.Unavailable(err))
	}
	if _, err := pool.Exec(ctx, postgresSchema()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", classifyPostgres(err))
	}
	return &PostgresStore{DB: pool}, nil
}

func (ps *PostgresStore) Kind() Kind                 { return KindPostgres }
func (ps *PostgresStore) Capabilities() Capabilities { return CapAll }

func (ps *PostgresStore) Close() error {
	ps.DB.Close()
	return nil
}

// classifyPostgres marks connection level failures as retryable.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return errdefs.Unavailable(err)
	}
	return err
}

func (ps *PostgresStore) InitializeData(ctx context.Context, data model.Dataset) error {
	return NewPipeline(ps).Run(ctx, data)
}

// RunPhase runs one phase inside a single transaction.
func (ps *PostgresStore) RunPhase(ctx context.Context, phase Phase, data model.Dataset) error {
	if err := checkPhaseInput(ps.Kind(), ps.Capabilities(), data); err != nil {
		return err
	}
	tx, err := ps.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyPostgres(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	switch phase {
	case PhaseWipe:
		err = ps.wipe(ctx, tx)
	case PhaseNodes:
		err = ps.insertNodes(ctx, tx, data)
	case PhaseDerivedEdges:
		err = ps.insertCategories(ctx, tx, data)
	case PhaseManifestEdges:
		err = ps.insertRelationships(ctx, tx, data.Relationships)
	case PhaseIndex:
		err = ps.createIndexes(ctx, tx)
	default:
		err = fmt.Errorf("unknown phase %q", phase)
	}
	if err != nil {
		return classifyPostgres(err)
	}
	return classifyPostgres(tx.Commit(ctx))
}

func (ps *PostgresStore) wipe(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS amenity_relationships, amenity_categories, categories,
		amenities, airports, flights, policies CASCADE`); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, postgresSchema())
	return err
}

// execBatch sends queued statements and checks every result.
func execBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch, what string) error {
	if b.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%s row %d: %w", what, i+1, err)
		}
	}
	return br.Close()
}

func placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = "$" + strconv.Itoa(from+i)
	}
	return strings.Join(ps, ", ")
}

func (ps *PostgresStore) insertNodes(ctx context.Context, tx pgx.Tx, data model.Dataset) error {
	airports := &pgx.Batch{}
	for _, a := range data.Airports {
		airports.Queue("INSERT INTO airports ("+airportColumns+") VALUES ($1, $2, $3, $4, $5)", a.ID, a.IATA, a.Name, a.City, a.Country)
	}
	if err := execBatch(ctx, tx, airports, "insert airport"); err != nil {
		return err
	}

	cols := append([]string{"id", "name", "name_key", "description", "location", "terminal", "category", "hour"}, hourColumns()...)
	insertAmenity := "INSERT INTO amenities (" + strings.Join(cols, ", ") + ", embedding) VALUES (" +
		placeholders(1, len(cols)) + ", $" + strconv.Itoa(len(cols)+1) + "::vector)"
	amenities := &pgx.Batch{}
	for _, a := range data.Amenities {
		args := []any{a.ID, a.Name, model.NameKey(a.Name), a.Description, a.Location, a.Terminal, a.Category, a.Hour}
		args = append(args, scheduleArgs(a.Schedule)...)
		args = append(args, vectorParam(a.Embedding))
		amenities.Queue(insertAmenity, args...)
	}
	if err := execBatch(ctx, tx, amenities, "insert amenity"); err != nil {
		return err
	}

	flights := &pgx.Batch{}
	for _, f := range data.Flights {
		flights.Queue("INSERT INTO flights ("+flightColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
			f.ID, f.Airline, f.FlightNumber, f.DepartureAirport, f.ArrivalAirport, f.DepartureTime.UTC(), f.ArrivalTime.UTC(), f.DepartureGate, f.ArrivalGate)
	}
	if err := execBatch(ctx, tx, flights, "insert flight"); err != nil {
		return err
	}

	policies := &pgx.Batch{}
	for _, p := range data.Policies {
		policies.Queue("INSERT INTO policies (id, content, embedding) VALUES ($1, $2, $3::vector)", p.ID, p.Content, vectorParam(p.Embedding))
	}
	return execBatch(ctx, tx, policies, "insert policy")
}

func (ps *PostgresStore) insertCategories(ctx context.Context, tx pgx.Tx, data model.Dataset) error {
	b := &pgx.Batch{}
	for _, c := range data.Categories() {
		b.Queue("INSERT INTO categories (name) VALUES ($1) ON CONFLICT DO NOTHING", c)
	}
	b.Queue("INSERT INTO amenity_categories (amenity_id, category) SELECT id, category FROM amenities ON CONFLICT DO NOTHING")
	return execBatch(ctx, tx, b, "derived edges")
}

func (ps *PostgresStore) insertRelationships(ctx context.Context, tx pgx.Tx, rels []model.Relationship) error {
	rows, err := tx.Query(ctx, "SELECT id, name FROM amenities ORDER BY id")
	if err != nil {
		return err
	}
	amenities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Amenity, error) {
		var a model.Amenity
		err := row.Scan(&a.ID, &a.Name)
		return a, err
	})
	if err != nil {
		return err
	}
	edges, unresolved := model.ResolveRelationships(amenities, rels)
	b := &pgx.Batch{}
	for _, e := range edges {
		b.Queue("INSERT INTO amenity_relationships (source_id, relation, target_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			e.SourceID, e.Relation, e.TargetID)
	}
	if err := execBatch(ctx, tx, b, "insert relationship"); err != nil {
		return err
	}
	logUnresolved(ps.Kind(), unresolved)
	return nil
}

func (ps *PostgresStore) createIndexes(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS " + model.VectorIndexName + " ON amenities USING hnsw (embedding vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS policy_embedding ON policies USING hnsw (embedding vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS airports_iata ON airports (UPPER(iata))",
		"CREATE INDEX IF NOT EXISTS amenities_name_key ON amenities (name_key)",
		"CREATE INDEX IF NOT EXISTS flights_number ON flights (airline, flight_number)",
		"CREATE INDEX IF NOT EXISTS flights_departure ON flights (departure_time)",
		"CREATE INDEX IF NOT EXISTS relationships_target ON amenity_relationships (target_id)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func scanAirport(row pgx.CollectableRow) (model.Airport, error) {
	var a model.Airport
	err := row.Scan(&a.ID, &a.IATA, &a.Name, &a.City, &a.Country)
	return a, err
}

func (ps *PostgresStore) oneAirport(ctx context.Context, query string, args ...any) (*model.Airport, error) {
	rows, err := ps.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	a, err := pgx.CollectOneRow(rows, scanAirport)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres(err)
	}
	return &a, nil
}

func (ps *PostgresStore) GetAirportByID(ctx context.Context, id int64) (*model.Airport, error) {
	return ps.oneAirport(ctx, "SELECT "+airportColumns+" FROM airports WHERE id = $1", id)
}

func (ps *PostgresStore) GetAirportByIATA(ctx context.Context, iata string) (*model.Airport, error) {
	return ps.oneAirport(ctx, "SELECT "+airportColumns+" FROM airports WHERE UPPER(iata) = UPPER($1) ORDER BY id LIMIT 1", strings.TrimSpace(iata))
}

func (ps *PostgresStore) SearchAirports(ctx context.Context, q model.AirportQuery) ([]model.Airport, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond, v string) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if v := strings.TrimSpace(q.Country); v != "" {
		add("LOWER(country) = LOWER(?)", v)
	}
	if v := strings.TrimSpace(q.City); v != "" {
		add("LOWER(city) = LOWER(?)", v)
	}
	if v := strings.TrimSpace(q.Name); v != "" {
		add("STRPOS(LOWER(name), LOWER(?)) > 0", v)
	}
	args = append(args, model.AirportSearchLimit)
	query := "SELECT " + airportColumns + " FROM airports WHERE " + strings.Join(conds, " AND ") + " ORDER BY id LIMIT $" + strconv.Itoa(len(args))
	rows, err := ps.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	out, err := pgx.CollectRows(rows, scanAirport)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	trace.Add(ctx, fmt.Sprintf("Searched airports (country=%q city=%q name=%q): %d found.", q.Country, q.City, q.Name, len(out)))
	return out, nil
}

func scanAmenityRow(row pgx.CollectableRow) (model.Amenity, error) {
	var sc amenityScan
	if err := row.Scan(sc.dest()...); err != nil {
		return model.Amenity{}, err
	}
	return sc.amenity(), nil
}

func (ps *PostgresStore) GetAmenity(ctx context.Context, id int64) (*model.Amenity, error) {
	rows, err := ps.DB.Query(ctx, "SELECT "+amenityColumns("")+" FROM amenities WHERE id = $1", id)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	a, err := pgx.CollectOneRow(rows, scanAmenityRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres(err)
	}
	return &a, nil
}

func (ps *PostgresStore) AmenitiesSearch(ctx context.Context, q model.AmenityQuery) ([]model.AmenityMatch, error) {
	filter, err := q.Validate()
	if err != nil {
		return nil, err
	}
	args := []any{vectorParam(q.Embedding), q.Threshold}
	where := "1 - (embedding <=> $1::vector) >= $2"
	if filter != nil {
		args = append(args, filter.Clock)
		n := "$" + strconv.Itoa(len(args))
		where += " AND " + openPredicate(filter, func() string { return n })
	}
	args = append(args, q.TopK, model.MaxRelated)
	query := fmt.Sprintf(amenitySearchSQL, where, len(args)-1, len(args))
	rows, err := ps.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	flat, err := pgx.CollectRows(rows, scanAmenitySearchRow)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	matches := foldRelated(flat)
	trace.Add(ctx, fmt.Sprintf("Vector search over amenities for %q (threshold %.2f, top %d): %d matches.", q.Query, q.Threshold, q.TopK, len(matches)))
	return matches, nil
}

// amenitySearchSQL ranks the matches in a CTE and laterally joins up to model.MaxRelated
// distinct neighbours per match. Format arguments: the where clause, then the bind numbers
// of the top-k and related limits. A match without neighbours comes back once with an
// empty relation.
var amenitySearchSQL = `WITH m AS (
	SELECT ` + amenityColumns("") + `, embedding <=> $1::vector AS distance
	FROM amenities WHERE %s
	ORDER BY distance, id LIMIT $%d
)
SELECT ` + amenityColumns("m") + `, 1 - m.distance AS similarity,
	COALESCE(rel.relation, ''), ` + relatedColumns("rel") + `
FROM m
LEFT JOIN LATERAL (
	SELECT d.* FROM (
		SELECT DISTINCT ON (a.id) r.relation, ` + amenityColumns("a") + `
		FROM amenity_relationships r
		JOIN amenities a ON a.id = CASE WHEN r.source_id = m.id THEN r.target_id ELSE r.source_id END
		WHERE (r.source_id = m.id OR r.target_id = m.id) AND r.source_id <> r.target_id
		ORDER BY a.id, r.relation
	) d
	ORDER BY d.relation, d.name, d.id
	LIMIT $%d
) rel ON true
ORDER BY m.distance, m.id, rel.relation, rel.name, rel.id`

// amenitySearchRow is one match joined with at most one of its neighbours.
type amenitySearchRow struct {
	match   model.AmenityMatch
	related *model.RelatedAmenity
}

func scanAmenitySearchRow(row pgx.CollectableRow) (amenitySearchRow, error) {
	var (
		sc, rsc amenityScan
		sim     float64
		rel     string
	)
	dest := append(sc.dest(), &sim, &rel)
	if err := row.Scan(append(dest, rsc.dest()...)...); err != nil {
		return amenitySearchRow{}, err
	}
	out := amenitySearchRow{match: model.AmenityMatch{Amenity: sc.amenity(), Similarity: sim}}
	if rel != "" {
		out.related = &model.RelatedAmenity{Relation: rel, Amenity: rsc.amenity()}
	}
	return out, nil
}

// foldRelated collapses consecutive rows of the same match into one AmenityMatch.
func foldRelated(rows []amenitySearchRow) []model.AmenityMatch {
	var matches []model.AmenityMatch
	for _, r := range rows {
		n := len(matches)
		if n == 0 || matches[n-1].Amenity.ID != r.match.Amenity.ID {
			matches = append(matches, r.match)
			n++
		}
		if r.related != nil {
			matches[n-1].Related = append(matches[n-1].Related, *r.related)
		}
	}
	return matches
}

func scanFlight(row pgx.CollectableRow) (model.Flight, error) {
	var f model.Flight
	err := row.Scan(&f.ID, &f.Airline, &f.FlightNumber, &f.DepartureAirport, &f.ArrivalAirport,
		&f.DepartureTime, &f.ArrivalTime, &f.DepartureGate, &f.ArrivalGate)
	f.DepartureTime = f.DepartureTime.UTC()
	f.ArrivalTime = f.ArrivalTime.UTC()
	return f, err
}

func (ps *PostgresStore) queryFlights(ctx context.Context, query string, args ...any) ([]model.Flight, error) {
	rows, err := ps.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	out, err := pgx.CollectRows(rows, scanFlight)
	return out, classifyPostgres(err)
}

func (ps *PostgresStore) GetFlight(ctx context.Context, id int64) (*model.Flight, error) {
	out, err := ps.queryFlights(ctx, "SELECT "+flightColumns+" FROM flights WHERE id = $1", id)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (ps *PostgresStore) SearchFlightsByNumber(ctx context.Context, airline, number string) ([]model.Flight, error) {
	out, err := ps.queryFlights(ctx, "SELECT "+flightColumns+" FROM flights WHERE LOWER(airline) = LOWER($1) AND flight_number = $2 ORDER BY departure_time, id",
		strings.TrimSpace(airline), strings.TrimSpace(number))
	if err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Looked up flight %s %s: %d found.", airline, number, len(out)))
	return out, nil
}

func (ps *PostgresStore) SearchFlightsByAirports(ctx context.Context, q model.FlightQuery) ([]model.Flight, error) {
	start, end, err := q.DayRange()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + flightColumns + " FROM flights WHERE departure_time >= $1 AND departure_time < $2"
	args := []any{start, end}
	if v := strings.TrimSpace(q.DepartureAirport); v != "" {
		args = append(args, v)
		query += " AND UPPER(departure_airport) = UPPER($" + strconv.Itoa(len(args)) + ")"
	}
	if v := strings.TrimSpace(q.ArrivalAirport); v != "" {
		args = append(args, v)
		query += " AND UPPER(arrival_airport) = UPPER($" + strconv.Itoa(len(args)) + ")"
	}
	out, err := ps.queryFlights(ctx, query+" ORDER BY departure_time, id", args...)
	if err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Listed flights on %s from %q to %q: %d found.", q.Date, q.DepartureAirport, q.ArrivalAirport, len(out)))
	return out, nil
}

func (ps *PostgresStore) ValidateTicket(ctx context.Context, check model.TicketCheck) (*model.Flight, error) {
	out, err := ps.queryFlights(ctx, "SELECT "+flightColumns+` FROM flights
		WHERE LOWER(airline) = LOWER($1) AND flight_number = $2 AND UPPER(departure_airport) = UPPER($3) AND departure_time = $4
		ORDER BY id LIMIT 1`, check.Airline, check.FlightNumber, check.DepartureAirport, check.DepartureTime.UTC())
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (ps *PostgresStore) InsertTicket(ctx context.Context, t model.TicketInsert) (*model.Ticket, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var id int64
	err := ps.DB.QueryRow(ctx, `INSERT INTO tickets (user_id, user_name, user_email, airline, flight_number,
		departure_airport, arrival_airport, departure_time, arrival_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		t.UserID, t.UserName, t.UserEmail, t.Airline, t.FlightNumber, t.DepartureAirport, t.ArrivalAirport,
		t.DepartureTime.UTC(), t.ArrivalTime.UTC()).Scan(&id)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	ticket := t.Ticket(id)
	trace.Add(ctx, fmt.Sprintf("Inserted ticket %d for %s %s.", ticket.ID, ticket.Airline, ticket.FlightNumber))
	return &ticket, nil
}

func (ps *PostgresStore) ListTickets(ctx context.Context, userID string) ([]model.Ticket, error) {
	if err := model.RequireUser(userID); err != nil {
		return nil, err
	}
	rows, err := ps.DB.Query(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE user_id = $1 ORDER BY departure_time, id", userID)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Ticket, error) {
		var t model.Ticket
		err := row.Scan(&t.ID, &t.UserID, &t.UserName, &t.UserEmail, &t.Airline, &t.FlightNumber,
			&t.DepartureAirport, &t.ArrivalAirport, &t.DepartureTime, &t.ArrivalTime)
		t.DepartureTime = t.DepartureTime.UTC()
		t.ArrivalTime = t.ArrivalTime.UTC()
		return t, err
	})
	return out, classifyPostgres(err)
}

func (ps *PostgresStore) PoliciesSearch(ctx context.Context, q model.PolicyQuery) ([]model.PolicyMatch, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := ps.DB.Query(ctx, `SELECT id, content, 1 - (embedding <=> $1::vector) AS similarity
		FROM policies WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector, id LIMIT $3`, vectorParam(q.Embedding), q.Threshold, q.TopK)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PolicyMatch, error) {
		var m model.PolicyMatch
		err := row.Scan(&m.Policy.ID, &m.Policy.Content, &m.Similarity)
		return m, err
	})
	if err != nil {
		return nil, classifyPostgres(err)
	}
	trace.Add(ctx, fmt.Sprintf("Vector search over policies for %q: %d matches.", q.Query, len(out)))
	return out, nil
}

// vectorParam renders v in the pgvector text form bound to $n::vector.
func vectorParam(v []float32) string { return pgvector.NewVector(v).String() }

// parseVector reads the text form of a pgvector column.
func parseVector(text string) ([]float32, error) {
	var v pgvector.Vector
	if err := v.Parse(text); err != nil {
		return nil, err
	}
	return v.Slice(), nil
}

func (ps *PostgresStore) ExportData(ctx context.Context) (model.Dataset, error) {
	var d model.Dataset
	rows, err := ps.DB.Query(ctx, "SELECT "+airportColumns+" FROM airports ORDER BY id")
	if err != nil {
		return d, classifyPostgres(err)
	}
	if d.Airports, err = pgx.CollectRows(rows, scanAirport); err != nil {
		return d, classifyPostgres(err)
	}

	rows, err = ps.DB.Query(ctx, "SELECT "+amenityColumns("")+", embedding::text FROM amenities ORDER BY id")
	if err != nil {
		return d, classifyPostgres(err)
	}
	d.Amenities, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Amenity, error) {
		var (
			sc   amenityScan
			text string
		)
		if err := row.Scan(append(sc.dest(), &text)...); err != nil {
			return model.Amenity{}, err
		}
		a := sc.amenity()
		var err error
		a.Embedding, err = parseVector(text)
		return a, err
	})
	if err != nil {
		return d, classifyPostgres(err)
	}

	if d.Flights, err = ps.queryFlights(ctx, "SELECT "+flightColumns+" FROM flights ORDER BY id"); err != nil {
		return d, err
	}

	rows, err = ps.DB.Query(ctx, "SELECT id, content, embedding::text FROM policies ORDER BY id")
	if err != nil {
		return d, classifyPostgres(err)
	}
	d.Policies, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Policy, error) {
		var (
			p    model.Policy
			text string
		)
		if err := row.Scan(&p.ID, &p.Content, &text); err != nil {
			return p, err
		}
		var err error
		p.Embedding, err = parseVector(text)
		return p, err
	})
	if err != nil {
		return d, classifyPostgres(err)
	}

	rows, err = ps.DB.Query(ctx, `SELECT s.name, r.relation, t.name FROM amenity_relationships r
		JOIN amenities s ON s.id = r.source_id JOIN amenities t ON t.id = r.target_id`)
	if err != nil {
		return d, classifyPostgres(err)
	}
	d.Relationships, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Relationship, error) {
		var r model.Relationship
		err := row.Scan(&r.Source, &r.Relation, &r.Target)
		return r, err
	})
	if err != nil {
		return d, classifyPostgres(err)
	}
	d.Sort()
	return d, nil
}

func (ps *PostgresStore) Counts(ctx context.Context) (model.Counts, error) {
	c := model.NewCounts()
	var airports, amenities, categories, flights, policies, tickets, belongs int
	err := ps.DB.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM airports),
		(SELECT COUNT(*) FROM amenities),
		(SELECT COUNT(*) FROM categories),
		(SELECT COUNT(*) FROM flights),
		(SELECT COUNT(*) FROM policies),
		(SELECT COUNT(*) FROM tickets),
		(SELECT COUNT(*) FROM amenity_categories)`).Scan(&airports, &amenities, &categories, &flights, &policies, &tickets, &belongs)
	if err != nil {
		return c, classifyPostgres(err)
	}
	c.Set(model.LabelAirport, airports)
	c.Set(model.LabelAmenity, amenities)
	c.Set(model.LabelCategory, categories)
	c.Set(model.LabelFlight, flights)
	c.Set(model.LabelPolicy, policies)
	c.Set(model.LabelTicket, tickets)
	c.SetEdge(model.RelBelongsTo, belongs)

	rows, err := ps.DB.Query(ctx, "SELECT relation, COUNT(*) FROM amenity_relationships GROUP BY relation")
	if err != nil {
		return c, classifyPostgres(err)
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
	return c, classifyPostgres(rows.Err())
}
