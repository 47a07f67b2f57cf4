package datastore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

// Neo4jAccessMode controls whether a session is opened for read or write operations.
type Neo4jAccessMode string

const (
	AccessModeWrite Neo4jAccessMode = "write"
	AccessModeRead  Neo4jAccessMode = "read"
)

// Neo4jSessionConfig is the subset of session configuration the store needs.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// The neo4j* interfaces cover the driver surface the store uses so tests can swap in fakes.
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// Neo4jStore keeps amenities, categories and amenity relationships as a property graph and
// searches them through a native vector index. Other entity families are unsupported.
type Neo4jStore struct {
	driver   neo4jDriver
	database string
}

var _ Client = (*Neo4jStore)(nil)

// NewNeo4jStore connects with the official driver and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	driver, err := dialNeo4j(cfg)
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j verify connectivity: %w", errdefs.Unavailable(err))
	}
	return NewNeo4jStoreWithDriver(driver, cfg.Database)
}

// NewNeo4jStoreWithDriver builds a store on an already configured driver.
func NewNeo4jStoreWithDriver(driver neo4jDriver, database string) (*Neo4jStore, error) {
	if driver == nil {
		return nil, errors.New("neo4j driver is nil")
	}
	return &Neo4jStore{driver: driver, database: database}, nil
}

func (s *Neo4jStore) Kind() Kind                 { return KindNeo4j }
func (s *Neo4jStore) Capabilities() Capabilities { return CapAmenities | CapGraph }

// Close releases the driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Neo4jStore) session(ctx context.Context, mode Neo4jAccessMode) (neo4jSession, error) {
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: mode, DatabaseName: s.database})
	if err != nil {
		return nil, fmt.Errorf("neo4j new session: %w", err)
	}
	return session, nil
}

func (s *Neo4jStore) InitializeData(ctx context.Context, data model.Dataset) error {
	return NewPipeline(s).Run(ctx, data)
}

// RunPhase applies one phase. Data phases run in one explicit transaction; the index phase
// issues schema statements, which Neo4j runs in their own transactions.
func (s *Neo4jStore) RunPhase(ctx context.Context, phase Phase, data model.Dataset) error {
	if err := checkPhaseInput(s.Kind(), s.Capabilities(), data); err != nil {
		return err
	}
	session, err := s.session(ctx, AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	if phase == PhaseIndex {
		return s.createIndexes(ctx, session)
	}

	var stmts []neo4jStatement
	switch phase {
	case PhaseWipe:
		// The vector index goes first so the nodes phase never writes into a live index.
		if err := runSchema(ctx, session, fmt.Sprintf("DROP INDEX %s IF EXISTS", model.VectorIndexName)); err != nil {
			return err
		}
		stmts = []neo4jStatement{{query: neo4jWipeCypher}}
	case PhaseNodes:
		stmts = []neo4jStatement{{query: neo4jCreateAmenitiesCypher, params: map[string]any{"rows": amenityRows(data.Amenities)}}}
	case PhaseDerivedEdges:
		stmts = []neo4jStatement{{query: neo4jBelongsToCypher, params: map[string]any{"rows": categoryRows(data.Amenities)}}}
	case PhaseManifestEdges:
		stmts, err = s.relationshipStatements(ctx, session, data.Relationships)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
	return runInTransaction(ctx, session, stmts)
}

type neo4jStatement struct {
	query  string
	params map[string]any
}

func runInTransaction(ctx context.Context, session neo4jSession, stmts []neo4jStatement) error {
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("neo4j begin tx: %w", err)
	}
	defer tx.Close(ctx)
	for _, st := range stmts {
		res, err := tx.Run(ctx, st.query, st.params)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("neo4j run: %w", err)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("neo4j commit: %w", err)
	}
	return nil
}

func (s *Neo4jStore) createIndexes(ctx context.Context, session neo4jSession) error {
	queries := []string{
		"CREATE CONSTRAINT amenity_id IF NOT EXISTS FOR (a:Amenity) REQUIRE a.id IS UNIQUE",
		"CREATE INDEX amenity_name_key IF NOT EXISTS FOR (a:Amenity) ON (a.name_key)",
		"CREATE CONSTRAINT category_name IF NOT EXISTS FOR (c:Category) REQUIRE c.name IS UNIQUE",
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (a:Amenity) ON a.embedding "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			model.VectorIndexName, model.EmbeddingDimension),
		"CALL db.awaitIndexes(300)",
	}
	return runSchema(ctx, session, queries...)
}

// runSchema issues schema statements outside any explicit transaction.
func runSchema(ctx context.Context, session neo4jSession, queries ...string) error {
	for _, q := range queries {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("neo4j schema query: %w", err)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	return nil
}

func amenityRows(amenities []model.Amenity) []any {
	rows := make([]any, 0, len(amenities))
	for _, a := range amenities {
		row := map[string]any{
			"id":          a.ID,
			"name":        a.Name,
			"name_key":    model.NameKey(a.Name),
			"description": a.Description,
			"location":    a.Location,
			"terminal":    a.Terminal,
			"category":    a.Category,
			"hour":        a.Hour,
			"embedding":   model.Float64s(a.Embedding),
		}
		for d := time.Sunday; d <= time.Saturday; d++ {
			if h := a.Schedule.Day(d); h != nil {
				day := model.WeekdayColumn(d)
				row[day+"_start_hour"] = h.Start
				row[day+"_end_hour"] = h.End
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func categoryRows(amenities []model.Amenity) []any {
	rows := make([]any, 0, len(amenities))
	for _, a := range amenities {
		rows = append(rows, map[string]any{"id": a.ID, "category": a.Category})
	}
	return rows
}

// relationshipStatements resolves manifest rows against stored amenities and groups the
// resulting edges by relation type, which Cypher cannot take as a parameter. Relation types
// are validated by model.NormalizeRelation before they reach the query text.
func (s *Neo4jStore) relationshipStatements(ctx context.Context, session neo4jSession, rels []model.Relationship) ([]neo4jStatement, error) {
	res, err := session.Run(ctx, "MATCH (a:Amenity) RETURN a.id AS id, a.name AS name ORDER BY id", nil)
	if err != nil {
		return nil, fmt.Errorf("neo4j list amenities: %w", err)
	}
	defer res.Close(ctx)
	var amenities []model.Amenity
	for res.Next(ctx) {
		rec := res.Record()
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		amenities = append(amenities, model.Amenity{ID: toInt64(id), Name: toString(name)})
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	edges, unresolved := model.ResolveRelationships(amenities, rels)
	logUnresolved(s.Kind(), unresolved)
	byType := map[string][]any{}
	for _, e := range edges {
		rel, err := model.NormalizeRelation(e.Relation)
		if err != nil {
			return nil, err
		}
		byType[rel] = append(byType[rel], map[string]any{"src": e.SourceID, "tgt": e.TargetID})
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	stmts := make([]neo4jStatement, 0, len(types))
	for _, t := range types {
		stmts = append(stmts, neo4jStatement{
			query:  fmt.Sprintf(neo4jMergeRelationshipCypher, t),
			params: map[string]any{"rows": byType[t]},
		})
	}
	return stmts, nil
}

// searchCandidates sizes the approximate nearest neighbour pool ahead of filtering.
func searchCandidates(topK int) int {
	if n := topK * 10; n > 50 {
		return n
	}
	return 50
}

func (s *Neo4jStore) AmenitiesSearch(ctx context.Context, q model.AmenityQuery) ([]model.AmenityMatch, error) {
	filter, err := q.Validate()
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"index":       model.VectorIndexName,
		"candidates":  searchCandidates(q.TopK),
		"embedding":   model.Float64s(q.Embedding),
		"min_score":   model.UnitScoreFromCosine(q.Threshold),
		"top_k":       q.TopK,
		"max_related": model.MaxRelated,
	}
	openClause := ""
	if filter != nil {
		openClause = " AND " + neo4jOpenClause
		params["start_key"] = filter.StartKey()
		params["end_key"] = filter.EndKey()
		params["clock"] = filter.Clock
	}
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, fmt.Sprintf(neo4jSearchCypher, openClause), params)
	if err != nil {
		return nil, fmt.Errorf("neo4j amenity search: %w", err)
	}
	defer res.Close(ctx)

	var matches []model.AmenityMatch
	for res.Next(ctx) {
		rec := res.Record()
		props, _ := rec.Get("amenity")
		score, _ := rec.Get("score")
		related, _ := rec.Get("related")
		m := model.AmenityMatch{
			Amenity:    amenityFromProps(props),
			Similarity: model.CosineFromUnitScore(toFloat64(score)),
		}
		if list, ok := related.([]any); ok {
			for _, item := range list {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				m.Related = append(m.Related, model.RelatedAmenity{
					Relation: toString(entry["relation"]),
					Amenity:  amenityFromProps(entry["amenity"]),
				})
			}
		}
		matches = append(matches, m)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Graph vector search for %q (threshold %.2f, top %d): %d matches.", q.Query, q.Threshold, q.TopK, len(matches)))
	return matches, nil
}

func (s *Neo4jStore) GetAmenity(ctx context.Context, id int64) (*model.Amenity, error) {
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, "MATCH (a:Amenity {id: $id}) RETURN a {.*, embedding: null} AS amenity", map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("neo4j get amenity: %w", err)
	}
	defer res.Close(ctx)
	if !res.Next(ctx) {
		return nil, res.Err()
	}
	props, _ := res.Record().Get("amenity")
	a := amenityFromProps(props)
	return &a, nil
}

func (s *Neo4jStore) ExportData(ctx context.Context) (model.Dataset, error) {
	var d model.Dataset
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return d, err
	}
	defer session.Close(ctx)

	res, err := session.Run(ctx, "MATCH (a:Amenity) RETURN a {.*} AS amenity ORDER BY a.id", nil)
	if err != nil {
		return d, fmt.Errorf("neo4j export amenities: %w", err)
	}
	for res.Next(ctx) {
		props, _ := res.Record().Get("amenity")
		d.Amenities = append(d.Amenities, amenityFromProps(props))
	}
	err = res.Err()
	_ = res.Close(ctx)
	if err != nil {
		return d, err
	}

	res, err = session.Run(ctx, "MATCH (s:Amenity)-[r]->(t:Amenity) RETURN s.name AS source, type(r) AS relation, t.name AS target", nil)
	if err != nil {
		return d, fmt.Errorf("neo4j export relationships: %w", err)
	}
	defer res.Close(ctx)
	for res.Next(ctx) {
		rec := res.Record()
		src, _ := rec.Get("source")
		rel, _ := rec.Get("relation")
		tgt, _ := rec.Get("target")
		d.Relationships = append(d.Relationships, model.Relationship{Source: toString(src), Relation: toString(rel), Target: toString(tgt)})
	}
	if err := res.Err(); err != nil {
		return d, err
	}
	d.Sort()
	return d, nil
}

func (s *Neo4jStore) Counts(ctx context.Context) (model.Counts, error) {
	c := model.NewCounts()
	session, err := s.session(ctx, AccessModeRead)
	if err != nil {
		return c, err
	}
	defer session.Close(ctx)

	count := func(query string, set func(string, int)) error {
		res, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("neo4j counts: %w", err)
		}
		defer res.Close(ctx)
		for res.Next(ctx) {
			rec := res.Record()
			key, _ := rec.Get("key")
			n, _ := rec.Get("n")
			set(toString(key), int(toInt64(n)))
		}
		return res.Err()
	}
	if err := count("MATCH (n) UNWIND labels(n) AS key RETURN key, count(*) AS n", c.Set); err != nil {
		return c, err
	}
	if err := count("MATCH ()-[r]->() RETURN type(r) AS key, count(*) AS n", c.SetEdge); err != nil {
		return c, err
	}
	return c, nil
}

func (s *Neo4jStore) unsupported(capability Capabilities) error {
	return errdefs.Unsupported(string(s.Kind()), capability.String())
}

func (s *Neo4jStore) GetAirportByID(context.Context, int64) (*model.Airport, error) {
	return nil, s.unsupported(CapAirports)
}

func (s *Neo4jStore) GetAirportByIATA(context.Context, string) (*model.Airport, error) {
	return nil, s.unsupported(CapAirports)
}

func (s *Neo4jStore) SearchAirports(context.Context, model.AirportQuery) ([]model.Airport, error) {
	return nil, s.unsupported(CapAirports)
}

func (s *Neo4jStore) GetFlight(context.Context, int64) (*model.Flight, error) {
	return nil, s.unsupported(CapFlights)
}

func (s *Neo4jStore) SearchFlightsByNumber(context.Context, string, string) ([]model.Flight, error) {
	return nil, s.unsupported(CapFlights)
}

func (s *Neo4jStore) SearchFlightsByAirports(context.Context, model.FlightQuery) ([]model.Flight, error) {
	return nil, s.unsupported(CapFlights)
}

func (s *Neo4jStore) ValidateTicket(context.Context, model.TicketCheck) (*model.Flight, error) {
	return nil, s.unsupported(CapTickets)
}

func (s *Neo4jStore) InsertTicket(context.Context, model.TicketInsert) (*model.Ticket, error) {
	return nil, s.unsupported(CapTickets)
}

func (s *Neo4jStore) ListTickets(context.Context, string) ([]model.Ticket, error) {
	return nil, s.unsupported(CapTickets)
}

func (s *Neo4jStore) PoliciesSearch(context.Context, model.PolicyQuery) ([]model.PolicyMatch, error) {
	return nil, s.unsupported(CapPolicies)
}

func amenityFromProps(v any) model.Amenity {
	props, _ := v.(map[string]any)
	a := model.Amenity{
		ID:          toInt64(props["id"]),
		Name:        toString(props["name"]),
		Description: toString(props["description"]),
		Location:    toString(props["location"]),
		Terminal:    toString(props["terminal"]),
		Category:    toString(props["category"]),
		Hour:        toString(props["hour"]),
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		day := model.WeekdayColumn(d)
		start, end := toString(props[day+"_start_hour"]), toString(props[day+"_end_hour"])
		if start != "" && end != "" {
			a.Schedule[d] = &model.DayHours{Start: start, End: end}
		}
	}
	if emb, ok := props["embedding"]; ok && emb != nil {
		a.Embedding = model.Float32s(emb)
	}
	return a
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case fmt.Stringer:
		return s.String()
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

const (
	neo4jWipeCypher = `MATCH (n) WHERE n:Amenity OR n:Category DETACH DELETE n`

	neo4jCreateAmenitiesCypher = `
UNWIND $rows AS row
CREATE (a:Amenity)
SET a = row
`
	neo4jBelongsToCypher = `
UNWIND $rows AS row
MATCH (a:Amenity {id: row.id})
MERGE (c:Category {name: row.category})
MERGE (a)-[:BELONGS_TO]->(c)
`
	// %s is a relation type validated by model.NormalizeRelation.
	neo4jMergeRelationshipCypher = `
UNWIND $rows AS row
MATCH (s:Amenity {id: row.src})
MATCH (t:Amenity {id: row.tgt})
MERGE (s)-[:%s]->(t)
`
	neo4jOpenClause = `amenity[$start_key] IS NOT NULL AND amenity[$end_key] IS NOT NULL AND (
  (amenity[$start_key] <= amenity[$end_key] AND amenity[$start_key] <= $clock AND $clock <= amenity[$end_key])
  OR (amenity[$start_key] > amenity[$end_key] AND ($clock >= amenity[$start_key] OR $clock <= amenity[$end_key])))`

	// %s is either empty or " AND " followed by neo4jOpenClause.
	neo4jSearchCypher = `
CALL db.index.vector.queryNodes($index, $candidates, $embedding) YIELD node AS amenity, score
WHERE score >= $min_score%s
WITH amenity, score
ORDER BY score DESC, amenity.id ASC
LIMIT $top_k
OPTIONAL MATCH (amenity)-[r]-(related:Amenity)
WHERE related <> amenity
WITH amenity, score, related, min(type(r)) AS relation
ORDER BY relation, related.name, related.id
WITH amenity, score, collect(CASE WHEN related IS NULL THEN NULL ELSE {relation: relation, amenity: related {.*, embedding: null}} END)[0..$max_related] AS related
RETURN amenity {.*, embedding: null} AS amenity, score, related
ORDER BY score DESC, amenity.id ASC
`
)
