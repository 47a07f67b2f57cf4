package datastore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

const (
	mongoCloseTimeout = 5 * time.Second

	collAirports      = "airports"
	collAmenities     = "amenities"
	collCategories    = "categories"
	collRelationships = "amenity_relationships"
	collFlights       = "flights"
	collPolicies      = "policies"
	collTickets       = "tickets"
	collCounters      = "counters"

	policyIndexName = "policy_embedding"
)

// caseInsensitive compares strings ignoring case on equality filters.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

// MongoStore keeps every entity family in its own collection and searches embeddings with
// Atlas $vectorSearch. Tickets live in a collection the bulk load never touches.
type MongoStore struct {
	client          *mongo.Client
	db              *mongo.Database
	skipSearchIndex bool
}

var _ Client = (*MongoStore)(nil)

// NewMongoStore connects and pings the deployment.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errdefs.Configf("mongodb: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", errdefs.Unavailable(err))
	}
	return &MongoStore{client: client, db: client.Database(cfg.Database), skipSearchIndex: cfg.SkipSearchIndex}, nil
}

func (ms *MongoStore) Kind() Kind                 { return KindMongo }
func (ms *MongoStore) Capabilities() Capabilities { return CapAll }

// Close releases the underlying MongoDB client.
func (ms *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func classifyMongo(err error) error {
	if err != nil && (mongo.IsNetworkError(err) || mongo.IsTimeout(err)) {
		return errdefs.Unavailable(err)
	}
	return err
}

func (ms *MongoStore) coll(name string) *mongo.Collection { return ms.db.Collection(name) }

type mongoAirport struct {
	ID      int64  `bson:"_id"`
	IATA    string `bson:"iata"`
	Name    string `bson:"name"`
	City    string `bson:"city"`
	Country string `bson:"country"`
}

func (d mongoAirport) airport() model.Airport {
	return model.Airport{ID: d.ID, IATA: d.IATA, Name: d.Name, City: d.City, Country: d.Country}
}

type mongoAmenity struct {
	ID          int64             `bson:"_id"`
	Name        string            `bson:"name"`
	NameKey     string            `bson:"name_key"`
	Description string            `bson:"description"`
	Location    string            `bson:"location"`
	Terminal    string            `bson:"terminal"`
	Category    string            `bson:"category"`
	Hour        string            `bson:"hour"`
	Hours       map[string]string `bson:"hours,omitempty"`
	Embedding   []float64         `bson:"embedding,omitempty"`
	BelongsTo   string            `bson:"belongs_to,omitempty"`
	Score       float64           `bson:"score,omitempty"`
}

func newMongoAmenity(a model.Amenity) mongoAmenity {
	doc := mongoAmenity{
		ID: a.ID, Name: a.Name, NameKey: model.NameKey(a.Name), Description: a.Description,
		Location: a.Location, Terminal: a.Terminal, Category: a.Category, Hour: a.Hour,
		Embedding: model.Float64s(a.Embedding),
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if h := a.Schedule.Day(d); h != nil {
			if doc.Hours == nil {
				doc.Hours = map[string]string{}
			}
			f := model.OpenFilter{Day: d}
			doc.Hours[f.StartKey()] = h.Start
			doc.Hours[f.EndKey()] = h.End
		}
	}
	return doc
}

func (d mongoAmenity) amenity() model.Amenity {
	a := model.Amenity{
		ID: d.ID, Name: d.Name, Description: d.Description, Location: d.Location,
		Terminal: d.Terminal, Category: d.Category, Hour: d.Hour,
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		f := model.OpenFilter{Day: day}
		start, end := d.Hours[f.StartKey()], d.Hours[f.EndKey()]
		if start != "" && end != "" {
			a.Schedule[day] = &model.DayHours{Start: start, End: end}
		}
	}
	if len(d.Embedding) > 0 {
		a.Embedding = model.Float32s(d.Embedding)
	}
	return a
}

type mongoFlight struct {
	ID               int64     `bson:"_id"`
	Airline          string    `bson:"airline"`
	FlightNumber     string    `bson:"flight_number"`
	DepartureAirport string    `bson:"departure_airport"`
	ArrivalAirport   string    `bson:"arrival_airport"`
	DepartureTime    time.Time `bson:"departure_time"`
	ArrivalTime      time.Time `bson:"arrival_time"`
	DepartureGate    string    `bson:"departure_gate,omitempty"`
	ArrivalGate      string    `bson:"arrival_gate,omitempty"`
}

func (d mongoFlight) flight() model.Flight {
	return model.Flight{
		ID: d.ID, Airline: d.Airline, FlightNumber: d.FlightNumber,
		DepartureAirport: d.DepartureAirport, ArrivalAirport: d.ArrivalAirport,
		DepartureTime: d.DepartureTime.UTC(), ArrivalTime: d.ArrivalTime.UTC(),
		DepartureGate: d.DepartureGate, ArrivalGate: d.ArrivalGate,
	}
}

type mongoPolicy struct {
	ID        int64     `bson:"_id"`
	Content   string    `bson:"content"`
	Embedding []float64 `bson:"embedding,omitempty"`
	Score     float64   `bson:"score,omitempty"`
}

type mongoTicket struct {
	ID               int64     `bson:"_id"`
	UserID           string    `bson:"user_id"`
	UserName         string    `bson:"user_name"`
	UserEmail        string    `bson:"user_email"`
	Airline          string    `bson:"airline"`
	FlightNumber     string    `bson:"flight_number"`
	DepartureAirport string    `bson:"departure_airport"`
	ArrivalAirport   string    `bson:"arrival_airport"`
	DepartureTime    time.Time `bson:"departure_time"`
	ArrivalTime      time.Time `bson:"arrival_time"`
}

type mongoRelationship struct {
	SourceID int64  `bson:"source_id"`
	Relation string `bson:"relation"`
	TargetID int64  `bson:"target_id"`
}

func (ms *MongoStore) InitializeData(ctx context.Context, data model.Dataset) error {
	return NewPipeline(ms).Run(ctx, data)
}

// RunPhase runs data phases in a multi-document transaction. Search index changes and the
// index phase run outside it, since MongoDB does not allow them inside transactions.
func (ms *MongoStore) RunPhase(ctx context.Context, phase Phase, data model.Dataset) error {
	if err := checkPhaseInput(ms.Kind(), ms.Capabilities(), data); err != nil {
		return err
	}
	var fn func(mongo.SessionContext) error
	switch phase {
	case PhaseWipe:
		if err := ms.dropSearchIndexes(ctx); err != nil {
			return classifyMongo(err)
		}
		fn = ms.wipe
	case PhaseNodes:
		fn = func(sc mongo.SessionContext) error { return ms.insertNodes(sc, data) }
	case PhaseDerivedEdges:
		fn = func(sc mongo.SessionContext) error { return ms.insertCategories(sc, data) }
	case PhaseManifestEdges:
		fn = func(sc mongo.SessionContext) error { return ms.insertRelationships(sc, data.Relationships) }
	case PhaseIndex:
		return classifyMongo(ms.createIndexes(ctx))
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
	sess, err := ms.client.StartSession()
	if err != nil {
		return classifyMongo(err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return classifyMongo(err)
}

func (ms *MongoStore) wipe(ctx mongo.SessionContext) error {
	for _, name := range []string{collRelationships, collCategories, collAmenities, collAirports, collFlights, collPolicies} {
		if _, err := ms.coll(name).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}
	return nil
}

func insertAll[T any](ctx context.Context, coll *mongo.Collection, docs []T) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	if _, err := coll.InsertMany(ctx, batch); err != nil {
		return fmt.Errorf("insert %s: %w", coll.Name(), err)
	}
	return nil
}

func (ms *MongoStore) insertNodes(ctx mongo.SessionContext, data model.Dataset) error {
	airports := make([]mongoAirport, 0, len(data.Airports))
	for _, a := range data.Airports {
		airports = append(airports, mongoAirport{ID: a.ID, IATA: a.IATA, Name: a.Name, City: a.City, Country: a.Country})
	}
	amenities := make([]mongoAmenity, 0, len(data.Amenities))
	for _, a := range data.Amenities {
		amenities = append(amenities, newMongoAmenity(a))
	}
	flights := make([]mongoFlight, 0, len(data.Flights))
	for _, f := range data.Flights {
		flights = append(flights, mongoFlight{
			ID: f.ID, Airline: f.Airline, FlightNumber: f.FlightNumber,
			DepartureAirport: f.DepartureAirport, ArrivalAirport: f.ArrivalAirport,
			DepartureTime: f.DepartureTime.UTC(), ArrivalTime: f.ArrivalTime.UTC(),
			DepartureGate: f.DepartureGate, ArrivalGate: f.ArrivalGate,
		})
	}
	policies := make([]mongoPolicy, 0, len(data.Policies))
	for _, p := range data.Policies {
		policies = append(policies, mongoPolicy{ID: p.ID, Content: p.Content, Embedding: model.Float64s(p.Embedding)})
	}
	if err := insertAll(ctx, ms.coll(collAirports), airports); err != nil {
		return err
	}
	if err := insertAll(ctx, ms.coll(collAmenities), amenities); err != nil {
		return err
	}
	if err := insertAll(ctx, ms.coll(collFlights), flights); err != nil {
		return err
	}
	return insertAll(ctx, ms.coll(collPolicies), policies)
}

func (ms *MongoStore) insertCategories(ctx mongo.SessionContext, data model.Dataset) error {
	upsert := options.Update().SetUpsert(true)
	for _, c := range data.Categories() {
		if _, err := ms.coll(collCategories).UpdateOne(ctx, bson.M{"_id": c}, bson.M{"$set": bson.M{"name": c}}, upsert); err != nil {
			return fmt.Errorf("upsert category %q: %w", c, err)
		}
	}
	_, err := ms.coll(collAmenities).UpdateMany(ctx, bson.M{}, mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"belongs_to": "$category"}}},
	})
	return err
}

func (ms *MongoStore) insertRelationships(ctx mongo.SessionContext, rels []model.Relationship) error {
	cur, err := ms.coll(collAmenities).Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"name": 1}).SetSort(bson.M{"_id": 1}))
	if err != nil {
		return err
	}
	var docs []mongoAmenity
	if err := cur.All(ctx, &docs); err != nil {
		return err
	}
	amenities := make([]model.Amenity, 0, len(docs))
	for _, d := range docs {
		amenities = append(amenities, model.Amenity{ID: d.ID, Name: d.Name})
	}
	edges, unresolved := model.ResolveRelationships(amenities, rels)
	if writes := relationshipWrites(edges); len(writes) > 0 {
		if _, err := ms.coll(collRelationships).BulkWrite(ctx, writes); err != nil {
			return fmt.Errorf("upsert %s: %w", collRelationships, err)
		}
	}
	logUnresolved(ms.Kind(), unresolved)
	return nil
}

// relationshipWrites upserts each edge on its (source_id, relation, target_id) key so a
// repeated manifest phase leaves one document per edge.
func relationshipWrites(edges []model.ResolvedEdge) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(edges))
	for _, e := range edges {
		key := bson.D{{Key: "source_id", Value: e.SourceID}, {Key: "relation", Value: e.Relation}, {Key: "target_id", Value: e.TargetID}}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(key).
			SetUpdate(bson.M{"$setOnInsert": key}).
			SetUpsert(true))
	}
	return writes
}

func searchIndexDefinition() bson.M {
	return bson.M{
		"mappings": bson.M{
			"dynamic": true,
			"fields": bson.M{
				"embedding": bson.M{
					"type":       "knnVector",
					"dimensions": model.EmbeddingDimension,
					"similarity": "cosine",
				},
			},
		},
	}
}

func (ms *MongoStore) createIndexes(ctx context.Context) error {
	regular := map[string][]mongo.IndexModel{
		collAirports: {{Keys: bson.D{{Key: "iata", Value: 1}}, Options: options.Index().SetName("iata").SetCollation(caseInsensitive)}},
		collAmenities: {
			{Keys: bson.D{{Key: "name_key", Value: 1}}, Options: options.Index().SetName("name_key")},
		},
		collFlights: {
			{Keys: bson.D{{Key: "airline", Value: 1}, {Key: "flight_number", Value: 1}}, Options: options.Index().SetName("airline_number").SetCollation(caseInsensitive)},
			{Keys: bson.D{{Key: "departure_time", Value: 1}}, Options: options.Index().SetName("departure_time")},
		},
		collRelationships: {
			{Keys: bson.D{{Key: "source_id", Value: 1}, {Key: "relation", Value: 1}, {Key: "target_id", Value: 1}}, Options: options.Index().SetName("edge").SetUnique(true)},
			{Keys: bson.D{{Key: "source_id", Value: 1}}, Options: options.Index().SetName("source_id")},
			{Keys: bson.D{{Key: "target_id", Value: 1}}, Options: options.Index().SetName("target_id")},
		},
		collTickets: {{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "departure_time", Value: 1}}, Options: options.Index().SetName("user_departure")}},
	}
	for name, models := range regular {
		if _, err := ms.coll(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	if ms.skipSearchIndex {
		return nil
	}
	for coll, index := range searchIndexes {
		if err := ms.ensureSearchIndex(ctx, ms.coll(coll), index); err != nil {
			return err
		}
	}
	return nil
}

// searchIndexes maps each searchable collection to its Atlas search index.
var searchIndexes = map[string]string{collAmenities: model.VectorIndexName, collPolicies: policyIndexName}

// dropSearchIndexes removes the Atlas search indexes so the nodes phase never writes into a
// live index. Nothing is dropped when the indexes are managed outside the loader.
func (ms *MongoStore) dropSearchIndexes(ctx context.Context) error {
	if ms.skipSearchIndex {
		return nil
	}
	for coll, index := range searchIndexes {
		exists, err := hasSearchIndex(ctx, ms.coll(coll), index)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := ms.coll(coll).SearchIndexes().DropOne(ctx, index); err != nil {
			return fmt.Errorf("drop search index %s: %w", index, err)
		}
	}
	return nil
}

func hasSearchIndex(ctx context.Context, coll *mongo.Collection, name string) (bool, error) {
	cur, err := coll.SearchIndexes().List(ctx, options.SearchIndexes().SetName(name))
	if err != nil {
		return false, fmt.Errorf("list search indexes: %w", err)
	}
	var existing []bson.M
	if err := cur.All(ctx, &existing); err != nil {
		return false, err
	}
	return len(existing) > 0, nil
}

func (ms *MongoStore) ensureSearchIndex(ctx context.Context, coll *mongo.Collection, name string) error {
	exists, err := hasSearchIndex(ctx, coll, name)
	if err != nil || exists {
		return err
	}
	_, err = coll.SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: searchIndexDefinition(),
		Options:    options.SearchIndexes().SetName(name),
	})
	if err != nil {
		return fmt.Errorf("create search index %s: %w", name, err)
	}
	return nil
}

func (ms *MongoStore) GetAirportByID(ctx context.Context, id int64) (*model.Airport, error) {
	return ms.oneAirport(ctx, bson.M{"_id": id})
}

func (ms *MongoStore) GetAirportByIATA(ctx context.Context, iata string) (*model.Airport, error) {
	return ms.oneAirport(ctx, bson.M{"iata": strings.TrimSpace(iata)})
}

func (ms *MongoStore) oneAirport(ctx context.Context, filter bson.M) (*model.Airport, error) {
	var doc mongoAirport
	opts := options.FindOne().SetCollation(caseInsensitive).SetSort(bson.M{"_id": 1})
	err := ms.coll(collAirports).FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMongo(err)
	}
	a := doc.airport()
	return &a, nil
}

// airportFilter mirrors model.AirportQuery.Matches.
func airportFilter(q model.AirportQuery) bson.M {
	filter := bson.M{}
	if v := strings.TrimSpace(q.Country); v != "" {
		filter["country"] = v
	}
	if v := strings.TrimSpace(q.City); v != "" {
		filter["city"] = v
	}
	if v := strings.TrimSpace(q.Name); v != "" {
		filter["name"] = primitive.Regex{Pattern: regexp.QuoteMeta(v), Options: "i"}
	}
	return filter
}

func (ms *MongoStore) SearchAirports(ctx context.Context, q model.AirportQuery) ([]model.Airport, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	opts := options.Find().SetCollation(caseInsensitive).SetSort(bson.M{"_id": 1}).SetLimit(model.AirportSearchLimit)
	cur, err := ms.coll(collAirports).Find(ctx, airportFilter(q), opts)
	if err != nil {
		return nil, classifyMongo(err)
	}
	var docs []mongoAirport
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo(err)
	}
	out := make([]model.Airport, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.airport())
	}
	trace.Add(ctx, fmt.Sprintf("Searched airports (country=%q city=%q name=%q): %d found.", q.Country, q.City, q.Name, len(out)))
	return out, nil
}

func (ms *MongoStore) GetAmenity(ctx context.Context, id int64) (*model.Amenity, error) {
	var doc mongoAmenity
	err := ms.coll(collAmenities).FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"embedding": 0})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMongo(err)
	}
	a := doc.amenity()
	return &a, nil
}

// openHoursFilter matches amenities open at the filter clock, including intervals that run
// past midnight.
func openHoursFilter(f *model.OpenFilter) bson.M {
	start, end := "hours."+f.StartKey(), "hours."+f.EndKey()
	return bson.M{"$or": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$expr": bson.M{"$lte": bson.A{"$" + start, "$" + end}}},
			bson.M{start: bson.M{"$lte": f.Clock}},
			bson.M{end: bson.M{"$gte": f.Clock}},
		}},
		bson.M{"$and": bson.A{
			bson.M{"$expr": bson.M{"$gt": bson.A{"$" + start, "$" + end}}},
			bson.M{end: bson.M{"$exists": true}},
			bson.M{"$or": bson.A{
				bson.M{start: bson.M{"$lte": f.Clock}},
				bson.M{end: bson.M{"$gte": f.Clock}},
			}},
		}},
	}}
}

func vectorSearchPipeline(index string, embedding []float32, topK int, threshold float64, extra bson.M) mongo.Pipeline {
	match := bson.M{"score": bson.M{"$gte": model.UnitScoreFromCosine(threshold)}}
	for k, v := range extra {
		match[k] = v
	}
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: index},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: model.Float64s(embedding)},
			{Key: "numCandidates", Value: int64(searchCandidates(topK))},
			{Key: "limit", Value: int64(searchCandidates(topK))},
		}}},
		{{Key: "$addFields", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
		{{Key: "$project", Value: bson.D{{Key: "embedding", Value: 0}}}},
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "score", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: int64(topK)}},
	}
}

func (ms *MongoStore) AmenitiesSearch(ctx context.Context, q model.AmenityQuery) ([]model.AmenityMatch, error) {
	filter, err := q.Validate()
	if err != nil {
		return nil, err
	}
	var extra bson.M
	if filter != nil {
		extra = openHoursFilter(filter)
	}
	cur, err := ms.coll(collAmenities).Aggregate(ctx, vectorSearchPipeline(model.VectorIndexName, q.Embedding, q.TopK, q.Threshold, extra))
	if err != nil {
		return nil, classifyMongo(err)
	}
	var docs []mongoAmenity
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo(err)
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	related, err := ms.related(ctx, ids)
	if err != nil {
		return nil, classifyMongo(err)
	}
	matches := make([]model.AmenityMatch, 0, len(docs))
	for _, d := range docs {
		matches = append(matches, model.AmenityMatch{
			Amenity:    d.amenity(),
			Similarity: model.CosineFromUnitScore(d.Score),
			Related:    related[d.ID],
		})
	}
	trace.Add(ctx, fmt.Sprintf("Vector search over amenities for %q (threshold %.2f, top %d): %d matches.", q.Query, q.Threshold, q.TopK, len(matches)))
	return matches, nil
}

// related looks up the neighbours of every id with one edge query and one amenity query.
func (ms *MongoStore) related(ctx context.Context, ids []int64) (map[int64][]model.RelatedAmenity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := ms.coll(collRelationships).Find(ctx, relatedFilter(ids))
	if err != nil {
		return nil, err
	}
	var rows []mongoRelationship
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	edges := make([]model.ResolvedEdge, 0, len(rows))
	touched := bson.A{}
	for _, r := range rows {
		edges = append(edges, model.ResolvedEdge{SourceID: r.SourceID, Relation: r.Relation, TargetID: r.TargetID})
		touched = append(touched, r.SourceID, r.TargetID)
	}
	byID, err := ms.amenitiesByID(ctx, bson.M{"_id": bson.M{"$in": touched}}, false)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]model.RelatedAmenity, len(ids))
	for _, id := range ids {
		if rel := relatedAmenities(id, edges, byID); len(rel) > 0 {
			out[id] = rel
		}
	}
	return out, nil
}

func relatedFilter(ids []int64) bson.M {
	in := bson.M{"$in": ids}
	return bson.M{"$or": bson.A{bson.M{"source_id": in}, bson.M{"target_id": in}}}
}

func (ms *MongoStore) amenitiesByID(ctx context.Context, filter bson.M, withEmbedding bool) (map[int64]model.Amenity, error) {
	opts := options.Find().SetSort(bson.M{"_id": 1})
	if !withEmbedding {
		opts.SetProjection(bson.M{"embedding": 0})
	}
	cur, err := ms.coll(collAmenities).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []mongoAmenity
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[int64]model.Amenity, len(docs))
	for _, d := range docs {
		out[d.ID] = d.amenity()
	}
	return out, nil
}

func (ms *MongoStore) findFlights(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Flight, error) {
	cur, err := ms.coll(collFlights).Find(ctx, filter, opts.SetCollation(caseInsensitive))
	if err != nil {
		return nil, classifyMongo(err)
	}
	var docs []mongoFlight
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo(err)
	}
	out := make([]model.Flight, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.flight())
	}
	return out, nil
}

var byDeparture = bson.D{{Key: "departure_time", Value: 1}, {Key: "_id", Value: 1}}

func (ms *MongoStore) GetFlight(ctx context.Context, id int64) (*model.Flight, error) {
	out, err := ms.findFlights(ctx, bson.M{"_id": id}, options.Find().SetLimit(1))
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (ms *MongoStore) SearchFlightsByNumber(ctx context.Context, airline, number string) ([]model.Flight, error) {
	out, err := ms.findFlights(ctx, bson.M{"airline": strings.TrimSpace(airline), "flight_number": strings.TrimSpace(number)},
		options.Find().SetSort(byDeparture))
	if err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Looked up flight %s %s: %d found.", airline, number, len(out)))
	return out, nil
}

func (ms *MongoStore) SearchFlightsByAirports(ctx context.Context, q model.FlightQuery) ([]model.Flight, error) {
	start, end, err := q.DayRange()
	if err != nil {
		return nil, err
	}
	filter := bson.M{"departure_time": bson.M{"$gte": start, "$lt": end}}
	if v := strings.TrimSpace(q.DepartureAirport); v != "" {
		filter["departure_airport"] = v
	}
	if v := strings.TrimSpace(q.ArrivalAirport); v != "" {
		filter["arrival_airport"] = v
	}
	out, err := ms.findFlights(ctx, filter, options.Find().SetSort(byDeparture))
	if err != nil {
		return nil, err
	}
	trace.Add(ctx, fmt.Sprintf("Listed flights on %s from %q to %q: %d found.", q.Date, q.DepartureAirport, q.ArrivalAirport, len(out)))
	return out, nil
}

func (ms *MongoStore) ValidateTicket(ctx context.Context, check model.TicketCheck) (*model.Flight, error) {
	out, err := ms.findFlights(ctx, bson.M{
		"airline":           check.Airline,
		"flight_number":     check.FlightNumber,
		"departure_airport": check.DepartureAirport,
		"departure_time":    check.DepartureTime.UTC(),
	}, options.Find().SetSort(bson.M{"_id": 1}).SetLimit(1))
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// nextID allocates sequential ids from the counters collection.
func (ms *MongoStore) nextID(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := ms.coll(collCounters).FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": 1}}, opts)
	if res.Err() != nil {
		return 0, res.Err()
	}
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (ms *MongoStore) InsertTicket(ctx context.Context, t model.TicketInsert) (*model.Ticket, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	id, err := ms.nextID(ctx, collTickets)
	if err != nil {
		return nil, classifyMongo(err)
	}
	ticket := t.Ticket(id)
	_, err = ms.coll(collTickets).InsertOne(ctx, mongoTicket{
		ID: ticket.ID, UserID: ticket.UserID, UserName: ticket.UserName, UserEmail: ticket.UserEmail,
		Airline: ticket.Airline, FlightNumber: ticket.FlightNumber,
		DepartureAirport: ticket.DepartureAirport, ArrivalAirport: ticket.ArrivalAirport,
		DepartureTime: ticket.DepartureTime, ArrivalTime: ticket.ArrivalTime,
	})
	if err != nil {
		return nil, classifyMongo(err)
	}
	trace.Add(ctx, fmt.Sprintf("Inserted ticket %d for %s %s.", ticket.ID, ticket.Airline, ticket.FlightNumber))
	return &ticket, nil
}

func (ms *MongoStore) ListTickets(ctx context.Context, userID string) ([]model.Ticket, error) {
	if err := model.RequireUser(userID); err != nil {
		return nil, err
	}
	cur, err := ms.coll(collTickets).Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(byDeparture))
	if err != nil {
		return nil, classifyMongo(err)
	}
	var docs []mongoTicket
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo(err)
	}
	out := make([]model.Ticket, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.Ticket{
			ID: d.ID, UserID: d.UserID, UserName: d.UserName, UserEmail: d.UserEmail,
			Airline: d.Airline, FlightNumber: d.FlightNumber,
			DepartureAirport: d.DepartureAirport, ArrivalAirport: d.ArrivalAirport,
			DepartureTime: d.DepartureTime.UTC(), ArrivalTime: d.ArrivalTime.UTC(),
		})
	}
	return out, nil
}

func (ms *MongoStore) PoliciesSearch(ctx context.Context, q model.PolicyQuery) ([]model.PolicyMatch, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	cur, err := ms.coll(collPolicies).Aggregate(ctx, vectorSearchPipeline(policyIndexName, q.Embedding, q.TopK, q.Threshold, nil))
	if err != nil {
		return nil, classifyMongo(err)
	}
	var docs []mongoPolicy
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo(err)
	}
	out := make([]model.PolicyMatch, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.PolicyMatch{
			Policy:     model.Policy{ID: d.ID, Content: d.Content},
			Similarity: model.CosineFromUnitScore(d.Score),
		})
	}
	trace.Add(ctx, fmt.Sprintf("Vector search over policies for %q: %d matches.", q.Query, len(out)))
	return out, nil
}

func (ms *MongoStore) ExportData(ctx context.Context) (model.Dataset, error) {
	var d model.Dataset
	sortByID := options.Find().SetSort(bson.M{"_id": 1})

	cur, err := ms.coll(collAirports).Find(ctx, bson.M{}, sortByID)
	if err != nil {
		return d, classifyMongo(err)
	}
	var airports []mongoAirport
	if err := cur.All(ctx, &airports); err != nil {
		return d, classifyMongo(err)
	}
	for _, a := range airports {
		d.Airports = append(d.Airports, a.airport())
	}

	byID, err := ms.amenitiesByID(ctx, bson.M{}, true)
	if err != nil {
		return d, classifyMongo(err)
	}
	for _, a := range byID {
		d.Amenities = append(d.Amenities, a)
	}

	if d.Flights, err = ms.findFlights(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1})); err != nil {
		return d, err
	}

	cur, err = ms.coll(collPolicies).Find(ctx, bson.M{}, sortByID)
	if err != nil {
		return d, classifyMongo(err)
	}
	var policies []mongoPolicy
	if err := cur.All(ctx, &policies); err != nil {
		return d, classifyMongo(err)
	}
	for _, p := range policies {
		d.Policies = append(d.Policies, model.Policy{ID: p.ID, Content: p.Content, Embedding: model.Float32s(p.Embedding)})
	}

	cur, err = ms.coll(collRelationships).Find(ctx, bson.M{})
	if err != nil {
		return d, classifyMongo(err)
	}
	var rels []mongoRelationship
	if err := cur.All(ctx, &rels); err != nil {
		return d, classifyMongo(err)
	}
	for _, r := range rels {
		src, okS := byID[r.SourceID]
		tgt, okT := byID[r.TargetID]
		if okS && okT {
			d.Relationships = append(d.Relationships, model.Relationship{Source: src.Name, Relation: r.Relation, Target: tgt.Name})
		}
	}
	d.Sort()
	return d, nil
}

func (ms *MongoStore) Counts(ctx context.Context) (model.Counts, error) {
	c := model.NewCounts()
	labels := []struct{ label, coll string }{
		{model.LabelAirport, collAirports},
		{model.LabelAmenity, collAmenities},
		{model.LabelCategory, collCategories},
		{model.LabelFlight, collFlights},
		{model.LabelPolicy, collPolicies},
		{model.LabelTicket, collTickets},
	}
	for _, l := range labels {
		n, err := ms.coll(l.coll).CountDocuments(ctx, bson.M{})
		if err != nil {
			return c, classifyMongo(err)
		}
		c.Set(l.label, int(n))
	}
	belongs, err := ms.coll(collAmenities).CountDocuments(ctx, bson.M{"belongs_to": bson.M{"$exists": true}})
	if err != nil {
		return c, classifyMongo(err)
	}
	c.SetEdge(model.RelBelongsTo, int(belongs))

	cur, err := ms.coll(collRelationships).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$relation"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return c, classifyMongo(err)
	}
	var groups []struct {
		Relation string `bson:"_id"`
		N        int    `bson:"n"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return c, classifyMongo(err)
	}
	for _, g := range groups {
		c.SetEdge(g.Relation, g.N)
	}
	return c, nil
}
