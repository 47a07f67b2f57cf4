package datastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func TestMongoAmenityRoundTrip(t *testing.T) {
	in := sampleDataset().Amenities[4]
	doc := newMongoAmenity(in)
	if doc.NameKey != "nightnoodles" {
		t.Fatalf("name key %q", doc.NameKey)
	}
	if len(doc.Hours) != 2 || doc.Hours["monday_start_hour"] != "20:00" || doc.Hours["monday_end_hour"] != "02:00" {
		t.Fatalf("unexpected hours %+v", doc.Hours)
	}
	out := doc.amenity()
	if out.Schedule[1] == nil || out.Schedule[1].End != "02:00" || out.Schedule[0] != nil {
		t.Fatalf("schedule not restored: %+v", out.Schedule)
	}
	if len(out.Embedding) != model.EmbeddingDimension || out.Embedding[0] != in.Embedding[0] {
		t.Fatalf("embedding not restored")
	}
}

func TestMongoVectorSearchPipeline(t *testing.T) {
	p := vectorSearchPipeline(model.VectorIndexName, axis(0, 1), 3, 0.5, bson.M{"belongs_to": "Food"})
	if len(p) != 6 {
		t.Fatalf("expected 6 stages, got %d", len(p))
	}
	search := p[0][0]
	if search.Key != "$vectorSearch" {
		t.Fatalf("first stage %q", search.Key)
	}
	fields := search.Value.(bson.D).Map()
	if fields["index"] != model.VectorIndexName || fields["numCandidates"] != int64(50) {
		t.Fatalf("unexpected search stage %+v", fields)
	}
	match := p[3][0].Value.(bson.M)
	if match["score"].(bson.M)["$gte"] != 0.75 || match["belongs_to"] != "Food" {
		t.Fatalf("unexpected match stage %+v", match)
	}
	if p[5][0].Value != int64(3) {
		t.Fatalf("unexpected limit %v", p[5][0].Value)
	}
}

func TestMongoOpenHoursFilterUsesDayKeys(t *testing.T) {
	f, err := model.ParseOpenFilter("Tuesday", "7am")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := fmt.Sprint(openHoursFilter(f))
	for _, want := range []string{"hours.tuesday_start_hour", "hours.tuesday_end_hour", "07:00"} {
		if !strings.Contains(got, want) {
			t.Fatalf("filter %s missing %q", got, want)
		}
	}
}

func TestMongoAirportFilterEscapesName(t *testing.T) {
	f := airportFilter(model.AirportQuery{Country: " United States ", Name: "a.b"})
	if f["country"] != "United States" {
		t.Fatalf("country not trimmed: %+v", f)
	}
	re, ok := f["name"].(primitive.Regex)
	if !ok || re.Pattern != `a\.b` || re.Options != "i" {
		t.Fatalf("unexpected name filter %+v", f["name"])
	}
	if _, ok := f["city"]; ok {
		t.Fatal("empty fields must not filter")
	}
}

func TestMongoRelationshipWritesUpsertOnEdgeKey(t *testing.T) {
	edges := []model.ResolvedEdge{{SourceID: 1, Relation: "NEAR", TargetID: 2}, {SourceID: 3, Relation: "NEXT_TO", TargetID: 1}}
	writes := relationshipWrites(edges)
	if len(writes) != 2 {
		t.Fatalf("expected one write per edge, got %d", len(writes))
	}
	w, ok := writes[0].(*mongo.UpdateOneModel)
	if !ok {
		t.Fatalf("expected an update model, got %T", writes[0])
	}
	if w.Upsert == nil || !*w.Upsert {
		t.Fatal("edge writes must upsert")
	}
	want := bson.D{{Key: "source_id", Value: int64(1)}, {Key: "relation", Value: "NEAR"}, {Key: "target_id", Value: int64(2)}}
	if !reflect.DeepEqual(w.Filter, want) {
		t.Fatalf("filter %+v, want %+v", w.Filter, want)
	}
	if !reflect.DeepEqual(w.Update, bson.M{"$setOnInsert": want}) {
		t.Fatalf("unexpected update %+v", w.Update)
	}
	if len(relationshipWrites(nil)) != 0 {
		t.Fatal("no edges means no writes")
	}
}

func TestMongoRelatedFilterCoversBothEnds(t *testing.T) {
	got := fmt.Sprint(relatedFilter([]int64{1, 5}))
	for _, want := range []string{"source_id", "target_id", "$in", "[1 5]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("filter %s missing %q", got, want)
		}
	}
}

func TestClassifyMongo(t *testing.T) {
	if classifyMongo(nil) != nil {
		t.Fatal("nil should stay nil")
	}
	if errors.Is(classifyMongo(errors.New("duplicate key")), errdefs.ErrBackendUnavailable) {
		t.Fatal("write errors must not be retryable")
	}
	if !errors.Is(classifyMongo(context.DeadlineExceeded), errdefs.ErrBackendUnavailable) {
		t.Fatal("timeouts must be retryable")
	}
}

func TestMongoStoreContract(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	s, err := NewMongoStore(ctx, MongoConfig{URI: uri, Database: "airport_assistant_test"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if _, err := s.coll(collTickets).DeleteMany(ctx, bson.M{}); err != nil {
		t.Fatalf("reset tickets: %v", err)
	}
	runClientContract(t, s)

	data, err := sampleDataset().Prepare()
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.InitializeData(ctx, data); err != nil {
		t.Fatalf("reload: %v", err)
	}
	before, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if err := s.RunPhase(ctx, PhaseManifestEdges, data); err != nil {
		t.Fatalf("repeat manifest phase: %v", err)
	}
	after, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("manifest phase is not idempotent: %+v vs %+v", before, after)
	}
}
