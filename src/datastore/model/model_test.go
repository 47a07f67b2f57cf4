package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func vec(seed float32) []float32 {
	v := make([]float32, EmbeddingDimension)
	v[0] = 1
	v[1] = seed
	return v
}

func TestParseOpenFilterRequiresBothHalves(t *testing.T) {
	if f, err := ParseOpenFilter("", ""); err != nil || f != nil {
		t.Fatalf("empty filter: got %v, %v", f, err)
	}
	if _, err := ParseOpenFilter("monday", ""); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("day without time: expected validation error, got %v", err)
	}
	if _, err := ParseOpenFilter("", "10:00"); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("time without day: expected validation error, got %v", err)
	}
	f, err := ParseOpenFilter("Mon", "9:30 PM")
	if err != nil {
		t.Fatalf("ParseOpenFilter: %v", err)
	}
	if f.Day != time.Monday || f.Clock != "21:30" {
		t.Fatalf("unexpected filter %+v", f)
	}
	if f.StartKey() != "monday_start_hour" || f.EndKey() != "monday_end_hour" {
		t.Fatalf("unexpected keys %s %s", f.StartKey(), f.EndKey())
	}
}

func TestParseClockLayouts(t *testing.T) {
	cases := map[string]string{
		"07:00":    "07:00",
		"7:05":     "07:05",
		"18:45:10": "18:45",
		"3pm":      "15:00",
		"3:15 am":  "03:15",
		"12:00PM":  "12:00",
	}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseClock(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseClock("noonish"); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := ParseWeekday("someday"); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWeeklyHoursOpenAt(t *testing.T) {
	var w WeeklyHours
	w[time.Monday] = &DayHours{Start: "07:00", End: "22:00"}
	w[time.Friday] = &DayHours{Start: "20:00", End: "02:00"}

	cases := []struct {
		day   time.Weekday
		clock string
		want  bool
	}{
		{time.Monday, "07:00", true},
		{time.Monday, "22:00", true},
		{time.Monday, "22:01", false},
		{time.Tuesday, "10:00", false},
		{time.Friday, "23:30", true},
		{time.Friday, "01:00", true},
		{time.Friday, "12:00", false},
	}
	for _, tc := range cases {
		if got := w.OpenAt(tc.day, tc.clock); got != tc.want {
			t.Errorf("OpenAt(%s, %s) = %v, want %v", tc.day, tc.clock, got, tc.want)
		}
	}
}

func TestNameKeyAndRelation(t *testing.T) {
	if NameKey("Bob's  Cafe!") != NameKey("BOBS-cafe") {
		t.Fatalf("expected punctuation and case to fold together")
	}
	if NameKey("Cafe") == NameKey("Lounge") {
		t.Fatalf("distinct names must not collide")
	}
	rel, err := NormalizeRelation(" similar-to ")
	if err != nil || rel != "SIMILAR_TO" {
		t.Fatalf("NormalizeRelation = %q, %v", rel, err)
	}
	for _, bad := range []string{"", "NEAR}]->(x) DETACH DELETE x//", "1ST", "belongs to"} {
		if _, err := NormalizeRelation(bad); !errors.Is(err, errdefs.ErrValidation) {
			t.Errorf("NormalizeRelation(%q) expected validation error, got %v", bad, err)
		}
	}
}

func TestCosineAndUnitScore(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("self similarity = %v", got)
	}
	if got := CosineSimilarity(a, b); got != 0 {
		t.Fatalf("orthogonal similarity = %v", got)
	}
	if got := CosineSimilarity(a, []float32{1}); got != 0 {
		t.Fatalf("length mismatch should score 0, got %v", got)
	}
	for _, c := range []float64{-1, -0.25, 0, 0.5, 1} {
		if back := CosineFromUnitScore(UnitScoreFromCosine(c)); math.Abs(back-c) > 1e-12 {
			t.Fatalf("round trip %v -> %v", c, back)
		}
	}
	if got := Float32s([]any{1.5, int64(2)}); len(got) != 2 || got[0] != 1.5 || got[1] != 2 {
		t.Fatalf("Float32s = %v", got)
	}
}

func TestDatasetPrepare(t *testing.T) {
	ds := Dataset{
		Amenities: []Amenity{
			{ID: 1, Name: "Cafe", Category: "restaurant", Embedding: vec(0.1)},
			{ID: 2, Name: "Lounge", Category: "lounge", Embedding: vec(0.2)},
		},
		Relationships: []Relationship{{Source: "cafe", Relation: "near", Target: "LOUNGE"}},
	}
	got, err := ds.Prepare()
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got.Relationships[0].Relation != "NEAR" {
		t.Fatalf("relation not normalised: %+v", got.Relationships[0])
	}
	if ds.Relationships[0].Relation != "near" {
		t.Fatalf("Prepare must not mutate its receiver")
	}

	short := ds
	short.Amenities = []Amenity{{ID: 1, Name: "Cafe", Category: "restaurant", Embedding: make([]float32, 10)}}
	if _, err := short.Prepare(); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("short embedding: expected validation error, got %v", err)
	}

	dup := ds
	dup.Amenities = append([]Amenity{}, ds.Amenities...)
	dup.Amenities[1].ID = 1
	if _, err := dup.Prepare(); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("duplicate id: expected validation error, got %v", err)
	}
}

func TestResolveRelationships(t *testing.T) {
	amenities := []Amenity{{ID: 1, Name: "Cafe"}, {ID: 2, Name: "Lounge"}, {ID: 3, Name: "Gate Bar"}}
	rels := []Relationship{
		{Source: "Cafe", Relation: "NEAR", Target: "Lounge"},
		{Source: "cafe", Relation: "NEAR", Target: "LOUNGE"},
		{Source: "Spa", Relation: "NEAR", Target: "Lounge"},
	}
	edges, unresolved := ResolveRelationships(amenities, rels)
	if len(edges) != 1 {
		t.Fatalf("expected one collapsed edge, got %+v", edges)
	}
	if edges[0] != (ResolvedEdge{SourceID: 1, Relation: "NEAR", TargetID: 2}) {
		t.Fatalf("unexpected edge %+v", edges[0])
	}
	if len(unresolved) != 1 || unresolved[0].Source != "Spa" {
		t.Fatalf("unexpected unresolved rows %+v", unresolved)
	}
}

func TestTicketInsertValidate(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	ok := TicketInsert{UserID: "u1", Airline: "UA", FlightNumber: "1532", DepartureAirport: "SFO", ArrivalAirport: "DEN", DepartureTime: now, ArrivalTime: now.Add(2 * time.Hour)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	anon := ok
	anon.UserID = ""
	if err := anon.Validate(); !errors.Is(err, errdefs.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	partial := ok
	partial.ArrivalAirport = ""
	if err := partial.Validate(); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestQueryValidation(t *testing.T) {
	q := AmenityQuery{Query: "coffee", Embedding: vec(0), Threshold: 0.5, TopK: 5}
	if f, err := q.Validate(); err != nil || f != nil {
		t.Fatalf("Validate = %v, %v", f, err)
	}
	q.TopK = 0
	if _, err := q.Validate(); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("top_k 0: expected validation error, got %v", err)
	}
	q.TopK, q.Threshold = 5, 1.5
	if _, err := q.Validate(); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("threshold 1.5: expected validation error, got %v", err)
	}
	if err := (AirportQuery{}).Validate(); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("empty airport query: expected validation error, got %v", err)
	}
	if _, _, err := (FlightQuery{Date: "2024-01-02"}).DayRange(); !errors.Is(err, errdefs.ErrValidation) {
		t.Fatalf("flight query without airports: expected validation error, got %v", err)
	}
	start, end, err := FlightQuery{Date: "2024-01-02", DepartureAirport: "SFO"}.DayRange()
	if err != nil || end.Sub(start) != 24*time.Hour {
		t.Fatalf("DayRange = %v %v %v", start, end, err)
	}
}
