// Package loader reads and writes the CSV files a dataset is shipped as.
//
// A data directory holds airport_dataset.csv, amenity_dataset.csv, flights_dataset.csv,
// policy_dataset.csv and relationships/amenity_relationships.csv. Every file starts with a
// header row; columns are looked up by name so their order does not matter.
package loader

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/embed"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

const (
	AirportsFile      = "airport_dataset.csv"
	AmenitiesFile     = "amenity_dataset.csv"
	FlightsFile       = "flights_dataset.csv"
	PoliciesFile      = "policy_dataset.csv"
	RelationshipsFile = "relationships/amenity_relationships.csv"
)

// TimeLayout is how flight times are written.
const TimeLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{TimeLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04"}

var (
	airportHeader      = []string{"id", "iata", "name", "city", "country"}
	flightHeader       = []string{"id", "airline", "flight_number", "departure_airport", "arrival_airport", "departure_time", "arrival_time", "departure_gate", "arrival_gate"}
	policyHeader       = []string{"id", "content", "embedding"}
	relationshipHeader = []string{"src_id", "rel_type", "tgt_id"}
)

func amenityHeader() []string {
	h := []string{"id", "name", "description", "location", "terminal", "category", "hour"}
	for d := time.Sunday; d <= time.Saturday; d++ {
		day := model.WeekdayColumn(d)
		h = append(h, day+"_start_hour", day+"_end_hour")
	}
	return append(h, "embedding")
}

// row is one CSV record keyed by header name.
type row struct {
	line   int
	values map[string]string
}

func (r row) get(col string) string { return strings.TrimSpace(r.values[col]) }

func (r row) int64(col string) (int64, error) {
	v, err := strconv.ParseInt(r.get(col), 10, 64)
	if err != nil {
		return 0, errdefs.Validationf("line %d: %s %q is not an integer", r.line, col, r.get(col))
	}
	return v, nil
}

func (r row) time(col string) (time.Time, error) {
	v := r.get(col)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errdefs.Validationf("line %d: %s %q is not a timestamp", r.line, col, v)
}

// embedding decodes a JSON array cell. An empty cell is a missing embedding.
func (r row) embedding(col string) ([]float32, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(v), &vec); err != nil {
		return nil, errdefs.Validationf("line %d: %s is not a JSON array of numbers", r.line, col)
	}
	return vec, nil
}

// readRows parses a CSV file into rows. Columns listed in required must be in the header.
func readRows(path string, required []string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, errdefs.Validationf("%s: missing column %q", path, col)
		}
	}

	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		values := make(map[string]string, len(index))
		for col, i := range index {
			if i < len(rec) {
				values[col] = rec[i]
			}
		}
		rows = append(rows, row{line: line, values: values})
	}
}

// readOptional is readRows for a file that may be absent.
func readOptional(dir, name string, required []string) ([]row, error) {
	path := filepath.Join(dir, name)
	rows, err := readRows(path, required)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[loader] %s not found, skipping", path)
		return nil, nil
	}
	return rows, err
}

// LoadDataset reads every dataset file under dir. Missing files load as empty collections.
func LoadDataset(dir string) (model.Dataset, error) {
	var d model.Dataset

	rows, err := readOptional(dir, AirportsFile, airportHeader[:3])
	if err != nil {
		return d, err
	}
	for _, r := range rows {
		id, err := r.int64("id")
		if err != nil {
			return d, fmt.Errorf("%s: %w", AirportsFile, err)
		}
		d.Airports = append(d.Airports, model.Airport{
			ID: id, IATA: r.get("iata"), Name: r.get("name"), City: r.get("city"), Country: r.get("country"),
		})
	}

	if rows, err = readOptional(dir, AmenitiesFile, []string{"id", "name", "category"}); err != nil {
		return d, err
	}
	for _, r := range rows {
		a, err := parseAmenity(r)
		if err != nil {
			return d, fmt.Errorf("%s: %w", AmenitiesFile, err)
		}
		d.Amenities = append(d.Amenities, a)
	}

	if rows, err = readOptional(dir, FlightsFile, flightHeader[:7]); err != nil {
		return d, err
	}
	for _, r := range rows {
		f, err := parseFlight(r)
		if err != nil {
			return d, fmt.Errorf("%s: %w", FlightsFile, err)
		}
		d.Flights = append(d.Flights, f)
	}

	if rows, err = readOptional(dir, PoliciesFile, policyHeader[:2]); err != nil {
		return d, err
	}
	for _, r := range rows {
		id, err := r.int64("id")
		if err != nil {
			return d, fmt.Errorf("%s: %w", PoliciesFile, err)
		}
		vec, err := r.embedding("embedding")
		if err != nil {
			return d, fmt.Errorf("%s: %w", PoliciesFile, err)
		}
		d.Policies = append(d.Policies, model.Policy{ID: id, Content: r.get("content"), Embedding: vec})
	}

	rels, err := LoadRelationships(filepath.Join(dir, RelationshipsFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return d, err
	}
	d.Relationships = rels

	log.Printf("[loader] read %d airports, %d amenities, %d flights, %d policies, %d relationships from %s",
		len(d.Airports), len(d.Amenities), len(d.Flights), len(d.Policies), len(d.Relationships), dir)
	return d, nil
}

// LoadRelationships reads a relationship manifest. Rows refer to amenities by name.
func LoadRelationships(path string) ([]model.Relationship, error) {
	rows, err := readRows(path, relationshipHeader)
	if err != nil {
		return nil, err
	}
	out := make([]model.Relationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Relationship{Source: r.get("src_id"), Relation: r.get("rel_type"), Target: r.get("tgt_id")})
	}
	return out, nil
}

func parseAmenity(r row) (model.Amenity, error) {
	id, err := r.int64("id")
	if err != nil {
		return model.Amenity{}, err
	}
	a := model.Amenity{
		ID:          id,
		Name:        r.get("name"),
		Description: r.get("description"),
		Location:    r.get("location"),
		Terminal:    r.get("terminal"),
		Category:    r.get("category"),
		Hour:        r.get("hour"),
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		day := model.WeekdayColumn(d)
		h, err := model.ParseDayHours(r.get(day+"_start_hour"), r.get(day+"_end_hour"))
		if err != nil {
			return model.Amenity{}, fmt.Errorf("line %d: %s: %w", r.line, day, err)
		}
		a.Schedule[d] = h
	}
	if a.Embedding, err = r.embedding("embedding"); err != nil {
		return model.Amenity{}, err
	}
	return a, nil
}

func parseFlight(r row) (model.Flight, error) {
	id, err := r.int64("id")
	if err != nil {
		return model.Flight{}, err
	}
	dep, err := r.time("departure_time")
	if err != nil {
		return model.Flight{}, err
	}
	arr, err := r.time("arrival_time")
	if err != nil {
		return model.Flight{}, err
	}
	return model.Flight{
		ID:               id,
		Airline:          r.get("airline"),
		FlightNumber:     r.get("flight_number"),
		DepartureAirport: r.get("departure_airport"),
		ArrivalAirport:   r.get("arrival_airport"),
		DepartureTime:    dep,
		ArrivalTime:      arr,
		DepartureGate:    r.get("departure_gate"),
		ArrivalGate:      r.get("arrival_gate"),
	}, nil
}

// AmenityText is the passage embedded for an amenity.
func AmenityText(a model.Amenity) string {
	parts := []string{a.Name}
	for _, p := range []string{a.Category, a.Description, a.Location, a.Terminal, a.Hour} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ". ")
}

// FillEmbeddings computes the amenity and policy embeddings the files did not carry and
// returns how many were filled.
func FillEmbeddings(ctx context.Context, e embed.Embedder, d *model.Dataset) (int, error) {
	var texts []string
	var targets []*[]float32
	for i := range d.Amenities {
		if len(d.Amenities[i].Embedding) == 0 {
			texts = append(texts, AmenityText(d.Amenities[i]))
			targets = append(targets, &d.Amenities[i].Embedding)
		}
	}
	for i := range d.Policies {
		if len(d.Policies[i].Embedding) == 0 {
			texts = append(texts, d.Policies[i].Content)
			targets = append(targets, &d.Policies[i].Embedding)
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}
	if e == nil {
		return 0, errdefs.Configf("%d records need embeddings but no embedder is configured", len(texts))
	}
	vecs, err := embed.Passages(ctx, e, texts)
	if err != nil {
		return 0, fmt.Errorf("embed passages: %w", err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		*targets[i] = v
	}
	log.Printf("[loader] computed %d embeddings", len(texts))
	return len(texts), nil
}

// WriteDataset writes d under dir in the layout LoadDataset reads.
func WriteDataset(dir string, d model.Dataset) error {
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(RelationshipsFile)), 0o755); err != nil {
		return err
	}

	airports := make([][]string, 0, len(d.Airports))
	for _, a := range d.Airports {
		airports = append(airports, []string{itoa(a.ID), a.IATA, a.Name, a.City, a.Country})
	}
	if err := writeFile(filepath.Join(dir, AirportsFile), airportHeader, airports); err != nil {
		return err
	}

	amenities := make([][]string, 0, len(d.Amenities))
	for _, a := range d.Amenities {
		rec := []string{itoa(a.ID), a.Name, a.Description, a.Location, a.Terminal, a.Category, a.Hour}
		for day := time.Sunday; day <= time.Saturday; day++ {
			if h := a.Schedule.Day(day); h != nil {
				rec = append(rec, h.Start, h.End)
			} else {
				rec = append(rec, "", "")
			}
		}
		amenities = append(amenities, append(rec, vectorCell(a.Embedding)))
	}
	if err := writeFile(filepath.Join(dir, AmenitiesFile), amenityHeader(), amenities); err != nil {
		return err
	}

	flights := make([][]string, 0, len(d.Flights))
	for _, f := range d.Flights {
		flights = append(flights, []string{
			itoa(f.ID), f.Airline, f.FlightNumber, f.DepartureAirport, f.ArrivalAirport,
			f.DepartureTime.Format(TimeLayout), f.ArrivalTime.Format(TimeLayout), f.DepartureGate, f.ArrivalGate,
		})
	}
	if err := writeFile(filepath.Join(dir, FlightsFile), flightHeader, flights); err != nil {
		return err
	}

	policies := make([][]string, 0, len(d.Policies))
	for _, p := range d.Policies {
		policies = append(policies, []string{itoa(p.ID), p.Content, vectorCell(p.Embedding)})
	}
	if err := writeFile(filepath.Join(dir, PoliciesFile), policyHeader, policies); err != nil {
		return err
	}

	rels := make([][]string, 0, len(d.Relationships))
	for _, r := range d.Relationships {
		rels = append(rels, []string{r.Source, r.Relation, r.Target})
	}
	return writeFile(filepath.Join(dir, RelationshipsFile), relationshipHeader, rels)
}

func writeFile(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func vectorCell(vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	b, _ := json.Marshal(vec)
	return string(b)
}
