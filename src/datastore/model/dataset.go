package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// Dataset is the full input of a bulk load and the output of an export.
type Dataset struct {
	Airports      []Airport      `json:"airports,omitempty"`
	Amenities     []Amenity      `json:"amenities,omitempty"`
	Flights       []Flight       `json:"flights,omitempty"`
	Policies      []Policy       `json:"policies,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Prepare validates the dataset and returns a copy whose relation types are normalised.
// It runs before anything is wiped so a bad input never destroys a loaded dataset.
func (d Dataset) Prepare() (Dataset, error) {
	if err := uniqueIDs("airport", len(d.Airports), func(i int) int64 { return d.Airports[i].ID }); err != nil {
		return Dataset{}, err
	}
	if err := uniqueIDs("amenity", len(d.Amenities), func(i int) int64 { return d.Amenities[i].ID }); err != nil {
		return Dataset{}, err
	}
	if err := uniqueIDs("flight", len(d.Flights), func(i int) int64 { return d.Flights[i].ID }); err != nil {
		return Dataset{}, err
	}
	if err := uniqueIDs("policy", len(d.Policies), func(i int) int64 { return d.Policies[i].ID }); err != nil {
		return Dataset{}, err
	}
	for _, a := range d.Amenities {
		if strings.TrimSpace(a.Name) == "" {
			return Dataset{}, errdefs.Validationf("amenity %d has no name", a.ID)
		}
		if strings.TrimSpace(a.Category) == "" {
			return Dataset{}, errdefs.Validationf("amenity %d has no category", a.ID)
		}
		if err := ValidateEmbedding(a.Embedding); err != nil {
			return Dataset{}, fmt.Errorf("amenity %d: %w", a.ID, err)
		}
	}
	for _, p := range d.Policies {
		if err := ValidateEmbedding(p.Embedding); err != nil {
			return Dataset{}, fmt.Errorf("policy %d: %w", p.ID, err)
		}
	}
	out := d
	out.Relationships = make([]Relationship, 0, len(d.Relationships))
	for i, r := range d.Relationships {
		rel, err := NormalizeRelation(r.Relation)
		if err != nil {
			return Dataset{}, fmt.Errorf("manifest row %d: %w", i+1, err)
		}
		if NameKey(r.Source) == "" || NameKey(r.Target) == "" {
			return Dataset{}, errdefs.Validationf("manifest row %d: empty endpoint name", i+1)
		}
		out.Relationships = append(out.Relationships, Relationship{Source: r.Source, Relation: rel, Target: r.Target})
	}
	return out, nil
}

func uniqueIDs(kind string, n int, id func(int) int64) error {
	seen := make(map[int64]struct{}, n)
	for i := 0; i < n; i++ {
		v := id(i)
		if _, dup := seen[v]; dup {
			return errdefs.Validationf("duplicate %s id %d", kind, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// Categories returns the distinct amenity categories in first-seen order.
func (d Dataset) Categories() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, a := range d.Amenities {
		if _, ok := seen[a.Category]; ok {
			continue
		}
		seen[a.Category] = struct{}{}
		out = append(out, a.Category)
	}
	return out
}

// Sort orders every collection by id and relationships by source, relation, target.
func (d *Dataset) Sort() {
	sort.Slice(d.Airports, func(i, j int) bool { return d.Airports[i].ID < d.Airports[j].ID })
	sort.Slice(d.Amenities, func(i, j int) bool { return d.Amenities[i].ID < d.Amenities[j].ID })
	sort.Slice(d.Flights, func(i, j int) bool { return d.Flights[i].ID < d.Flights[j].ID })
	sort.Slice(d.Policies, func(i, j int) bool { return d.Policies[i].ID < d.Policies[j].ID })
	sort.Slice(d.Relationships, func(i, j int) bool {
		a, b := d.Relationships[i], d.Relationships[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		return a.Target < b.Target
	})
}

// ResolvedEdge is a manifest relationship resolved to amenity ids.
type ResolvedEdge struct {
	SourceID int64
	Relation string
	TargetID int64
}

// ResolveRelationships matches manifest endpoints against amenities by NameKey. Every
// amenity sharing a key is an endpoint, like a MATCH on a non-unique property. Rows with an
// unresolved endpoint are returned separately. Duplicate edges are collapsed.
func ResolveRelationships(amenities []Amenity, rels []Relationship) ([]ResolvedEdge, []Relationship) {
	byKey := make(map[string][]int64, len(amenities))
	for _, a := range amenities {
		k := NameKey(a.Name)
		byKey[k] = append(byKey[k], a.ID)
	}
	seen := map[ResolvedEdge]struct{}{}
	var edges []ResolvedEdge
	var unresolved []Relationship
	for _, r := range rels {
		srcs, tgts := byKey[NameKey(r.Source)], byKey[NameKey(r.Target)]
		if len(srcs) == 0 || len(tgts) == 0 {
			unresolved = append(unresolved, r)
			continue
		}
		for _, s := range srcs {
			for _, t := range tgts {
				e := ResolvedEdge{SourceID: s, Relation: r.Relation, TargetID: t}
				if _, dup := seen[e]; dup {
					continue
				}
				seen[e] = struct{}{}
				edges = append(edges, e)
			}
		}
	}
	return edges, unresolved
}
