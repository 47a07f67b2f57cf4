package datastore

import (
	"sort"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
)

// rankAmenities scores candidates against the query in Go, drops those below the threshold
// or closed at the filter time, and returns at most TopK ordered by similarity then id.
func rankAmenities(cands []model.Amenity, q model.AmenityQuery, filter *model.OpenFilter) []model.AmenityMatch {
	matches := make([]model.AmenityMatch, 0, len(cands))
	for _, a := range cands {
		if filter != nil && !a.Schedule.OpenAt(filter.Day, filter.Clock) {
			continue
		}
		sim := model.CosineSimilarity(q.Embedding, a.Embedding)
		if sim < q.Threshold {
			continue
		}
		a.Embedding = nil
		matches = append(matches, model.AmenityMatch{Amenity: a, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Amenity.ID < matches[j].Amenity.ID
	})
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches
}

// rankPolicies is rankAmenities for policies.
func rankPolicies(cands []model.Policy, q model.PolicyQuery) []model.PolicyMatch {
	matches := make([]model.PolicyMatch, 0, len(cands))
	for _, p := range cands {
		sim := model.CosineSimilarity(q.Embedding, p.Embedding)
		if sim < q.Threshold {
			continue
		}
		p.Embedding = nil
		matches = append(matches, model.PolicyMatch{Policy: p, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Policy.ID < matches[j].Policy.ID
	})
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches
}

// relatedAmenities follows edges touching id in either direction and keeps the first
// model.MaxRelated distinct amenities by relation, name and id. Self loops are ignored.
func relatedAmenities(id int64, edges []model.ResolvedEdge, byID map[int64]model.Amenity) []model.RelatedAmenity {
	var out []model.RelatedAmenity
	for _, e := range edges {
		var other int64
		switch {
		case e.SourceID == id && e.TargetID != id:
			other = e.TargetID
		case e.TargetID == id && e.SourceID != id:
			other = e.SourceID
		default:
			continue
		}
		a, ok := byID[other]
		if !ok {
			continue
		}
		a.Embedding = nil
		out = append(out, model.RelatedAmenity{Relation: e.Relation, Amenity: a})
	}
	sortRelated(out)
	out = dedupeRelated(out)
	if len(out) > model.MaxRelated {
		out = out[:model.MaxRelated]
	}
	return out
}

// dedupeRelated keeps the first entry per related amenity id. rel must already be sorted.
func dedupeRelated(rel []model.RelatedAmenity) []model.RelatedAmenity {
	seen := make(map[int64]bool, len(rel))
	out := rel[:0]
	for _, r := range rel {
		if seen[r.Amenity.ID] {
			continue
		}
		seen[r.Amenity.ID] = true
		out = append(out, r)
	}
	return out
}

func sortRelated(rel []model.RelatedAmenity) {
	sort.SliceStable(rel, func(i, j int) bool {
		a, b := rel[i], rel[j]
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		if a.Amenity.Name != b.Amenity.Name {
			return a.Amenity.Name < b.Amenity.Name
		}
		return a.Amenity.ID < b.Amenity.ID
	})
}
