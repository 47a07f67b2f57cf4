package model

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// NameKey folds an amenity name for manifest matching: lower case, letters and digits only.
// "Bob's Cafe", "bobs cafe" and "BOBS-CAFE" map to the same key.
func NameKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var relationPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// NormalizeRelation turns a manifest relation into an upper snake case edge type
// ("similar to" and "Similar-To" become SIMILAR_TO). The result is safe to splice into a
// Cypher relationship pattern.
func NormalizeRelation(rel string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(rel))
	v = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, v)
	if !relationPattern.MatchString(v) {
		return "", errdefs.Validationf("invalid relation type %q", rel)
	}
	if v == RelBelongsTo {
		return "", errdefs.Validationf("relation type %q is reserved", rel)
	}
	return v, nil
}
