package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ARDBEG 10 Year", "ardbeg 10"},
		{"ardbeg 10 years", "ardbeg 10"},
		{"Ardbeg 10yo", "ardbeg 10"},
		{"Ardbeg 10 y.o.", "ardbeg 10"},
		{"Laphroaig 10-Year-Old Cask Strength", "laphroaig 10 cask strength"},
		{"Añejo Tequila", "anejo tequila"},
		{"Glen D'Or 12", "glen d or 12"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalName(tt.in))
		})
	}
}

func TestFingerprint_StableUnderVariation(t *testing.T) {
	abv := 46.0
	a := Fingerprint("ARDBEG 10 Year", "Ardbeg", &abv, "single_malt_scotch")
	b := Fingerprint("ardbeg 10 years", "ardbeg", &abv, "single_malt_scotch")
	assert.Equal(t, a, b, "case and age-statement phrasing must not change the fingerprint")

	abvRounded := 46.04
	c := Fingerprint("Ardbeg 10", "Ardbeg", &abvRounded, "single_malt_scotch")
	d := Fingerprint("Ardbeg 10", "Ardbeg", &abv, "single_malt_scotch")
	assert.Equal(t, c, d, "abv rounds to one decimal")
}

func TestFingerprint_DistinguishesProducts(t *testing.T) {
	abv10 := 46.0
	abv16 := 43.0
	a := Fingerprint("Ardbeg 10", "Ardbeg", &abv10, "single_malt_scotch")
	b := Fingerprint("Lagavulin 16", "Lagavulin", &abv16, "single_malt_scotch")
	assert.NotEqual(t, a, b)

	noABV := Fingerprint("Ardbeg 10", "Ardbeg", nil, "single_malt_scotch")
	assert.NotEqual(t, a, noABV, "missing abv is part of identity")
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("ardbeg 10", "ardbeg 10"))
	assert.Equal(t, 0.0, NameSimilarity("", "ardbeg 10"))

	// Token overlap dominates for reordered words.
	assert.GreaterOrEqual(t, NameSimilarity("glen example 12 sherry cask", "glen example sherry cask 12"), 0.99)

	// Levenshtein dominates for small spelling edits.
	assert.GreaterOrEqual(t, NameSimilarity("laphroaig quarter cask", "laphroaig quarter csk"), 0.80)

	assert.Less(t, NameSimilarity("ardbeg 10", "glenfiddich 18 small batch"), 0.5)
}
