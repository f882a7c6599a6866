// Package match resolves product candidates to durable records, by GTIN,
// fingerprint, or fuzzy name similarity.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fillerTokens are age-statement noise words dropped during name
// canonicalization so "10 Year Old", "10 years", and "10yo" fingerprint
// identically.
var fillerTokens = map[string]bool{
	"year":  true,
	"years": true,
	"yr":    true,
	"yrs":   true,
	"yo":    true,
	"y.o":   true,
	"y.o.":  true,
	"old":   true,
	"aged":  true,
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldDiacritics strips combining marks: "Añejo" -> "Anejo".
func foldDiacritics(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}

// CanonicalName lowercases, folds diacritics, strips punctuation, and drops
// filler tokens. Trailing attached age suffixes are split first ("10yo" ->
// "10 yo").
func CanonicalName(name string) string {
	s := strings.ToLower(foldDiacritics(name))

	var b strings.Builder
	for i, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			// Split "10yo" style suffixes at the digit/letter boundary.
			if i > 0 && unicode.IsLetter(r) && isDigitByte(s, i) {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	var kept []string
	for _, tok := range strings.Fields(b.String()) {
		if fillerTokens[strings.Trim(tok, ".")] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

func isDigitByte(s string, i int) bool {
	prev := s[i-1]
	return prev >= '0' && prev <= '9'
}

// Fingerprint computes the stable dedup hash of a product identity:
// canonical name, brand, ABV rounded to one decimal, and product type.
// Stable across case, punctuation, and age-statement phrasing.
func Fingerprint(name, brand string, abv *float64, productType string) string {
	abvPart := ""
	if abv != nil {
		abvPart = strconv.FormatFloat(math.Round(*abv*10)/10, 'f', 1, 64)
	}
	key := strings.Join([]string{
		CanonicalName(name),
		CanonicalName(brand),
		abvPart,
		strings.ToLower(strings.TrimSpace(productType)),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
