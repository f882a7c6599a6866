// Package normalize converts raw extraction output into typed, validated
// product candidates. Nothing downstream of this package touches untyped
// data.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/model"
)

// ErrMissingName marks a failed normalization: a name is the only field
// this package treats as mandatory. Candidates without one are discarded.
var ErrMissingName = eris.New("normalize: candidate missing name")

const (
	maxABV  = 80.0
	minYear = 1900
)

// Normalizer builds ProductCandidates from extraction payloads.
type Normalizer struct {
	vocab *model.Vocab

	// nowFunc allows test injection of the current year bound.
	nowFunc func() time.Time
}

// New creates a Normalizer over the given classification vocabulary.
func New(vocab *model.Vocab) *Normalizer {
	return &Normalizer{vocab: vocab, nowFunc: time.Now}
}

// Normalize coerces the raw field map into a candidate. Unparsable optional
// fields are dropped, never fatal; only a missing name fails the call.
func (n *Normalizer) Normalize(raw map[string]any, sourceURL, productTypeHint string) (*model.ProductCandidate, error) {
	name := cleanString(raw["name"])
	if name == "" {
		return nil, ErrMissingName
	}

	c := &model.ProductCandidate{
		Name:        name,
		Brand:       cleanString(raw["brand"]),
		GTIN:        cleanGTIN(raw["gtin"]),
		Description: cleanString(raw["description"]),
		Country:     cleanString(raw["country"]),
		Region:      cleanString(raw["region"]),
		SourceURL:   sourceURL,
	}

	rawType := cleanString(raw["product_type"])
	if rawType == "" {
		rawType = productTypeHint
	}
	c.ProductType = n.vocab.Canonical(rawType)

	if abv, ok := parseABV(raw["abv"]); ok {
		c.ABV = &abv
	}
	if year, ok := n.parseYear(raw["vintage"]); ok {
		c.Vintage = &year
	}

	if c.Brand == "" {
		c.Brand = DeriveBrand(c.Name)
	}

	c.Tasting = model.TastingProfile{
		NoseText:     cleanString(raw["nose_text"]),
		AromaTags:    cleanTags(raw["aroma_tags"]),
		PalateText:   cleanString(raw["palate_text"]),
		InitialTaste: cleanString(raw["initial_taste"]),
		MidPalate:    cleanString(raw["mid_palate"]),
		Mouthfeel:    cleanString(raw["mouthfeel"]),
		PalateTags:   cleanTags(raw["palate_tags"]),
		FinishText:   cleanString(raw["finish_text"]),
		FinishTags:   cleanTags(raw["finish_tags"]),
	}
	if fl, ok := parseFloat(raw["finish_length"]); ok && fl > 0 {
		c.Tasting.FinishLength = &fl
	}

	c.BestPrice = parsePrice(raw["best_price"], sourceURL)
	c.Images = cleanTags(raw["images"])
	c.Ratings = parseRatings(raw["ratings"])
	c.Awards = parseAwards(raw["awards"])

	zap.L().Debug("normalize: candidate built",
		zap.String("name", c.Name),
		zap.String("brand", c.Brand),
		zap.String("product_type", c.ProductType),
		zap.String("source_url", sourceURL),
	)

	return c, nil
}

var firstNumeralRe = regexp.MustCompile(`\d`)

// subBrandPhrases are expression names whose preceding text is the house
// brand, e.g. "Glenmorangie Signet" -> "Glenmorangie".
var subBrandPhrases = []string{
	"signet", "supernova", "uigeadail", "corryvreckan", "quinta ruban",
	"distiller's edition", "cask strength", "special release",
}

// DeriveBrand guesses a brand from a product name. Prioritized heuristics:
// text preceding the first numeral, then text preceding a known sub-brand
// phrase. Returns empty rather than guessing wildly.
func DeriveBrand(name string) string {
	if loc := firstNumeralRe.FindStringIndex(name); loc != nil {
		prefix := strings.TrimSpace(strings.Trim(name[:loc[0]], " -–"))
		if len(strings.Fields(prefix)) >= 1 && prefix != "" {
			return prefix
		}
	}

	lower := strings.ToLower(name)
	for _, phrase := range subBrandPhrases {
		if idx := strings.Index(lower, phrase); idx > 0 {
			prefix := strings.TrimSpace(name[:idx])
			if prefix != "" {
				return prefix
			}
		}
	}

	return ""
}

var abvRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)

// parseABV accepts numbers or strings like "43%", "43.0 % ABV", "40,5%".
// Valid range is (0, 80].
func parseABV(v any) (float64, bool) {
	f, ok := parseFloat(v)
	if !ok {
		return 0, false
	}
	if f <= 0 || f > maxABV {
		return 0, false
	}
	return f, true
}

func (n *Normalizer) parseYear(v any) (int, bool) {
	s := cleanString(v)
	if s == "" {
		return 0, false
	}
	upper := strings.ToUpper(s)
	if upper == "N/A" || upper == "NV" || upper == "NONE" {
		return 0, false
	}
	m := regexp.MustCompile(`\b(\d{4})\b`).FindString(s)
	if m == "" {
		return 0, false
	}
	year, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	if year < minYear || year > n.nowFunc().Year() {
		return 0, false
	}
	return year, true
}

func parseFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		m := abvRe.FindString(x)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func cleanString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// cleanGTIN keeps only digit strings of plausible GTIN lengths (8-14).
func cleanGTIN(v any) string {
	s := cleanString(v)
	if s == "" {
		return ""
	}
	digits := regexp.MustCompile(`\D`).ReplaceAllString(s, "")
	if len(digits) < 8 || len(digits) > 14 {
		return ""
	}
	return digits
}

func cleanTags(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			items = make([]any, len(ss))
			for i, s := range ss {
				items[i] = s
			}
		} else {
			return nil
		}
	}
	var out []string
	seen := make(map[string]bool)
	for _, item := range items {
		s := strings.ToLower(cleanString(item))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func parsePrice(v any, sourceURL string) *model.Price {
	m, ok := v.(map[string]any)
	if !ok {
		// A bare number is treated as an amount with unknown currency.
		if amt, ok := parseFloat(v); ok && amt > 0 {
			return &model.Price{Amount: amt, URL: sourceURL}
		}
		return nil
	}
	amt, ok := parseFloat(m["amount"])
	if !ok || amt <= 0 {
		return nil
	}
	return &model.Price{
		Amount:   amt,
		Currency: strings.ToUpper(cleanString(m["currency"])),
		URL:      sourceURL,
	}
}

func parseRatings(v any) []model.Rating {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []model.Rating
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		score, ok := parseFloat(m["score"])
		if !ok {
			continue
		}
		r := model.Rating{
			Source: cleanString(m["source"]),
			Score:  score,
			URL:    cleanString(m["url"]),
		}
		if scale, ok := parseFloat(m["scale"]); ok {
			r.Scale = scale
		}
		out = append(out, r)
	}
	return out
}

func parseAwards(v any) []model.Award {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []model.Award
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		comp := cleanString(m["competition"])
		if comp == "" {
			continue
		}
		a := model.Award{
			Competition: comp,
			Medal:       cleanString(m["medal"]),
		}
		if year, ok := parseFloat(m["year"]); ok {
			a.Year = int(year)
		}
		out = append(out, a)
	}
	return out
}
