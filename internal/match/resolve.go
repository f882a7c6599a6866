package match

import (
	"context"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/model"
)

// DefaultSimilarityThreshold is the minimum name similarity for a fuzzy
// match against records sharing brand and product type.
const DefaultSimilarityThreshold = 0.80

// RecordSource is the read surface the resolver needs. Lookups return
// (nil, nil) when no record exists.
type RecordSource interface {
	GetByGTIN(ctx context.Context, gtin string) (*model.ProductRecord, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.ProductRecord, error)
	ListByBrandType(ctx context.Context, brand, productType string) ([]*model.ProductRecord, error)
}

// Resolver maps candidates onto existing records or creates new ones.
type Resolver struct {
	source    RecordSource
	threshold float64
}

// NewResolver creates a resolver with the given similarity threshold;
// threshold <= 0 selects the default.
func NewResolver(source RecordSource, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Resolver{source: source, threshold: threshold}
}

// Resolve finds the record a candidate belongs to. Resolution order: exact
// GTIN, exact fingerprint, fuzzy name within the same brand and product
// type. When nothing matches a new record is seeded from the candidate and
// isNew is true; the new record is NOT persisted here.
func (r *Resolver) Resolve(ctx context.Context, c model.ProductCandidate) (*model.ProductRecord, bool, error) {
	if c.GTIN != "" {
		rec, err := r.source.GetByGTIN(ctx, c.GTIN)
		if err != nil {
			return nil, false, eris.Wrap(err, "match: gtin lookup")
		}
		if rec != nil {
			return rec, false, nil
		}
	}

	fp := Fingerprint(c.Name, c.Brand, c.ABV, c.ProductType)
	rec, err := r.source.GetByFingerprint(ctx, fp)
	if err != nil {
		return nil, false, eris.Wrap(err, "match: fingerprint lookup")
	}
	if rec != nil {
		return rec, false, nil
	}

	rec, err = r.fuzzyMatch(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		zap.L().Info("match: fuzzy match",
			zap.String("candidate_name", c.Name),
			zap.String("record_name", rec.Name),
			zap.String("fingerprint", rec.Fingerprint),
		)
		return rec, false, nil
	}

	return model.NewRecord(fp, c), true, nil
}

// fuzzyMatch scans records sharing brand and product type for a name with
// similarity above the threshold. Ties break by similarity, then by the
// record with more verified fields.
func (r *Resolver) fuzzyMatch(ctx context.Context, c model.ProductCandidate) (*model.ProductRecord, error) {
	if c.Brand == "" || c.ProductType == "" {
		return nil, nil
	}
	peers, err := r.source.ListByBrandType(ctx, c.Brand, c.ProductType)
	if err != nil {
		return nil, eris.Wrap(err, "match: brand/type scan")
	}

	candName := CanonicalName(c.Name)
	var best *model.ProductRecord
	bestScore := 0.0
	for _, peer := range peers {
		if peer.Status.IsTerminal() {
			continue
		}
		score := NameSimilarity(candName, CanonicalName(peer.Name))
		if score < r.threshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && len(peer.VerifiedFields) > len(best.VerifiedFields)) {
			best = peer
			bestScore = score
		}
	}
	return best, nil
}

// NameSimilarity scores two canonical names in [0,1]. It takes the max of
// token-set Jaccard overlap (robust to word reordering) and normalized
// Levenshtein similarity (robust to small spelling edits).
func NameSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	jaccard := tokenJaccard(a, b)
	lev := levenshtein.Similarity(a, b, levenshtein.NewParams())
	if jaccard > lev {
		return jaccard
	}
	return lev
}

func tokenJaccard(a, b string) float64 {
	setA := make(map[string]bool)
	for _, t := range strings.Fields(a) {
		setA[t] = true
	}
	setB := make(map[string]bool)
	for _, t := range strings.Fields(b) {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
