package match

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramcove/catalog-cli/internal/model"
)

// fakeSource serves records from slices, matching the lookup contract of
// returning (nil, nil) for absent keys.
type fakeSource struct {
	records []*model.ProductRecord
}

func (f *fakeSource) GetByGTIN(_ context.Context, gtin string) (*model.ProductRecord, error) {
	for _, r := range f.records {
		if r.GTIN == gtin {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeSource) GetByFingerprint(_ context.Context, fp string) (*model.ProductRecord, error) {
	for _, r := range f.records {
		if r.Fingerprint == fp {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeSource) ListByBrandType(_ context.Context, brand, productType string) ([]*model.ProductRecord, error) {
	var out []*model.ProductRecord
	for _, r := range f.records {
		if strings.EqualFold(r.Brand, brand) && r.ProductType == productType {
			out = append(out, r)
		}
	}
	return out, nil
}

func seedRecord(name, brand, gtin string, abv *float64) *model.ProductRecord {
	c := model.ProductCandidate{
		Name: name, Brand: brand, GTIN: gtin, ABV: abv,
		ProductType: "single_malt_scotch",
		SourceURL:   "https://seed.test/" + strings.ReplaceAll(strings.ToLower(name), " ", "-"),
	}
	return model.NewRecord(Fingerprint(name, brand, abv, c.ProductType), c)
}

func TestResolver_GTINWins(t *testing.T) {
	abv := 46.0
	existing := seedRecord("Ardbeg 10 Year Old", "Ardbeg", "5010494195613", &abv)
	src := &fakeSource{records: []*model.ProductRecord{existing}}
	r := NewResolver(src, 0)

	// Different name and no ABV, but same GTIN: must resolve to the record.
	rec, isNew, err := r.Resolve(context.Background(), model.ProductCandidate{
		Name: "Ardbeg Ten", GTIN: "5010494195613", ProductType: "single_malt_scotch",
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, existing.Fingerprint, rec.Fingerprint)
}

func TestResolver_FingerprintMatch(t *testing.T) {
	abv := 46.0
	existing := seedRecord("Ardbeg 10 Year Old", "Ardbeg", "", &abv)
	src := &fakeSource{records: []*model.ProductRecord{existing}}
	r := NewResolver(src, 0)

	rec, isNew, err := r.Resolve(context.Background(), model.ProductCandidate{
		Name: "ARDBEG 10 years", Brand: "ardbeg", ABV: &abv, ProductType: "single_malt_scotch",
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, existing.Fingerprint, rec.Fingerprint)
}

func TestResolver_FuzzyMatch(t *testing.T) {
	abv := 43.0
	existing := seedRecord("Glen Example 12 Sherry Cask", "Glen Example", "", &abv)
	src := &fakeSource{records: []*model.ProductRecord{existing}}
	r := NewResolver(src, 0)

	// No ABV, so the fingerprint differs; the name is close enough.
	rec, isNew, err := r.Resolve(context.Background(), model.ProductCandidate{
		Name: "Glen Example 12 Sherry", Brand: "Glen Example", ProductType: "single_malt_scotch",
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, existing.Fingerprint, rec.Fingerprint)
}

func TestResolver_FuzzyRequiresBrandAndType(t *testing.T) {
	abv := 43.0
	existing := seedRecord("Glen Example 12 Sherry Cask", "Glen Example", "", &abv)
	src := &fakeSource{records: []*model.ProductRecord{existing}}
	r := NewResolver(src, 0)

	rec, isNew, err := r.Resolve(context.Background(), model.ProductCandidate{
		Name: "Glen Example 12 Sherry", ProductType: "single_malt_scotch",
	})
	require.NoError(t, err)
	assert.True(t, isNew, "no brand means no fuzzy scan")
	assert.NotEqual(t, existing.Fingerprint, rec.Fingerprint)
}

func TestResolver_FuzzyTieBreaksOnVerifiedFields(t *testing.T) {
	abv := 43.0
	abvCask := 57.1
	weak := seedRecord("Glen Example 12", "Glen Example", "", &abv)
	strong := seedRecord("Glen Example 12", "Glen Example", "", &abvCask)
	strong.MarkVerified(model.FieldName)
	strong.MarkVerified(model.FieldABV)
	src := &fakeSource{records: []*model.ProductRecord{weak, strong}}
	r := NewResolver(src, 0)

	rec, isNew, err := r.Resolve(context.Background(), model.ProductCandidate{
		Name: "Glen Example 12", Brand: "Glen Example", ProductType: "single_malt_scotch",
		GTIN: "",
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, strong.Fingerprint, rec.Fingerprint)
}

func TestResolver_SkipsTerminalRecords(t *testing.T) {
	abv := 43.0
	rejected := seedRecord("Glen Example 12 Sherry Cask", "Glen Example", "", &abv)
	rejected.Status = model.StatusRejected
	src := &fakeSource{records: []*model.ProductRecord{rejected}}
	r := NewResolver(src, 0)

	rec, isNew, err := r.Resolve(context.Background(), model.ProductCandidate{
		Name: "Glen Example 12 Sherry", Brand: "Glen Example", ProductType: "single_malt_scotch",
	})
	require.NoError(t, err)
	assert.True(t, isNew, "rejected records never attract fuzzy matches")
	assert.NotNil(t, rec)
}

func TestResolver_NewRecordSeeded(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(src, 0)

	abv := 40.0
	rec, isNew, err := r.Resolve(context.Background(), model.ProductCandidate{
		Name: "Brand New Dram 8", Brand: "Brand New", ABV: &abv,
		ProductType: "blended_scotch", SourceURL: "https://x.test/p",
	})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, 1, rec.SourceCount)
	assert.Empty(t, rec.VerifiedFields)
	assert.Equal(t, model.StatusIncomplete, rec.Status)
	assert.Equal(t, Fingerprint("Brand New Dram 8", "Brand New", &abv, "blended_scotch"), rec.Fingerprint)
}
