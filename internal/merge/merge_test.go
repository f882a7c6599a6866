package merge

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramcove/catalog-cli/internal/model"
)

func baseCandidate(sourceURL string) model.ProductCandidate {
	abv := 46.0
	return model.ProductCandidate{
		Name:        "Ardbeg 10 Year Old",
		Brand:       "Ardbeg",
		ProductType: "single_malt_scotch",
		ABV:         &abv,
		Country:     "Scotland",
		Tasting: model.TastingProfile{
			PalateTags: []string{"peat", "vanilla"},
		},
		SourceURL: sourceURL,
	}
}

func TestMerge_FillsEmptyFields(t *testing.T) {
	e := NewEngine()
	rec := model.NewRecord("fp-1", model.ProductCandidate{
		Name: "Ardbeg 10 Year Old", SourceURL: "https://a.test/p",
	})

	c := baseCandidate("https://b.test/p")
	c.Description = "Peaty Islay classic."
	out := e.Merge(rec, c)

	assert.Contains(t, out.Filled, model.FieldBrand)
	assert.Contains(t, out.Filled, model.FieldABV)
	assert.Contains(t, out.Filled, model.FieldDescription)
	assert.Contains(t, out.Filled, model.FieldPalateTags)
	assert.Empty(t, out.Conflicts)

	assert.Equal(t, "Ardbeg", rec.Brand)
	require.NotNil(t, rec.ABV)
	assert.Equal(t, 46.0, *rec.ABV)
	assert.Equal(t, 2, rec.SourceCount)

	// Name agreed between the two sources.
	assert.Contains(t, out.Verified, model.FieldName)
	assert.True(t, rec.IsVerified(model.FieldName))
	assert.False(t, rec.IsVerified(model.FieldBrand), "freshly filled fields are single-source")
}

func TestMerge_IdempotentPerSource(t *testing.T) {
	e := NewEngine()
	rec := model.NewRecord("fp-1", baseCandidate("https://a.test/p"))

	out := e.Merge(rec, baseCandidate("https://a.test/p"))

	assert.Equal(t, 1, rec.SourceCount, "re-merging a known source must not inflate sourceCount")
	assert.Empty(t, out.Verified, "a source cannot confirm its own values")
	assert.Empty(t, rec.VerifiedFields)
	assert.Empty(t, out.Conflicts)
}

func TestMerge_SecondSourceVerifies(t *testing.T) {
	e := NewEngine()
	rec := model.NewRecord("fp-1", baseCandidate("https://a.test/p"))

	c := baseCandidate("https://b.test/p")
	c.Name = "ARDBEG 10 YEAR OLD" // case-insensitive equality
	abv := 46.04                  // inside numeric tolerance
	c.ABV = &abv
	c.Tasting.PalateTags = []string{"vanilla", "peat"} // order-independent
	out := e.Merge(rec, c)

	assert.Contains(t, out.Verified, model.FieldName)
	assert.Contains(t, out.Verified, model.FieldABV)
	assert.Contains(t, out.Verified, model.FieldPalateTags)
	assert.Empty(t, out.Conflicts)
	assert.Equal(t, 2, rec.SourceCount)

	// A third agreeing source re-verifies without duplicating outcome entries.
	out2 := e.Merge(rec, baseCandidate("https://c.test/p"))
	assert.NotContains(t, out2.Verified, model.FieldName, "already-verified fields are not re-reported")
	assert.True(t, rec.IsVerified(model.FieldName))
}

func TestMerge_ConflictIsNonDestructive(t *testing.T) {
	e := NewEngine()
	seed := baseCandidate("https://a.test/p")
	abvSeed := 40.0
	seed.ABV = &abvSeed
	rec := model.NewRecord("fp-1", seed)

	c := baseCandidate("https://b.test/p")
	abvIn := 43.0
	c.ABV = &abvIn
	out := e.Merge(rec, c)

	require.Len(t, out.Conflicts, 1)
	cl := out.Conflicts[0]
	assert.Equal(t, model.FieldABV, cl.Field)
	assert.Equal(t, "40", cl.ExistingValue)
	assert.Equal(t, "43", cl.IncomingValue)
	assert.Equal(t, "https://b.test/p", cl.SourceURL)
	assert.NotEmpty(t, cl.ID)

	require.NotNil(t, rec.ABV)
	assert.Equal(t, 40.0, *rec.ABV, "existing value is never overwritten")
	require.Len(t, rec.Conflicts, 1)
	assert.False(t, rec.IsVerified(model.FieldABV))

	// The conflicting source still counts and other fields still merged.
	assert.Equal(t, 2, rec.SourceCount)
	assert.Contains(t, out.Verified, model.FieldName)
}

func TestMerge_RatingsAccumulate(t *testing.T) {
	e := NewEngine()
	seed := baseCandidate("https://a.test/p")
	seed.Ratings = []model.Rating{{Source: "whiskybase", Score: 8.7, Scale: 10}}
	rec := model.NewRecord("fp-1", seed)

	c := baseCandidate("https://b.test/p")
	c.Ratings = []model.Rating{
		{Source: "Whiskybase", Score: 9.1, Scale: 10}, // duplicate source, ignored
		{Source: "distiller", Score: 92, Scale: 100},
	}
	e.Merge(rec, c)

	require.Len(t, rec.Ratings, 2)
	assert.Equal(t, 8.7, rec.Ratings[0].Score, "existing rating untouched")
	assert.Equal(t, "distiller", rec.Ratings[1].Source)
}

func TestMerge_PriceCurrencyMismatchConflicts(t *testing.T) {
	e := NewEngine()
	seed := baseCandidate("https://a.test/p")
	seed.BestPrice = &model.Price{Amount: 54.95, Currency: "USD"}
	rec := model.NewRecord("fp-1", seed)

	c := baseCandidate("https://b.test/p")
	c.BestPrice = &model.Price{Amount: 49.0, Currency: "GBP"}
	out := e.Merge(rec, c)

	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, model.FieldBestPrice, out.Conflicts[0].Field)
	assert.Equal(t, 54.95, rec.BestPrice.Amount)
}

func TestMerge_SerializedPerFingerprint(t *testing.T) {
	e := NewEngine()
	rec := model.NewRecord("fp-1", model.ProductCandidate{
		Name: "Ardbeg 10", SourceURL: "https://seed.test/p",
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := baseCandidate(fmt.Sprintf("https://s%d.test/p", i))
			e.Exclusive(rec.Fingerprint, func() { e.Merge(rec, c) })
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 21, rec.SourceCount, "every distinct source counted exactly once")
	assert.Len(t, rec.Sources, 21)
}

func TestExclusive_CoversWholeReadMergeWriteCycle(t *testing.T) {
	e := NewEngine()
	persisted := model.NewRecord("fp-1", baseCandidate("https://a.test/p"))

	// Each worker reloads the latest state inside the critical section, the
	// way the pipeline does, so every source lands in the persisted record.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Exclusive("fp-1", func() {
				snapshot := *persisted
				e.Merge(&snapshot, baseCandidate(fmt.Sprintf("https://s%d.test/p", i)))
				*persisted = snapshot
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 21, persisted.SourceCount)
	assert.Len(t, persisted.Sources, 21)
}
