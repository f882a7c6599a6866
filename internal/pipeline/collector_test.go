package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistry(t *testing.T) {
	reg := NewCollectorRegistry()

	awards := NewSeedListCollector("iwsc-2026", []Seed{
		{URL: "https://awards.test/gold/ardbeg-10", ProductTypeHint: "single malt scotch"},
	})
	require.NoError(t, reg.Register(awards))
	require.NoError(t, reg.Register(NewSeedListCollector("retailer-sitemap", nil)))

	assert.Error(t, reg.Register(NewSeedListCollector("iwsc-2026", nil)), "duplicate names rejected")
	assert.Equal(t, []string{"iwsc-2026", "retailer-sitemap"}, reg.Names())

	got, ok := reg.Get("iwsc-2026")
	require.True(t, ok)
	seeds, err := got.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "single malt scotch", seeds[0].ProductTypeHint)

	_, ok = reg.Get("unknown")
	assert.False(t, ok)
}

func TestSeedListCollector_CopiesSeeds(t *testing.T) {
	seeds := []Seed{{URL: "https://a.test/1"}}
	c := NewSeedListCollector("static", seeds)

	got, err := c.Collect(context.Background())
	require.NoError(t, err)
	got[0].URL = "mutated"

	again, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://a.test/1", again[0].URL, "callers cannot mutate the source list")
}
