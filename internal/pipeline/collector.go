package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Seed is a discovered URL waiting to be processed.
type Seed struct {
	URL             string `json:"url"`
	ProductTypeHint string `json:"product_type_hint,omitempty"`
}

// Collector yields product page URLs from a named discovery source, e.g. a
// competition award list or a retailer sitemap.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]Seed, error)
}

// CollectorRegistry holds the known discovery sources by name.
type CollectorRegistry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewCollectorRegistry creates an empty registry.
func NewCollectorRegistry() *CollectorRegistry {
	return &CollectorRegistry{collectors: make(map[string]Collector)}
}

// Register adds a collector. Duplicate names are an error.
func (r *CollectorRegistry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collectors[c.Name()]; exists {
		return eris.Errorf("pipeline: collector %q already registered", c.Name())
	}
	r.collectors[c.Name()] = c
	return nil
}

// Get returns the named collector.
func (r *CollectorRegistry) Get(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	return c, ok
}

// Names lists registered collector names, sorted.
func (r *CollectorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SeedListCollector is a fixed list of seeds under a name, used for
// file-fed and test discovery sources.
type SeedListCollector struct {
	name  string
	seeds []Seed
}

// NewSeedListCollector wraps a static seed list as a collector.
func NewSeedListCollector(name string, seeds []Seed) *SeedListCollector {
	return &SeedListCollector{name: name, seeds: seeds}
}

func (c *SeedListCollector) Name() string { return c.name }

func (c *SeedListCollector) Collect(_ context.Context) ([]Seed, error) {
	out := make([]Seed, len(c.seeds))
	copy(out, c.seeds)
	return out, nil
}
