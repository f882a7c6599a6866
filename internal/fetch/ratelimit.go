package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DomainLimiter enforces per-domain politeness independently of the global
// worker pool: a cap on simultaneous in-flight fetches per domain plus a
// minimum inter-request delay.
type DomainLimiter struct {
	minDelay    time.Duration
	maxInFlight int

	mu    sync.Mutex
	slots map[string]*domainSlot
}

type domainSlot struct {
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewDomainLimiter creates a limiter with the given minimum delay between
// requests to one domain and cap on concurrent requests per domain.
func NewDomainLimiter(minDelay time.Duration, maxInFlight int) *DomainLimiter {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxInFlight <= 0 {
		maxInFlight = 2
	}
	return &DomainLimiter{
		minDelay:    minDelay,
		maxInFlight: maxInFlight,
		slots:       make(map[string]*domainSlot),
	}
}

func (d *DomainLimiter) slot(domain string) *domainSlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[domain]
	if !ok {
		s = &domainSlot{
			limiter: rate.NewLimiter(rate.Every(d.minDelay), 1),
			sem:     make(chan struct{}, d.maxInFlight),
		}
		d.slots[domain] = s
	}
	return s
}

// Acquire blocks until the domain has both a free in-flight slot and rate
// budget. The returned release function must be called when the fetch
// completes.
func (d *DomainLimiter) Acquire(ctx context.Context, domain string) (func(), error) {
	s := d.slot(domain)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "ratelimit: acquire slot")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		<-s.sem
		return nil, eris.Wrap(err, "ratelimit: wait")
	}

	return func() { <-s.sem }, nil
}

// InFlight returns the current number of in-flight fetches for a domain.
func (d *DomainLimiter) InFlight(domain string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[domain]
	if !ok {
		return 0
	}
	return len(s.sem)
}
