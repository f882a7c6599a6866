// Package fetch implements the tiered fetch engine: escalating retrieval
// across plain HTTP, headless rendering, and an anti-bot proxy, with
// age-gate bypass and per-domain fetch memory.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/dramcove/catalog-cli/internal/model"
)

// RawResponse is what a single tier attempt returns before acceptability
// checks.
type RawResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Cookies    map[string]string
}

// TierClient is a pluggable fetch strategy for one capability tier.
type TierClient interface {
	// Tier returns the capability level (model.TierDirect..model.TierProxy).
	Tier() int
	Name() string
	// Fetch retrieves the URL with the given cookies injected.
	Fetch(ctx context.Context, url string, cookies map[string]string) (*RawResponse, error)
}

// Result is the outcome of a successful tiered fetch. Transient: not
// persisted beyond the pipeline run.
type Result struct {
	StatusCode      int
	Body            string
	TierUsed        int
	AgeGateDetected bool
	CookiesObserved map[string]string
}

// Error is the terminal failure for a URL after all tiers are exhausted.
// The caller owns any re-queue policy.
type Error struct {
	URL      string
	LastTier int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch: all tiers exhausted for %s (last tier %d): %v", e.URL, e.LastTier, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AgeGateError means every tier returned gated content even after cookie
// injection. Terminal for this URL; logged for manual cookie updates.
type AgeGateError struct {
	URL    string
	Domain string
}

func (e *AgeGateError) Error() string {
	return fmt.Sprintf("fetch: age gate unresolved for %s (domain %s)", e.URL, e.Domain)
}

// ProfileStore provides keyed access to per-domain fetch profiles. Writes
// must be last-writer-wins-but-monotonic on RequiredTier.
type ProfileStore interface {
	GetProfile(ctx context.Context, domain string) (*model.DomainFetchProfile, error)
	PutProfile(ctx context.Context, profile *model.DomainFetchProfile) error
}

// RegistrableDomain extracts the key under which fetch profiles and
// politeness limits are tracked: the hostname reduced to eTLD+1 against
// the public suffix list.
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Bare suffixes, IP literals, single-label hosts.
		return strings.TrimPrefix(host, "www.")
	}
	return etld1
}

func mergeCookies(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
