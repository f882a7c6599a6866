package model

import "time"

// Fetch tiers in escalation order.
const (
	TierDirect   = 1 // plain HTTP with injected cookies
	TierRendered = 2 // headless browser with scripted interaction
	TierProxy    = 3 // remote anti-bot proxy
)

// DomainFetchProfile is the per-domain fetch memory: the cheapest tier known
// to work, plus cached cookies. Keyed by registrable domain. Created lazily
// on first fetch, mutated after every attempt, never deleted automatically.
type DomainFetchProfile struct {
	Domain          string            `json:"domain"`
	RequiredTier    int               `json:"required_tier"`
	SessionCookies  map[string]string `json:"session_cookies,omitempty"`
	AgeGateCookies  map[string]string `json:"age_gate_cookies,omitempty"`
	LastSuccessTier int               `json:"last_success_tier,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewDomainFetchProfile creates a profile starting at the cheapest tier.
func NewDomainFetchProfile(domain string) *DomainFetchProfile {
	return &DomainFetchProfile{
		Domain:       domain,
		RequiredTier: TierDirect,
		UpdatedAt:    time.Now().UTC(),
	}
}

// StartTier returns the tier fetch attempts should begin at.
func (p *DomainFetchProfile) StartTier() int {
	if p.RequiredTier < TierDirect {
		return TierDirect
	}
	return p.RequiredTier
}

// EscalateTier raises RequiredTier to tier. The required tier is monotonic:
// concurrent writers may only raise it, never lower it. Returns true if the
// profile changed.
func (p *DomainFetchProfile) EscalateTier(tier int) bool {
	if tier <= p.RequiredTier {
		return false
	}
	p.RequiredTier = tier
	p.UpdatedAt = time.Now().UTC()
	return true
}

// ResetTier is the explicit manual escape hatch from the monotonic tier
// invariant, used when a site drops its defenses.
func (p *DomainFetchProfile) ResetTier() {
	p.RequiredTier = TierDirect
	p.LastSuccessTier = 0
	p.UpdatedAt = time.Now().UTC()
}

// RecordSuccess notes a successful fetch at the given tier and caches any
// session cookies observed on the response.
func (p *DomainFetchProfile) RecordSuccess(tier int, cookies map[string]string) {
	p.LastSuccessTier = tier
	p.EscalateTier(tier)
	if len(cookies) > 0 {
		if p.SessionCookies == nil {
			p.SessionCookies = make(map[string]string, len(cookies))
		}
		for k, v := range cookies {
			p.SessionCookies[k] = v
		}
	}
	p.UpdatedAt = time.Now().UTC()
}
