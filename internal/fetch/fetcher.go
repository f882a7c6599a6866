package fetch

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/resilience"
)

// TieredFetcher tries tier clients in increasing capability order until one
// yields an acceptable result: HTTP success and no age gate. Tier selection
// starts at the domain profile's required tier so already-proven-insufficient
// tiers are skipped.
type TieredFetcher struct {
	tiers    []TierClient
	profiles ProfileStore
	limiter  *DomainLimiter
	rules    *AgeGateRules
	retry    resilience.RetryConfig
}

// NewTieredFetcher creates a fetcher over the given tier clients. Clients
// are sorted by tier; duplicates are not checked.
func NewTieredFetcher(
	profiles ProfileStore,
	limiter *DomainLimiter,
	rules *AgeGateRules,
	retry resilience.RetryConfig,
	tiers ...TierClient,
) *TieredFetcher {
	sorted := make([]TierClient, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tier() < sorted[j].Tier() })
	return &TieredFetcher{
		tiers:    sorted,
		profiles: profiles,
		limiter:  limiter,
		rules:    rules,
		retry:    retry,
	}
}

// Fetch retrieves the URL, escalating tiers as needed. On success the domain
// profile is updated: required tier raised monotonically, observed session
// cookies cached. On total exhaustion the error is terminal for this URL;
// the fetcher never retries across tiers more than once per call.
func (f *TieredFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	domain := RegistrableDomain(rawURL)
	if domain == "" {
		return nil, eris.Errorf("fetch: unparsable url %s", rawURL)
	}
	log := zap.L().With(zap.String("url", rawURL), zap.String("domain", domain))

	prof, err := f.profiles.GetProfile(ctx, domain)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: load profile %s", domain)
	}
	if prof == nil {
		prof = model.NewDomainFetchProfile(domain)
	}

	release, err := f.limiter.Acquire(ctx, domain)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		lastErr  error
		lastTier int
		anyGated bool
	)

	for _, tc := range f.tiers {
		if tc.Tier() < prof.StartTier() {
			continue
		}
		lastTier = tc.Tier()

		resp, err := f.attemptTier(ctx, tc, rawURL, prof.SessionCookies)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(err, "fetch: cancelled")
			}
			log.Debug("fetch: tier failed, escalating",
				zap.String("tier", tc.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		gated := f.rules.Detect(resp.Body)
		if gated {
			// Retry the same tier once with age-gate bypass cookies before
			// escalating.
			anyGated = true
			bypass := f.rules.BypassCookies(prof.AgeGateCookies)
			log.Debug("fetch: age gate detected, retrying with bypass cookies",
				zap.String("tier", tc.Name()),
			)
			retryResp, retryErr := f.attemptTier(ctx, tc, rawURL, mergeCookies(prof.SessionCookies, bypass))
			if retryErr == nil && !f.rules.Detect(retryResp.Body) {
				return f.success(ctx, log, prof, tc.Tier(), retryResp, true), nil
			}
			if retryErr != nil {
				lastErr = retryErr
			} else {
				lastErr = eris.Errorf("fetch: still age-gated after bypass at tier %d", tc.Tier())
			}
			continue
		}

		return f.success(ctx, log, prof, tc.Tier(), resp, false), nil
	}

	if anyGated {
		log.Warn("fetch: age gate unresolved, manual cookie update needed")
		return nil, &AgeGateError{URL: rawURL, Domain: domain}
	}
	if lastErr == nil {
		lastErr = eris.New("fetch: no tier clients configured")
	}
	return nil, &Error{URL: rawURL, LastTier: lastTier, Err: lastErr}
}

// attemptTier runs one tier with the per-tier retry policy. Transient
// failures (timeouts, 5xx, 429) are retried with backoff; other failures
// return immediately so the caller escalates.
func (f *TieredFetcher) attemptTier(ctx context.Context, tc TierClient, rawURL string, cookies map[string]string) (*RawResponse, error) {
	cfg := f.retry
	cfg.OnRetry = resilience.RetryLogger(tc.Name(), "fetch")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*RawResponse, error) {
		resp, err := tc.Fetch(ctx, rawURL, cookies)
		if err != nil {
			// Network-level errors carry their own transience; let the
			// policy predicate decide.
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		statusErr := eris.Errorf("%s: status %d for %s", tc.Name(), resp.StatusCode, rawURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	})
}

func (f *TieredFetcher) success(ctx context.Context, log *zap.Logger, prof *model.DomainFetchProfile, tier int, resp *RawResponse, wasGated bool) *Result {
	prof.RecordSuccess(tier, resp.Cookies)
	if err := f.profiles.PutProfile(ctx, prof); err != nil {
		// The tier memory is a cost optimization, not a correctness
		// requirement; a stale profile just re-probes lower tiers.
		log.Warn("fetch: profile update failed", zap.Error(err))
	}

	log.Info("fetch: success",
		zap.Int("tier", tier),
		zap.Int("status", resp.StatusCode),
		zap.Bool("age_gate_bypassed", wasGated),
	)

	return &Result{
		StatusCode:      resp.StatusCode,
		Body:            resp.Body,
		TierUsed:        tier,
		AgeGateDetected: wasGated,
		CookiesObserved: resp.Cookies,
	}
}
