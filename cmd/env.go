package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/enrich"
	"github.com/dramcove/catalog-cli/internal/fetch"
	"github.com/dramcove/catalog-cli/internal/match"
	"github.com/dramcove/catalog-cli/internal/merge"
	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/normalize"
	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/internal/resilience"
	"github.com/dramcove/catalog-cli/internal/store"
	anthropicpkg "github.com/dramcove/catalog-cli/pkg/anthropic"
	"github.com/dramcove/catalog-cli/pkg/extract"
	"github.com/dramcove/catalog-cli/pkg/search"
	"github.com/dramcove/catalog-cli/pkg/unblock"
)

// appEnv holds the initialized store, clients, and pipeline needed by the
// process/batch/enrich/serve commands.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Enricher *enrich.Enricher
	Search   search.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "catalog.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, fetch tiers, extraction and search clients,
// and builds the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules, err := fetch.DefaultAgeGateRules()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load age gate rules")
	}

	tiers := []fetch.TierClient{
		fetch.NewDirectClient(fetch.DirectOptions{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   time.Duration(cfg.Fetch.DirectTimeoutSecs) * time.Second,
		}),
	}
	if cfg.Fetch.RenderEnabled {
		tiers = append(tiers, fetch.NewRenderedClient(fetch.RenderedOptions{
			Timeout:            time.Duration(cfg.Fetch.RenderTimeoutSecs) * time.Second,
			AffirmationPhrases: cfg.Fetch.AffirmationPhrases,
			UserAgent:          cfg.Fetch.UserAgent,
		}))
	}
	if cfg.Unblock.Key != "" {
		unblockClient := unblock.NewClient(cfg.Unblock.Key, unblock.WithBaseURL(cfg.Unblock.BaseURL))
		tiers = append(tiers, fetch.NewProxyClient(unblockClient))
		zap.L().Info("tier-3 unblock proxy enabled")
	} else {
		zap.L().Debug("CATALOG_UNBLOCK_KEY not set, tier-3 proxy disabled")
	}

	limiter := fetch.NewDomainLimiter(
		time.Duration(cfg.Fetch.MinDelayMillis)*time.Millisecond,
		cfg.Fetch.MaxInFlight,
	)
	retry := resilience.DefaultRetryConfig()
	if cfg.Fetch.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Fetch.RetryAttempts
	}
	fetcher := fetch.NewTieredFetcher(st, limiter, rules, retry, tiers...)

	var extractor extract.Client
	switch {
	case cfg.Extract.Key != "":
		extractor = extract.NewClient(cfg.Extract.Key, extract.WithBaseURL(cfg.Extract.BaseURL))
	case cfg.Anthropic.Key != "":
		extractor = extract.NewAnthropicExtractor(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.HaikuModel)
		zap.L().Info("using anthropic extraction fallback", zap.String("model", cfg.Anthropic.HaikuModel))
	default:
		// Unauthenticated local extraction service.
		extractor = extract.NewClient("", extract.WithBaseURL(cfg.Extract.BaseURL))
	}

	searchClient := search.NewClient(cfg.Search.Key, search.WithBaseURL(cfg.Search.BaseURL))

	vocab, err := model.LoadVocab()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load vocabulary")
	}

	pipe := pipeline.New(
		fetcher,
		extractor,
		normalize.New(vocab),
		match.NewResolver(st, cfg.Match.SimilarityThreshold),
		merge.NewEngine(),
		st,
	)

	return &appEnv{
		Store:    st,
		Pipeline: pipe,
		Enricher: enrich.New(searchClient, pipe, cfg.Enrich),
		Search:   searchClient,
	}, nil
}
