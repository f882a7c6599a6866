// Package pipeline wires the processing chain for one URL: tiered fetch,
// extraction, normalization, record resolution, merge, scoring, and
// persistence. Process is the sole entry point schedulers and queues call.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/fetch"
	"github.com/dramcove/catalog-cli/internal/match"
	"github.com/dramcove/catalog-cli/internal/merge"
	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/normalize"
	"github.com/dramcove/catalog-cli/internal/resilience"
	"github.com/dramcove/catalog-cli/internal/scorer"
	"github.com/dramcove/catalog-cli/internal/store"
	"github.com/dramcove/catalog-cli/pkg/extract"
)

// Context carries per-URL processing hints from the trigger surface.
type Context struct {
	ProductTypeHint string
	DiscoverySource string

	// PriorRetries is how many dead-letter replays this URL has already
	// consumed, including the attempt in flight. Set by the replay loop so
	// a renewed failure is filed with the count intact and the retry
	// budget eventually runs out.
	PriorRetries int
}

// Result is what Process returns for a successfully handled URL.
type Result struct {
	Record    *model.ProductRecord
	Status    model.Status
	IsNew     bool
	TierUsed  int
	Filled    []string
	Verified  []string
	Conflicts []model.ConflictLog
}

// Fetcher is the tiered fetch surface the pipeline depends on.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// Pipeline executes the per-URL processing chain.
type Pipeline struct {
	fetcher    Fetcher
	extractor  extract.Client
	normalizer *normalize.Normalizer
	resolver   *match.Resolver
	merger     *merge.Engine
	store      store.Store

	// breaker guards the extraction collaborator so an unreachable service
	// fails fast instead of timing out every URL in a batch.
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// New creates a pipeline over its collaborators.
func New(fetcher Fetcher, extractor extract.Client, normalizer *normalize.Normalizer,
	resolver *match.Resolver, merger *merge.Engine, st store.Store) *Pipeline {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("extract", "extract")
	return &Pipeline{
		fetcher:    fetcher,
		extractor:  extractor,
		normalizer: normalizer,
		resolver:   resolver,
		merger:     merger,
		store:      st,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:      retry,
	}
}

// Process runs one URL through the full chain. Failure semantics: fetch
// exhaustion and unresolved age gates land in the dead letter queue;
// extraction and normalization failures abandon the URL; a persistence
// failure for the record itself is the only error class a caller should
// treat as fatal for the item.
func (p *Pipeline) Process(ctx context.Context, rawURL string, pctx Context) (*Result, error) {
	logger := zap.L().With(
		zap.String("url", rawURL),
		zap.String("discovery_source", pctx.DiscoverySource),
	)

	fres, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		p.deadLetter(ctx, rawURL, pctx, err)
		return nil, eris.Wrap(err, "pipeline: fetch")
	}
	logger.Debug("pipeline: fetched", zap.Int("tier", fres.TierUsed), zap.Int("bytes", len(fres.Body)))

	fields, err := p.extract(ctx, fres.Body, rawURL, pctx.ProductTypeHint)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: extract")
	}

	cand, err := p.normalizer.Normalize(fields, rawURL, pctx.ProductTypeHint)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: normalize")
	}

	rec, isNew, err := p.resolver.Resolve(ctx, *cand)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: resolve")
	}

	// Load-merge-persist runs under the fingerprint's lock. Resolution
	// happened outside it, so the record is re-read inside: a concurrent
	// worker for the same product may have persisted in between, and
	// merging into that stale snapshot would erase its fields and sources
	// on upsert.
	var (
		outcome  merge.Outcome
		terminal bool
		procErr  error
	)
	p.merger.Exclusive(rec.Fingerprint, func() {
		fresh, err := p.store.GetByFingerprint(ctx, rec.Fingerprint)
		if err != nil {
			procErr = eris.Wrap(err, "pipeline: reload record")
			return
		}
		if fresh != nil {
			rec = fresh
			isNew = false
		}
		if rec.Status.IsTerminal() {
			terminal = true
			return
		}
		if !isNew {
			outcome = p.merger.Merge(rec, *cand)
		}
		scorer.Apply(rec)

		if err := p.store.UpsertRecord(ctx, rec); err != nil {
			// The merge happened in memory only, so resubmission replays cleanly.
			procErr = eris.Wrap(err, "pipeline: persist record")
		}
	})
	if procErr != nil {
		return nil, procErr
	}
	if terminal {
		logger.Info("pipeline: record is terminal, skipping merge",
			zap.String("fingerprint", rec.Fingerprint),
			zap.String("status", string(rec.Status)),
		)
		return &Result{Record: rec, Status: rec.Status, TierUsed: fres.TierUsed}, nil
	}
	if len(outcome.Conflicts) > 0 {
		if err := p.store.AppendConflicts(ctx, outcome.Conflicts); err != nil {
			logger.Warn("pipeline: conflict log write failed", zap.Error(err))
		}
	}

	logger.Info("pipeline: processed",
		zap.String("fingerprint", rec.Fingerprint),
		zap.Bool("new", isNew),
		zap.Int("score", rec.CompletenessScore),
		zap.String("status", string(rec.Status)),
		zap.Int("conflicts", len(outcome.Conflicts)),
	)

	return &Result{
		Record:    rec,
		Status:    rec.Status,
		IsNew:     isNew,
		TierUsed:  fres.TierUsed,
		Filled:    outcome.Filled,
		Verified:  outcome.Verified,
		Conflicts: outcome.Conflicts,
	}, nil
}

func (p *Pipeline) extract(ctx context.Context, body, sourceURL, hint string) (map[string]any, error) {
	text := fetch.StripHTML(body)
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) (map[string]any, error) {
		return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (map[string]any, error) {
			return p.extractor.Extract(ctx, extract.Request{
				Content:         text,
				SourceURL:       sourceURL,
				ProductTypeHint: hint,
			})
		})
	})
}

// deadLetter files a terminally failed URL for later retry, carrying the
// retry count accumulated across replays. Age-gated URLs are filed as
// permanent so an operator can supply bypass cookies before resubmitting.
func (p *Pipeline) deadLetter(ctx context.Context, rawURL string, pctx Context, cause error) {
	now := time.Now().UTC()
	errorType := resilience.ClassifyError(cause)
	var agErr *fetch.AgeGateError
	if errors.As(cause, &agErr) {
		errorType = "permanent"
	}

	entry := &resilience.DLQEntry{
		URL:          rawURL,
		Domain:       fetch.RegistrableDomain(rawURL),
		Error:        cause.Error(),
		ErrorType:    errorType,
		RetryCount:   pctx.PriorRetries,
		MaxRetries:   3,
		NextRetryAt:  now.Add(time.Duration(pctx.PriorRetries+1) * time.Hour),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := p.store.AddDLQ(ctx, entry); err != nil {
		zap.L().Warn("pipeline: dlq write failed", zap.String("url", rawURL), zap.Error(err))
	}
}
