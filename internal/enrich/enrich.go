// Package enrich closes the gaps on existing records: when a record is
// missing critical fields or corroborating sources, it searches the web for
// additional pages and feeds them back through the processing pipeline.
package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/fetch"
	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/pkg/search"
)

// DefaultTargetSources is how many distinct sources a record should reach
// before enrichment stops chasing more.
const DefaultTargetSources = 3

// DefaultDenylist lists registrable domains that never yield usable product
// pages: social platforms, encyclopedias, and marketplaces with unreliable
// listings.
var DefaultDenylist = []string{
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"youtube.com",
	"pinterest.com",
	"reddit.com",
	"tiktok.com",
	"wikipedia.org",
	"amazon.com",
	"ebay.com",
}

// Config tunes the enrichment loop.
type Config struct {
	TargetSources      int      `yaml:"target_sources" mapstructure:"target_sources"`
	Denylist           []string `yaml:"denylist" mapstructure:"denylist"`
	MaxResultsPerQuery int      `yaml:"max_results_per_query" mapstructure:"max_results_per_query"`
}

// Processor runs one URL through the full processing chain. Satisfied by
// *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, rawURL string, pctx pipeline.Context) (*pipeline.Result, error)
}

// Result summarizes one enrichment pass over a record.
type Result struct {
	Fingerprint   string   `json:"fingerprint"`
	Attempted     []string `json:"attempted,omitempty"`
	Merged        []string `json:"merged,omitempty"`
	SourcesBefore int      `json:"sources_before"`
	SourcesAfter  int      `json:"sources_after"`
	ScoreBefore   int      `json:"score_before"`
	ScoreAfter    int      `json:"score_after"`
	Status        model.Status
}

// Enricher finds and merges additional sources for under-filled records.
type Enricher struct {
	search   search.Client
	proc     Processor
	cfg      Config
	denylist map[string]bool
}

// New creates an enricher. Zero-value config fields fall back to defaults.
func New(sc search.Client, proc Processor, cfg Config) *Enricher {
	if cfg.TargetSources <= 0 {
		cfg.TargetSources = DefaultTargetSources
	}
	if len(cfg.Denylist) == 0 {
		cfg.Denylist = DefaultDenylist
	}
	if cfg.MaxResultsPerQuery <= 0 {
		cfg.MaxResultsPerQuery = 5
	}
	deny := make(map[string]bool, len(cfg.Denylist))
	for _, d := range cfg.Denylist {
		deny[strings.ToLower(d)] = true
	}
	return &Enricher{search: sc, proc: proc, cfg: cfg, denylist: deny}
}

// criticalFieldsMissing names the fields whose absence justifies an
// enrichment pass: tasting data, abv, description, and price.
func criticalFieldsMissing(r *model.ProductRecord) []string {
	var missing []string
	if !r.Tasting.HasPalate() {
		missing = append(missing, model.FieldPalateText)
	}
	if r.Tasting.NoseText == "" && len(r.Tasting.AromaTags) == 0 {
		missing = append(missing, model.FieldNoseText)
	}
	if r.Tasting.FinishText == "" && len(r.Tasting.FinishTags) == 0 {
		missing = append(missing, model.FieldFinishText)
	}
	if r.ABV == nil {
		missing = append(missing, model.FieldABV)
	}
	if r.Description == "" {
		missing = append(missing, model.FieldDescription)
	}
	if r.BestPrice == nil {
		missing = append(missing, model.FieldBestPrice)
	}
	return missing
}

// queries builds the search queries for the record's gaps. Tasting gaps get
// a review-oriented query, price gaps a retail-oriented one.
func (e *Enricher) queries(r *model.ProductRecord, missing []string) []string {
	wantTasting := false
	wantPrice := false
	for _, f := range missing {
		switch f {
		case model.FieldPalateText, model.FieldNoseText, model.FieldFinishText, model.FieldABV, model.FieldDescription:
			wantTasting = true
		case model.FieldBestPrice:
			wantPrice = true
		}
	}

	var qs []string
	if wantTasting {
		qs = append(qs, r.Name+" tasting notes review")
	}
	if wantPrice {
		qs = append(qs, r.Name+" buy price")
	}
	if len(qs) == 0 {
		// Nothing critical missing; we are here only to corroborate.
		qs = append(qs, r.Name+" "+r.ProductType)
	}
	return qs
}

// Enrich runs one pass for the record: search, filter, process candidate
// URLs until the source target is met or the attempt budget runs out.
// Per-URL failures are logged and skipped, never fatal to the pass.
func (e *Enricher) Enrich(ctx context.Context, rec *model.ProductRecord) (*Result, error) {
	if rec == nil {
		return nil, eris.New("enrich: nil record")
	}
	if rec.Status.IsTerminal() {
		return nil, eris.Errorf("enrich: record %s is %s", rec.Fingerprint, rec.Status)
	}

	logger := zap.L().With(
		zap.String("fingerprint", rec.Fingerprint),
		zap.String("name", rec.Name),
	)
	res := &Result{
		Fingerprint:   rec.Fingerprint,
		SourcesBefore: rec.SourceCount,
		SourcesAfter:  rec.SourceCount,
		ScoreBefore:   rec.CompletenessScore,
		ScoreAfter:    rec.CompletenessScore,
		Status:        rec.Status,
	}

	missing := criticalFieldsMissing(rec)
	budget := e.cfg.TargetSources - rec.SourceCount
	if budget <= 0 && len(missing) == 0 {
		logger.Debug("enrich: nothing to do")
		return res, nil
	}
	if budget <= 0 {
		// Source target met but critical fields remain; allow one more look.
		budget = 1
	}

	current := rec
	seenDomains := map[string]bool{}
	for _, q := range e.queries(rec, missing) {
		if budget <= 0 {
			break
		}
		hits, err := e.search.Search(ctx, q)
		if err != nil {
			// A failed query never aborts the pass; later queries may work.
			logger.Warn("enrich: search failed", zap.String("query", q), zap.Error(err))
			continue
		}
		if len(hits) > e.cfg.MaxResultsPerQuery {
			hits = hits[:e.cfg.MaxResultsPerQuery]
		}

		for _, hit := range hits {
			if budget <= 0 {
				break
			}
			if !e.usable(current, hit.URL, seenDomains) {
				continue
			}
			seenDomains[fetch.RegistrableDomain(hit.URL)] = true
			res.Attempted = append(res.Attempted, hit.URL)
			budget--

			pres, err := e.proc.Process(ctx, hit.URL, pipeline.Context{
				ProductTypeHint: current.ProductType,
				DiscoverySource: "enrichment",
			})
			if err != nil {
				logger.Warn("enrich: source failed", zap.String("url", hit.URL), zap.Error(err))
				continue
			}
			if pres.Record.Fingerprint != current.Fingerprint {
				// The page described a different product; its record was
				// still persisted, but it does not enrich this one.
				logger.Debug("enrich: result resolved to a different product",
					zap.String("url", hit.URL),
					zap.String("resolved_fingerprint", pres.Record.Fingerprint),
				)
				continue
			}
			current = pres.Record
			res.Merged = append(res.Merged, hit.URL)
			if current.SourceCount >= e.cfg.TargetSources && len(criticalFieldsMissing(current)) == 0 {
				break
			}
		}
	}

	res.SourcesAfter = current.SourceCount
	res.ScoreAfter = current.CompletenessScore
	res.Status = current.Status
	*rec = *current

	logger.Info("enrich: pass complete",
		zap.Int("attempted", len(res.Attempted)),
		zap.Int("merged", len(res.Merged)),
		zap.Int("sources", res.SourcesAfter),
		zap.Int("score", res.ScoreAfter),
	)
	return res, nil
}

// usable filters a search hit: parseable, not denylisted, not already a
// source, one attempt per domain per pass.
func (e *Enricher) usable(rec *model.ProductRecord, rawURL string, seenDomains map[string]bool) bool {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return false
	}
	domain := fetch.RegistrableDomain(rawURL)
	if domain == "" || e.denylist[domain] || seenDomains[domain] {
		return false
	}
	return !rec.HasSource(rawURL)
}
