// Package merge applies product candidates to records: empty fields fill,
// agreeing fields verify, disagreeing fields log conflicts. The existing
// value is never overwritten.
package merge

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/model"
)

// numericTolerance is the maximum absolute difference treated as equality
// when comparing numeric fields from different sources.
const numericTolerance = 0.05

// Outcome summarizes what a single merge changed.
type Outcome struct {
	Filled    []string
	Verified  []string
	Conflicts []model.ConflictLog
}

// Engine merges candidates into records. It owns a lock per fingerprint
// so callers can serialize the whole read-merge-write cycle for one
// product; different fingerprints proceed in parallel.
type Engine struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	nowFunc func() time.Time
}

// NewEngine creates a merge engine.
func NewEngine() *Engine {
	return &Engine{locks: make(map[string]*sync.Mutex), nowFunc: time.Now}
}

func (e *Engine) lockFor(fingerprint string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[fingerprint]
	if !ok {
		l = &sync.Mutex{}
		e.locks[fingerprint] = l
	}
	return l
}

// Exclusive runs fn while holding the fingerprint's lock. Concurrent
// workers for the same product must wrap their load-merge-persist cycle
// in it: a merge into a record snapshot loaded outside the critical
// section would overwrite whatever the previous holder persisted.
func (e *Engine) Exclusive(fingerprint string, fn func()) {
	lock := e.lockFor(fingerprint)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// Merge applies every candidate field to the record. Re-merging a source
// URL already in the record fills gaps but never inflates sourceCount or
// verifiedFields. The record is mutated in memory only; persistence is the
// caller's job, and callers racing on one fingerprint serialize the whole
// cycle through Exclusive.
func (e *Engine) Merge(rec *model.ProductRecord, c model.ProductCandidate) Outcome {
	m := &merger{
		rec:       rec,
		sourceURL: c.SourceURL,
		now:       e.nowFunc().UTC(),
		// Verification needs two independent sources: a URL already merged
		// into the record cannot confirm its own values.
		canVerify: !rec.HasSource(c.SourceURL),
	}

	m.str(model.FieldName, &rec.Name, c.Name)
	m.str(model.FieldBrand, &rec.Brand, c.Brand)
	m.str(model.FieldGTIN, &rec.GTIN, c.GTIN)
	m.str(model.FieldProductType, &rec.ProductType, c.ProductType)
	m.floatPtr(model.FieldABV, &rec.ABV, c.ABV)
	m.str(model.FieldDescription, &rec.Description, c.Description)
	m.str(model.FieldCountry, &rec.Country, c.Country)
	m.str(model.FieldRegion, &rec.Region, c.Region)
	m.intPtr(model.FieldVintage, &rec.Vintage, c.Vintage)

	m.str(model.FieldNoseText, &rec.Tasting.NoseText, c.Tasting.NoseText)
	m.tags(model.FieldAromaTags, &rec.Tasting.AromaTags, c.Tasting.AromaTags)
	m.str(model.FieldPalateText, &rec.Tasting.PalateText, c.Tasting.PalateText)
	m.str(model.FieldInitialTaste, &rec.Tasting.InitialTaste, c.Tasting.InitialTaste)
	m.str(model.FieldMidPalate, &rec.Tasting.MidPalate, c.Tasting.MidPalate)
	m.str(model.FieldMouthfeel, &rec.Tasting.Mouthfeel, c.Tasting.Mouthfeel)
	m.tags(model.FieldPalateTags, &rec.Tasting.PalateTags, c.Tasting.PalateTags)
	m.str(model.FieldFinishText, &rec.Tasting.FinishText, c.Tasting.FinishText)
	m.tags(model.FieldFinishTags, &rec.Tasting.FinishTags, c.Tasting.FinishTags)
	m.floatPtr(model.FieldFinishLength, &rec.Tasting.FinishLength, c.Tasting.FinishLength)

	m.price(&rec.BestPrice, c.BestPrice)
	m.tags(model.FieldImages, &rec.Images, c.Images)
	m.ratings(&rec.Ratings, c.Ratings)
	m.awards(&rec.Awards, c.Awards)

	rec.AddSource(c.SourceURL)
	rec.Conflicts = append(rec.Conflicts, m.out.Conflicts...)
	rec.UpdatedAt = m.now

	if len(m.out.Conflicts) > 0 {
		zap.L().Warn("merge: conflicts detected",
			zap.String("fingerprint", rec.Fingerprint),
			zap.Int("count", len(m.out.Conflicts)),
			zap.String("source_url", c.SourceURL),
		)
	}
	return m.out
}

// merger accumulates the outcome of one candidate application.
type merger struct {
	rec       *model.ProductRecord
	sourceURL string
	now       time.Time
	canVerify bool
	out       Outcome
}

func (m *merger) fill(field string) {
	m.out.Filled = append(m.out.Filled, field)
}

func (m *merger) verify(field string) {
	if !m.canVerify {
		return
	}
	if !m.rec.IsVerified(field) {
		m.out.Verified = append(m.out.Verified, field)
	}
	m.rec.MarkVerified(field)
}

func (m *merger) conflict(field, existing, incoming string) {
	m.out.Conflicts = append(m.out.Conflicts, model.ConflictLog{
		ID:            uuid.NewString(),
		Fingerprint:   m.rec.Fingerprint,
		Field:         field,
		ExistingValue: existing,
		IncomingValue: incoming,
		SourceURL:     m.sourceURL,
		ObservedAt:    m.now,
	})
}

func (m *merger) str(field string, existing *string, incoming string) {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return
	}
	if *existing == "" {
		*existing = incoming
		m.fill(field)
		return
	}
	if strings.EqualFold(strings.TrimSpace(*existing), incoming) {
		m.verify(field)
		return
	}
	m.conflict(field, *existing, incoming)
}

func (m *merger) floatPtr(field string, existing **float64, incoming *float64) {
	if incoming == nil {
		return
	}
	if *existing == nil {
		v := *incoming
		*existing = &v
		m.fill(field)
		return
	}
	if math.Abs(**existing-*incoming) <= numericTolerance {
		m.verify(field)
		return
	}
	m.conflict(field, formatFloat(**existing), formatFloat(*incoming))
}

func (m *merger) intPtr(field string, existing **int, incoming *int) {
	if incoming == nil {
		return
	}
	if *existing == nil {
		v := *incoming
		*existing = &v
		m.fill(field)
		return
	}
	if **existing == *incoming {
		m.verify(field)
		return
	}
	m.conflict(field, strconv.Itoa(**existing), strconv.Itoa(*incoming))
}

func (m *merger) tags(field string, existing *[]string, incoming []string) {
	if len(incoming) == 0 {
		return
	}
	if len(*existing) == 0 {
		*existing = incoming
		m.fill(field)
		return
	}
	if equalSets(*existing, incoming) {
		m.verify(field)
		return
	}
	m.conflict(field, joinSet(*existing), joinSet(incoming))
}

func (m *merger) price(existing **model.Price, incoming *model.Price) {
	if incoming == nil {
		return
	}
	if *existing == nil {
		*existing = incoming
		m.fill(model.FieldBestPrice)
		return
	}
	p := *existing
	sameCurrency := p.Currency == "" || incoming.Currency == "" ||
		strings.EqualFold(p.Currency, incoming.Currency)
	if sameCurrency && math.Abs(p.Amount-incoming.Amount) <= numericTolerance {
		m.verify(model.FieldBestPrice)
		return
	}
	m.conflict(model.FieldBestPrice,
		fmt.Sprintf("%s %s", formatFloat(p.Amount), p.Currency),
		fmt.Sprintf("%s %s", formatFloat(incoming.Amount), incoming.Currency))
}

// ratings accumulate: entries from new sources are appended, keyed by
// rating source. An existing source's score is left untouched.
func (m *merger) ratings(existing *[]model.Rating, incoming []model.Rating) {
	if len(incoming) == 0 {
		return
	}
	if len(*existing) == 0 {
		*existing = incoming
		m.fill(model.FieldRatings)
		return
	}
	known := make(map[string]bool)
	for _, r := range *existing {
		known[strings.ToLower(r.Source)] = true
	}
	added := false
	for _, r := range incoming {
		if known[strings.ToLower(r.Source)] {
			continue
		}
		*existing = append(*existing, r)
		added = true
	}
	if added {
		m.fill(model.FieldRatings)
	}
}

// awards accumulate like ratings, keyed by competition and year.
func (m *merger) awards(existing *[]model.Award, incoming []model.Award) {
	if len(incoming) == 0 {
		return
	}
	if len(*existing) == 0 {
		*existing = incoming
		m.fill(model.FieldAwards)
		return
	}
	known := make(map[string]bool)
	for _, a := range *existing {
		known[awardKey(a)] = true
	}
	added := false
	for _, a := range incoming {
		if known[awardKey(a)] {
			continue
		}
		*existing = append(*existing, a)
		added = true
	}
	if added {
		m.fill(model.FieldAwards)
	}
}

func awardKey(a model.Award) string {
	return strings.ToLower(a.Competition) + "|" + strconv.Itoa(a.Year)
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	for _, s := range b {
		if !set[strings.ToLower(strings.TrimSpace(s))] {
			return false
		}
	}
	return true
}

func joinSet(s []string) string {
	cp := make([]string, len(s))
	copy(cp, s)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
