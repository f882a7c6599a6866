// Package scorer computes the weighted completeness score and derives the
// record lifecycle status. The score is recomputed fresh from current
// fields on every call; monotonicity follows from fields only ever being
// filled, never cleared.
package scorer

import (
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/model"
)

// Status thresholds.
const (
	partialFloor  = 30
	completeFloor = 60
	verifiedFloor = 80

	verifiedMinSources = 2
)

// Score computes the 0-100 completeness score.
//
// Identification 15, basic info 15, palate 20, nose 10, finish 10,
// enrichment 20, multi-source bonus 10. Palate carries the largest tasting
// weight: it gates the high statuses.
func Score(r *model.ProductRecord) int {
	s := 0

	// Identification.
	if r.Name != "" {
		s += 10
	}
	if r.Brand != "" {
		s += 5
	}

	// Basic info.
	if r.ProductType != "" {
		s += 5
	}
	if r.ABV != nil {
		s += 5
	}
	if r.Description != "" {
		s += 5
	}

	// Palate.
	t := r.Tasting
	if len(t.PalateTags) >= 2 {
		s += 10
	}
	if t.PalateText != "" || t.InitialTaste != "" {
		s += 5
	}
	if t.MidPalate != "" {
		s += 3
	}
	if t.Mouthfeel != "" {
		s += 2
	}

	// Nose.
	if t.NoseText != "" {
		s += 5
	}
	if len(t.AromaTags) >= 2 {
		s += 5
	}

	// Finish.
	if t.FinishText != "" {
		s += 5
	}
	if len(t.FinishTags) >= 2 {
		s += 3
	}
	if t.FinishLength != nil {
		s += 2
	}

	// Enrichment.
	if r.BestPrice != nil {
		s += 5
	}
	if len(r.Images) > 0 {
		s += 5
	}
	if len(r.Ratings) > 0 {
		s += 5
	}
	if len(r.Awards) > 0 {
		s += 5
	}

	// Multi-source bonus.
	if r.SourceCount >= 2 {
		s += 5
	}
	if r.SourceCount >= 3 {
		s += 5
	}

	return s
}

// StatusFor derives the lifecycle status from a score. A high score without
// palate data never reaches complete, whatever else is present.
func StatusFor(score int, hasPalate bool, sourceCount int) model.Status {
	switch {
	case score >= verifiedFloor && hasPalate && sourceCount >= verifiedMinSources:
		return model.StatusVerified
	case score >= completeFloor && hasPalate:
		return model.StatusComplete
	case score >= partialFloor:
		// Includes high scores lacking palate data.
		return model.StatusPartial
	default:
		return model.StatusIncomplete
	}
}

// Apply recomputes the record's score and status in place. Terminal
// statuses keep their state; the score still refreshes for reporting.
func Apply(r *model.ProductRecord) model.Status {
	r.CompletenessScore = Score(r)
	if r.Status.IsTerminal() {
		return r.Status
	}

	prev := r.Status
	r.Status = StatusFor(r.CompletenessScore, r.Tasting.HasPalate(), r.SourceCount)
	if r.Status != prev {
		zap.L().Info("scorer: status transition",
			zap.String("fingerprint", r.Fingerprint),
			zap.String("from", string(prev)),
			zap.String("to", string(r.Status)),
			zap.Int("score", r.CompletenessScore),
		)
	}
	return r.Status
}
