// Package queue runs batches of processing jobs through the pipeline with
// bounded concurrency, and replays the dead letter queue.
package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/internal/resilience"
	"github.com/dramcove/catalog-cli/internal/store"
)

// DefaultConcurrency bounds in-flight jobs when the caller does not choose.
// Per-domain politeness is enforced deeper in the fetch layer, so this only
// caps total parallelism.
const DefaultConcurrency = 4

// Job priorities. Operator-submitted work outranks background enrichment.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Job is one URL to push through the pipeline.
type Job struct {
	URL      string           `json:"url"`
	Context  pipeline.Context `json:"context"`
	Priority int              `json:"priority,omitempty"`
}

// Processor runs one URL through the processing chain. Satisfied by
// *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, rawURL string, pctx pipeline.Context) (*pipeline.Result, error)
}

// Summary aggregates the outcome of a batch run.
type Summary struct {
	Processed int                  `json:"processed"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Created   int                  `json:"created"`
	Merged    int                  `json:"merged"`
	ByStatus  map[model.Status]int `json:"by_status"`
}

// Run processes the jobs with at most concurrency in flight. Individual
// job failures are counted, never abort the batch. Returns an error only
// for batch-level problems such as context cancellation.
func Run(ctx context.Context, jobs []Job, concurrency int, proc Processor) (*Summary, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	// Dispatch highest priority first; stable so same-priority jobs keep
	// their submission order.
	ordered := make([]Job, len(jobs))
	copy(ordered, jobs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed, created, merged atomic.Int64
	var mu sync.Mutex
	byStatus := map[model.Status]int{}

	for _, job := range ordered {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			log := zap.L().With(zap.String("url", job.URL))

			res, err := proc.Process(gctx, job.URL, job.Context)
			if err != nil {
				failed.Add(1)
				log.Error("queue: job failed", zap.Error(err))
				return nil // individual failures never abort the batch
			}

			succeeded.Add(1)
			if res.IsNew {
				created.Add(1)
			} else {
				merged.Add(1)
			}
			mu.Lock()
			byStatus[res.Status]++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "queue: batch")
	}

	summary := &Summary{
		Processed: len(jobs),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Created:   int(created.Load()),
		Merged:    int(merged.Load()),
		ByStatus:  byStatus,
	}
	zap.L().Info("queue: batch complete",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// ReplayDLQ resubmits dead-lettered URLs whose retry time has come. Each
// entry is removed before the attempt; a URL that fails again is
// dead-lettered afresh by the pipeline with the retry count carried
// forward, so entries never duplicate and the budget runs out after
// MaxRetries replays. Exhausted and permanent entries are left for manual
// handling.
func ReplayDLQ(ctx context.Context, st store.Store, proc Processor, concurrency int) (*Summary, error) {
	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	if err != nil {
		return nil, eris.Wrap(err, "queue: list dlq")
	}

	now := time.Now().UTC()
	var jobs []Job
	for _, e := range entries {
		if e.NextRetryAt.After(now) || !e.CanRetry() {
			continue
		}
		if err := st.DeleteDLQ(ctx, e.ID); err != nil {
			zap.L().Warn("queue: dlq delete failed", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		jobs = append(jobs, Job{URL: e.URL, Context: pipeline.Context{
			DiscoverySource: "dlq-replay",
			PriorRetries:    e.RetryCount + 1,
		}})
	}
	if len(jobs) == 0 {
		return &Summary{ByStatus: map[model.Status]int{}}, nil
	}

	zap.L().Info("queue: replaying dead letters", zap.Int("count", len(jobs)))
	return Run(ctx, jobs, concurrency, proc)
}
