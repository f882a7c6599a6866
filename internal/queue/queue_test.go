package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/internal/resilience"
	"github.com/dramcove/catalog-cli/internal/store"
)

type stubProcessor struct {
	mu       sync.Mutex
	calls    []string
	contexts []pipeline.Context
	failURLs map[string]bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *stubProcessor) Process(_ context.Context, rawURL string, pctx pipeline.Context) (*pipeline.Result, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxSeen.Load()
		if cur <= prev || s.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.calls = append(s.calls, rawURL)
	s.contexts = append(s.contexts, pctx)
	s.mu.Unlock()

	if s.failURLs[rawURL] {
		return nil, eris.New("fetch: all tiers exhausted")
	}
	isNew := rawURL == "https://shop.test/new"
	return &pipeline.Result{
		Record: &model.ProductRecord{Fingerprint: "fp"},
		Status: model.StatusPartial,
		IsNew:  isNew,
	}, nil
}

func TestRun_CountsOutcomes(t *testing.T) {
	proc := &stubProcessor{failURLs: map[string]bool{"https://bad.test/x": true}}
	jobs := []Job{
		{URL: "https://shop.test/new"},
		{URL: "https://shop.test/known"},
		{URL: "https://bad.test/x"},
	}

	sum, err := Run(context.Background(), jobs, 2, proc)
	require.NoError(t, err, "job failures never fail the batch")
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 1, sum.Merged)
	assert.Equal(t, 2, sum.ByStatus[model.StatusPartial])
}

func TestRun_BoundsConcurrency(t *testing.T) {
	proc := &stubProcessor{}
	jobs := make([]Job, 12)
	for i := range jobs {
		jobs[i] = Job{URL: "https://shop.test/p"}
	}

	_, err := Run(context.Background(), jobs, 3, proc)
	require.NoError(t, err)
	assert.LessOrEqual(t, proc.maxSeen.Load(), int32(3))
	assert.Len(t, proc.calls, 12)
}

func TestRun_DispatchesByPriority(t *testing.T) {
	proc := &stubProcessor{}
	jobs := []Job{
		{URL: "https://shop.test/background", Priority: PriorityLow},
		{URL: "https://shop.test/operator", Priority: PriorityHigh},
		{URL: "https://shop.test/normal", Priority: PriorityNormal},
	}

	// Single worker makes dispatch order observable.
	_, err := Run(context.Background(), jobs, 1, proc)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://shop.test/operator",
		"https://shop.test/normal",
		"https://shop.test/background",
	}, proc.calls)
}

func TestRun_EmptyBatch(t *testing.T) {
	sum, err := Run(context.Background(), nil, 0, &stubProcessor{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
}

// dlqStore implements just enough of store.Store for replay tests.
type dlqStore struct {
	store.Store
	entries []resilience.DLQEntry
	deleted []string
}

func (d *dlqStore) ListDLQ(_ context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	var out []resilience.DLQEntry
	for _, e := range d.entries {
		if filter.ErrorType == "" || e.ErrorType == filter.ErrorType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *dlqStore) DeleteDLQ(_ context.Context, id string) error {
	d.deleted = append(d.deleted, id)
	return nil
}

func TestReplayDLQ_RetriesEligibleEntriesOnly(t *testing.T) {
	now := time.Now().UTC()
	st := &dlqStore{entries: []resilience.DLQEntry{
		{ID: "due", URL: "https://shop.test/known", ErrorType: "transient",
			MaxRetries: 3, NextRetryAt: now.Add(-time.Minute)},
		{ID: "not-due", URL: "https://shop.test/later", ErrorType: "transient",
			MaxRetries: 3, NextRetryAt: now.Add(time.Hour)},
		{ID: "exhausted", URL: "https://shop.test/dead", ErrorType: "transient",
			MaxRetries: 3, RetryCount: 3, NextRetryAt: now.Add(-time.Minute)},
		{ID: "gated", URL: "https://shop.test/gated", ErrorType: "permanent",
			MaxRetries: 3, NextRetryAt: now.Add(-time.Minute)},
	}}
	proc := &stubProcessor{}

	sum, err := ReplayDLQ(context.Background(), st, proc, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, []string{"due"}, st.deleted, "entry is removed before the retry attempt")
	assert.Equal(t, []string{"https://shop.test/known"}, proc.calls)
}

func TestReplayDLQ_RetryBudgetRunsOut(t *testing.T) {
	now := time.Now().UTC()
	st := &dlqStore{entries: []resilience.DLQEntry{
		{ID: "second-replay", URL: "https://flaky.test/bottle", ErrorType: "transient",
			RetryCount: 1, MaxRetries: 3, NextRetryAt: now.Add(-time.Minute)},
	}}
	proc := &stubProcessor{failURLs: map[string]bool{"https://flaky.test/bottle": true}}

	sum, err := ReplayDLQ(context.Background(), st, proc, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, proc.contexts, 1)
	assert.Equal(t, 2, proc.contexts[0].PriorRetries,
		"replay attempt carries the accumulated count so a renewed failure is filed with it")
	assert.Equal(t, "dlq-replay", proc.contexts[0].DiscoverySource)

	// Once the count reaches MaxRetries the entry is never picked up again.
	st.entries = []resilience.DLQEntry{
		{ID: "exhausted", URL: "https://flaky.test/bottle", ErrorType: "transient",
			RetryCount: 3, MaxRetries: 3, NextRetryAt: now.Add(-time.Minute)},
	}
	sum, err = ReplayDLQ(context.Background(), st, proc, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.Len(t, proc.calls, 1, "no further attempts after the budget is spent")
}

func TestReplayDLQ_Empty(t *testing.T) {
	sum, err := ReplayDLQ(context.Background(), &dlqStore{}, &stubProcessor{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
}
