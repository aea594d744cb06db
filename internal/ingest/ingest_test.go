package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/ats"
	"github.com/vietddude/queuerunner/internal/infra/storage/memory"
)

// hookRepo wraps the memory repo and lets a test intercept Add and ListReferences.
type hookRepo struct {
	*memory.QueueRepo
	add  func(c domain.CandidateItem) error
	list func(page int) error

	mu    sync.Mutex
	pages []int
}

func newHookRepo() *hookRepo {
	return &hookRepo{QueueRepo: memory.NewQueueRepo(memory.NewMemoryStorage())}
}

func (r *hookRepo) Add(ctx context.Context, c domain.CandidateItem) (*domain.QueueItem, error) {
	if r.add != nil {
		if err := r.add(c); err != nil {
			return nil, err
		}
	}
	return r.QueueRepo.Add(ctx, c)
}

func (r *hookRepo) ListReferences(ctx context.Context, page, pageSize int) ([]string, error) {
	r.mu.Lock()
	r.pages = append(r.pages, page)
	r.mu.Unlock()
	if r.list != nil {
		if err := r.list(page); err != nil {
			return nil, err
		}
	}
	return r.QueueRepo.ListReferences(ctx, page, pageSize)
}

func candidates(refs ...string) []domain.CandidateItem {
	out := make([]domain.CandidateItem, 0, len(refs))
	for _, ref := range refs {
		out = append(out, domain.CandidateItem{Reference: ref, Payload: map[string]any{"ref": ref}})
	}
	return out
}

func noWait(ctx context.Context, d time.Duration) error { return nil }

func TestDeduplicator_ExistingReferencesPaginates(t *testing.T) {
	repo := newHookRepo()
	ctx := context.Background()
	for _, c := range candidates("A", "B", "C", "", "D") {
		_, err := repo.QueueRepo.Add(ctx, c)
		require.NoError(t, err)
	}

	d := NewDeduplicator("q", repo, 2)
	set, err := d.ExistingReferences(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, set.Size())
	assert.True(t, set.Contains("D"))
	assert.False(t, set.Contains(""))
	// 5 items at page size 2 -> pages 1..3 have data, page 4 is empty
	assert.Equal(t, []int{1, 2, 3, 4}, repo.pages)
}

func TestDeduplicator_ListErrorSurfaces(t *testing.T) {
	repo := newHookRepo()
	boom := errors.New("connection refused")
	repo.list = func(page int) error { return boom }

	d := NewDeduplicator("q", repo, 0)
	_, err := d.ExistingReferences(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, repo.pages)
}

func TestDeduplicator_Filter(t *testing.T) {
	d := NewDeduplicator("q", newHookRepo(), 0)
	existing := NewReferenceSet()
	existing.AddBatch([]string{"A", "C"})

	kept := d.Filter(candidates("A", "B", "", "C", "D"), existing)

	refs := make([]string, 0, len(kept))
	for _, c := range kept {
		refs = append(refs, c.Reference)
	}
	assert.Equal(t, []string{"B", "", "D"}, refs)
}

func TestSubmitter_EmptyInput(t *testing.T) {
	repo := newHookRepo()
	called := false
	repo.add = func(domain.CandidateItem) error { called = true; return nil }

	summary := NewSubmitter("q", repo, SubmitterConfig{}).Submit(context.Background(), nil)
	assert.Equal(t, domain.SubmitSummary{}, summary)
	assert.False(t, called)
}

func TestSubmitter_ConcurrencyBound(t *testing.T) {
	repo := newHookRepo()
	var inFlight, peak atomic.Int32
	repo.add = func(domain.CandidateItem) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	refs := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		refs = append(refs, fmt.Sprintf("ref-%d", i))
	}

	summary := NewSubmitter("q", repo, SubmitterConfig{MaxConcurrency: 4}).
		WithWait(noWait).
		Submit(context.Background(), candidates(refs...))

	assert.Equal(t, domain.SubmitSummary{Succeeded: 40, Total: 40}, summary)
	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestSubmitter_RetryExhaustion(t *testing.T) {
	repo := newHookRepo()
	var attempts atomic.Int32
	repo.add = func(domain.CandidateItem) error {
		attempts.Add(1)
		return errors.New("503 service unavailable")
	}

	var mu sync.Mutex
	var delays []time.Duration
	wait := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	summary := NewSubmitter("q", repo, SubmitterConfig{MaxRetries: 3, RetryBaseDelay: time.Second}).
		WithWait(wait).
		Submit(context.Background(), candidates("X"))

	assert.Equal(t, domain.SubmitSummary{Failed: 1, Total: 1}, summary)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestSubmitter_RetriesRemoteTimeouts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := ats.NewClient(ats.Config{
		URL:     srv.URL,
		Token:   "token",
		QueueID: "invoices",
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	summary := NewSubmitter("invoices", client, SubmitterConfig{MaxRetries: 3}).
		WithWait(noWait).
		Submit(context.Background(), candidates("X"))

	assert.Equal(t, domain.SubmitSummary{Failed: 1, Total: 1}, summary)
	assert.Equal(t, int32(3), hits.Load())
}

func TestSubmitter_FailureIsolated(t *testing.T) {
	repo := newHookRepo()
	var mu sync.Mutex
	seen := map[string]int{}
	repo.add = func(c domain.CandidateItem) error {
		mu.Lock()
		defer mu.Unlock()
		seen[c.Reference]++
		if c.Reference == "bad" {
			return errors.New("rejected")
		}
		// second item recovers after one failure
		if c.Reference == "flaky" && seen[c.Reference] == 1 {
			return errors.New("timeout")
		}
		return nil
	}

	summary := NewSubmitter("q", repo, SubmitterConfig{MaxConcurrency: 2, MaxRetries: 3}).
		WithWait(noWait).
		Submit(context.Background(), candidates("good", "bad", "flaky", "also-good"))

	assert.Equal(t, domain.SubmitSummary{Succeeded: 3, Failed: 1, Total: 4}, summary)
	assert.Equal(t, 3, seen["bad"])
	assert.Equal(t, 2, seen["flaky"])

	refs, err := repo.QueueRepo.ListReferences(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"good", "flaky", "also-good"}, refs)
}

func TestSubmitter_CancelledWaitCountsAsFailed(t *testing.T) {
	repo := newHookRepo()
	repo.add = func(domain.CandidateItem) error { return errors.New("down") }

	ctx, cancel := context.WithCancel(context.Background())
	wait := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	summary := NewSubmitter("q", repo, SubmitterConfig{MaxRetries: 5}).
		WithWait(wait).
		Submit(ctx, candidates("X"))
	assert.Equal(t, domain.SubmitSummary{Failed: 1, Total: 1}, summary)
}

func TestPipeline_SkipsQueuedReferences(t *testing.T) {
	repo := newHookRepo()
	ctx := context.Background()
	_, err := repo.QueueRepo.Add(ctx, domain.CandidateItem{Reference: "A"})
	require.NoError(t, err)

	var mu sync.Mutex
	var added []string
	repo.add = func(c domain.CandidateItem) error {
		mu.Lock()
		added = append(added, c.Reference)
		mu.Unlock()
		return nil
	}

	p := NewPipeline(
		StaticSource(candidates("A", "B")),
		NewDeduplicator("q", repo, 0),
		NewSubmitter("q", repo, SubmitterConfig{}).WithWait(noWait),
	)
	summary, err := p.Populate(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.SubmitSummary{Succeeded: 1, Total: 1}, summary)
	assert.Equal(t, []string{"B"}, added)
}

func TestPipeline_SecondRunAddsNothing(t *testing.T) {
	repo := newHookRepo()
	ctx := context.Background()
	p := NewPipeline(
		StaticSource(candidates("A", "B", "C")),
		NewDeduplicator("q", repo, 0),
		NewSubmitter("q", repo, SubmitterConfig{}).WithWait(noWait),
	)

	first, err := p.Populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Succeeded)

	second, err := p.Populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmitSummary{}, second)

	counts, err := repo.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.ItemStatePending])
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "items.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[
		{"reference": "A", "data": {"amount": 10}},
		{"reference": "", "data": {"note": "no ref"}}
	]`), 0o644))

	items, err := NewFileSource(jsonPath).Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Reference)
	assert.Equal(t, float64(10), items[0].Payload["amount"])
	assert.False(t, items[1].Eligible())

	yamlPath := filepath.Join(dir, "items.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
- reference: B
  data:
    customer:
      name: Ada
    tags: [x, y]
`), 0o644))

	items, err = NewFileSource(yamlPath).Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].Reference)
	customer, ok := items[0].Payload["customer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", customer["name"])

	_, err = NewFileSource(filepath.Join(dir, "missing.json")).Candidates(context.Background())
	assert.Error(t, err)
}
