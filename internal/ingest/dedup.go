package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
	"github.com/vietddude/queuerunner/internal/metrics"
)

// DefaultPageSize is the listing page size used against the queue store.
const DefaultPageSize = 200

// ReferenceSet is a set of queue references.
type ReferenceSet struct {
	refs map[string]struct{}
	mu   sync.RWMutex
}

// NewReferenceSet creates an empty set.
func NewReferenceSet() *ReferenceSet {
	return &ReferenceSet{refs: make(map[string]struct{})}
}

// Contains checks if a reference is in the set.
func (s *ReferenceSet) Contains(ref string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.refs[ref]
	return ok
}

// AddBatch adds every non-empty reference.
func (s *ReferenceSet) AddBatch(refs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		s.refs[ref] = struct{}{}
	}
}

// Size returns the number of references.
func (s *ReferenceSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}

// Deduplicator drops candidates whose reference is already resident in the queue.
type Deduplicator struct {
	repo     storage.QueueRepository
	queue    string
	pageSize int
	log      *slog.Logger
}

// NewDeduplicator creates a deduplicator over repo.
func NewDeduplicator(queue string, repo storage.QueueRepository, pageSize int) *Deduplicator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Deduplicator{
		repo:     repo,
		queue:    queue,
		pageSize: pageSize,
		log:      slog.Default().With("component", "dedup", "queue", queue),
	}
}

// ExistingReferences pages through the queue until an empty page and
// collects every non-empty reference. Listing errors are returned as is.
func (d *Deduplicator) ExistingReferences(ctx context.Context) (*ReferenceSet, error) {
	set := NewReferenceSet()
	for page := 1; ; page++ {
		refs, err := d.repo.ListReferences(ctx, page, d.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list queue references page %d: %w", page, err)
		}
		if len(refs) == 0 {
			break
		}
		set.AddBatch(refs)
	}
	d.log.Debug("Loaded existing references", "count", set.Size())
	return set, nil
}

// Filter keeps candidates whose reference is empty or not in existing.
func (d *Deduplicator) Filter(candidates []domain.CandidateItem, existing *ReferenceSet) []domain.CandidateItem {
	kept := make([]domain.CandidateItem, 0, len(candidates))
	for _, c := range candidates {
		if c.Eligible() && existing.Contains(c.Reference) {
			d.log.Info("Reference already in queue, skipping", "reference", c.Reference)
			metrics.ItemsSkipped.WithLabelValues(d.queue).Inc()
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
