package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
)

// MemoryStorage is an in-process work queue. Items keep their enqueue order.
type MemoryStorage struct {
	items   map[string]*domain.QueueItem
	order   []string
	claimed map[string]struct{}
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items:   make(map[string]*domain.QueueItem),
		claimed: make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------
// Queue Repository
// -----------------------------------------------------------------------------

type QueueRepo struct {
	store *MemoryStorage
}

var _ storage.QueueRepository = (*QueueRepo)(nil)

func NewQueueRepo(store *MemoryStorage) *QueueRepo {
	return &QueueRepo{store: store}
}

func (r *QueueRepo) ListReferences(ctx context.Context, page, pageSize int) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if page < 1 || pageSize < 1 {
		return nil, nil
	}
	start := (page - 1) * pageSize
	if start >= len(r.store.order) {
		return nil, nil
	}
	end := min(start+pageSize, len(r.store.order))

	refs := make([]string, 0, end-start)
	for _, id := range r.store.order[start:end] {
		refs = append(refs, r.store.items[id].Reference)
	}
	return refs, nil
}

func (r *QueueRepo) Add(ctx context.Context, c domain.CandidateItem) (*domain.QueueItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now()
	item := &domain.QueueItem{
		ID:        uuid.New().String(),
		Reference: c.Reference,
		Payload:   maps.Clone(c.Payload),
		State:     domain.ItemStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.store.items[item.ID] = item
	r.store.order = append(r.store.order, item.ID)

	return snapshot(item), nil
}

func (r *QueueRepo) ClaimNext(ctx context.Context) (*domain.QueueItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, id := range r.store.order {
		item := r.store.items[id]
		if item.State != domain.ItemStatePending {
			continue
		}
		if _, ok := r.store.claimed[id]; ok {
			continue
		}
		r.store.claimed[id] = struct{}{}
		return snapshot(item), nil
	}
	return nil, nil
}

func (r *QueueRepo) Release(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.claimed, id)
	return nil
}

func (r *QueueRepo) Complete(ctx context.Context, id string, note string) error {
	return r.transition(id, domain.ItemStateCompleted, note, nil)
}

func (r *QueueRepo) Fail(ctx context.Context, id string, rec domain.ErrorRecord) error {
	return r.transition(id, domain.ItemStateFailed, "", &rec)
}

func (r *QueueRepo) MarkPendingUser(ctx context.Context, id string, rec domain.ErrorRecord) error {
	return r.transition(id, domain.ItemStatePendingUser, "", &rec)
}

func (r *QueueRepo) CountByState(ctx context.Context) (map[domain.ItemState]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.ItemState]int)
	for _, item := range r.store.items {
		counts[item.State]++
	}
	return counts, nil
}

// Get returns a copy of the item, or nil if it doesn't exist.
func (r *QueueRepo) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	item, ok := r.store.items[id]
	if !ok {
		return nil, nil
	}
	return snapshot(item), nil
}

// All returns copies of every item in enqueue order.
func (r *QueueRepo) All(ctx context.Context) ([]*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	res := make([]*domain.QueueItem, 0, len(r.store.order))
	for _, id := range r.store.order {
		res = append(res, snapshot(r.store.items[id]))
	}
	return res, nil
}

func (r *QueueRepo) transition(id string, state domain.ItemState, note string, rec *domain.ErrorRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	if item.State.IsTerminal() {
		return storage.ErrAlreadyTerminal
	}
	item.State = state
	item.Note = note
	item.Error = rec
	item.UpdatedAt = time.Now()
	return nil
}

// snapshot copies an item so that callers never share the stored payload map.
func snapshot(item *domain.QueueItem) *domain.QueueItem {
	c := *item
	c.Payload = maps.Clone(item.Payload)
	return &c
}
