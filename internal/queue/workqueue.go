package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
)

// WorkQueue is the consumer-side view of a queue repository.
type WorkQueue struct {
	name string
	repo storage.QueueRepository
	log  *slog.Logger
}

// New creates a work queue named name over repo.
func New(name string, repo storage.QueueRepository) *WorkQueue {
	return &WorkQueue{
		name: name,
		repo: repo,
		log:  slog.Default().With("component", "queue", "queue", name),
	}
}

// Name returns the queue name used in logs, metrics and notifications.
func (q *WorkQueue) Name() string {
	return q.name
}

// Repository returns the underlying store.
func (q *WorkQueue) Repository() storage.QueueRepository {
	return q.repo
}

// Next claims the next pending item. It returns nil when the queue is
// exhausted. Callers must defer Item.Release on every non-nil result.
func (q *WorkQueue) Next(ctx context.Context) (*Item, error) {
	qi, err := q.repo.ClaimNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim next item: %w", err)
	}
	if qi == nil {
		return nil, nil
	}
	return &Item{QueueItem: *qi, queue: q}, nil
}

// Item is a claimed queue item. It allows exactly one terminal transition.
type Item struct {
	domain.QueueItem
	queue    *WorkQueue
	done     bool
	released bool
}

// Complete marks the item completed with note.
func (it *Item) Complete(ctx context.Context, note string) error {
	return it.finish(ctx, domain.ItemStateCompleted, func() error {
		return it.queue.repo.Complete(ctx, it.ID, note)
	})
}

// Fail marks the item failed with the error record.
func (it *Item) Fail(ctx context.Context, rec domain.ErrorRecord) error {
	return it.finish(ctx, domain.ItemStateFailed, func() error {
		return it.queue.repo.Fail(ctx, it.ID, rec)
	})
}

// MarkPendingUser parks the item for user action.
func (it *Item) MarkPendingUser(ctx context.Context, rec domain.ErrorRecord) error {
	return it.finish(ctx, domain.ItemStatePendingUser, func() error {
		return it.queue.repo.MarkPendingUser(ctx, it.ID, rec)
	})
}

// Release drops the claim. Safe to call more than once.
func (it *Item) Release(ctx context.Context) {
	if it.released {
		return
	}
	it.released = true
	if err := it.queue.repo.Release(ctx, it.ID); err != nil {
		it.queue.log.Warn("Failed to release item", "id", it.ID, "reference", it.Reference, "error", err)
	}
}

// Done reports whether a terminal transition has been recorded.
func (it *Item) Done() bool {
	return it.done
}

func (it *Item) finish(ctx context.Context, state domain.ItemState, apply func() error) error {
	if it.done {
		return storage.ErrAlreadyTerminal
	}
	if err := apply(); err != nil {
		return fmt.Errorf("mark item %s %s: %w", it.ID, state, err)
	}
	it.done = true
	it.State = state
	return nil
}
