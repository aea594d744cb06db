package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
)

const (
	defaultClaimTTL = 30 * time.Minute
	claimScanSize   = 100
)

// QueueRepo implements storage.QueueRepository on Redis.
//
// Every item body is stored as JSON under its own key. Two sorted sets scored
// by an enqueue sequence keep the queue order: one over all items and one
// over pending items. Claims are SETNX keys with a TTL so a crashed consumer
// never orphans an item for longer than the TTL.
type QueueRepo struct {
	rdb      *redis.Client
	queue    string
	claimTTL time.Duration
}

var _ storage.QueueRepository = (*QueueRepo)(nil)

// NewQueueRepo creates a new Redis-backed work queue.
func NewQueueRepo(client *Client, queue string, claimTTL time.Duration) *QueueRepo {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &QueueRepo{
		rdb:      client.rdb,
		queue:    queue,
		claimTTL: claimTTL,
	}
}

// ListReferences returns one page of references in enqueue order.
func (r *QueueRepo) ListReferences(ctx context.Context, page, pageSize int) ([]string, error) {
	if page < 1 || pageSize < 1 {
		return nil, nil
	}
	start := int64((page - 1) * pageSize)
	stop := start + int64(pageSize) - 1

	ids, err := r.rdb.ZRange(ctx, orderKey(r.queue), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = itemKey(r.queue, id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	// one entry per indexed id; a lost or unreadable body lists as "" so that
	// a page is only empty once the order index is exhausted
	refs := make([]string, len(ids))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			continue
		}
		refs[i] = item.Reference
	}
	return refs, nil
}

// Add stores the item and appends it to both order indexes.
func (r *QueueRepo) Add(ctx context.Context, c domain.CandidateItem) (*domain.QueueItem, error) {
	seq, err := r.rdb.Incr(ctx, seqKey(r.queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("incr failed: %w", err)
	}

	now := time.Now()
	item := &domain.QueueItem{
		ID:        uuid.New().String(),
		Reference: c.Reference,
		Payload:   c.Payload,
		State:     domain.ItemStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}

	score := float64(seq)
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, itemKey(r.queue, item.ID), data, 0)
	pipe.ZAdd(ctx, orderKey(r.queue), redis.Z{Score: score, Member: item.ID})
	pipe.ZAdd(ctx, pendingKey(r.queue), redis.Z{Score: score, Member: item.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}
	return item, nil
}

// ClaimNext walks the pending index from the front and claims the first
// item whose claim key is free.
func (r *QueueRepo) ClaimNext(ctx context.Context) (*domain.QueueItem, error) {
	for start := int64(0); ; start += claimScanSize {
		ids, err := r.rdb.ZRange(ctx, pendingKey(r.queue), start, start+claimScanSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("zrange failed: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}

		for _, id := range ids {
			ok, err := r.rdb.SetNX(ctx, claimKey(r.queue, id), "claimed", r.claimTTL).Result()
			if err != nil {
				return nil, fmt.Errorf("setnx failed: %w", err)
			}
			if !ok {
				continue
			}

			item, err := r.get(ctx, id)
			if errors.Is(err, storage.ErrItemNotFound) {
				// Body gone but id still indexed, drop it
				r.rdb.ZRem(ctx, pendingKey(r.queue), id)
				r.rdb.Del(ctx, claimKey(r.queue, id))
				continue
			}
			if err != nil {
				r.rdb.Del(ctx, claimKey(r.queue, id))
				return nil, err
			}
			return item, nil
		}
	}
}

// Release deletes the claim key.
func (r *QueueRepo) Release(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, claimKey(r.queue, id)).Err()
}

func (r *QueueRepo) Complete(ctx context.Context, id string, note string) error {
	return r.transition(ctx, id, domain.ItemStateCompleted, note, nil)
}

func (r *QueueRepo) Fail(ctx context.Context, id string, rec domain.ErrorRecord) error {
	return r.transition(ctx, id, domain.ItemStateFailed, "", &rec)
}

func (r *QueueRepo) MarkPendingUser(ctx context.Context, id string, rec domain.ErrorRecord) error {
	return r.transition(ctx, id, domain.ItemStatePendingUser, "", &rec)
}

// CountByState loads every item body and tallies the states.
func (r *QueueRepo) CountByState(ctx context.Context) (map[domain.ItemState]int, error) {
	ids, err := r.rdb.ZRange(ctx, orderKey(r.queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	items, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.ItemState]int)
	for _, item := range items {
		counts[item.State]++
	}
	return counts, nil
}

func (r *QueueRepo) transition(
	ctx context.Context,
	id string,
	state domain.ItemState,
	note string,
	rec *domain.ErrorRecord,
) error {
	item, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	if item.State.IsTerminal() {
		return storage.ErrAlreadyTerminal
	}

	item.State = state
	item.Note = note
	item.Error = rec
	item.UpdatedAt = time.Now()

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, itemKey(r.queue, id), data, 0)
	pipe.ZRem(ctx, pendingKey(r.queue), id)
	pipe.Del(ctx, claimKey(r.queue, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update item %s: %w", id, err)
	}
	return nil
}

func (r *QueueRepo) get(ctx context.Context, id string) (*domain.QueueItem, error) {
	data, err := r.rdb.Get(ctx, itemKey(r.queue, id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	var item domain.QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

// load fetches item bodies for ids, skipping ids whose body has gone.
func (r *QueueRepo) load(ctx context.Context, ids []string) ([]*domain.QueueItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = itemKey(r.queue, id)
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	items := make([]*domain.QueueItem, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}
