package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
)

const defaultClaimTTL = 30 * time.Minute

// QueueRepo implements storage.QueueRepository on a work_items table.
// A claim is a lease (claimed_until) taken with FOR UPDATE SKIP LOCKED so
// concurrent consumers never receive the same item.
type QueueRepo struct {
	db       *DB
	queue    string
	claimTTL time.Duration
}

var _ storage.QueueRepository = (*QueueRepo)(nil)

func NewQueueRepo(db *DB, queue string, claimTTL time.Duration) *QueueRepo {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &QueueRepo{db: db, queue: queue, claimTTL: claimTTL}
}

type itemRow struct {
	ID        int64          `db:"id"`
	Reference string         `db:"reference"`
	Payload   []byte         `db:"payload"`
	State     string         `db:"state"`
	Note      string         `db:"note"`
	Error     sql.NullString `db:"error"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (row itemRow) toDomain() (*domain.QueueItem, error) {
	item := &domain.QueueItem{
		ID:        strconv.FormatInt(row.ID, 10),
		Reference: row.Reference,
		State:     domain.ItemState(row.State),
		Note:      row.Note,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of item %d: %w", row.ID, err)
		}
	}
	if row.Error.Valid {
		var rec domain.ErrorRecord
		if err := json.Unmarshal([]byte(row.Error.String), &rec); err != nil {
			return nil, fmt.Errorf("decode error of item %d: %w", row.ID, err)
		}
		item.Error = &rec
	}
	return item, nil
}

func (r *QueueRepo) ListReferences(ctx context.Context, page, pageSize int) ([]string, error) {
	if page < 1 || pageSize < 1 {
		return nil, nil
	}
	var refs []string
	query := `SELECT reference FROM work_items WHERE queue_name = $1 ORDER BY id LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &refs, query, r.queue, pageSize, (page-1)*pageSize); err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	return refs, nil
}

func (r *QueueRepo) Add(ctx context.Context, c domain.CandidateItem) (*domain.QueueItem, error) {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if c.Payload == nil {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO work_items (queue_name, reference, payload, state)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, reference, payload, state, note, error, created_at, updated_at
	`
	var row itemRow
	if err := r.db.GetContext(ctx, &row, query, r.queue, c.Reference, string(payload)); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return row.toDomain()
}

func (r *QueueRepo) ClaimNext(ctx context.Context) (*domain.QueueItem, error) {
	query := `
		UPDATE work_items SET claimed_until = NOW() + make_interval(secs => $2)
		WHERE id = (
			SELECT id FROM work_items
			WHERE queue_name = $1 AND state = 'pending'
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, reference, payload, state, note, error, created_at, updated_at
	`
	var row itemRow
	err := r.db.GetContext(ctx, &row, query, r.queue, r.claimTTL.Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}
	return row.toDomain()
}

func (r *QueueRepo) Release(ctx context.Context, id string) error {
	rowID, err := parseID(id)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "UPDATE work_items SET claimed_until = NULL WHERE id = $1", rowID)
	return err
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

func (r *QueueRepo) CountByState(ctx context.Context) (map[domain.ItemState]int, error) {
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	query := `SELECT state, count(*) AS count FROM work_items WHERE queue_name = $1 GROUP BY state`
	if err := r.db.SelectContext(ctx, &rows, query, r.queue); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	counts := make(map[domain.ItemState]int, len(rows))
	for _, row := range rows {
		counts[domain.ItemState(row.State)] = row.Count
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
	rowID, err := parseID(id)
	if err != nil {
		return err
	}

	var errJSON sql.NullString
	if rec != nil {
		errJSON = sql.NullString{String: rec.JSON(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE work_items
		SET state = $2, note = $3, error = $4, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'pending'
	`, rowID, string(state), note, errJSON)
	if err != nil {
		return fmt.Errorf("update item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = r.db.GetContext(ctx, &current, "SELECT state FROM work_items WHERE id = $1", rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrItemNotFound
	}
	if err != nil {
		return err
	}
	return storage.ErrAlreadyTerminal
}

func parseID(id string) (int64, error) {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", storage.ErrItemNotFound, id)
	}
	return rowID, nil
}
