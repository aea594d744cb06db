package storage

import (
	"context"
	"errors"

	"github.com/vietddude/queuerunner/internal/core/domain"
)

var (
	// ErrItemNotFound is returned when an item id doesn't exist
	ErrItemNotFound = errors.New("item not found")

	// ErrAlreadyTerminal is returned when a finished item is transitioned again
	ErrAlreadyTerminal = errors.New("item already in a terminal state")
)

// QueueRepository is the work-item store shared by the ingestion and
// processing pipelines. Implementations must be safe for concurrent use.
type QueueRepository interface {
	// ListReferences returns the references of one page of resident items.
	// Pages are 1-indexed; an empty page ends the listing.
	ListReferences(ctx context.Context, page, pageSize int) ([]string, error)

	// Add submits a single item
	Add(ctx context.Context, item domain.CandidateItem) (*domain.QueueItem, error)

	// ClaimNext claims the oldest pending, unclaimed item.
	// Returns nil when no item is available.
	ClaimNext(ctx context.Context) (*domain.QueueItem, error)

	// Release drops the claim on an item
	Release(ctx context.Context, id string) error

	// Complete marks an item completed
	Complete(ctx context.Context, id string, note string) error

	// Fail marks an item failed
	Fail(ctx context.Context, id string, rec domain.ErrorRecord) error

	// MarkPendingUser marks an item as awaiting user action
	MarkPendingUser(ctx context.Context, id string, rec domain.ErrorRecord) error

	// CountByState returns the number of items per lifecycle state
	CountByState(ctx context.Context) (map[domain.ItemState]int, error)
}
