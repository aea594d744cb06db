package domain

import "time"

// CompletedNote is the annotation stored on items that finished without errors.
const CompletedNote = "Process completed without exceptions"

// CandidateItem is a unit of work produced by a candidate source, before it
// reaches the queue.
type CandidateItem struct {
	Reference string         `json:"reference" yaml:"reference"`
	Payload   map[string]any `json:"data"      yaml:"data"`
}

// Eligible reports whether the item has a reference that can be deduplicated.
func (c CandidateItem) Eligible() bool {
	return c.Reference != ""
}

// QueueItem is a candidate accepted into the queue
type QueueItem struct {
	ID        string         `json:"id"`
	Reference string         `json:"reference"`
	Payload   map[string]any `json:"data"`
	State     ItemState      `json:"state"`
	Note      string         `json:"note,omitempty"`
	Error     *ErrorRecord   `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ItemState string

const (
	ItemStatePending     ItemState = "pending"
	ItemStateCompleted   ItemState = "completed"
	ItemStateFailed      ItemState = "failed"
	ItemStatePendingUser ItemState = "pending_user"
)

// ItemStates lists every lifecycle state in display order.
var ItemStates = []ItemState{
	ItemStatePending,
	ItemStateCompleted,
	ItemStateFailed,
	ItemStatePendingUser,
}

// IsTerminal reports whether the processing loop has finished with the item.
func (s ItemState) IsTerminal() bool {
	return s == ItemStateCompleted || s == ItemStateFailed || s == ItemStatePendingUser
}

// SubmitSummary is the aggregate outcome of one bounded submission run.
type SubmitSummary struct {
	Succeeded int
	Failed    int
	Total     int
}
