package ats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
)

// MaxPageSize is the largest page the automation server accepts.
const MaxPageSize = 200

// Remote work item statuses.
const (
	statusNew         = "new"
	statusInProgress  = "in progress"
	statusCompleted   = "completed"
	statusFailed      = "failed"
	statusPendingUser = "pending user action"
)

// Config holds the automation server connection settings.
type Config struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	QueueID string        `yaml:"queue_id"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client implements storage.QueueRepository against the automation server REST API.
type Client struct {
	baseURL    string
	token      string
	queueID    string
	httpClient *http.Client

	mu      sync.Mutex
	claimed map[string]struct{}
}

var _ storage.QueueRepository = (*Client)(nil)

// NewClient creates a new automation server client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("ATS_URL or ATS_TOKEN is not set")
	}
	if cfg.QueueID == "" {
		return nil, fmt.Errorf("workqueue id is not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		queueID: cfg.QueueID,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		claimed: make(map[string]struct{}),
	}, nil
}

type remoteItem struct {
	ID        json.RawMessage `json:"id"`
	Reference string          `json:"reference"`
	Data      map[string]any  `json:"data"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (it remoteItem) id() string {
	return strings.Trim(string(it.ID), `"`)
}

// toDomain unwraps the {"item": {"reference", "data"}} envelope written by Add.
func (it remoteItem) toDomain() *domain.QueueItem {
	payload := it.Data
	if inner, ok := it.Data["item"].(map[string]any); ok {
		payload, _ = inner["data"].(map[string]any)
	}
	return &domain.QueueItem{
		ID:        it.id(),
		Reference: it.Reference,
		Payload:   payload,
		State:     stateFromStatus(it.Status),
		Note:      it.Message,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

func stateFromStatus(status string) domain.ItemState {
	switch status {
	case statusCompleted:
		return domain.ItemStateCompleted
	case statusFailed:
		return domain.ItemStateFailed
	case statusPendingUser:
		return domain.ItemStatePendingUser
	default:
		return domain.ItemStatePending
	}
}

type pageResponse struct {
	Items []remoteItem `json:"items"`
}

func (c *Client) listPage(ctx context.Context, page, pageSize int) ([]remoteItem, error) {
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	path := fmt.Sprintf("/workqueues/%s/items?page=%d&size=%d", c.queueID, page, pageSize)

	var resp pageResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ListReferences fetches one page of the workqueue listing.
func (c *Client) ListReferences(ctx context.Context, page, pageSize int) ([]string, error) {
	items, err := c.listPage(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(items))
	for _, it := range items {
		refs = append(refs, it.Reference)
	}
	return refs, nil
}

// Add posts a single item to the workqueue.
func (c *Client) Add(ctx context.Context, item domain.CandidateItem) (*domain.QueueItem, error) {
	body := map[string]any{
		"data": map[string]any{
			"item": map[string]any{
				"reference": item.Reference,
				"data":      item.Payload,
			},
		},
		"reference": item.Reference,
	}

	var created remoteItem
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workqueues/%s/add", c.queueID), body, &created); err != nil {
		return nil, err
	}
	return created.toDomain(), nil
}

// ClaimNext asks the server for the next item. The server moves it to
// "in progress", which is the claim.
func (c *Client) ClaimNext(ctx context.Context) (*domain.QueueItem, error) {
	var next remoteItem
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workqueues/%s/next_item", c.queueID), nil, &next)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}

	item := next.toDomain()
	c.mu.Lock()
	c.claimed[item.ID] = struct{}{}
	c.mu.Unlock()
	return item, nil
}

// Release hands an item that never reached a terminal state back to the queue.
func (c *Client) Release(ctx context.Context, id string) error {
	c.mu.Lock()
	_, open := c.claimed[id]
	delete(c.claimed, id)
	c.mu.Unlock()
	if !open {
		return nil
	}
	return c.setStatus(ctx, id, statusNew, "")
}

func (c *Client) Complete(ctx context.Context, id string, note string) error {
	return c.finish(ctx, id, statusCompleted, note)
}

func (c *Client) Fail(ctx context.Context, id string, rec domain.ErrorRecord) error {
	return c.finish(ctx, id, statusFailed, rec.JSON())
}

func (c *Client) MarkPendingUser(ctx context.Context, id string, rec domain.ErrorRecord) error {
	return c.finish(ctx, id, statusPendingUser, rec.JSON())
}

// CountByState walks the full listing and tallies item statuses.
func (c *Client) CountByState(ctx context.Context) (map[domain.ItemState]int, error) {
	counts := make(map[domain.ItemState]int)
	for page := 1; ; page++ {
		items, err := c.listPage(ctx, page, MaxPageSize)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return counts, nil
		}
		for _, it := range items {
			counts[stateFromStatus(it.Status)]++
		}
	}
}

func (c *Client) finish(ctx context.Context, id, status, message string) error {
	if err := c.setStatus(ctx, id, status, message); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.claimed, id)
	c.mu.Unlock()
	return nil
}

func (c *Client) setStatus(ctx context.Context, id, status, message string) error {
	body := map[string]string{"status": status, "message": message}
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/workitems/%s/status", id), body, nil)
	return err
}

// do sends an authenticated JSON request and decodes the response into out.
// It returns the HTTP status code.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, fmt.Errorf("%s %s: %w", method, path, storage.ErrItemNotFound)
	case resp.StatusCode == http.StatusNoContent:
		return resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.StatusCode, fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
