package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
	"github.com/vietddude/queuerunner/internal/metrics"
	"github.com/vietddude/queuerunner/internal/recovery"
)

const (
	DefaultMaxConcurrency = 10
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
)

// SubmitterConfig bounds a submission run.
type SubmitterConfig struct {
	MaxConcurrency int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submitter adds items to the queue with bounded concurrency and per-item
// exponential backoff. One item's failure never affects its siblings.
type Submitter struct {
	repo    storage.QueueRepository
	queue   string
	cfg     SubmitterConfig
	backoff *recovery.ExponentialBackoff
	wait    WaitFunc
	log     *slog.Logger
}

// NewSubmitter creates a submitter. Zero config fields take the defaults.
func NewSubmitter(queue string, repo storage.QueueRepository, cfg SubmitterConfig) *Submitter {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	// a timed-out attempt is retried; only the run's own ctx stops the sequence
	backoff := recovery.NewBackoff(cfg.RetryBaseDelay, cfg.MaxRetries)
	backoff.Classifier = recovery.RetryAll

	return &Submitter{
		repo:    repo,
		queue:   queue,
		cfg:     cfg,
		backoff: backoff,
		wait:    sleepCtx,
		log:     slog.Default().With("component", "submitter", "queue", queue),
	}
}

// WithWait replaces the backoff wait. Used by tests.
func (s *Submitter) WithWait(wait WaitFunc) *Submitter {
	s.wait = wait
	return s
}

// Submit adds every item and reports how many made it into the queue.
func (s *Submitter) Submit(ctx context.Context, items []domain.CandidateItem) domain.SubmitSummary {
	if len(items) == 0 {
		s.log.Info("No new items to add")
		return domain.SubmitSummary{}
	}

	var (
		mu      sync.Mutex
		summary = domain.SubmitSummary{Total: len(items)}
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)

	for _, item := range items {
		g.Go(func() error {
			ok := s.submitOne(ctx, item)

			mu.Lock()
			if ok {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("Summary: "+summaryText(summary),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"total", summary.Total,
	)
	return summary
}

// submitOne runs the full retry sequence for one item.
func (s *Submitter) submitOne(ctx context.Context, item domain.CandidateItem) bool {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			s.giveUp(item, attempt-1, err)
			return false
		}

		_, err := s.repo.Add(ctx, item)
		if err == nil {
			metrics.SubmitAttempts.WithLabelValues(s.queue, "success").Inc()
			metrics.ItemsSubmitted.WithLabelValues(s.queue, "succeeded").Inc()
			s.log.Debug("Item added", "reference", item.Reference, "attempt", attempt)
			return true
		}
		metrics.SubmitAttempts.WithLabelValues(s.queue, "error").Inc()

		if !s.backoff.ShouldRetry(err, attempt) {
			s.giveUp(item, attempt, err)
			return false
		}

		delay := s.backoff.GetDelay(attempt - 1)
		s.log.Warn("Add failed, retrying",
			"reference", item.Reference,
			"attempt", attempt,
			"max_retries", s.cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)
		if werr := s.wait(ctx, delay); werr != nil {
			s.giveUp(item, attempt, werr)
			return false
		}
	}
}

func (s *Submitter) giveUp(item domain.CandidateItem, attempts int, err error) {
	metrics.ItemsSubmitted.WithLabelValues(s.queue, "failed").Inc()
	s.log.Error("Failed to add item",
		"reference", item.Reference,
		"attempts", attempts,
		"error", err,
	)
}

func summaryText(s domain.SubmitSummary) string {
	return fmt.Sprintf("%d succeeded, %d failed out of %d", s.Succeeded, s.Failed, s.Total)
}
