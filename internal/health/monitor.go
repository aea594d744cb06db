package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage"
	"github.com/vietddude/queuerunner/internal/metrics"
)

const defaultCheckInterval = 10 * time.Second

// Monitor derives queue health from the per-state item counts.
type Monitor struct {
	queue    string
	backend  string
	repo     storage.QueueRepository
	interval time.Duration

	lastCheck  time.Time
	lastReport *QueueHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(queue, backend string, repo storage.QueueRepository) *Monitor {
	return &Monitor{
		queue:    queue,
		backend:  backend,
		repo:     repo,
		interval: defaultCheckInterval,
	}
}

// CheckHealth reports the queue health. Results are cached for the check
// interval to avoid hammering the store.
func (m *Monitor) CheckHealth(ctx context.Context) QueueHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	report := QueueHealth{
		Queue:   m.queue,
		Backend: m.backend,
		Status:  StatusHealthy,
	}

	counts, err := m.repo.CountByState(ctx)
	if err != nil {
		report.Status = StatusCritical
		report.Error = err.Error()
	} else {
		report.Items = counts
		for _, state := range domain.ItemStates {
			metrics.QueueItems.WithLabelValues(m.queue, string(state)).Set(float64(counts[state]))
		}
		if counts[domain.ItemStateFailed] > 0 {
			report.Status = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

// Start refreshes the queue gauges until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}
