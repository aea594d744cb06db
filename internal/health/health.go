// Package health provides queue health monitoring and status reporting.
package health

import "github.com/vietddude/queuerunner/internal/core/domain"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// QueueHealth contains health metrics for one queue.
type QueueHealth struct {
	Queue   string                   `json:"queue"`
	Status  SystemStatus             `json:"status"`
	Backend string                   `json:"backend"`
	Items   map[domain.ItemState]int `json:"items"`
	Error   string                   `json:"error,omitempty"`
}
