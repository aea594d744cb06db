package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/queuerunner/internal/metrics"
)

// Controller applies the environment lifecycle around a processing run:
// startup before, reset after every process error, close at the end.
type Controller struct {
	env Environment
	log *slog.Logger
}

func NewController(env Environment) *Controller {
	if env == nil {
		env = NoopEnvironment{}
	}
	return &Controller{
		env: env,
		log: slog.Default().With("component", "environment"),
	}
}

// Startup prepares the environment.
func (c *Controller) Startup(ctx context.Context) error {
	c.log.Info("Starting applications...")
	if err := c.env.Startup(ctx); err != nil {
		c.log.Error("Failed to start applications", "error", err)
		return fmt.Errorf("startup: %w", err)
	}
	return nil
}

// Close releases the environment: soft first, hard only if soft fails.
// Failures are logged, never returned.
func (c *Controller) Close(ctx context.Context) {
	c.log.Info("Closing applications softly...")
	err := c.env.SoftClose(ctx)
	if err == nil {
		return
	}

	c.log.Warn("Soft close failed, closing applications hard...", "error", err)
	if err := c.env.HardClose(ctx); err != nil {
		c.log.Error("Hard close failed", "error", err)
	}
}

// Reset closes and starts the environment again.
func (c *Controller) Reset(ctx context.Context) error {
	c.log.Info("Resetting applications...")
	metrics.EnvironmentResets.Inc()
	c.Close(ctx)
	return c.Startup(ctx)
}
