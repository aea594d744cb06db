package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Environment is the runtime the business operation drives, usually an
// external application that has to be started before processing and closed
// afterwards.
type Environment interface {
	Startup(ctx context.Context) error
	SoftClose(ctx context.Context) error
	HardClose(ctx context.Context) error
}

// NoopEnvironment only logs. It is used when no environment commands are configured.
type NoopEnvironment struct{}

func (NoopEnvironment) Startup(ctx context.Context) error {
	slog.Debug("Starting applications")
	return nil
}

func (NoopEnvironment) SoftClose(ctx context.Context) error {
	slog.Debug("Closing applications softly")
	return nil
}

func (NoopEnvironment) HardClose(ctx context.Context) error {
	slog.Debug("Closing applications hard")
	return nil
}

// CommandConfig holds the shell commands driving the environment.
type CommandConfig struct {
	Startup   string        `yaml:"startup_command"`
	SoftClose string        `yaml:"soft_close_command"`
	HardClose string        `yaml:"hard_close_command"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Configured reports whether any command is set.
func (c CommandConfig) Configured() bool {
	return c.Startup != "" || c.SoftClose != "" || c.HardClose != ""
}

// CommandEnvironment runs a shell command for each lifecycle step.
// Empty commands succeed without doing anything.
type CommandEnvironment struct {
	cfg CommandConfig
}

func NewCommandEnvironment(cfg CommandConfig) *CommandEnvironment {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &CommandEnvironment{cfg: cfg}
}

func (e *CommandEnvironment) Startup(ctx context.Context) error {
	return e.run(ctx, "startup", e.cfg.Startup)
}

func (e *CommandEnvironment) SoftClose(ctx context.Context) error {
	return e.run(ctx, "soft close", e.cfg.SoftClose)
}

func (e *CommandEnvironment) HardClose(ctx context.Context) error {
	return e.run(ctx, "hard close", e.cfg.HardClose)
}

func (e *CommandEnvironment) run(ctx context.Context, step, command string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s command failed: %w: %s", step, err, strings.TrimSpace(string(out)))
	}
	return nil
}
