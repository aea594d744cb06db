package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const defaultCaptureTimeout = 30 * time.Second

// Capturer takes a PNG screenshot of the environment.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// CommandCapturer runs a shell command that writes a PNG image to stdout.
type CommandCapturer struct {
	Command string
	Timeout time.Duration
}

// Capture implements Capturer.
func (c *CommandCapturer) Capture(ctx context.Context) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screenshot command: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
