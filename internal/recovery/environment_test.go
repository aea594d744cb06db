package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEnvironment_RunsCommands(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")

	env := NewCommandEnvironment(CommandConfig{
		Startup:   "touch " + marker,
		SoftClose: "exit 3",
	})
	ctx := context.Background()

	require.NoError(t, env.Startup(ctx))
	_, err := os.Stat(marker)
	assert.NoError(t, err)

	err = env.SoftClose(ctx)
	assert.ErrorContains(t, err, "soft close command failed")

	// unset command is a no-op
	assert.NoError(t, env.HardClose(ctx))
}

func TestCommandEnvironment_Timeout(t *testing.T) {
	env := NewCommandEnvironment(CommandConfig{
		Startup: "exec sleep 5",
		Timeout: 50 * time.Millisecond,
	})
	assert.Error(t, env.Startup(context.Background()))
}

func TestCommandConfig_Configured(t *testing.T) {
	assert.False(t, CommandConfig{}.Configured())
	assert.True(t, CommandConfig{HardClose: "pkill app"}.Configured())
}
