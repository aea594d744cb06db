package control

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/queuerunner/internal/core/config"
	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/finalize"
	"github.com/vietddude/queuerunner/internal/ingest"
	"github.com/vietddude/queuerunner/internal/process"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Queue.Name = "invoices"
	cfg.Process.Name = "invoices"
	return cfg
}

func source() ingest.Source {
	return ingest.StaticSource{
		{Reference: "A", Payload: map[string]any{"amount": 1}},
		{Reference: "B", Payload: map[string]any{"amount": 2}},
		{Reference: "C", Payload: map[string]any{"amount": 3}},
	}
}

func TestApp_EndToEndMemory(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	op := process.OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
		if reference == "B" {
			return domain.NewBusinessError("customer missing")
		}
		return nil
	})

	app, err := New(ctx, cfg, Options{Source: source(), Operation: op})
	require.NoError(t, err)
	defer app.Close()

	summary, err := app.Populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmitSummary{Succeeded: 3, Total: 3}, summary)

	// second populate is a no-op
	summary, err = app.Populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)

	res, err := app.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, process.Result{Completed: 2, AwaitingUser: 1}, res)

	counts, err := app.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.ItemStateCompleted])
	assert.Equal(t, 1, counts[domain.ItemStatePendingUser])

	assert.NoError(t, app.Finalize(ctx))
}

func TestApp_FinalizeProcessErrorReturned(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(context.Background(), cfg, Options{
		Finalizer: finalize.FinalizerFunc(func(ctx context.Context) error {
			return errors.New("report upload failed")
		}),
	})
	require.NoError(t, err)

	err = app.Finalize(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindProcess, domain.KindOf(err))
}

func TestApp_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Queue.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://" + mr.Addr()
	ctx := context.Background()

	app, err := New(ctx, cfg, Options{Source: source()})
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Populate(ctx)
	require.NoError(t, err)

	res, err := app.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Completed)

	counts, err := app.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.ItemStateCompleted])
}

func TestApp_BackendInitFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://127.0.0.1:1"

	_, err := New(context.Background(), cfg, Options{})
	assert.Error(t, err)
}
