package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/queuerunner/internal/core/config"
	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/finalize"
	"github.com/vietddude/queuerunner/internal/health"
	"github.com/vietddude/queuerunner/internal/infra/ats"
	redisclient "github.com/vietddude/queuerunner/internal/infra/redis"
	"github.com/vietddude/queuerunner/internal/infra/storage"
	"github.com/vietddude/queuerunner/internal/infra/storage/memory"
	"github.com/vietddude/queuerunner/internal/infra/storage/postgres"
	"github.com/vietddude/queuerunner/internal/ingest"
	"github.com/vietddude/queuerunner/internal/notify"
	"github.com/vietddude/queuerunner/internal/process"
	"github.com/vietddude/queuerunner/internal/queue"
	"github.com/vietddude/queuerunner/internal/recovery"
)

// App wires the queue backend to the ingestion, processing and finalize
// pipelines.
type App struct {
	cfg          *config.AppConfig
	repo         storage.QueueRepository
	queue        *queue.WorkQueue
	pipeline     *ingest.Pipeline
	runner       *process.Runner
	finalizer    *finalize.Stage
	healthMon    *health.Monitor
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// New builds an App from cfg. Collaborators set in opts take precedence.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default().With("component", "app", "queue", cfg.Queue.Name),
	}

	repo := opts.Repository
	if repo == nil {
		var err error
		repo, err = a.openRepository(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.repo = repo
	a.queue = queue.New(cfg.Queue.Name, repo)

	source := opts.Source
	if source == nil {
		if cfg.Ingest.SourcePath != "" {
			source = ingest.NewFileSource(cfg.Ingest.SourcePath)
		} else {
			source = ingest.StaticSource(nil)
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.New(cfg.Notify)
	}

	env := opts.Environment
	if env == nil {
		if cfg.Environment.Configured() {
			env = recovery.NewCommandEnvironment(cfg.Environment)
		} else {
			env = recovery.NoopEnvironment{}
		}
	}

	a.pipeline = ingest.NewPipeline(
		source,
		ingest.NewDeduplicator(cfg.Queue.Name, repo, cfg.Ingest.PageSize),
		ingest.NewSubmitter(cfg.Queue.Name, repo, ingest.SubmitterConfig{
			MaxConcurrency: cfg.Ingest.MaxConcurrency,
			MaxRetries:     cfg.Ingest.MaxRetries,
			RetryBaseDelay: cfg.Ingest.RetryBaseDelay,
		}),
	)

	a.runner = process.NewRunner(
		a.queue,
		opts.Operation,
		recovery.NewController(env),
		notifier,
		process.Config{Name: cfg.Process.Name, MaxRetry: cfg.Process.MaxRetry},
	)

	a.finalizer = finalize.NewStage(opts.Finalizer, notifier, cfg.Process.Name)

	a.healthMon = health.NewMonitor(cfg.Queue.Name, cfg.Queue.Backend, repo)
	if cfg.Server.Port > 0 {
		a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port)
	}
	return a, nil
}

func (a *App) openRepository(ctx context.Context) (storage.QueueRepository, error) {
	switch a.cfg.Queue.Backend {
	case config.BackendRedis:
		client, err := redisclient.NewClient(a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.redisClient = client
		a.log.Info("Using Redis queue storage")
		return redisclient.NewQueueRepo(client, a.cfg.Queue.Name, a.cfg.Queue.ClaimTTL), nil

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		a.log.Info("Using PostgreSQL queue storage")
		return postgres.NewQueueRepo(db, a.cfg.Queue.Name, a.cfg.Queue.ClaimTTL), nil

	case config.BackendRemote:
		client, err := ats.NewClient(a.cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("failed to init automation server client: %w", err)
		}
		a.log.Info("Using remote queue storage", "url", a.cfg.Remote.URL)
		return client, nil

	default:
		a.log.Info("Using Memory queue storage")
		return memory.NewQueueRepo(memory.NewMemoryStorage()), nil
	}
}

// Populate runs the ingestion pipeline.
func (a *App) Populate(ctx context.Context) (domain.SubmitSummary, error) {
	return a.pipeline.Populate(ctx)
}

// Process runs the processing loop. The health server, when configured,
// is up for the duration of the run.
func (a *App) Process(ctx context.Context) (process.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.healthServer != nil {
		a.healthServer.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer stop()
			if err := a.healthServer.Stop(stopCtx); err != nil {
				a.log.Warn("Failed to stop health server", "error", err)
			}
		}()
		go a.healthMon.Start(runCtx)
	}
	if a.db != nil {
		a.db.StartMetricsCollector(runCtx)
	}

	return a.runner.Run(ctx)
}

// Finalize runs the finalize stage.
func (a *App) Finalize(ctx context.Context) error {
	return a.finalizer.Run(ctx)
}

// Status returns the item count per lifecycle state.
func (a *App) Status(ctx context.Context) (map[domain.ItemState]int, error) {
	return a.repo.CountByState(ctx)
}

// Queue returns the work queue handle.
func (a *App) Queue() *queue.WorkQueue {
	return a.queue
}

// Close releases the backend connections.
func (a *App) Close() error {
	var firstErr error
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
			firstErr = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
