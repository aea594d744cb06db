package process

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/metrics"
	"github.com/vietddude/queuerunner/internal/notify"
	"github.com/vietddude/queuerunner/internal/queue"
	"github.com/vietddude/queuerunner/internal/recovery"
)

// DefaultMaxRetry is the number of process errors tolerated in one run.
const DefaultMaxRetry = 3

// Config tunes a processing run.
type Config struct {
	// Name identifies the process in logs and notifications. Defaults to the queue name.
	Name     string
	MaxRetry int
}

// Result summarises one processing run.
type Result struct {
	Completed       int
	AwaitingUser    int
	Failed          int
	ErrorCount      int
	BudgetExhausted bool
}

// Runner drains the queue through the operation, one item at a time.
type Runner struct {
	queue      *queue.WorkQueue
	op         Operation
	controller *recovery.Controller
	notifier   notify.Notifier
	cfg        Config
	log        *slog.Logger
}

// NewRunner creates a processing runner. A nil operation means RequireFields,
// a nil notifier means notify.Noop.
func NewRunner(
	q *queue.WorkQueue,
	op Operation,
	controller *recovery.Controller,
	notifier notify.Notifier,
	cfg Config,
) *Runner {
	if op == nil {
		op = RequireFields
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if controller == nil {
		controller = recovery.NewController(nil)
	}
	if cfg.Name == "" {
		cfg.Name = q.Name()
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	return &Runner{
		queue:      q,
		op:         op,
		controller: controller,
		notifier:   notifier,
		cfg:        cfg,
		log:        slog.Default().With("component", "process", "queue", q.Name()),
	}
}

// Run starts the environment, processes items until the queue is empty or
// MaxRetry process errors have occurred, and closes the environment.
//
// After every process error the environment is reset and the queue is walked
// again from the front.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var res Result
	bg := context.WithoutCancel(ctx)

	defer r.controller.Close(bg)
	if err := r.controller.Startup(ctx); err != nil {
		return res, err
	}

	errorCount := 0
	metrics.ErrorBudgetUsed.WithLabelValues(r.queue.Name()).Set(0)

	for errorCount < r.cfg.MaxRetry {
		failed, err := r.pass(ctx, &res)
		if err != nil {
			res.ErrorCount = errorCount
			return res, err
		}
		if !failed {
			break
		}

		errorCount++
		metrics.ErrorBudgetUsed.WithLabelValues(r.queue.Name()).Set(float64(errorCount))
		if err := r.controller.Reset(bg); err != nil {
			r.log.Error("Environment reset failed", "error", err)
		}
	}

	res.ErrorCount = errorCount
	res.BudgetExhausted = errorCount >= r.cfg.MaxRetry
	if res.BudgetExhausted {
		r.log.Error("Error budget exhausted, stopping", "errors", errorCount, "max_retry", r.cfg.MaxRetry)
	} else {
		r.log.Info("Queue empty")
	}
	r.log.Info("Processing finished",
		"completed", res.Completed,
		"awaiting_user", res.AwaitingUser,
		"failed", res.Failed,
		"errors", res.ErrorCount,
	)
	return res, nil
}

// pass claims items from the front of the queue until it is empty. It stops
// early and reports true after the first process error.
func (r *Runner) pass(ctx context.Context, res *Result) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		item, err := r.queue.Next(ctx)
		if err != nil {
			return false, err
		}
		if item == nil {
			return false, nil
		}

		if r.handle(ctx, item, res) {
			return true, nil
		}
	}
}

// handle runs the operation on one item and records exactly one terminal
// state. It reports whether the item ended in a process error.
func (r *Runner) handle(ctx context.Context, item *queue.Item, res *Result) bool {
	// terminal transitions are persisted even when ctx is cancelled mid-item
	bg := context.WithoutCancel(ctx)
	defer item.Release(bg)

	log := r.log.With("reference", item.Reference, "id", item.ID)
	log.Debug("Processing item")

	start := time.Now()
	err := r.execute(ctx, item)
	metrics.ItemDuration.WithLabelValues(r.queue.Name()).Observe(time.Since(start).Seconds())

	if err == nil {
		if err = item.Complete(bg, domain.CompletedNote); err == nil {
			res.Completed++
			metrics.ItemsProcessed.WithLabelValues(r.queue.Name(), string(domain.ItemStateCompleted)).Inc()
			log.Info("Item completed")
			return false
		}
	}

	ie := Classify(err)
	if ie.Kind == domain.KindBusiness {
		perr := item.MarkPendingUser(bg, ie.Record())
		if perr == nil {
			res.AwaitingUser++
			metrics.ItemsProcessed.WithLabelValues(r.queue.Name(), string(domain.ItemStatePendingUser)).Inc()
			log.Info("Business error, item awaits user action", "error", ie.Message)
			return false
		}
		ie = domain.NewProcessError(perr)
	}

	rec := ie.Record()
	if ferr := item.Fail(bg, rec); ferr != nil {
		log.Error("Failed to mark item failed", "error", ferr)
	}
	res.Failed++
	metrics.ItemsProcessed.WithLabelValues(r.queue.Name(), string(domain.ItemStateFailed)).Inc()
	log.Error("Process error", "error", ie.Message, "traceback", ie.Stack)
	r.notifier.Notify(bg, rec, r.cfg.Name)
	return true
}

// execute runs the operation and turns a panic into a process error.
func (r *Runner) execute(ctx context.Context, item *queue.Item) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = domain.NewProcessError(recovered(p))
		}
	}()
	return r.op.Process(ctx, item.Payload, item.Reference)
}
