// Package finalize runs the post-processing step of a queue run.
package finalize

import (
	"context"
	"log/slog"

	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/notify"
)

// Finalizer is the business step run once after processing.
type Finalizer interface {
	Finalize(ctx context.Context) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context) error

// Finalize implements Finalizer.
func (f FinalizerFunc) Finalize(ctx context.Context) error {
	return f(ctx)
}

// Noop does nothing.
type Noop struct{}

// Finalize implements Finalizer.
func (Noop) Finalize(ctx context.Context) error {
	return nil
}

// Stage wraps a finalizer with the error policy of the finalize run mode.
type Stage struct {
	finalizer   Finalizer
	notifier    notify.Notifier
	processName string
	log         *slog.Logger
}

// NewStage creates a finalize stage. nil arguments fall back to Noop.
func NewStage(f Finalizer, notifier notify.Notifier, processName string) *Stage {
	if f == nil {
		f = Noop{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Stage{
		finalizer:   f,
		notifier:    notifier,
		processName: processName,
		log:         slog.Default().With("component", "finalize"),
	}
}

// Run executes the finalizer. A business error is logged and swallowed;
// any other error is reported by notification and returned as a process error.
func (s *Stage) Run(ctx context.Context) error {
	s.log.Info("Finalizing")

	err := s.finalizer.Finalize(ctx)
	if err == nil {
		s.log.Info("Finalize completed")
		return nil
	}

	if domain.IsBusiness(err) {
		s.log.Info("Business error during finalize", "error", err)
		return nil
	}

	pe := domain.NewProcessError(err)
	s.log.Error("Process error during finalize", "error", pe.Message, "traceback", pe.Stack)
	s.notifier.Notify(context.WithoutCancel(ctx), pe.Record(), s.processName)
	return pe
}
