package control

import (
	"github.com/vietddude/queuerunner/internal/finalize"
	"github.com/vietddude/queuerunner/internal/infra/storage"
	"github.com/vietddude/queuerunner/internal/ingest"
	"github.com/vietddude/queuerunner/internal/notify"
	"github.com/vietddude/queuerunner/internal/process"
	"github.com/vietddude/queuerunner/internal/recovery"
)

// Options carries the pluggable collaborators of an App. Zero fields are
// filled from configuration or fall back to the built-in defaults.
type Options struct {
	// Source produces ingestion candidates. Defaults to the configured
	// source file, or no candidates.
	Source ingest.Source

	// Operation is the business step applied to each item. Defaults to
	// process.RequireFields.
	Operation process.Operation

	// Finalizer runs after processing. Defaults to finalize.Noop.
	Finalizer finalize.Finalizer

	// Environment is started, reset and closed around processing. Defaults
	// to the configured commands, or recovery.NoopEnvironment.
	Environment recovery.Environment

	// Notifier reports process errors. Defaults to the configured channel.
	Notifier notify.Notifier

	// Repository overrides the configured queue backend.
	Repository storage.QueueRepository
}
