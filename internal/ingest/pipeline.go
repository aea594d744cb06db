package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/queuerunner/internal/core/domain"
)

// Pipeline runs one ingestion pass: source, dedup, submit.
type Pipeline struct {
	source    Source
	dedup     *Deduplicator
	submitter *Submitter
	log       *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(source Source, dedup *Deduplicator, submitter *Submitter) *Pipeline {
	return &Pipeline{
		source:    source,
		dedup:     dedup,
		submitter: submitter,
		log:       slog.Default().With("component", "ingest"),
	}
}

// Populate loads candidates, drops those already queued and submits the rest.
// Individual submission failures are reported in the summary, not as an error.
func (p *Pipeline) Populate(ctx context.Context) (domain.SubmitSummary, error) {
	start := time.Now()
	p.log.Info("Populating queue")

	candidates, err := p.source.Candidates(ctx)
	if err != nil {
		return domain.SubmitSummary{}, fmt.Errorf("load candidates: %w", err)
	}

	existing, err := p.dedup.ExistingReferences(ctx)
	if err != nil {
		return domain.SubmitSummary{}, err
	}

	fresh := p.dedup.Filter(candidates, existing)
	summary := p.submitter.Submit(ctx, fresh)

	p.log.Info("Queue populated",
		"candidates", len(candidates),
		"skipped", len(candidates)-len(fresh),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	return summary, nil
}
