package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docpipe/docpipe/internal/ingest"
)

// Runner consumes watcher batches and drives the ingestion pipeline.
// It remembers which document each path produced so deletions and
// rewrites can retire the superseded document.
type Runner struct {
	pipeline *ingest.Pipeline
	logger   *slog.Logger

	// pathDocs maps absolute path to the document ID its last ingest
	// produced. Only the runner goroutine touches it.
	pathDocs map[string]string
}

// NewRunner creates a watch runner over the pipeline.
func NewRunner(pipeline *ingest.Pipeline, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pipeline: pipeline,
		logger:   logger,
		pathDocs: make(map[string]string),
	}
}

// Run consumes batches from the watcher until the context is cancelled
// or the events channel closes. Per-file failures are logged, never
// fatal: the watch keeps serving the rest of the directory.
func (r *Runner) Run(ctx context.Context, events <-chan []FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			r.HandleBatch(ctx, batch)
		}
	}
}

// HandleBatch processes one debounced batch.
func (r *Runner) HandleBatch(ctx context.Context, batch []FileEvent) {
	for _, event := range batch {
		if ctx.Err() != nil {
			return
		}
		switch event.Operation {
		case OpCreate, OpModify:
			r.ingestFile(ctx, event.Path)
		case OpDelete:
			r.deleteFile(ctx, event.Path)
		}
	}
}

// ingestFile reads and ingests one file. A rewrite that changed the
// content retires the previous document for the path.
func (r *Runner) ingestFile(ctx context.Context, path string) {
	mediaType, ok := MediaTypeFor(path)
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("watch_read_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if len(data) == 0 {
		// Editors often create the file empty and write afterwards;
		// the write event will ingest it.
		return
	}

	report, err := r.pipeline.Ingest(ctx, filepath.Base(path), mediaType, data)
	if err != nil {
		r.logger.Warn("watch_ingest_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	if previous, ok := r.pathDocs[path]; ok && previous != report.DocumentID {
		if err := r.pipeline.Delete(ctx, previous); err != nil {
			r.logger.Warn("watch_retire_failed",
				slog.String("path", path),
				slog.String("document_id", previous),
				slog.String("error", err.Error()))
		}
	}
	r.pathDocs[path] = report.DocumentID

	r.logger.Info("watch_ingested",
		slog.String("path", path),
		slog.String("document_id", report.DocumentID),
		slog.Bool("duplicate", report.Duplicate),
		slog.Int("chunks", report.ChunkCount))
}

// deleteFile removes the document last ingested from the path. Paths
// the runner never ingested are ignored: the content hash cannot be
// recovered from a deleted file.
func (r *Runner) deleteFile(ctx context.Context, path string) {
	docID, ok := r.pathDocs[path]
	if !ok {
		return
	}
	delete(r.pathDocs, path)

	if err := r.pipeline.Delete(ctx, docID); err != nil {
		r.logger.Warn("watch_delete_failed",
			slog.String("path", path),
			slog.String("document_id", docID),
			slog.String("error", err.Error()))
		return
	}
	r.logger.Info("watch_deleted",
		slog.String("path", path),
		slog.String("document_id", docID))
}
