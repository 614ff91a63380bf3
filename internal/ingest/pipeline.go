package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/convert"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/index"
	"github.com/docpipe/docpipe/internal/store"
)

// Report is the outcome of one ingestion.
type Report struct {
	DocumentID string
	Filename   string
	Duplicate  bool
	ChunkCount int
	Status     store.DocumentStatus
	Index      *index.Report
	Elapsed    time.Duration
}

// Pipeline runs uploads through fingerprint, conversion, chunking, and
// the dual index write. A file lock enforces a single writer per data
// directory; queries read concurrently.
type Pipeline struct {
	store     store.DocumentStore
	addresser *ContentAddresser
	converter *convert.Registry
	splitter  *chunk.Splitter
	writer    *index.Writer
	chunkCfg  chunk.Config
	lock      *flock.Flock
	logger    *slog.Logger
}

// NewPipeline creates an ingestion pipeline. lockPath is the writer
// lock file; empty disables locking (tests).
func NewPipeline(
	s store.DocumentStore,
	converter *convert.Registry,
	splitter *chunk.Splitter,
	writer *index.Writer,
	chunkCfg chunk.Config,
	lockPath string,
	logger *slog.Logger,
) (*Pipeline, error) {
	if err := chunkCfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		store:     s,
		addresser: NewContentAddresser(s),
		converter: converter,
		splitter:  splitter,
		writer:    writer,
		chunkCfg:  chunkCfg,
		logger:    logger,
	}
	if lockPath != "" {
		p.lock = flock.New(lockPath)
	}
	return p, nil
}

// Ingest processes one upload. Identical bytes short-circuit at the
// dedup gate: conversion, chunking, and embedding run exactly once per
// unique content. A previously failed or partial document is
// reprocessed instead of short-circuited, so re-upload is the retry
// path.
func (p *Pipeline) Ingest(ctx context.Context, filename, mediaType string, data []byte) (*Report, error) {
	started := time.Now()

	if len(data) == 0 {
		return nil, pipeerrors.New(pipeerrors.ErrCodeInvalidInput, "empty document", nil)
	}
	if !p.converter.Supports(mediaType) {
		return nil, pipeerrors.New(pipeerrors.ErrCodeUnsupportedMedia,
			fmt.Sprintf("unsupported media type %q", mediaType), nil)
	}

	fingerprint := Fingerprint(data)
	logger := p.logger.With(slog.String("document_id", fingerprint), slog.String("filename", filename))

	existing, found, err := p.addresser.Check(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if found && existing.Status == store.StatusIndexed {
		logger.Info("ingest_duplicate", slog.String("status", string(existing.Status)))
		return &Report{
			DocumentID: existing.ID,
			Filename:   existing.Filename,
			Duplicate:  true,
			ChunkCount: existing.ChunkCount,
			Status:     existing.Status,
			Elapsed:    time.Since(started),
		}, nil
	}

	if err := p.acquireLock(ctx); err != nil {
		return nil, err
	}
	defer p.releaseLock()

	// Reprocessing replaces the previous attempt: old chunk IDs must
	// leave both indexes, and the old rows must go too. A changed
	// chunking config mints different chunk IDs, so the upsert in
	// SaveChunks would leave the stale rows behind.
	if found {
		if err := p.removeChunks(ctx, existing.ID); err != nil {
			return nil, err
		}
		if err := p.store.DeleteChunksByDocument(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	doc := &store.Document{
		ID:        fingerprint,
		Filename:  filename,
		MediaType: mediaType,
		ByteSize:  int64(len(data)),
		Status:    store.StatusPending,
	}
	if err := p.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	report := &Report{DocumentID: doc.ID, Filename: filename}

	converted, err := p.converter.Convert(ctx, data, mediaType)
	if err != nil {
		p.markFailed(ctx, doc.ID, err)
		report.Status = store.StatusFailed
		return report, err
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusConverted, ""); err != nil {
		return report, err
	}

	pieces, err := p.splitter.Split(converted.Text, p.chunkCfg)
	if err != nil {
		wrapped := pipeerrors.New(pipeerrors.ErrCodeChunkingFailed, "chunking failed", err)
		p.markFailed(ctx, doc.ID, wrapped)
		report.Status = store.StatusFailed
		return report, wrapped
	}

	chunks := buildChunks(doc.ID, pieces, converted.Pages)
	if err := p.store.SaveChunks(ctx, chunks); err != nil {
		p.markFailed(ctx, doc.ID, err)
		report.Status = store.StatusFailed
		return report, err
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusChunked, ""); err != nil {
		return report, err
	}
	report.ChunkCount = len(chunks)

	indexReport, writeErr := p.writer.Write(ctx, doc, chunks)
	report.Index = indexReport
	report.Elapsed = time.Since(started)

	switch {
	case writeErr == nil:
		report.Status = store.StatusIndexed
		if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusIndexed, ""); err != nil {
			return report, err
		}
		logger.Info("ingest_complete",
			slog.Int("chunks", len(chunks)),
			slog.Duration("elapsed", report.Elapsed))
		return report, nil

	case pipeerrors.GetCode(writeErr) == pipeerrors.ErrCodePartialIndex:
		report.Status = store.StatusPartial
		msg := fmt.Sprintf("%d of %d chunks partially indexed", indexReport.Partial+indexReport.Failed, indexReport.Total)
		if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusPartial, msg); err != nil {
			return report, err
		}
		logger.Warn("ingest_partial", slog.String("detail", msg))
		return report, writeErr

	default:
		// Embedding outage or cancellation: never leave the document
		// looking indexed.
		report.Status = store.StatusFailed
		p.markFailed(ctx, doc.ID, writeErr)
		return report, writeErr
	}
}

// Delete removes a document, its chunks, and its index entries.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	if err := p.acquireLock(ctx); err != nil {
		return err
	}
	defer p.releaseLock()

	if err := p.removeChunks(ctx, docID); err != nil {
		return err
	}
	return p.store.DeleteDocument(ctx, docID)
}

// removeChunks deletes a document's chunk entries from both indexes.
// The store rows go separately (document cascade, or
// DeleteChunksByDocument when reprocessing).
func (p *Pipeline) removeChunks(ctx context.Context, docID string) error {
	ids, err := p.store.ChunkIDsByDocument(ctx, docID)
	if err != nil {
		return err
	}
	return p.writer.DeleteChunks(ctx, ids)
}

func (p *Pipeline) acquireLock(ctx context.Context) error {
	if p.lock == nil {
		return nil
	}
	locked, err := p.lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexLocked, "acquiring writer lock", err)
	}
	if !locked {
		return pipeerrors.New(pipeerrors.ErrCodeIndexLocked, "another writer holds the ingestion lock", nil)
	}
	return nil
}

func (p *Pipeline) releaseLock() {
	if p.lock != nil {
		_ = p.lock.Unlock()
	}
}

func (p *Pipeline) markFailed(ctx context.Context, docID string, cause error) {
	if err := p.store.UpdateDocumentStatus(ctx, docID, store.StatusFailed, cause.Error()); err != nil {
		p.logger.Error("status_update_failed",
			slog.String("document_id", docID),
			slog.String("error", err.Error()))
	}
}

// buildChunks converts split pieces into stored chunks with
// content-addressed IDs and page metadata inherited from conversion.
func buildChunks(docID string, pieces []chunk.Piece, pages []convert.PageMeta) []*store.Chunk {
	chunks := make([]*store.Chunk, len(pieces))
	for i, piece := range pieces {
		page, section := pageFor(pages, piece.StartOffset)
		chunks[i] = &store.Chunk{
			ID:          ChunkID(docID, i, piece.StartOffset, piece.Text),
			DocumentID:  docID,
			Ordinal:     i,
			Text:        piece.Text,
			StartOffset: piece.StartOffset,
			EndOffset:   piece.EndOffset,
			TokenCount:  piece.TokenCount,
			Page:        page,
			Section:     section,
		}
	}
	return chunks
}

// pageFor finds the page covering the offset, if any.
func pageFor(pages []convert.PageMeta, offset int) (int, string) {
	for _, p := range pages {
		if offset >= p.StartOffset && offset < p.EndOffset {
			return p.Number, p.Section
		}
	}
	return 0, ""
}
