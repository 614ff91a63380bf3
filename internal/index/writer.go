// Package index coordinates dual writes of chunks into the vector and
// lexical indexes. There is no cross-index transaction: the writer
// tracks per chunk which side succeeded, retries the missing side a
// bounded number of times, and reports any surviving partials for
// operator remediation.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/docpipe/docpipe/internal/embed"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/store"
)

// ChunkState is the write outcome for a single chunk.
type ChunkState string

const (
	// ChunkIndexed means both index writes succeeded.
	ChunkIndexed ChunkState = "indexed"
	// ChunkPartial means exactly one index write succeeded.
	ChunkPartial ChunkState = "partial"
	// ChunkFailed means neither index write succeeded.
	ChunkFailed ChunkState = "failed"
)

// ChunkReport records the outcome of one chunk's dual write.
type ChunkReport struct {
	ChunkID        string
	Ordinal        int
	State          ChunkState
	VectorWritten  bool
	LexicalWritten bool
	Err            error
}

// Report summarizes a document's dual-index write.
type Report struct {
	DocumentID string
	Total      int
	Indexed    int
	Partial    int
	Failed     int
	Chunks     []ChunkReport
}

// AllIndexed reports whether every chunk reached both indexes.
func (r *Report) AllIndexed() bool {
	return r.Indexed == r.Total
}

// Config configures the writer.
type Config struct {
	// EmbedWorkers is the number of embedding batches in flight.
	EmbedWorkers int

	// WriteAttempts bounds attempts per chunk per index side.
	WriteAttempts int

	// RetryDelay is the pause between write attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns writer defaults.
func DefaultConfig() Config {
	return Config{
		EmbedWorkers:  4,
		WriteAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
	}
}

// Writer performs batched embedding and dual index writes.
type Writer struct {
	embedder embed.Embedder
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	config   Config
	pool     *ants.Pool
	logger   *slog.Logger
}

// NewWriter creates a dual-index writer. The worker pool only carries
// embedding batches; index writes happen in ordinal order.
func NewWriter(embedder embed.Embedder, vector store.VectorIndex, lexical store.LexicalIndex, cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = DefaultConfig().EmbedWorkers
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = DefaultConfig().WriteAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.EmbedWorkers)
	if err != nil {
		return nil, fmt.Errorf("create embed worker pool: %w", err)
	}

	return &Writer{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		config:   cfg,
		pool:     pool,
		logger:   logger,
	}, nil
}

// Close releases the worker pool.
func (w *Writer) Close() error {
	w.pool.Release()
	return nil
}

// Write embeds the chunks and writes each into both indexes.
//
// Embedding batches run concurrently but results are reassembled in
// ordinal order, so chunk-to-vector correspondence is positional.
// A surviving partial or failed chunk makes the returned error a
// partial-index failure; the report always carries per-chunk detail.
func (w *Writer) Write(ctx context.Context, doc *store.Document, chunks []*store.Chunk) (*Report, error) {
	report := &Report{DocumentID: doc.ID, Total: len(chunks)}
	if len(chunks) == 0 {
		return report, nil
	}

	vectors, err := w.embedAll(ctx, chunks)
	if err != nil {
		return report, err
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			// Cancellation mid-write: remaining chunks are failed, the
			// caller records the document as failed or partial.
			for _, rest := range chunks[i:] {
				report.Chunks = append(report.Chunks, ChunkReport{
					ChunkID: rest.ID, Ordinal: rest.Ordinal, State: ChunkFailed, Err: err,
				})
				report.Failed++
			}
			return report, err
		}
		cr := w.writeChunk(ctx, chunk, vectors[i])
		report.Chunks = append(report.Chunks, cr)
		switch cr.State {
		case ChunkIndexed:
			report.Indexed++
		case ChunkPartial:
			report.Partial++
		default:
			report.Failed++
		}
	}

	if report.Partial > 0 || report.Failed > 0 {
		err := pipeerrors.New(pipeerrors.ErrCodePartialIndex,
			fmt.Sprintf("document %s: %d/%d chunks indexed (%d partial, %d failed)",
				doc.ID, report.Indexed, report.Total, report.Partial, report.Failed), nil).
			WithDetail("document_id", doc.ID)
		return report, err
	}
	return report, nil
}

// embedAll embeds chunk texts in MaxBatchSize groups through the
// worker pool, reassembling vectors at their original positions.
func (w *Writer) embedAll(ctx context.Context, chunks []*store.Chunk) ([][]float32, error) {
	batchSize := w.embedder.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	vectors := make([][]float32, len(chunks))
	embedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		offset := start
		wg.Add(1)
		submitErr := w.pool.Submit(func() {
			defer wg.Done()
			vecs, err := w.embedder.EmbedBatch(embedCtx, texts)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
				return
			}
			copy(vectors[offset:], vecs)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, firstErr
	}
	return vectors, nil
}

// writeChunk writes one chunk to both indexes with bounded retries on
// each side independently.
func (w *Writer) writeChunk(ctx context.Context, chunk *store.Chunk, vector []float32) ChunkReport {
	cr := ChunkReport{ChunkID: chunk.ID, Ordinal: chunk.Ordinal}
	meta := store.ChunkMeta{DocumentID: chunk.DocumentID, Ordinal: chunk.Ordinal}

	var vecErr, lexErr error
	for attempt := 0; attempt < w.config.WriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.config.RetryDelay):
			}
			if ctx.Err() != nil {
				cr.Err = ctx.Err()
				break
			}
		}

		if !cr.VectorWritten {
			if vecErr = w.vector.Upsert(ctx, chunk.ID, vector, meta); vecErr == nil {
				cr.VectorWritten = true
			}
		}
		if !cr.LexicalWritten {
			if lexErr = w.lexical.Upsert(ctx, chunk.ID, chunk.Text, meta); lexErr == nil {
				cr.LexicalWritten = true
			}
		}
		if cr.VectorWritten && cr.LexicalWritten {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	switch {
	case cr.VectorWritten && cr.LexicalWritten:
		cr.State = ChunkIndexed
	case cr.VectorWritten || cr.LexicalWritten:
		cr.State = ChunkPartial
	default:
		cr.State = ChunkFailed
	}
	if cr.State != ChunkIndexed {
		if vecErr != nil {
			cr.Err = vecErr
		} else if lexErr != nil {
			cr.Err = lexErr
		}
		w.logger.Warn("chunk_write_incomplete",
			slog.String("chunk_id", chunk.ID),
			slog.String("state", string(cr.State)),
			slog.Bool("vector", cr.VectorWritten),
			slog.Bool("lexical", cr.LexicalWritten))
	}
	return cr
}

// DeleteChunks removes chunk IDs from both indexes. Both sides are
// attempted even if one fails; the first error is returned.
func (w *Writer) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	vecErr := w.vector.Delete(ctx, ids)
	lexErr := w.lexical.Delete(ctx, ids)
	if vecErr != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexWriteFailed, "vector index delete failed", vecErr)
	}
	if lexErr != nil {
		return pipeerrors.New(pipeerrors.ErrCodeIndexWriteFailed, "lexical index delete failed", lexErr)
	}
	return nil
}
