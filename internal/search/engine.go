package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/docpipe/docpipe/internal/embed"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/store"
)

// Result pairs a fused candidate with its stored chunk.
type Result struct {
	Chunk     *store.Chunk
	Candidate *ScoredCandidate
}

// Response is the outcome of one query. It always says which branches
// contributed and whether rerank ran, so degraded results are
// distinguishable from healthy ones.
type Response struct {
	Query   string
	Results []*Result

	// VectorHits and LexicalHits are the per-branch candidate counts
	// before fusion; zero with a BranchErrors entry means the branch
	// failed, zero without one means it genuinely found nothing.
	VectorHits  int
	LexicalHits int

	BranchErrors  map[string]error
	Degraded      bool
	RerankApplied bool

	Elapsed time.Duration
}

// Engine orchestrates the query path: coordinate both branches, fuse,
// optionally rerank, then enrich results from the document store.
type Engine struct {
	store       store.DocumentStore
	coordinator *Coordinator
	reranker    *Reranker
	defaults    RetrievalConfig
	logger      *slog.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithReranker attaches the cross-encoder stage. Without it, Rerank in
// the retrieval config is ignored.
func WithReranker(r *Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// WithDefaults overrides the engine's base retrieval configuration.
// Per-call configs still win field by field.
func WithDefaults(cfg RetrievalConfig) EngineOption {
	return func(e *Engine) {
		e.defaults = cfg.mergedWith(DefaultRetrievalConfig())
	}
}

// NewEngine creates a hybrid search engine.
func NewEngine(
	docs store.DocumentStore,
	embedder embed.Embedder,
	vector store.VectorIndex,
	lexical store.LexicalIndex,
	logger *slog.Logger,
	opts ...EngineOption,
) (*Engine, error) {
	if docs == nil || embedder == nil || vector == nil || lexical == nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			"store, embedder, and both indexes are required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:       docs,
		coordinator: NewCoordinator(embedder, vector, lexical, logger),
		defaults:    DefaultRetrievalConfig(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	// Fail configuration errors at construction, not per query.
	if _, err := e.defaults.Weights.Normalize(); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases the rerank stage, if any.
func (e *Engine) Close() error {
	if e.reranker != nil {
		return e.reranker.Close()
	}
	return nil
}

// Search runs one hybrid query. Zero-valued cfg fields fall back to
// the engine defaults.
func (e *Engine) Search(ctx context.Context, query string, cfg RetrievalConfig) (*Response, error) {
	started := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, pipeerrors.New(pipeerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	cfg = cfg.mergedWith(e.defaults)

	fuser, err := NewFuser(cfg.Weights, cfg.Normalization)
	if err != nil {
		return nil, err
	}

	branches, err := e.coordinator.Retrieve(ctx, query, cfg)
	if err != nil {
		return nil, err
	}

	fused := fuser.Fuse(branches.VectorHits, branches.LexicalHits)

	resp := &Response{
		Query:        query,
		VectorHits:   fused.VectorCount,
		LexicalHits:  fused.LexicalCount,
		BranchErrors: branches.BranchErrors,
		Degraded:     branches.Degraded(),
	}

	// Fetch enough chunks to cover the rerank head, not just the final
	// limit, so the oracle sees real text.
	fetchCount := cfg.Limit
	if e.reranker != nil && cfg.Rerank && cfg.RerankTopN > fetchCount {
		fetchCount = cfg.RerankTopN
	}
	candidates, chunks, err := e.enrich(ctx, fused.Candidates, fetchCount)
	if err != nil {
		return nil, err
	}

	if e.reranker != nil && cfg.Rerank {
		texts := make(map[string]string, len(chunks))
		for id, c := range chunks {
			texts[id] = c.Text
		}
		resp.RerankApplied = e.reranker.Rerank(ctx, query, candidates, texts, cfg.RerankTopN, cfg.RerankBudget)
	}

	if len(candidates) > cfg.Limit {
		candidates = candidates[:cfg.Limit]
	}
	for _, c := range candidates {
		resp.Results = append(resp.Results, &Result{Chunk: chunks[c.ChunkID], Candidate: c})
	}
	resp.Elapsed = time.Since(started)

	e.logger.Debug("search_complete",
		slog.String("query", query),
		slog.Int("results", len(resp.Results)),
		slog.Int("vector_hits", resp.VectorHits),
		slog.Int("lexical_hits", resp.LexicalHits),
		slog.Bool("degraded", resp.Degraded),
		slog.Bool("rerank_applied", resp.RerankApplied),
		slog.Duration("elapsed", resp.Elapsed))
	return resp, nil
}

// enrich loads chunk rows for the first n candidates and drops
// candidates whose chunks have disappeared from the store, preserving
// fused order.
func (e *Engine) enrich(ctx context.Context, candidates []*ScoredCandidate, n int) ([]*ScoredCandidate, map[string]*store.Chunk, error) {
	if n > len(candidates) {
		n = len(candidates)
	}
	head := candidates[:n]

	ids := make([]string, len(head))
	for i, c := range head {
		ids[i] = c.ChunkID
	}
	rows, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	chunks := make(map[string]*store.Chunk, len(rows))
	for _, row := range rows {
		chunks[row.ID] = row
	}

	kept := make([]*ScoredCandidate, 0, len(head))
	for _, c := range head {
		if _, ok := chunks[c.ChunkID]; ok {
			kept = append(kept, c)
			continue
		}
		// An index entry without a store row: deleted mid-query.
		e.logger.Warn("search_stale_index_entry", slog.String("chunk_id", c.ChunkID))
	}
	return kept, chunks, nil
}
