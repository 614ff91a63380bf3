package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

// Reranker is the best-effort cross-encoder stage. It reorders the
// top-N fused candidates by oracle score, consulting the score cache
// before every oracle call. Any failure, an exhausted budget, or an
// open circuit leaves the fused order untouched and reports the stage
// as not applied. The stage never fails the query.
type Reranker struct {
	oracle  RerankOracle
	cache   *ScoreCache
	breaker *pipeerrors.CircuitBreaker
	logger  *slog.Logger
}

// NewReranker creates the rerank stage around an oracle. cacheSize <= 0
// uses the default cache capacity.
func NewReranker(oracle RerankOracle, cacheSize int, logger *slog.Logger) (*Reranker, error) {
	if oracle == nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeConfigInvalid, "rerank oracle is required", nil)
	}
	cache, err := NewScoreCache(cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		oracle:  oracle,
		cache:   cache,
		breaker: pipeerrors.NewCircuitBreaker("rerank-oracle", pipeerrors.WithMaxFailures(3)),
		logger:  logger,
	}, nil
}

// Cache exposes the score cache for inspection in tests.
func (r *Reranker) Cache() *ScoreCache {
	return r.cache
}

// Close releases the oracle.
func (r *Reranker) Close() error {
	return r.oracle.Close()
}

// Rerank reorders candidates[:topN] in place by oracle score and
// reports whether the stage was applied. texts maps chunk ID to chunk
// text for every candidate in the head. Candidates beyond topN keep
// their fused positions.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []*ScoredCandidate, texts map[string]string, topN int, budget time.Duration) bool {
	if len(candidates) == 0 || topN <= 0 {
		return false
	}
	if !r.breaker.Allow() {
		r.logger.Warn("rerank_skipped", slog.String("reason", "circuit open"))
		return false
	}

	head := candidates
	if topN < len(head) {
		head = head[:topN]
	}

	// Cache lookups first; only misses go to the oracle.
	scores := make(map[string]float64, len(head))
	var missing []*ScoredCandidate
	for _, c := range head {
		if score, ok := r.cache.Get(query, c.ChunkID); ok {
			scores[c.ChunkID] = score
			continue
		}
		if _, ok := texts[c.ChunkID]; !ok {
			r.logger.Warn("rerank_skipped",
				slog.String("reason", "missing chunk text"),
				slog.String("chunk_id", c.ChunkID))
			return false
		}
		missing = append(missing, c)
	}

	if len(missing) > 0 {
		budgetCtx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()
		if err := r.scoreMissing(budgetCtx, query, missing, texts, scores); err != nil {
			r.logger.Warn("rerank_fallback", slog.String("error", err.Error()))
			return false
		}
	}

	// Scores complete: commit them and reorder the head.
	for _, c := range head {
		c.RerankScore = scores[c.ChunkID]
		c.Reranked = true
	}
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].RerankScore != head[j].RerankScore {
			return head[i].RerankScore > head[j].RerankScore
		}
		return head[i].ChunkID < head[j].ChunkID
	})
	return true
}

// scoreMissing batches uncached candidates through the oracle,
// recording each score in the cache and the scores map. Candidates are
// left unmodified so a mid-batch failure falls back cleanly.
func (r *Reranker) scoreMissing(ctx context.Context, query string, missing []*ScoredCandidate, texts map[string]string, scores map[string]float64) error {
	batchSize := r.oracle.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = DefaultOracleBatchSize
	}

	for start := 0; start < len(missing); start += batchSize {
		end := min(start+batchSize, len(missing))
		batch := missing[start:end]

		batchTexts := make([]string, len(batch))
		for i, c := range batch {
			batchTexts[i] = texts[c.ChunkID]
		}

		var batchScores []float64
		err := r.breaker.Execute(func() error {
			var scoreErr error
			batchScores, scoreErr = r.oracle.Score(ctx, query, batchTexts)
			return scoreErr
		})
		if err != nil {
			if errors.Is(err, pipeerrors.ErrCircuitOpen) {
				return pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable, "rerank circuit open", err)
			}
			return err
		}
		if len(batchScores) != len(batch) {
			return pipeerrors.New(pipeerrors.ErrCodeRerankUnavailable,
				"oracle returned wrong score count", nil)
		}

		for i, c := range batch {
			scores[c.ChunkID] = batchScores[i]
			r.cache.Put(query, c.ChunkID, batchScores[i])
		}
	}
	return nil
}
