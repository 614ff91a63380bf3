package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docpipe/docpipe/internal/embed"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/store"
)

// BranchResults carries each branch's hits plus any branch-level
// errors. A populated BranchErrors entry with a nil hits slice means
// that branch contributed nothing to fusion.
type BranchResults struct {
	VectorHits  []*store.VectorHit
	LexicalHits []*store.LexicalHit

	// BranchErrors maps BranchVector/BranchLexical to the error that
	// kept that branch from contributing.
	BranchErrors map[string]error
}

// Degraded reports whether any branch failed.
func (r *BranchResults) Degraded() bool {
	return len(r.BranchErrors) > 0
}

// Coordinator issues the vector and lexical backend queries in
// parallel. A failed or slow branch is recorded, not fatal: retrieval
// degrades to the surviving branch. Only caller cancellation or both
// branches failing aborts the query.
type Coordinator struct {
	embedder embed.Embedder
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	logger   *slog.Logger
}

// NewCoordinator creates a retrieval coordinator.
func NewCoordinator(embedder embed.Embedder, vector store.VectorIndex, lexical store.LexicalIndex, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{embedder: embedder, vector: vector, lexical: lexical, logger: logger}
}

// Retrieve runs both branches concurrently under a shared timeout.
// Each branch gets its own deadline derived from cfg.Timeout, so a
// stuck branch cannot starve the other past the budget.
func (c *Coordinator) Retrieve(ctx context.Context, query string, cfg RetrievalConfig) (*BranchResults, error) {
	deadline := time.Now().Add(cfg.Timeout)
	results := &BranchResults{BranchErrors: map[string]error{}}

	// Branch goroutines never return errors to the group: a branch
	// failure must not cancel its sibling. Each branch observes the
	// caller's cancellation through its own deadline context.
	var vecErr, lexErr error
	var g errgroup.Group

	vctx, vcancel := context.WithDeadline(ctx, deadline)
	defer vcancel()
	g.Go(func() error {
		results.VectorHits, vecErr = c.vectorBranch(vctx, query, cfg.TopKVector)
		return nil
	})

	lctx, lcancel := context.WithDeadline(ctx, deadline)
	defer lcancel()
	g.Go(func() error {
		results.LexicalHits, lexErr = c.lexical.Query(lctx, query, cfg.TopKLexical)
		return nil
	})

	_ = g.Wait()

	// Caller cancellation wins: no partial result.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if vecErr != nil {
		results.VectorHits = nil
		results.BranchErrors[BranchVector] = branchError(BranchVector, vecErr)
		c.logger.Warn("retrieval_branch_failed",
			slog.String("branch", BranchVector),
			slog.String("error", vecErr.Error()))
	}
	if lexErr != nil {
		results.LexicalHits = nil
		results.BranchErrors[BranchLexical] = branchError(BranchLexical, lexErr)
		c.logger.Warn("retrieval_branch_failed",
			slog.String("branch", BranchLexical),
			slog.String("error", lexErr.Error()))
	}

	if vecErr != nil && lexErr != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeBranchFailed,
			"both retrieval branches failed", errors.Join(vecErr, lexErr))
	}
	return results, nil
}

// vectorBranch embeds the query, then queries the vector index. The
// embedding call shares the branch deadline.
func (c *Coordinator) vectorBranch(ctx context.Context, query string, topK int) ([]*store.VectorHit, error) {
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.vector.Query(ctx, vector, topK)
}

// branchError classifies a branch failure as timeout or plain failure.
func branchError(branch string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeerrors.New(pipeerrors.ErrCodeBranchTimeout, branch+" branch timed out", err)
	}
	return pipeerrors.New(pipeerrors.ErrCodeBranchFailed, branch+" branch failed", err)
}
