// Package search implements the hybrid query path: parallel vector and
// lexical retrieval, weighted score fusion, and optional cross-encoder
// reranking with an LRU score cache. Every stage degrades instead of
// failing: a dead branch leaves the other one serving, a dead rerank
// oracle leaves the fused order standing.
package search

import (
	"time"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

// Branch names used in BranchErrors maps and log fields.
const (
	BranchVector  = "vector"
	BranchLexical = "lexical"
)

// Normalization modes for per-branch score normalization.
const (
	// NormalizeMinMax rescales each branch's scores to [0,1] by the
	// branch's own min and max. A branch where all scores are equal
	// (including a single hit) normalizes to 1.0.
	NormalizeMinMax = "minmax"

	// NormalizeRank ignores raw score magnitudes and assigns
	// (n-rank+1)/n per branch, so the top hit gets 1.0 and the last
	// gets 1/n.
	NormalizeRank = "rank"
)

// Default retrieval parameters.
const (
	DefaultTopKVector   = 50
	DefaultTopKLexical  = 50
	DefaultLimit        = 10
	MaxLimit            = 100
	DefaultTimeout      = 5 * time.Second
	DefaultRerankTopN   = 20
	DefaultRerankBudget = 2 * time.Second
)

// Weights controls the relative contribution of the two branches.
// Callers may pass any non-negative magnitudes; fusion divides each by
// their sum, so (0.8, 0.2) and (8, 2) rank identically.
type Weights struct {
	Vector  float64 `yaml:"vector"`
	Lexical float64 `yaml:"lexical"`
}

// DefaultWeights favors the vector branch for natural-language queries.
func DefaultWeights() Weights {
	return Weights{Vector: 0.65, Lexical: 0.35}
}

// Normalize scales the weights to sum to 1. Both weights zero is a
// configuration error, not a divide-by-zero.
func (w Weights) Normalize() (Weights, error) {
	if w.Vector < 0 || w.Lexical < 0 {
		return Weights{}, pipeerrors.New(pipeerrors.ErrCodeInvalidWeights,
			"fusion weights must be non-negative", nil)
	}
	sum := w.Vector + w.Lexical
	if sum == 0 {
		return Weights{}, pipeerrors.New(pipeerrors.ErrCodeInvalidWeights,
			"fusion weights must not both be zero", nil)
	}
	return Weights{Vector: w.Vector / sum, Lexical: w.Lexical / sum}, nil
}

// RetrievalConfig is per-call query configuration. It travels with the
// call so concurrent queries with different weights never interfere.
type RetrievalConfig struct {
	// TopKVector and TopKLexical are the per-branch candidate counts.
	TopKVector  int
	TopKLexical int

	// Weights for fusion; zero value means DefaultWeights.
	Weights Weights

	// Normalization is NormalizeMinMax (default) or NormalizeRank.
	Normalization string

	// Timeout bounds the whole retrieval step. Each branch gets its
	// own deadline derived from it.
	Timeout time.Duration

	// Limit is the number of results returned to the caller.
	Limit int

	// Rerank enables the cross-encoder stage when the engine has an
	// oracle configured.
	Rerank bool

	// RerankTopN is how many fused candidates are sent to the oracle,
	// independent of Limit.
	RerankTopN int

	// RerankBudget bounds the rerank stage; on expiry the fused order
	// is returned unchanged.
	RerankBudget time.Duration
}

// DefaultRetrievalConfig returns the standard query configuration.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopKVector:    DefaultTopKVector,
		TopKLexical:   DefaultTopKLexical,
		Weights:       DefaultWeights(),
		Normalization: NormalizeMinMax,
		Timeout:       DefaultTimeout,
		Limit:         DefaultLimit,
		RerankTopN:    DefaultRerankTopN,
		RerankBudget:  DefaultRerankBudget,
	}
}

// mergedWith fills zero-valued fields from d and clamps the limit.
func (c RetrievalConfig) mergedWith(d RetrievalConfig) RetrievalConfig {
	if c.TopKVector <= 0 {
		c.TopKVector = d.TopKVector
	}
	if c.TopKLexical <= 0 {
		c.TopKLexical = d.TopKLexical
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.Normalization == "" {
		c.Normalization = d.Normalization
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.Limit > MaxLimit {
		c.Limit = MaxLimit
	}
	if c.RerankTopN <= 0 {
		c.RerankTopN = d.RerankTopN
	}
	if c.RerankBudget <= 0 {
		c.RerankBudget = d.RerankBudget
	}
	return c
}

// ScoredCandidate is one chunk after fusion. Raw branch scores are kept
// alongside the normalized and combined values so callers can see how a
// result earned its position.
type ScoredCandidate struct {
	ChunkID string

	// Raw backend scores; meaningful only when the matching rank is
	// non-zero.
	VectorScore  float64
	LexicalScore float64

	// 1-based position within each branch's result list, 0 if absent.
	VectorRank  int
	LexicalRank int

	// Per-branch normalized scores in [0,1].
	NormVector  float64
	NormLexical float64

	// Score is the weighted combination the fused order sorts on.
	Score float64

	// RerankScore is the oracle's relevance score, set only when the
	// rerank stage ran over this candidate.
	RerankScore float64
	Reranked    bool

	// InBoth marks candidates returned by both branches.
	InBoth bool
}

// maxBranchScore is the tie-break key: the candidate's best single
// normalized branch score.
func (c *ScoredCandidate) maxBranchScore() float64 {
	if c.NormVector > c.NormLexical {
		return c.NormVector
	}
	return c.NormLexical
}

// FusionResult is the ordered outcome of fusing both branches.
type FusionResult struct {
	Candidates []*ScoredCandidate

	// VectorCount and LexicalCount are the branch input sizes, kept so
	// responses can report which branches contributed.
	VectorCount  int
	LexicalCount int
}
