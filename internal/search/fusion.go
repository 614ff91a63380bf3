package search

import (
	"sort"

	"github.com/docpipe/docpipe/internal/store"
)

// Fuser combines vector and lexical hit lists into one ranked list
// using weighted normalized scores.
//
// Each branch's scores are normalized independently before combination
// because the backends score on unrelated scales (cosine similarity vs
// BM25). A candidate present in both branches gets
// w.Vector*normVector + w.Lexical*normLexical; a single-branch
// candidate gets only that branch's weighted term, so it is neither
// zeroed out nor boosted past a same-branch duplicate.
type Fuser struct {
	weights       Weights
	normalization string
}

// NewFuser creates a fuser. Weights are normalized by their sum, so
// output order is invariant under positive scaling of the inputs.
func NewFuser(weights Weights, normalization string) (*Fuser, error) {
	normalized, err := weights.Normalize()
	if err != nil {
		return nil, err
	}
	if normalization == "" {
		normalization = NormalizeMinMax
	}
	return &Fuser{weights: normalized, normalization: normalization}, nil
}

// Fuse merges the two hit lists. The output order is deterministic
// given identical inputs and does not depend on which branch is
// enumerated first.
func (f *Fuser) Fuse(vectorHits []*store.VectorHit, lexicalHits []*store.LexicalHit) *FusionResult {
	merged := make(map[string]*ScoredCandidate, len(vectorHits)+len(lexicalHits))

	for rank, hit := range vectorHits {
		c := getOrCreate(merged, hit.ChunkID)
		c.VectorScore = hit.Score
		c.VectorRank = rank + 1
	}
	for rank, hit := range lexicalHits {
		c := getOrCreate(merged, hit.ChunkID)
		c.LexicalScore = hit.Score
		c.LexicalRank = rank + 1
	}

	vectorScores := make([]float64, len(vectorHits))
	for i, h := range vectorHits {
		vectorScores[i] = h.Score
	}
	lexicalScores := make([]float64, len(lexicalHits))
	for i, h := range lexicalHits {
		lexicalScores[i] = h.Score
	}
	normVector := f.branchNormalizer(vectorScores)
	normLexical := f.branchNormalizer(lexicalScores)

	for _, c := range merged {
		if c.VectorRank > 0 {
			c.NormVector = normVector(c.VectorScore, c.VectorRank)
		}
		if c.LexicalRank > 0 {
			c.NormLexical = normLexical(c.LexicalScore, c.LexicalRank)
		}
		c.InBoth = c.VectorRank > 0 && c.LexicalRank > 0
		c.Score = f.weights.Vector*c.NormVector + f.weights.Lexical*c.NormLexical
	}

	return &FusionResult{
		Candidates:   toSortedSlice(merged),
		VectorCount:  len(vectorHits),
		LexicalCount: len(lexicalHits),
	}
}

// getOrCreate returns the candidate for the chunk, creating it on
// first sight from either branch.
func getOrCreate(m map[string]*ScoredCandidate, chunkID string) *ScoredCandidate {
	if c, ok := m[chunkID]; ok {
		return c
	}
	c := &ScoredCandidate{ChunkID: chunkID}
	m[chunkID] = c
	return c
}

// normFunc maps a raw score and 1-based rank to [0,1].
type normFunc func(score float64, rank int) float64

func (f *Fuser) branchNormalizer(scores []float64) normFunc {
	if f.normalization == NormalizeRank {
		return rankNorm(len(scores))
	}
	lo, hi := 0.0, 0.0
	for i, s := range scores {
		if i == 0 || s < lo {
			lo = s
		}
		if i == 0 || s > hi {
			hi = s
		}
	}
	return minMaxNorm(lo, hi)
}

// minMaxNorm rescales into [0,1] by the branch's own range. A branch
// with a single score, or all scores equal, normalizes to 1.0 so a
// lone top hit still contributes its full branch weight.
func minMaxNorm(lo, hi float64) normFunc {
	return func(score float64, _ int) float64 {
		if hi == lo {
			return 1.0
		}
		return (score - lo) / (hi - lo)
	}
}

// rankNorm assigns (n-rank+1)/n, so rank 1 gets 1.0 and rank n gets
// 1/n regardless of raw score magnitudes.
func rankNorm(n int) normFunc {
	return func(_ float64, rank int) float64 {
		if n == 0 {
			return 0
		}
		return float64(n-rank+1) / float64(n)
	}
}

// toSortedSlice orders candidates by combined score descending with a
// deterministic tie-break: higher single-branch normalized score, then
// chunk ID ascending.
func toSortedSlice(m map[string]*ScoredCandidate) []*ScoredCandidate {
	out := make([]*ScoredCandidate, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return compare(out[i], out[j])
	})
	return out
}

// compare reports whether a ranks before b.
func compare(a, b *ScoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	am, bm := a.maxBranchScore(), b.maxBranchScore()
	if am != bm {
		return am > bm
	}
	return a.ChunkID < b.ChunkID
}
