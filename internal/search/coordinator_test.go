package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/embed"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/store"
)

// stubVectorIndex serves canned hits with an optional error or delay.
type stubVectorIndex struct {
	hits  []*store.VectorHit
	err   error
	delay time.Duration
}

func (s *stubVectorIndex) Upsert(ctx context.Context, id string, vector []float32, meta store.ChunkMeta) error {
	return nil
}

func (s *stubVectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]*store.VectorHit, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func (s *stubVectorIndex) Delete(ctx context.Context, ids []string) error { return nil }
func (s *stubVectorIndex) Count() int                                     { return len(s.hits) }
func (s *stubVectorIndex) Save(path string) error                         { return nil }
func (s *stubVectorIndex) Load(path string) error                         { return nil }
func (s *stubVectorIndex) Close() error                                   { return nil }

// stubLexicalIndex mirrors stubVectorIndex for the text branch.
type stubLexicalIndex struct {
	hits  []*store.LexicalHit
	err   error
	delay time.Duration
}

func (s *stubLexicalIndex) Upsert(ctx context.Context, id string, text string, meta store.ChunkMeta) error {
	return nil
}

func (s *stubLexicalIndex) Query(ctx context.Context, query string, topK int) ([]*store.LexicalHit, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func (s *stubLexicalIndex) Delete(ctx context.Context, ids []string) error { return nil }
func (s *stubLexicalIndex) Count() (uint64, error)                         { return uint64(len(s.hits)), nil }
func (s *stubLexicalIndex) Close() error                                   { return nil }

func retrievalConfigForTest() RetrievalConfig {
	cfg := DefaultRetrievalConfig()
	cfg.Timeout = 200 * time.Millisecond
	return cfg
}

func TestCoordinator_BothBranchesContribute(t *testing.T) {
	vec := &stubVectorIndex{hits: vhits("a", 0.9, "b", 0.5)}
	lex := &stubLexicalIndex{hits: lhits("b", 4.0)}
	c := NewCoordinator(embed.NewStaticEmbedder(), vec, lex, nil)

	results, err := c.Retrieve(context.Background(), "alpha beta", retrievalConfigForTest())
	require.NoError(t, err)

	assert.Len(t, results.VectorHits, 2)
	assert.Len(t, results.LexicalHits, 1)
	assert.Empty(t, results.BranchErrors)
	assert.False(t, results.Degraded())
}

func TestCoordinator_LexicalTimeoutDegradesToVector(t *testing.T) {
	vec := &stubVectorIndex{hits: vhits("a", 0.9)}
	lex := &stubLexicalIndex{delay: 5 * time.Second}
	c := NewCoordinator(embed.NewStaticEmbedder(), vec, lex, nil)

	results, err := c.Retrieve(context.Background(), "alpha", retrievalConfigForTest())
	require.NoError(t, err)

	assert.Len(t, results.VectorHits, 1)
	assert.Empty(t, results.LexicalHits)
	assert.True(t, results.Degraded())
	assert.Equal(t, pipeerrors.ErrCodeBranchTimeout, pipeerrors.GetCode(results.BranchErrors[BranchLexical]))
}

func TestCoordinator_VectorFailureDegradesToLexical(t *testing.T) {
	vec := &stubVectorIndex{err: errors.New("index unavailable")}
	lex := &stubLexicalIndex{hits: lhits("b", 4.0)}
	c := NewCoordinator(embed.NewStaticEmbedder(), vec, lex, nil)

	results, err := c.Retrieve(context.Background(), "alpha", retrievalConfigForTest())
	require.NoError(t, err)

	assert.Empty(t, results.VectorHits)
	assert.Len(t, results.LexicalHits, 1)
	assert.Equal(t, pipeerrors.ErrCodeBranchFailed, pipeerrors.GetCode(results.BranchErrors[BranchVector]))
}

func TestCoordinator_BothBranchesFailedIsAnError(t *testing.T) {
	vec := &stubVectorIndex{err: errors.New("vector down")}
	lex := &stubLexicalIndex{err: errors.New("lexical down")}
	c := NewCoordinator(embed.NewStaticEmbedder(), vec, lex, nil)

	_, err := c.Retrieve(context.Background(), "alpha", retrievalConfigForTest())
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeBranchFailed, pipeerrors.GetCode(err))
}

func TestCoordinator_CallerCancellationWins(t *testing.T) {
	vec := &stubVectorIndex{hits: vhits("a", 0.9)}
	lex := &stubLexicalIndex{delay: 50 * time.Millisecond}
	c := NewCoordinator(embed.NewStaticEmbedder(), vec, lex, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := c.Retrieve(ctx, "alpha", retrievalConfigForTest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results, "no partial result after caller cancellation")
}
