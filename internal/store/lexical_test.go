package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_UpsertAndQuery(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "c0", "the quarterly revenue report shows growth", ChunkMeta{DocumentID: "d1", Ordinal: 0}))
	require.NoError(t, idx.Upsert(ctx, "c1", "kubernetes cluster deployment guide", ChunkMeta{DocumentID: "d2", Ordinal: 0}))

	hits, err := idx.Query(ctx, "revenue report", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c0", hits[0].ChunkID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestBleveIndex_EmptyQueryReturnsNothing(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "c0", "some text", ChunkMeta{}))

	hits, err := idx.Query(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveIndex_UpsertReplaces(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "c0", "alpha content", ChunkMeta{}))
	require.NoError(t, idx.Upsert(ctx, "c0", "beta content", ChunkMeta{}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := idx.Query(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "old text should no longer match")

	hits, err = idx.Query(ctx, "beta", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c0", hits[0].ChunkID)
}

func TestBleveIndex_Delete(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "c0", "first chunk text", ChunkMeta{}))
	require.NoError(t, idx.Upsert(ctx, "c1", "second chunk text", ChunkMeta{}))

	require.NoError(t, idx.Delete(ctx, []string{"c0"}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := idx.Query(ctx, "first", 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "c0", h.ChunkID)
	}
}

func TestBleveIndex_ClosedReturnsError(t *testing.T) {
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	assert.Error(t, idx.Upsert(context.Background(), "c0", "text", ChunkMeta{}))
	_, err = idx.Query(context.Background(), "text", 1)
	assert.Error(t, err)
}
