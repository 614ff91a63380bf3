package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/embed"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/store"
)

// fakeVectorIndex records upserts and can fail a set number of times
// per chunk ID.
type fakeVectorIndex struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	failures map[string]int
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{vectors: map[string][]float32{}, failures: map[string]int{}}
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, id string, vector []float32, meta store.ChunkMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[id] > 0 {
		f.failures[id]--
		return fmt.Errorf("vector write refused for %s", id)
	}
	f.vectors[id] = vector
	return nil
}

func (f *fakeVectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]*store.VectorHit, error) {
	return nil, nil
}

func (f *fakeVectorIndex) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.vectors, id)
	}
	return nil
}

func (f *fakeVectorIndex) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors)
}

func (f *fakeVectorIndex) Save(path string) error { return nil }
func (f *fakeVectorIndex) Load(path string) error { return nil }
func (f *fakeVectorIndex) Close() error           { return nil }

// fakeLexicalIndex mirrors fakeVectorIndex for the text side.
type fakeLexicalIndex struct {
	mu       sync.Mutex
	texts    map[string]string
	failures map[string]int
}

func newFakeLexicalIndex() *fakeLexicalIndex {
	return &fakeLexicalIndex{texts: map[string]string{}, failures: map[string]int{}}
}

func (f *fakeLexicalIndex) Upsert(ctx context.Context, id string, text string, meta store.ChunkMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[id] > 0 {
		f.failures[id]--
		return fmt.Errorf("lexical write refused for %s", id)
	}
	f.texts[id] = text
	return nil
}

func (f *fakeLexicalIndex) Query(ctx context.Context, query string, topK int) ([]*store.LexicalHit, error) {
	return nil, nil
}

func (f *fakeLexicalIndex) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.texts, id)
	}
	return nil
}

func (f *fakeLexicalIndex) Count() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.texts)), nil
}

func (f *fakeLexicalIndex) Close() error { return nil }

func testChunks(n int) []*store.Chunk {
	chunks := make([]*store.Chunk, n)
	for i := range chunks {
		chunks[i] = &store.Chunk{
			ID:         fmt.Sprintf("c%d", i),
			DocumentID: "doc1",
			Ordinal:    i,
			Text:       fmt.Sprintf("chunk number %d content", i),
		}
	}
	return chunks
}

func fastWriterConfig() Config {
	return Config{EmbedWorkers: 2, WriteAttempts: 3, RetryDelay: time.Millisecond}
}

func newTestWriter(t *testing.T, vec *fakeVectorIndex, lex *fakeLexicalIndex) *Writer {
	t.Helper()
	w, err := NewWriter(embed.NewStaticEmbedder(), vec, lex, fastWriterConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWriter_AllChunksIndexed(t *testing.T) {
	vec := newFakeVectorIndex()
	lex := newFakeLexicalIndex()
	w := newTestWriter(t, vec, lex)

	doc := &store.Document{ID: "doc1"}
	chunks := testChunks(5)

	report, err := w.Write(context.Background(), doc, chunks)
	require.NoError(t, err)
	assert.True(t, report.AllIndexed())
	assert.Equal(t, 5, report.Indexed)
	assert.Equal(t, 5, vec.Count())

	for i, cr := range report.Chunks {
		assert.Equal(t, i, cr.Ordinal, "report preserves ordinal order")
		assert.Equal(t, ChunkIndexed, cr.State)
	}
}

func TestWriter_VectorsMatchChunkPositions(t *testing.T) {
	// Batches of size MaxBatchSize run concurrently; every chunk must
	// still receive its own text's embedding.
	vec := newFakeVectorIndex()
	lex := newFakeLexicalIndex()
	embedder := embed.NewStaticEmbedder()
	w, err := NewWriter(embedder, vec, lex, fastWriterConfig(), nil)
	require.NoError(t, err)
	defer w.Close()

	chunks := testChunks(embedder.MaxBatchSize()*2 + 3)
	_, err = w.Write(context.Background(), &store.Document{ID: "doc1"}, chunks)
	require.NoError(t, err)

	for _, c := range chunks {
		want, err := embedder.Embed(context.Background(), c.Text)
		require.NoError(t, err)
		assert.Equal(t, want, vec.vectors[c.ID], "chunk %s", c.ID)
	}
}

func TestWriter_RetriesTransientWriteFailure(t *testing.T) {
	vec := newFakeVectorIndex()
	lex := newFakeLexicalIndex()
	// c1's vector write fails twice, then succeeds within 3 attempts.
	vec.failures["c1"] = 2
	w := newTestWriter(t, vec, lex)

	report, err := w.Write(context.Background(), &store.Document{ID: "doc1"}, testChunks(3))
	require.NoError(t, err)
	assert.True(t, report.AllIndexed())
}

func TestWriter_SurvivingPartialReported(t *testing.T) {
	vec := newFakeVectorIndex()
	lex := newFakeLexicalIndex()
	// c1's vector write fails beyond the attempt budget.
	vec.failures["c1"] = 100
	w := newTestWriter(t, vec, lex)

	report, err := w.Write(context.Background(), &store.Document{ID: "doc1"}, testChunks(3))
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodePartialIndex, pipeerrors.GetCode(err))

	assert.False(t, report.AllIndexed())
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Partial)

	var partial *ChunkReport
	for i := range report.Chunks {
		if report.Chunks[i].State == ChunkPartial {
			partial = &report.Chunks[i]
		}
	}
	require.NotNil(t, partial)
	assert.Equal(t, "c1", partial.ChunkID)
	assert.False(t, partial.VectorWritten)
	assert.True(t, partial.LexicalWritten, "lexical side succeeded, vector side did not")
}

func TestWriter_BothSidesFailedIsFailedChunk(t *testing.T) {
	vec := newFakeVectorIndex()
	lex := newFakeLexicalIndex()
	vec.failures["c0"] = 100
	lex.failures["c0"] = 100
	w := newTestWriter(t, vec, lex)

	report, err := w.Write(context.Background(), &store.Document{ID: "doc1"}, testChunks(1))
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, ChunkFailed, report.Chunks[0].State)
}

func TestWriter_EmptyChunksNoOp(t *testing.T) {
	w := newTestWriter(t, newFakeVectorIndex(), newFakeLexicalIndex())

	report, err := w.Write(context.Background(), &store.Document{ID: "doc1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.True(t, report.AllIndexed())
}

func TestWriter_CancelledContext(t *testing.T) {
	w := newTestWriter(t, newFakeVectorIndex(), newFakeLexicalIndex())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Write(ctx, &store.Document{ID: "doc1"}, testChunks(3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriter_DeleteChunks(t *testing.T) {
	vec := newFakeVectorIndex()
	lex := newFakeLexicalIndex()
	w := newTestWriter(t, vec, lex)

	chunks := testChunks(2)
	_, err := w.Write(context.Background(), &store.Document{ID: "doc1"}, chunks)
	require.NoError(t, err)

	require.NoError(t, w.DeleteChunks(context.Background(), []string{"c0", "c1"}))
	assert.Equal(t, 0, vec.Count())
	n, _ := lex.Count()
	assert.Equal(t, uint64(0), n)
}
