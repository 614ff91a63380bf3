package ingest

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/convert"
	"github.com/docpipe/docpipe/internal/embed"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/index"
	"github.com/docpipe/docpipe/internal/store"
)

// countingConverter wraps the text converter and counts conversions,
// proving the dedup gate runs before any conversion cost.
type countingConverter struct {
	inner *convert.TextConverter
	calls int64
}

func (c *countingConverter) Convert(ctx context.Context, data []byte, mediaType string) (*convert.Result, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.inner.Convert(ctx, data, mediaType)
}

func (c *countingConverter) Supports(mediaType string) bool {
	return c.inner.Supports(mediaType)
}

type pipelineFixture struct {
	pipeline  *Pipeline
	store     *store.SQLiteStore
	vector    *store.HNSWIndex
	lexical   *store.BleveIndex
	writer    *index.Writer
	converter *countingConverter
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	embedder := embed.NewStaticEmbedder()
	vector, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	lexical, err := store.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	writer, err := index.NewWriter(embedder, vector, lexical, index.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	converter := &countingConverter{inner: convert.NewTextConverter()}

	p, err := NewPipeline(
		s,
		convert.NewRegistry(converter),
		chunk.NewSplitter(nil),
		writer,
		chunk.Config{Strategy: chunk.StrategySentence, TargetSize: 20, Overlap: 1, Language: "en"},
		"",
		nil,
	)
	require.NoError(t, err)

	return &pipelineFixture{pipeline: p, store: s, vector: vector, lexical: lexical, writer: writer, converter: converter}
}

const sampleText = "The first sentence describes the system. The second sentence covers ingestion in more detail. The third sentence explains retrieval and ranking. The fourth sentence wraps everything up."

func TestPipeline_IngestHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	report, err := f.pipeline.Ingest(ctx, "guide.txt", "text/plain", []byte(sampleText))
	require.NoError(t, err)

	assert.Equal(t, Fingerprint([]byte(sampleText)), report.DocumentID)
	assert.False(t, report.Duplicate)
	assert.Equal(t, store.StatusIndexed, report.Status)
	assert.Greater(t, report.ChunkCount, 0)
	assert.True(t, report.Index.AllIndexed())

	doc, err := f.store.GetDocument(ctx, report.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusIndexed, doc.Status)
	assert.Equal(t, report.ChunkCount, doc.ChunkCount)

	assert.Equal(t, report.ChunkCount, f.vector.Count())
	lexCount, err := f.lexical.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(report.ChunkCount), lexCount)
}

func TestPipeline_DuplicateUploadConvertsOnce(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Ingest(ctx, "guide.txt", "text/plain", []byte(sampleText))
	require.NoError(t, err)

	second, err := f.pipeline.Ingest(ctx, "copy-of-guide.txt", "text/plain", []byte(sampleText))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, int64(1), atomic.LoadInt64(&f.converter.calls), "identical bytes convert exactly once")

	docs, err := f.store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestPipeline_EmptyAndUnsupportedInput(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, "empty.txt", "text/plain", nil)
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeInvalidInput, pipeerrors.GetCode(err))

	_, err = f.pipeline.Ingest(ctx, "doc.pdf", "application/pdf", []byte("%PDF"))
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeUnsupportedMedia, pipeerrors.GetCode(err))
	assert.Equal(t, int64(0), atomic.LoadInt64(&f.converter.calls))
}

func TestPipeline_RetryWithNewChunkingDropsStaleRows(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	report, err := f.pipeline.Ingest(ctx, "guide.txt", "text/plain", []byte(sampleText))
	require.NoError(t, err)

	oldIDs, err := f.store.ChunkIDsByDocument(ctx, report.DocumentID)
	require.NoError(t, err)
	require.NotEmpty(t, oldIDs)

	// A failed attempt leaves its chunk rows behind.
	require.NoError(t, f.store.UpdateDocumentStatus(ctx, report.DocumentID, store.StatusFailed, "embedder outage"))

	// The retry runs with a different target size, so its chunk IDs
	// differ and the old rows cannot be replaced by upsert.
	retry, err := NewPipeline(
		f.store,
		convert.NewRegistry(f.converter),
		chunk.NewSplitter(nil),
		f.writer,
		chunk.Config{Strategy: chunk.StrategySentence, TargetSize: 60, Overlap: 1, Language: "en"},
		"",
		nil,
	)
	require.NoError(t, err)

	report2, err := retry.Ingest(ctx, "guide.txt", "text/plain", []byte(sampleText))
	require.NoError(t, err)
	assert.False(t, report2.Duplicate)
	assert.Equal(t, store.StatusIndexed, report2.Status)

	ids, err := f.store.ChunkIDsByDocument(ctx, report2.DocumentID)
	require.NoError(t, err)
	require.NotEqual(t, oldIDs, ids)
	assert.Len(t, ids, report2.ChunkCount)
	for _, old := range oldIDs {
		assert.NotContains(t, ids, old, "stale chunk row survived the retry")
	}

	doc, err := f.store.GetDocument(ctx, report2.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, report2.ChunkCount, doc.ChunkCount)
}

func TestPipeline_ChunkIDsAreContentAddressed(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	report, err := f.pipeline.Ingest(ctx, "guide.txt", "text/plain", []byte(sampleText))
	require.NoError(t, err)

	chunks, err := f.store.GetChunksByDocument(ctx, report.DocumentID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.Equal(t, ChunkID(report.DocumentID, c.Ordinal, c.StartOffset, c.Text), c.ID)
		assert.Equal(t, sampleText[c.StartOffset:c.EndOffset], c.Text)
	}
}

func TestPipeline_DeleteCascades(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	report, err := f.pipeline.Ingest(ctx, "guide.txt", "text/plain", []byte(sampleText))
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Delete(ctx, report.DocumentID))

	_, err = f.store.GetDocument(ctx, report.DocumentID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.vector.Count())
	lexCount, err := f.lexical.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lexCount)
}

func TestPipeline_CancelledIngestNeverLooksIndexed(t *testing.T) {
	f := newPipelineFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.pipeline.Ingest(ctx, "guide.txt", "text/plain", []byte(sampleText))
	require.Error(t, err)

	if report != nil && report.DocumentID != "" {
		doc, getErr := f.store.GetDocument(context.Background(), report.DocumentID)
		if getErr == nil {
			assert.NotEqual(t, store.StatusIndexed, doc.Status)
		}
	}
}

func TestPipeline_MarkdownCarriesSections(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	md := "# Overview\nThis part explains the overview in a full sentence. Another overview sentence follows here.\n\n# Usage\nThis part explains usage in one sentence. A second usage sentence closes the document.\n"
	report, err := f.pipeline.Ingest(ctx, "readme.md", "text/markdown", []byte(md))
	require.NoError(t, err)

	chunks, err := f.store.GetChunksByDocument(ctx, report.DocumentID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	sections := map[string]bool{}
	for _, c := range chunks {
		sections[c.Section] = true
	}
	assert.True(t, sections["Overview"] || sections["Usage"], "at least one section title inherited")
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint([]byte("same content"))
	b := Fingerprint([]byte("same content"))
	c := Fingerprint([]byte("different content"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestChunkID_ChangesWithContent(t *testing.T) {
	base := ChunkID("doc1", 0, 0, "some text")

	assert.Equal(t, base, ChunkID("doc1", 0, 0, "some text"))
	assert.NotEqual(t, base, ChunkID("doc1", 0, 0, "other text"))
	assert.NotEqual(t, base, ChunkID("doc1", 1, 0, "some text"))
	assert.NotEqual(t, base, ChunkID("doc2", 0, 0, "some text"))
}
