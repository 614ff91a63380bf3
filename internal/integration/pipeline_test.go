// Package integration exercises the full pipeline: directory scan,
// ingestion into both indexes, hybrid search, and deletion.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/convert"
	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/index"
	"github.com/docpipe/docpipe/internal/ingest"
	"github.com/docpipe/docpipe/internal/scanner"
	"github.com/docpipe/docpipe/internal/search"
	"github.com/docpipe/docpipe/internal/store"
)

type stack struct {
	store    *store.SQLiteStore
	pipeline *ingest.Pipeline
	engine   *search.Engine
}

func newStack(t *testing.T) *stack {
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

	pipeline, err := ingest.NewPipeline(
		s,
		convert.NewRegistry(convert.NewTextConverter()),
		chunk.NewSplitter(nil),
		writer,
		chunk.Config{Strategy: chunk.StrategySentence, TargetSize: 64, Overlap: 1, Language: "en"},
		"",
		nil,
	)
	require.NoError(t, err)

	engine, err := search.NewEngine(s, embedder, vector, lexical, nil)
	require.NoError(t, err)

	return &stack{store: s, pipeline: pipeline, engine: engine}
}

// ingestTree scans root and feeds every discovered file through the
// pipeline, the same path the CLI takes for directory arguments.
func (st *stack) ingestTree(t *testing.T, root string) map[string]string {
	t.Helper()
	ctx := context.Background()

	results, err := scanner.Scan(ctx, scanner.Options{RootDir: root})
	require.NoError(t, err)

	docIDs := make(map[string]string)
	for r := range results {
		require.NoError(t, r.Err)
		data, err := os.ReadFile(r.File.AbsPath)
		require.NoError(t, err)

		report, err := st.pipeline.Ingest(ctx, filepath.Base(r.File.Path), r.File.MediaType, data)
		require.NoError(t, err)
		docIDs[r.File.Path] = report.DocumentID
	}
	return docIDs
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestScanIngestSearch(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"kayaks.md":        "Sea kayaks track straight in choppy water. A rudder helps in crosswinds.",
		"guides/bread.txt": "Sourdough bread needs a mature starter. Proof the dough overnight in the fridge.",
		"guides/knots.md":  "The bowline knot makes a fixed loop. It unties easily even after heavy load.",
	})

	docIDs := st.ingestTree(t, root)
	require.Len(t, docIDs, 3)

	docs, err := st.store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, doc := range docs {
		assert.Equal(t, store.StatusIndexed, doc.Status)
	}

	resp, err := st.engine.Search(ctx, "sourdough starter proofing", search.RetrievalConfig{Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, docIDs[filepath.Join("guides", "bread.txt")], resp.Results[0].Chunk.DocumentID)
	assert.False(t, resp.Degraded)
}

func TestReingestIdenticalBytesIsDuplicate(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	data := []byte("Identical content is stored once. The fingerprint is the identity.")
	first, err := st.pipeline.Ingest(ctx, "a.txt", "text/plain", data)
	require.NoError(t, err)
	second, err := st.pipeline.Ingest(ctx, "b.txt", "text/plain", data)
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.True(t, second.Duplicate)

	docs, err := st.store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDeleteRemovesFromBothBranches(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	report, err := st.pipeline.Ingest(ctx, "doomed.txt", "text/plain",
		[]byte("Ephemeral zygoma paradox. Ephemeral zygoma paradox repeated for weight."))
	require.NoError(t, err)

	resp, err := st.engine.Search(ctx, "ephemeral zygoma paradox", search.RetrievalConfig{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	require.NoError(t, st.pipeline.Delete(ctx, report.DocumentID))

	resp, err = st.engine.Search(ctx, "ephemeral zygoma paradox", search.RetrievalConfig{Limit: 5})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, report.DocumentID, r.Chunk.DocumentID)
	}
}

func TestSearchSurvivesReingestAfterEdit(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	v1, err := st.pipeline.Ingest(ctx, "doc.md", "text/markdown",
		[]byte("Original passage about tide tables and harbor currents."))
	require.NoError(t, err)

	v2, err := st.pipeline.Ingest(ctx, "doc.md", "text/markdown",
		[]byte("Revised passage about tide tables, harbor currents, and slack water."))
	require.NoError(t, err)
	require.NotEqual(t, v1.DocumentID, v2.DocumentID)

	// The old version stays until explicitly deleted; content
	// addressing makes the edit a new document.
	require.NoError(t, st.pipeline.Delete(ctx, v1.DocumentID))

	resp, err := st.engine.Search(ctx, "slack water currents", search.RetrievalConfig{Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, v2.DocumentID, resp.Results[0].Chunk.DocumentID)
}
