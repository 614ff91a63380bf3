package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collect(t *testing.T, opts Options) (files []*FileInfo, errs []error) {
	t.Helper()
	results, err := Scan(context.Background(), opts)
	require.NoError(t, err)
	for r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		files = append(files, r.File)
	}
	return files, errs
}

func paths(files []*FileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestScan_FindsIngestibleFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "readme.md", "# readme")
	writeFile(t, root, "docs/guide.txt", "guide")
	writeFile(t, root, "docs/deep/notes.markdown", "notes")

	files, errs := collect(t, Options{RootDir: root})
	assert.Empty(t, errs)
	assert.ElementsMatch(t,
		[]string{"readme.md", filepath.Join("docs", "guide.txt"), filepath.Join("docs", "deep", "notes.markdown")},
		paths(files))
}

func TestScan_SkipsUnsupportedMediaTypes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "text")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "archive.zip", "binary")

	files, errs := collect(t, Options{RootDir: root})
	assert.Empty(t, errs)
	assert.Equal(t, []string{"doc.md"}, paths(files))
}

func TestScan_SkipsHiddenEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "text")
	writeFile(t, root, ".hidden.md", "text")
	writeFile(t, root, ".git/notes.md", "text")
	writeFile(t, root, ".docpipe/state.txt", "text")

	files, _ := collect(t, Options{RootDir: root})
	assert.Equal(t, []string{"doc.md"}, paths(files))
}

func TestScan_ExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.md", "text")
	writeFile(t, root, "drafts/wip.md", "text")
	writeFile(t, root, "skipped.txt", "text")

	files, _ := collect(t, Options{
		RootDir:         root,
		ExcludePatterns: []string{"drafts", "skipped.*"},
	})
	assert.Equal(t, []string{"keep.md"}, paths(files))
}

func TestScan_OversizedFileIsAnError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", "0123456789")
	writeFile(t, root, "small.txt", "ok")

	files, errs := collect(t, Options{RootDir: root, MaxFileSize: 5})
	assert.Equal(t, []string{"small.txt"}, paths(files))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "exceeds limit")
}

func TestScan_PopulatesMetadata(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "hello")

	files, _ := collect(t, Options{RootDir: root})
	require.Len(t, files, 1)
	f := files[0]
	assert.Equal(t, "doc.md", f.Path)
	assert.Equal(t, filepath.Join(root, "doc.md"), f.AbsPath)
	assert.Equal(t, int64(5), f.Size)
	assert.Equal(t, "text/markdown", f.MediaType)
	assert.False(t, f.ModTime.IsZero())
}

func TestScan_RootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "text")

	_, err := Scan(context.Background(), Options{RootDir: filepath.Join(root, "doc.md")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestScan_CancellationStopsStream(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, root, filepath.Join("d", "f"+string(rune('a'+i%26))+".md"), "text")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := Scan(ctx, Options{RootDir: root})
	require.NoError(t, err)
	count := 0
	for range results {
		count++
	}
	// The walk aborts early; at most the buffered handful gets through.
	assert.Less(t, count, 50)
}
