package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, false)

	w.Line("plain %d", 7)
	w.Success("indexed %s", "doc.md")
	w.Warning("skipped %s", "empty.txt")
	w.Error("failed %s", "broken.md")

	out := buf.String()
	assert.Contains(t, out, "plain 7")
	assert.Contains(t, out, "[ok] indexed doc.md")
	assert.Contains(t, out, "[warn] skipped empty.txt")
	assert.Contains(t, out, "[fail] failed broken.md")
}

func TestProgress_SuppressedWhenNotInteractive(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, false)

	w.Progress(1, 10, "working")
	assert.Empty(t, buf.String())
}

func TestProgress_RendersBarAndPercent(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, true)

	w.Progress(5, 10, "halfway")
	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "halfway")
	assert.True(t, strings.HasPrefix(out, "\r"))

	buf.Reset()
	w.Progress(10, 10, "done")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestRenderProgressBar_Bounds(t *testing.T) {
	assert.Equal(t, strings.Repeat("░", 10), renderProgressBar(0, 0, 10))
	assert.Equal(t, strings.Repeat("█", 10), renderProgressBar(20, 10, 10))
	assert.Equal(t, strings.Repeat("░", 10), renderProgressBar(-5, 10, 10))
}
