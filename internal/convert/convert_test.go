package convert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

func TestTextConverter_PlainText(t *testing.T) {
	c := NewTextConverter()

	result, err := c.Convert(context.Background(), []byte("hello world\n"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.Text)
	assert.Empty(t, result.Pages)
}

func TestTextConverter_NormalizesLineEndings(t *testing.T) {
	c := NewTextConverter()

	result, err := c.Convert(context.Background(), []byte("line one\r\nline two\rline three"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\nline three", result.Text)
}

func TestTextConverter_Latin1Fallback(t *testing.T) {
	c := NewTextConverter()

	// 0xE9 is é in Latin-1 but invalid standalone UTF-8.
	result, err := c.Convert(context.Background(), []byte{'c', 'a', 'f', 0xE9}, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "café", result.Text)
}

func TestTextConverter_MarkdownSections(t *testing.T) {
	c := NewTextConverter()

	input := "# Intro\nfirst part\n## Details\nsecond part\nnot # a heading\n"
	result, err := c.Convert(context.Background(), []byte(input), "text/markdown")
	require.NoError(t, err)

	require.Len(t, result.Pages, 2)
	assert.Equal(t, "Intro", result.Pages[0].Section)
	assert.Equal(t, 1, result.Pages[0].Number)
	assert.Equal(t, "Details", result.Pages[1].Section)
	assert.Equal(t, result.Pages[0].EndOffset, result.Pages[1].StartOffset)
	assert.Equal(t, len(result.Text), result.Pages[1].EndOffset)
}

func TestTextConverter_SupportsMediaTypeParameters(t *testing.T) {
	c := NewTextConverter()

	assert.True(t, c.Supports("text/plain; charset=utf-8"))
	assert.True(t, c.Supports("text/markdown"))
	assert.False(t, c.Supports("application/pdf"))
}

func TestRegistry_UnsupportedMediaType(t *testing.T) {
	r := NewRegistry(NewTextConverter())

	_, err := r.Convert(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeUnsupportedMedia, pipeerrors.GetCode(err))
	assert.False(t, r.Supports("application/pdf"))
}

func TestRegistry_DispatchesToConverter(t *testing.T) {
	r := NewRegistry(NewTextConverter())

	result, err := r.Convert(context.Background(), []byte("content"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "content", result.Text)
}
