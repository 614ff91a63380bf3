// Package convert turns raw document bytes into normalized text for
// chunking. The converter contract is deliberately narrow: input bytes
// plus a media type, output normalized text plus whatever page
// metadata the format exposes.
package convert

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

// PageMeta locates a page or section within the normalized text.
type PageMeta struct {
	Number      int
	Section     string
	StartOffset int
	EndOffset   int
}

// Result is the output of a conversion.
type Result struct {
	Text  string
	Pages []PageMeta
}

// Converter converts one family of media types to normalized text.
type Converter interface {
	// Convert produces normalized text from raw bytes.
	Convert(ctx context.Context, data []byte, mediaType string) (*Result, error)

	// Supports reports whether the converter handles the media type.
	Supports(mediaType string) bool
}

// Registry dispatches conversions to the first converter supporting
// the media type.
type Registry struct {
	converters []Converter
}

// NewRegistry creates a registry with the given converters, consulted
// in order.
func NewRegistry(converters ...Converter) *Registry {
	return &Registry{converters: converters}
}

// Convert dispatches to a supporting converter. An unsupported media
// type is a validation error, not a conversion failure.
func (r *Registry) Convert(ctx context.Context, data []byte, mediaType string) (*Result, error) {
	for _, c := range r.converters {
		if c.Supports(mediaType) {
			return c.Convert(ctx, data, mediaType)
		}
	}
	return nil, pipeerrors.New(pipeerrors.ErrCodeUnsupportedMedia,
		fmt.Sprintf("no converter for media type %q", mediaType), nil)
}

// Supports reports whether any registered converter handles the media type.
func (r *Registry) Supports(mediaType string) bool {
	for _, c := range r.converters {
		if c.Supports(mediaType) {
			return true
		}
	}
	return false
}

// TextConverter handles plain text and markdown. Input is decoded as
// UTF-8 with a Latin-1 fallback for legacy files, and line endings are
// normalized to LF so chunk offsets stay platform-independent.
type TextConverter struct{}

var _ Converter = (*TextConverter)(nil)

// NewTextConverter creates a text converter.
func NewTextConverter() *TextConverter {
	return &TextConverter{}
}

// Supports reports true for text/plain and text/markdown.
func (c *TextConverter) Supports(mediaType string) bool {
	switch baseMediaType(mediaType) {
	case "text/plain", "text/markdown", "text/x-markdown":
		return true
	}
	return false
}

// Convert decodes and normalizes the input bytes. Markdown input gets
// section metadata extracted from its headings.
func (c *TextConverter) Convert(ctx context.Context, data []byte, mediaType string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := decodeText(data)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	result := &Result{Text: text}
	if baseMediaType(mediaType) != "text/plain" {
		result.Pages = markdownSections(text)
	}
	return result, nil
}

// decodeText returns the input as a string, reinterpreting invalid
// UTF-8 as Latin-1 so legacy files never fail conversion.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}

	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// markdownSections extracts heading-delimited sections as page metadata.
func markdownSections(text string) []PageMeta {
	var sections []PageMeta
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if title, ok := headingTitle(trimmed); ok {
			if n := len(sections); n > 0 {
				sections[n-1].EndOffset = offset
			}
			sections = append(sections, PageMeta{
				Number:      len(sections) + 1,
				Section:     title,
				StartOffset: offset,
			})
		}
		offset += len(line)
	}
	if n := len(sections); n > 0 {
		sections[n-1].EndOffset = len(text)
	}
	return sections
}

func headingTitle(line string) (string, bool) {
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	rest := strings.TrimLeft(line, "#")
	if rest == "" || !strings.HasPrefix(rest, " ") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// baseMediaType strips parameters such as charset.
func baseMediaType(mediaType string) string {
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
