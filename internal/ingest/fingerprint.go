// Package ingest runs the upload-to-indexed pipeline: content
// fingerprinting and dedup, conversion, chunking, and the dual index
// write, with document status tracked in the metadata store at every
// transition.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/docpipe/docpipe/internal/store"
)

// Fingerprint returns the content fingerprint of raw document bytes:
// hex SHA-256. The fingerprint is the Document ID, so identical
// uploads resolve to the same Document.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a content-addressed chunk identifier from the owning
// document, position, and text. Re-indexing unchanged content
// reproduces the same IDs; any content change mints new ones, which
// invalidates stale rerank cache entries by key mismatch.
func ChunkID(docID string, ordinal int, startOffset int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00", docID, ordinal, startOffset)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentAddresser answers the dedup gate question: has this content
// been ingested already?
type ContentAddresser struct {
	store store.DocumentStore
}

// NewContentAddresser creates a content addresser over the store.
func NewContentAddresser(s store.DocumentStore) *ContentAddresser {
	return &ContentAddresser{store: s}
}

// Check looks up the fingerprint. A storage failure aborts ingestion
// here, before any conversion or embedding cost is spent.
func (a *ContentAddresser) Check(ctx context.Context, fingerprint string) (*store.Document, bool, error) {
	doc, err := a.store.GetDocument(ctx, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}
