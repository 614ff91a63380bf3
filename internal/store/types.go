// Package store provides the persistence layer for docpipe: document and
// chunk state in SQLite, vector search over HNSW, and lexical search over
// Bleve. The metadata store is the source of truth for the chunk identifier
// mapping; the two indexes each hold an independent copy keyed by chunk ID
// and can be repaired from it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStatus tracks a document's progress through the ingestion pipeline.
type DocumentStatus string

const (
	// StatusPending means the upload was accepted but not yet converted.
	StatusPending DocumentStatus = "pending"
	// StatusConverted means conversion produced normalized text.
	StatusConverted DocumentStatus = "converted"
	// StatusChunked means chunking completed and index writes may begin.
	StatusChunked DocumentStatus = "chunked"
	// StatusIndexed means every chunk landed in both indexes.
	StatusIndexed DocumentStatus = "indexed"
	// StatusPartial means at least one chunk reached only one index.
	StatusPartial DocumentStatus = "partial"
	// StatusFailed means ingestion aborted; the document can be re-uploaded.
	StatusFailed DocumentStatus = "failed"
)

// Document represents an ingested document. The ID is the content
// fingerprint (hex SHA-256 of the raw bytes), so identical uploads
// resolve to the same row.
type Document struct {
	ID         string // hex SHA-256 of raw bytes
	Filename   string
	MediaType  string
	ByteSize   int64
	Status     DocumentStatus
	StatusMsg  string // last pipeline error detail, empty when healthy
	ChunkCount int
	IngestedAt time.Time
	UpdatedAt  time.Time
}

// Chunk is the atomic unit of retrieval: a contiguous, possibly
// overlapping slice of a document's normalized text.
//
// Chunk IDs are content-addressed (document ID + ordinal + offsets +
// text hash), so re-indexing unchanged content reuses the same IDs
// while any content change mints new ones.
type Chunk struct {
	ID          string
	DocumentID  string
	Ordinal     int    // 0-based position within the document
	Text        string
	StartOffset int    // byte offset into the normalized text
	EndOffset   int    // exclusive
	TokenCount  int    // estimate attached by the chunker
	Page        int    // page number from conversion metadata (0 = unknown)
	Section     string // section title from conversion metadata, if any
	CreatedAt   time.Time
}

// ChunkMeta is the metadata copy written alongside a chunk into each index.
type ChunkMeta struct {
	DocumentID string
	Ordinal    int
}

// DocumentStore persists document and chunk state.
// A document exclusively owns its chunks: deleting the document cascades.
type DocumentStore interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, msg string) error
	DeleteDocument(ctx context.Context, id string) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDocument(ctx context.Context, docID string) ([]*Chunk, error)
	ChunkIDsByDocument(ctx context.Context, docID string) ([]string, error)
	DeleteChunksByDocument(ctx context.Context, docID string) error

	// Lifecycle
	Close() error
}

// VectorHit is a single vector index result.
type VectorHit struct {
	ChunkID string
	Score   float64 // backend-defined similarity, higher is better
}

// LexicalHit is a single lexical index result.
type LexicalHit struct {
	ChunkID string
	Score   float64 // backend-defined relevance, higher is better
}

// VectorIndex is the vector retrieval backend. Writes are per chunk so
// the dual-index writer can track which side of a write succeeded.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, meta ChunkMeta) error
	Query(ctx context.Context, vector []float32, topK int) ([]*VectorHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// LexicalIndex is the keyword retrieval backend.
type LexicalIndex interface {
	Upsert(ctx context.Context, id string, text string, meta ChunkMeta) error
	Query(ctx context.Context, query string, topK int) ([]*LexicalHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() (uint64, error)
	Close() error
}

// VectorIndexConfig configures the HNSW vector index.
type VectorIndexConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible defaults for the vector index.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
