package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

// SQLiteStore implements DocumentStore backed by SQLite.
// WAL mode keeps readers unblocked during ingestion writes.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ DocumentStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	media_type   TEXT NOT NULL,
	byte_size    INTEGER NOT NULL,
	status       TEXT NOT NULL,
	status_msg   TEXT NOT NULL DEFAULT '',
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	ingested_at  TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	ordinal      INTEGER NOT NULL,
	text         TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	token_count  INTEGER NOT NULL,
	page         INTEGER NOT NULL DEFAULT 0,
	section      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, ordinal);
`

// NewSQLiteStore opens (or creates) the metadata database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// foreign_keys is per-connection in SQLite; it must ride the DSN so
	// every pooled connection enforces the chunk cascade, not just the
	// one that ran the opening pragma.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// SaveDocument inserts or replaces a document row.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, media_type, byte_size, status, status_msg, chunk_count, ingested_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			media_type = excluded.media_type,
			byte_size = excluded.byte_size,
			status = excluded.status,
			status_msg = excluded.status_msg,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Filename, doc.MediaType, doc.ByteSize,
		string(doc.Status), doc.StatusMsg, doc.ChunkCount,
		doc.IngestedAt, doc.UpdatedAt)
	if err != nil {
		return pipeerrors.StorageError("save document", err)
	}
	return nil
}

// GetDocument returns the document with the given ID (content fingerprint).
// Returns ErrNotFound when no such document exists.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, media_type, byte_size, status, status_msg, chunk_count, ingested_at, updated_at
		FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pipeerrors.StorageError("get document", err)
	}
	return doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, media_type, byte_size, status, status_msg, chunk_count, ingested_at, updated_at
		FROM documents ORDER BY ingested_at DESC`)
	if err != nil {
		return nil, pipeerrors.StorageError("list documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, pipeerrors.StorageError("scan document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeerrors.StorageError("list documents", err)
	}
	return docs, nil
}

// UpdateDocumentStatus transitions a document's processing status.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, status_msg = ?, updated_at = ? WHERE id = ?`,
		string(status), msg, time.Now().UTC(), id)
	if err != nil {
		return pipeerrors.StorageError("update document status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document and, via the foreign key cascade,
// all of its chunks. Index cleanup is the caller's responsibility.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return pipeerrors.StorageError("delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChunksByDocument removes all chunk rows for a document and
// resets its chunk count. Used when reprocessing replaces a previous
// attempt whose chunk IDs may differ.
func (s *SQLiteStore) DeleteChunksByDocument(ctx context.Context, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeerrors.StorageError("begin chunk delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return pipeerrors.StorageError("delete chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET chunk_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), docID); err != nil {
		return pipeerrors.StorageError("reset chunk count", err)
	}

	if err := tx.Commit(); err != nil {
		return pipeerrors.StorageError("commit chunk delete", err)
	}
	return nil
}

// SaveChunks inserts chunks in a single transaction, replacing on ID conflict.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeerrors.StorageError("begin chunk save", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, ordinal, text, start_offset, end_offset, token_count, page, section, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			token_count = excluded.token_count,
			page = excluded.page,
			section = excluded.section`)
	if err != nil {
		return pipeerrors.StorageError("prepare chunk save", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Ordinal, c.Text,
			c.StartOffset, c.EndOffset, c.TokenCount,
			c.Page, c.Section, createdAt); err != nil {
			return pipeerrors.StorageError("save chunk", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET chunk_count = (SELECT COUNT(*) FROM chunks WHERE document_id = ?), updated_at = ?
		WHERE id = ?`, chunks[0].DocumentID, now, chunks[0].DocumentID); err != nil {
		return pipeerrors.StorageError("update chunk count", err)
	}

	if err := tx.Commit(); err != nil {
		return pipeerrors.StorageError("commit chunk save", err)
	}
	return nil
}

// GetChunk returns a single chunk by ID. Returns ErrNotFound when absent.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, ordinal, text, start_offset, end_offset, token_count, page, section, created_at
		FROM chunks WHERE id = ?`, id)

	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pipeerrors.StorageError("get chunk", err)
	}
	return chunk, nil
}

// GetChunks batch-fetches chunks by ID. IDs without a matching chunk are
// silently omitted (index orphans are filtered here during enrichment).
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, document_id, ordinal, text, start_offset, end_offset, token_count, page, section, created_at
		FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, pipeerrors.StorageError("get chunks", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// GetChunksByDocument returns a document's chunks in ordinal order.
func (s *SQLiteStore) GetChunksByDocument(ctx context.Context, docID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, text, start_offset, end_offset, token_count, page, section, created_at
		FROM chunks WHERE document_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, pipeerrors.StorageError("get chunks by document", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// ChunkIDsByDocument returns a document's chunk IDs in ordinal order.
// Used for cascade deletes against the two indexes.
func (s *SQLiteStore) ChunkIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM chunks WHERE document_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, pipeerrors.StorageError("get chunk ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pipeerrors.StorageError("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var status string
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.MediaType, &doc.ByteSize,
		&status, &doc.StatusMsg, &doc.ChunkCount, &doc.IngestedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	return &doc, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text,
		&c.StartOffset, &c.EndOffset, &c.TokenCount, &c.Page, &c.Section, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, pipeerrors.StorageError("scan chunk", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
