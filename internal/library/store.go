package library

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ziadkadry99/biblioteca/internal/db"
)

// errCommit marks a failure after the vector side effect already ran, so the
// caller knows the index must be resynchronised from the catalog.
var errCommit = errors.New("committing catalog transaction")

// Store persists documents, tags and chunks in SQLite.
type Store struct {
	db *db.DB
}

// NewStore creates a new catalog store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

const documentColumns = `id, title, author, kind, description, file_name, content_hash, chunk_count,
	embedding_model, uploaded_by, uploaded_at, updated_at`

// Replace writes doc and supersedes all of its previous chunks and tags in one
// transaction. apply runs after the rows are written and before commit; when it
// fails nothing is committed.
func (s *Store) Replace(ctx context.Context, doc *Document, chunks []Chunk, apply func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, author = excluded.author,
		   kind = excluded.kind, description = excluded.description, file_name = excluded.file_name,
		   content_hash = excluded.content_hash, chunk_count = excluded.chunk_count,
		   embedding_model = excluded.embedding_model, updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Author, string(doc.Kind), doc.Description, doc.FileName, doc.ContentHash,
		len(chunks), doc.EmbeddingModel, doc.UploadedBy, doc.UploadedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	if err := writeTags(ctx, tx, doc.ID, doc.Tags); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("deleting previous chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, ordinal, span_start, span_end, text, embedding, embedding_model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.DocumentID != doc.ID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ID, c.DocumentID, doc.ID)
		}
		_, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Ordinal, c.SpanStart, c.SpanEnd, c.Text,
			encodeEmbedding(c.Embedding), c.EmbeddingModel, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Ordinal, err)
		}
	}

	return finish(tx, apply)
}

// UpdateMetadata rewrites the editable fields and tags of doc.
func (s *Store) UpdateMetadata(ctx context.Context, doc *Document, apply func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET title = ?, author = ?, kind = ?, description = ?, updated_at = ? WHERE id = ?`,
		doc.Title, doc.Author, string(doc.Kind), doc.Description, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}

	if err := writeTags(ctx, tx, doc.ID, doc.Tags); err != nil {
		return err
	}
	return finish(tx, apply)
}

// Delete removes the document with its chunks and tags.
func (s *Store) Delete(ctx context.Context, id string, apply func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Also cascaded, unless foreign keys are off for this connection.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_tags WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("deleting tags: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return finish(tx, apply)
}

func finish(tx *sql.Tx, apply func() error) error {
	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", errCommit, err)
	}
	return nil
}

func writeTags(ctx context.Context, tx *sql.Tx, docID string, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_tags WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("clearing tags: %w", err)
	}
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO document_tags (document_id, tag) VALUES (?, ?)`, docID, t); err != nil {
			return fmt.Errorf("inserting tag %q: %w", t, err)
		}
	}
	return nil
}

// Get returns a document by ID.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	if doc.Tags, err = s.tags(ctx, id); err != nil {
		return nil, err
	}
	return doc, nil
}

// FindByHash returns the document whose normalised text hashes to hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (*Document, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE content_hash = ? ORDER BY uploaded_at LIMIT 1`, hash,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding document by hash: %w", err)
	}
	return s.Get(ctx, id)
}

// List returns documents in upload order. A non-empty tag restricts the list
// to documents carrying it.
func (s *Store) List(ctx context.Context, tag string) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if tag != "" {
		query += ` WHERE id IN (SELECT document_id FROM document_tags WHERE tag = ?)`
		args = append(args, strings.ToLower(strings.TrimSpace(tag)))
	}
	query += ` ORDER BY uploaded_at, title`
	return s.listDocuments(ctx, query, args...)
}

// StaleDocuments returns documents whose chunks were embedded with a model
// other than model.
func (s *Store) StaleDocuments(ctx context.Context, model string) ([]Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE embedding_model != ? ORDER BY uploaded_at, title`, model)
}

func (s *Store) listDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	all, err := s.allTags(ctx)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Tags = all[docs[i].ID]
	}
	return docs, nil
}

// Count returns the number of documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// Chunks returns the stored chunks of a document in ordinal order, including
// their embeddings.
func (s *Store) Chunks(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, ordinal, span_start, span_end, text, embedding, embedding_model, created_at
		 FROM chunks WHERE document_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c    Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.SpanStart, &c.SpanEnd, &c.Text, &blob, &c.EmbeddingModel, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) tags(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM document_tags WHERE document_id = ? ORDER BY tag`, docID)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) allTags(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id, tag FROM document_tags ORDER BY document_id, tag`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var id, t string
		if err := rows.Scan(&id, &t); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		out[id] = append(out[id], t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var (
		d    Document
		kind string
	)
	err := row.Scan(&d.ID, &d.Title, &d.Author, &kind, &d.Description, &d.FileName, &d.ContentHash,
		&d.ChunkCount, &d.EmbeddingModel, &d.UploadedBy, &d.UploadedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Kind = Kind(kind)
	return &d, nil
}

// encodeEmbedding stores a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 vector", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
