// Package vectordb stores chunk vectors and answers thresholded,
// tag-scoped similarity queries.
package vectordb

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidQuery is returned for queries that cannot be executed.
var ErrInvalidQuery = errors.New("invalid vector query")

// Index defines the vector storage used by ingestion and retrieval. Writes
// are atomic per document with respect to concurrent searches.
type Index interface {
	// ReplaceDocument removes every vector of documentID and stores chunks
	// in their place.
	ReplaceDocument(ctx context.Context, documentID string, chunks []Chunk) error

	// DeleteDocument removes every vector of documentID.
	DeleteDocument(ctx context.Context, documentID string) error

	// Search returns chunks with similarity >= Threshold, best first, at
	// most TopK of them.
	Search(ctx context.Context, q Query) ([]Result, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Chunk is one stored window of a document together with the parent
// metadata returned by searches.
type Chunk struct {
	ID             string
	DocumentID     string
	Ordinal        int
	SpanStart      int
	SpanEnd        int
	Text           string
	Embedding      []float32
	EmbeddingModel string
	Title          string
	Author         string
	Tags           []string
	IndexedAt      time.Time
}

// Query describes a similarity search.
type Query struct {
	Embedding []float32
	// Model restricts the search to vectors produced by the same embedding
	// model. Empty matches every model.
	Model     string
	Threshold float32
	TopK      int
	// Tags, when non-empty, restricts candidates to chunks whose parent
	// document carries at least one of them before ranking.
	Tags []string
}

func (q Query) validate() error {
	if len(q.Embedding) == 0 {
		return errors.Join(ErrInvalidQuery, errors.New("empty query embedding"))
	}
	if q.TopK <= 0 {
		return errors.Join(ErrInvalidQuery, errors.New("topK must be positive"))
	}
	return nil
}

// Result pairs a chunk with its cosine similarity to the query. Result
// chunks carry no embedding.
type Result struct {
	Chunk      Chunk
	Similarity float32
}
