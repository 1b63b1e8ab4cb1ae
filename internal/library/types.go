// Package library owns the reference document catalog: ingestion, metadata,
// chunk storage and the vectors derived from it.
package library

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidKind is returned for a kind outside paper, guide and manual.
	ErrInvalidKind = errors.New("invalid document kind")
)

// UnknownAuthor is stored when neither the uploader nor inference supplied an
// author.
const UnknownAuthor = "Autor desconocido"

// Kind classifies a reference document.
type Kind string

const (
	KindPaper  Kind = "paper"
	KindGuide  Kind = "guide"
	KindManual Kind = "manual"
)

// DefaultKind is used when the uploader does not choose one.
const DefaultKind = KindPaper

// ParseKind validates s. An empty string yields DefaultKind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return DefaultKind, nil
	case KindPaper, KindGuide, KindManual:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Document is one uploaded reference item.
type Document struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	Kind           Kind      `json:"kind"`
	Description    string    `json:"description"`
	Tags           []string  `json:"tags"`
	FileName       string    `json:"fileName"`
	ContentHash    string    `json:"contentHash"`
	ChunkCount     int       `json:"chunkCount"`
	EmbeddingModel string    `json:"embeddingModel"`
	UploadedBy     string    `json:"uploadedBy,omitempty"`
	UploadedAt     time.Time `json:"uploadedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Chunk is one embedded window of a document.
type Chunk struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"documentId"`
	Ordinal        int       `json:"ordinal"`
	SpanStart      int       `json:"spanStart"`
	SpanEnd        int       `json:"spanEnd"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embeddingModel"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IngestRequest carries an uploaded file and the metadata supplied with it.
// Empty fields are inferred or defaulted.
type IngestRequest struct {
	Data        []byte
	FileName    string
	Title       string
	Author      string
	Kind        string
	Description string
	Tags        []string
	// ReplaceID names an existing document whose content is superseded.
	ReplaceID  string
	UploadedBy string
}

// IngestResult is returned by a successful ingestion.
type IngestResult struct {
	ID     string `json:"id"`
	Chunks int    `json:"chunks"`
	// Replaced is true when an existing document was superseded.
	Replaced bool `json:"replaced"`
}

// MetadataUpdate edits document metadata. Nil fields are left unchanged.
type MetadataUpdate struct {
	Title       *string   `json:"title,omitempty"`
	Author      *string   `json:"author,omitempty"`
	Kind        *string   `json:"kind,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

func (u MetadataUpdate) changedFields() map[string]string {
	changed := map[string]string{}
	if u.Title != nil {
		changed["title"] = *u.Title
	}
	if u.Author != nil {
		changed["author"] = *u.Author
	}
	if u.Kind != nil {
		changed["kind"] = *u.Kind
	}
	if u.Description != nil {
		changed["description"] = *u.Description
	}
	if u.Tags != nil {
		changed["tags"] = strings.Join(*u.Tags, ",")
	}
	return changed
}

// SearchRequest is a direct similarity search over the library.
type SearchRequest struct {
	Query     string   `json:"query"`
	Tags      []string `json:"tags,omitempty"`
	Threshold *float32 `json:"threshold,omitempty"`
	TopK      int      `json:"topK,omitempty"`
}

// SearchHit is one ranked fragment.
type SearchHit struct {
	ChunkText    string   `json:"chunkText"`
	ParentTitle  string   `json:"parentTitle"`
	ParentAuthor string   `json:"parentAuthor"`
	Similarity   float32  `json:"similarity"`
	DocumentID   string   `json:"documentId"`
	Tags         []string `json:"tags,omitempty"`
}

// ReindexResult summarises a reindex run.
type ReindexResult struct {
	Reembedded int `json:"reembedded"`
	Resynced   int `json:"resynced"`
}
