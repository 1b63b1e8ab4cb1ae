package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultCollection = "biblioteca_chunks"

const (
	keyDocumentID = "document_id"
	keyOrdinal    = "ordinal"
	keySpanStart  = "span_start"
	keySpanEnd    = "span_end"
	keyModel      = "embedding_model"
	keyTitle      = "title"
	keyAuthor     = "author"
	keyTags       = "tags"
	keyIndexedAt  = "indexed_at"
	tagKeyPrefix  = "tag:"
)

var tracer = otel.Tracer("github.com/ziadkadry99/biblioteca/internal/vectordb")

// ChromemIndex implements Index on an embedded chromem-go database. Cosine
// similarity is computed by chromem over normalised vectors.
type ChromemIndex struct {
	// mu makes per-document replace/delete atomic with respect to Search.
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemIndex opens an index persisted under dir, or an in-memory index
// when dir is empty. Chunks and queries always carry their vectors, so the
// collection has no embedding func of its own.
func NewChromemIndex(dir string) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", dir, err)
		}
	}

	col, err := db.GetOrCreateCollection(defaultCollection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemIndex{db: db, collection: col}, nil
}

// noEmbedding rejects text chromem would otherwise send to a remote model.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index: chunks must carry an embedding")
}

func (s *ChromemIndex) ReplaceDocument(ctx context.Context, documentID string, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "ChromemIndex.ReplaceDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID), attribute.Int("chunks", len(chunks)))

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ID, c.DocumentID, documentID)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: c.Embedding,
			Metadata:  chunkToMetadata(c),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteLocked(ctx, documentID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		// Leave nothing half-written behind.
		_ = s.deleteLocked(ctx, documentID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("add chunks of %s: %w", documentID, err)
	}
	return nil
}

func (s *ChromemIndex) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, documentID)
}

func (s *ChromemIndex) deleteLocked(ctx context.Context, documentID string) error {
	if err := s.collection.Delete(ctx, map[string]string{keyDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	return nil
}

func (s *ChromemIndex) Search(ctx context.Context, q Query) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()

	if err := q.validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem requires nResults <= collection size.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	base := map[string]string{}
	if q.Model != "" {
		base[keyModel] = q.Model
	}

	// A tag filter is a union, while chromem's where clause is a conjunction,
	// so each tag is queried separately. The top K of the union is contained
	// in the merge of every per-tag top K.
	var wheres []map[string]string
	if tags := NormalizeTags(q.Tags); len(tags) > 0 {
		for _, t := range tags {
			w := map[string]string{tagKeyPrefix + t: "1"}
			for k, v := range base {
				w[k] = v
			}
			wheres = append(wheres, w)
		}
	} else {
		wheres = append(wheres, base)
	}

	seen := make(map[string]bool)
	var merged []Result
	for _, where := range wheres {
		if len(where) == 0 {
			where = nil
		}
		res, err := s.queryWithTies(ctx, q.Embedding, q.TopK, count, where)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		for _, r := range res {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			c := metadataToChunk(r.Metadata)
			c.ID = r.ID
			c.Text = r.Content
			merged = append(merged, Result{Chunk: c, Similarity: r.Similarity})
		}
	}

	results := rank(merged, q.Threshold, q.TopK)
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// queryWithTies returns at least the topK best matches for where, widened
// until it also holds every candidate tied with the topK-th similarity.
// chromem picks arbitrarily among equal scores at its cut, so rank needs the
// whole tie group to order it by insertion.
func (s *ChromemIndex) queryWithTies(ctx context.Context, embedding []float32, topK, count int, where map[string]string) ([]chromem.Result, error) {
	n := min(topK, count)
	for {
		res, err := s.collection.QueryEmbedding(ctx, embedding, n, where, nil)
		if err != nil {
			return nil, err
		}
		sims := make([]float32, len(res))
		for i, r := range res {
			sims[i] = r.Similarity
		}
		if n == count || coversTies(sims, n, topK) {
			return res, nil
		}
		n = min(2*n, count)
	}
}

func (s *ChromemIndex) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), nil
}

// Close is a no-op: the persistent DB writes through on every change.
func (s *ChromemIndex) Close() error { return nil }

// chunkToMetadata flattens chunk metadata to chromem's map[string]string.
// Every tag also gets its own key so it can be matched by a where clause.
func chunkToMetadata(c Chunk) map[string]string {
	tags := NormalizeTags(c.Tags)
	tagsJSON, _ := json.Marshal(tags)
	md := map[string]string{
		keyDocumentID: c.DocumentID,
		keyOrdinal:    strconv.Itoa(c.Ordinal),
		keySpanStart:  strconv.Itoa(c.SpanStart),
		keySpanEnd:    strconv.Itoa(c.SpanEnd),
		keyModel:      c.EmbeddingModel,
		keyTitle:      c.Title,
		keyAuthor:     c.Author,
		keyTags:       string(tagsJSON),
		keyIndexedAt:  strconv.FormatInt(c.IndexedAt.UnixNano(), 10),
	}
	for _, t := range tags {
		md[tagKeyPrefix+t] = "1"
	}
	return md
}

func metadataToChunk(m map[string]string) Chunk {
	ordinal, _ := strconv.Atoi(m[keyOrdinal])
	spanStart, _ := strconv.Atoi(m[keySpanStart])
	spanEnd, _ := strconv.Atoi(m[keySpanEnd])
	indexedAt, _ := strconv.ParseInt(m[keyIndexedAt], 10, 64)

	var tags []string
	_ = json.Unmarshal([]byte(m[keyTags]), &tags)

	return Chunk{
		DocumentID:     m[keyDocumentID],
		Ordinal:        ordinal,
		SpanStart:      spanStart,
		SpanEnd:        spanEnd,
		EmbeddingModel: m[keyModel],
		Title:          m[keyTitle],
		Author:         m[keyAuthor],
		Tags:           tags,
		IndexedAt:      time.Unix(0, indexedAt),
	}
}
