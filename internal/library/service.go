package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/biblioteca/internal/audit"
	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/chunker"
	"github.com/ziadkadry99/biblioteca/internal/embeddings"
	"github.com/ziadkadry99/biblioteca/internal/extract"
	"github.com/ziadkadry99/biblioteca/internal/logging"
	"github.com/ziadkadry99/biblioteca/internal/metrics"
	"github.com/ziadkadry99/biblioteca/internal/vectordb"
)

var tracer = otel.Tracer("github.com/ziadkadry99/biblioteca/internal/library")

// Options tunes a Service.
type Options struct {
	// MaxConcurrency bounds parallel embedding calls per document.
	MaxConcurrency int
	InferMetadata  bool
	SuggestTags    bool
	// SearchThreshold and SearchTopK are the defaults for Search.
	SearchThreshold float32
	SearchTopK      int
}

// Service runs ingestion and catalog maintenance. The SQLite catalog and the
// vector index are kept in step per document.
type Service struct {
	store      *Store
	index      vectordb.Index
	embedder   embeddings.Embedder
	splitter   *chunker.Splitter
	inferencer *Inferencer
	opts       Options
	logger     *zap.Logger
	locks      *keyedMutex
	journal    Journal
	now        func() time.Time
}

// Journal records library changes. *audit.Store satisfies it.
type Journal interface {
	Log(ctx context.Context, entry audit.Entry) error
}

// SetJournal makes the service record every successful change to j.
func (s *Service) SetJournal(j Journal) { s.journal = j }

func (s *Service) record(ctx context.Context, actor string, action audit.Action, docID, summary string, detail map[string]string) {
	if s.journal == nil {
		return
	}
	p := auth.FromContext(ctx)
	if actor == "" {
		actor = p.UserID
	}
	entry := audit.Entry{Actor: actor, Role: p.Role, Action: action, DocumentID: docID, Summary: summary, Detail: detail}
	if err := s.journal.Log(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", string(action)), zap.Error(err))
	}
}

// NewService wires a Service. inferencer may be nil, which disables metadata
// and tag inference.
func NewService(store *Store, index vectordb.Index, embedder embeddings.Embedder, splitter *chunker.Splitter,
	inferencer *Inferencer, opts Options, logger *zap.Logger) *Service {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.SearchTopK <= 0 {
		opts.SearchTopK = 8
	}
	return &Service{
		store:      store,
		index:      index,
		embedder:   embedder,
		splitter:   splitter,
		inferencer: inferencer,
		opts:       opts,
		logger:     logging.OrNop(logger),
		locks:      newKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest extracts, chunks and embeds a file and stores it as a new document,
// or supersedes an existing one named by ReplaceID or holding identical text.
// Either every chunk of the document is stored or none is.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (res *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "library.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("file_name", req.FileName))

	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.DocumentsIngested.WithLabelValues(result).Inc()
	}()

	kind, err := ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}

	extracted, err := extract.Extract(req.Data, req.FileName)
	if err != nil {
		return nil, err
	}
	hash := contentHash(extracted.Text)

	var previous *Document
	if req.ReplaceID != "" {
		unlock := s.locks.Lock(req.ReplaceID)
		defer unlock()
		if previous, err = s.store.Get(ctx, req.ReplaceID); err != nil {
			return nil, err
		}
	} else {
		unlockHash := s.locks.Lock("sha256:" + hash)
		defer unlockHash()
		previous, err = s.store.FindByHash(ctx, hash)
		switch {
		case errors.Is(err, ErrNotFound):
			previous = nil
		case err != nil:
			return nil, err
		default:
			unlock := s.locks.Lock(previous.ID)
			defer unlock()
		}
	}

	doc := s.resolveMetadata(ctx, req, kind, extracted, previous)
	doc.ContentHash = hash
	doc.EmbeddingModel = s.embedder.Name()

	windows := s.splitter.Split(extracted.Text)
	chunks, err := s.embedWindows(ctx, doc.ID, windows)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", req.FileName, err)
	}
	doc.ChunkCount = len(chunks)
	span.SetAttributes(attribute.String("document_id", doc.ID), attribute.Int("chunks", len(chunks)))

	if err := s.persist(ctx, doc, chunks); err != nil {
		return nil, err
	}
	metrics.ChunksIndexed.Add(float64(len(chunks)))

	s.logger.Info("document ingested",
		zap.String("id", doc.ID),
		zap.String("title", doc.Title),
		zap.Int("chunks", len(chunks)),
		zap.Bool("replaced", previous != nil))

	action := audit.ActionIngested
	if previous != nil {
		action = audit.ActionReplaced
	}
	s.record(ctx, req.UploadedBy, action, doc.ID, doc.Title, map[string]string{
		"fileName": req.FileName,
		"chunks":   fmt.Sprint(len(chunks)),
	})

	return &IngestResult{ID: doc.ID, Chunks: len(chunks), Replaced: previous != nil}, nil
}

// resolveMetadata fills title, author and tags from the request, then the
// previous version, then the model, then the file itself.
func (s *Service) resolveMetadata(ctx context.Context, req IngestRequest, kind Kind, extracted *extract.Result, previous *Document) *Document {
	now := s.now()
	doc := &Document{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(req.Title),
		Author:      strings.TrimSpace(req.Author),
		Kind:        kind,
		Description: strings.TrimSpace(req.Description),
		Tags:        vectordb.NormalizeTags(req.Tags),
		FileName:    filepath.Base(req.FileName),
		UploadedBy:  req.UploadedBy,
		UploadedAt:  now,
		UpdatedAt:   now,
	}

	if previous != nil {
		doc.ID = previous.ID
		doc.UploadedAt = previous.UploadedAt
		doc.UploadedBy = previous.UploadedBy
		if doc.Title == "" {
			doc.Title = previous.Title
		}
		if doc.Author == "" || doc.Author == UnknownAuthor {
			doc.Author = previous.Author
		}
		if req.Kind == "" {
			doc.Kind = previous.Kind
		}
		if doc.Description == "" {
			doc.Description = previous.Description
		}
		if len(doc.Tags) == 0 {
			doc.Tags = previous.Tags
		}
	}

	if s.inferencer != nil && s.opts.InferMetadata && (doc.Title == "" || doc.Author == "" || doc.Author == UnknownAuthor) {
		inferred := s.inferencer.InferOrNull(ctx, extracted.Text)
		if doc.Title == "" {
			doc.Title = inferred.Title
		}
		if doc.Author == "" || doc.Author == UnknownAuthor {
			doc.Author = inferred.Author
		}
	}
	if s.inferencer != nil && s.opts.SuggestTags && len(doc.Tags) == 0 {
		doc.Tags = s.inferencer.SuggestTagsOrNil(ctx, extracted.Text)
	}

	if doc.Title == "" {
		doc.Title = extracted.DeclaredTitle
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(doc.FileName, filepath.Ext(doc.FileName))
	}
	if doc.Author == "" {
		doc.Author = UnknownAuthor
	}
	return doc
}

// embedWindows embeds every window with bounded parallelism. The first
// failure cancels the remaining calls.
func (s *Service) embedWindows(ctx context.Context, docID string, windows []chunker.Window) ([]Chunk, error) {
	chunks := make([]Chunk, len(windows))
	created := s.now()
	model := s.embedder.Name()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for i, w := range windows {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, w.Text)
			if err != nil {
				return fmt.Errorf("window %d: %w", w.Ordinal, err)
			}
			if len(vec) == 0 {
				return fmt.Errorf("window %d: %w: empty vector from %s", w.Ordinal, embeddings.ErrUnavailable, model)
			}
			chunks[i] = Chunk{
				ID:             uuid.New().String(),
				DocumentID:     docID,
				Ordinal:        w.Ordinal,
				SpanStart:      w.Start,
				SpanEnd:        w.End,
				Text:           w.Text,
				Embedding:      vec,
				EmbeddingModel: model,
				// Ordinal offsets keep insertion order stable for tie-breaking.
				CreatedAt: created.Add(time.Duration(w.Ordinal) * time.Microsecond),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// persist writes the catalog rows and the vectors of doc. If the catalog
// commit fails after the vectors were replaced, the index is rebuilt from the
// catalog's committed state.
func (s *Service) persist(ctx context.Context, doc *Document, chunks []Chunk) error {
	err := s.store.Replace(ctx, doc, chunks, func() error {
		if err := s.index.ReplaceDocument(ctx, doc.ID, toVectorChunks(doc, chunks)); err != nil {
			return fmt.Errorf("indexing %s: %w", doc.ID, err)
		}
		return nil
	})
	if errors.Is(err, errCommit) {
		s.resync(ctx, doc.ID)
	}
	return err
}

// Delete removes a document, its chunks and its vectors.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.store.Delete(ctx, id, func() error {
		if err := s.index.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("deleting vectors of %s: %w", id, err)
		}
		return nil
	})
	if errors.Is(err, errCommit) {
		s.resync(ctx, id)
	}
	if err != nil {
		return err
	}
	s.logger.Info("document deleted", zap.String("id", id))
	s.record(ctx, "", audit.ActionDeleted, id, "document deleted", nil)
	return nil
}

// UpdateMetadata edits a document's metadata and re-tags its vectors using
// the stored embeddings.
func (s *Service) UpdateMetadata(ctx context.Context, id string, upd MetadataUpdate) (*Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) != "" {
		doc.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Author != nil {
		doc.Author = strings.TrimSpace(*upd.Author)
		if doc.Author == "" {
			doc.Author = UnknownAuthor
		}
	}
	if upd.Kind != nil {
		if doc.Kind, err = ParseKind(*upd.Kind); err != nil {
			return nil, err
		}
	}
	if upd.Description != nil {
		doc.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Tags != nil {
		doc.Tags = vectordb.NormalizeTags(*upd.Tags)
	}
	doc.UpdatedAt = s.now()

	chunks, err := s.store.Chunks(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.store.UpdateMetadata(ctx, doc, func() error {
		return s.index.ReplaceDocument(ctx, id, toVectorChunks(doc, chunks))
	})
	if errors.Is(err, errCommit) {
		s.resync(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, "", audit.ActionEdited, id, doc.Title, upd.changedFields())
	return doc, nil
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.store.Get(ctx, id)
}

// Catalog lists every document in upload order.
func (s *Service) Catalog(ctx context.Context) ([]Document, error) {
	return s.store.List(ctx, "")
}

// List lists documents, optionally only those tagged tag.
func (s *Service) List(ctx context.Context, tag string) ([]Document, error) {
	return s.store.List(ctx, tag)
}

// Search embeds the query and returns the matching fragments.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	q := vectordb.Query{
		Embedding: vec,
		Model:     s.embedder.Name(),
		Threshold: s.opts.SearchThreshold,
		TopK:      s.opts.SearchTopK,
		Tags:      req.Tags,
	}
	if req.Threshold != nil {
		q.Threshold = *req.Threshold
	}
	if req.TopK > 0 {
		q.TopK = req.TopK
	}

	results, err := s.index.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			ChunkText:    r.Chunk.Text,
			ParentTitle:  r.Chunk.Title,
			ParentAuthor: r.Chunk.Author,
			Similarity:   r.Similarity,
			DocumentID:   r.Chunk.DocumentID,
			Tags:         r.Chunk.Tags,
		})
	}
	return hits, nil
}

// StaleDocuments lists documents embedded with a model other than the
// current embedder's.
func (s *Service) StaleDocuments(ctx context.Context) ([]Document, error) {
	return s.store.StaleDocuments(ctx, s.embedder.Name())
}

// Reindex re-embeds stale documents from their stored chunk text. With all
// set, up-to-date documents are also copied from the catalog into the vector
// index, which rebuilds an empty or different backend. onDocument, if set, is
// called after each document.
func (s *Service) Reindex(ctx context.Context, all bool, onDocument func(Document, error)) (*ReindexResult, error) {
	docs, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	model := s.embedder.Name()
	result := &ReindexResult{}
	var errs []error
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var docErr error
		switch {
		case d.EmbeddingModel != model:
			if docErr = s.reembed(ctx, d.ID); docErr == nil {
				result.Reembedded++
			}
		case all:
			unlock := s.locks.Lock(d.ID)
			docErr = s.syncVectors(ctx, d.ID)
			unlock()
			if docErr == nil {
				result.Resynced++
			}
		default:
			continue
		}

		if docErr != nil {
			s.logger.Warn("reindex failed", zap.String("id", d.ID), zap.Error(docErr))
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, docErr))
		}
		if onDocument != nil {
			onDocument(d, docErr)
		}
	}
	if result.Reembedded+result.Resynced > 0 {
		s.record(ctx, "", audit.ActionReindexed, "", "library reindexed", map[string]string{
			"model":      model,
			"reembedded": fmt.Sprint(result.Reembedded),
			"resynced":   fmt.Sprint(result.Resynced),
		})
	}
	return result, errors.Join(errs...)
}

func (s *Service) reembed(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	stored, err := s.store.Chunks(ctx, id)
	if err != nil {
		return err
	}

	windows := make([]chunker.Window, len(stored))
	for i, c := range stored {
		windows[i] = chunker.Window{Ordinal: c.Ordinal, Start: c.SpanStart, End: c.SpanEnd, Text: c.Text}
	}
	chunks, err := s.embedWindows(ctx, id, windows)
	if err != nil {
		return err
	}

	doc.EmbeddingModel = s.embedder.Name()
	doc.UpdatedAt = s.now()
	return s.persist(ctx, doc, chunks)
}

// syncVectors replaces the vectors of id with the catalog's stored chunks,
// or removes them when the document no longer exists.
func (s *Service) syncVectors(ctx context.Context, id string) error {
	doc, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return s.index.DeleteDocument(ctx, id)
	}
	if err != nil {
		return err
	}
	chunks, err := s.store.Chunks(ctx, id)
	if err != nil {
		return err
	}
	return s.index.ReplaceDocument(ctx, id, toVectorChunks(doc, chunks))
}

func (s *Service) resync(ctx context.Context, id string) {
	if err := s.syncVectors(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Error("vector index out of sync with catalog", zap.String("id", id), zap.Error(err))
	}
}

func toVectorChunks(doc *Document, chunks []Chunk) []vectordb.Chunk {
	out := make([]vectordb.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = vectordb.Chunk{
			ID:             c.ID,
			DocumentID:     doc.ID,
			Ordinal:        c.Ordinal,
			SpanStart:      c.SpanStart,
			SpanEnd:        c.SpanEnd,
			Text:           c.Text,
			Embedding:      c.Embedding,
			EmbeddingModel: c.EmbeddingModel,
			Title:          doc.Title,
			Author:         doc.Author,
			Tags:           doc.Tags,
			IndexedAt:      c.CreatedAt,
		}
	}
	return out
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
