package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ziadkadry99/biblioteca/internal/audit"
	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/chunker"
	"github.com/ziadkadry99/biblioteca/internal/db"
	"github.com/ziadkadry99/biblioteca/internal/embeddings"
	"github.com/ziadkadry99/biblioteca/internal/extract"
	"github.com/ziadkadry99/biblioteca/internal/llm"
	"github.com/ziadkadry99/biblioteca/internal/vectordb"
)

const dims = 256

// hashEmbedder is a deterministic bag-of-words embedder.
type hashEmbedder struct {
	name  string
	calls atomic.Int32
	fail  error
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h.calls.Add(1)
	if h.fail != nil {
		return nil, h.fail
	}
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(w))
		v[f.Sum32()%dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / math.Sqrt(norm))
	}
	return v, nil
}

func (h *hashEmbedder) Dimensions() int { return dims }
func (h *hashEmbedder) Name() string    { return h.name }

// fakeProvider returns a fixed completion and counts calls.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	content string
	stop    llm.StopReason
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Stop: f.stop}, nil
}

type fixture struct {
	db       *db.DB
	store    *Store
	index    *vectordb.ChromemIndex
	embedder *hashEmbedder
	svc      *Service
}

func newFixture(t *testing.T, inferencer *Inferencer, opts Options) *fixture {
	t.Helper()
	d, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	idx, err := vectordb.NewChromemIndex("")
	require.NoError(t, err)

	splitter, err := chunker.New(chunker.WithChunkSize(40), chunker.WithOverlap(10))
	require.NoError(t, err)

	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = 3
	}
	emb := &hashEmbedder{name: "hash-v1"}
	store := NewStore(d)
	return &fixture{
		db:       d,
		store:    store,
		index:    idx,
		embedder: emb,
		svc:      NewService(store, idx, emb, splitter, inferencer, opts, nil),
	}
}

func words(prefix string, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%s%d ", prefix, i%37)
	}
	return sb.String()
}

func TestIngestPlainTextRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{SearchThreshold: 0.2, SearchTopK: 3})

	lectura := "La conciencia fonológica prepara la lectura. " + words("silaba", 120)
	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(lectura), FileName: "lectura.txt", Title: "Guía de Lectura", Author: "A. Gómez", Kind: "guide"})
	require.NoError(t, err)
	assert.False(t, res.Replaced)
	assert.Greater(t, res.Chunks, 1)

	_, err = f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("trazo", 90)), FileName: "escritura.md", Title: "Manual de Escritura", Author: "B. Ruiz", Kind: "manual"})
	require.NoError(t, err)

	hits, err := f.svc.Search(ctx, SearchRequest{Query: "silaba3 silaba4 silaba5 conciencia fonológica"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, res.ID, hits[0].DocumentID)
	assert.Equal(t, "Guía de Lectura", hits[0].ParentTitle)
	assert.Equal(t, "A. Gómez", hits[0].ParentAuthor)

	doc, err := f.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, doc.ChunkCount)
	assert.Equal(t, "hash-v1", doc.EmbeddingModel)

	chunks, err := f.store.Chunks(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, chunks, res.Chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Len(t, c.Embedding, dims)
	}
}

func TestCatalogListsEveryDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	_, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("lee", 30)), FileName: "a.txt", Title: "Guía de Lectura", Author: "A. Gómez", Kind: "guide", Tags: []string{"Lectura"}})
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("escribe", 30)), FileName: "b.txt", Title: "Manual de Escritura", Author: "B. Ruiz", Kind: "manual"})
	require.NoError(t, err)

	docs, err := f.svc.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Guía de Lectura", docs[0].Title)
	assert.Equal(t, KindGuide, docs[0].Kind)
	assert.Equal(t, []string{"lectura"}, docs[0].Tags)
	assert.Equal(t, "Manual de Escritura", docs[1].Title)
	assert.Equal(t, "B. Ruiz", docs[1].Author)

	tagged, err := f.svc.List(ctx, "LECTURA")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "Guía de Lectura", tagged[0].Title)
}

func TestIngestDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte("hola mundo"), FileName: "notas-de-campo.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	doc, err := f.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "notas-de-campo", doc.Title)
	assert.Equal(t, UnknownAuthor, doc.Author)
	assert.Equal(t, DefaultKind, doc.Kind)
}

func TestIngestRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	_, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte("x"), FileName: "a.exe"})
	assert.ErrorIs(t, err, extract.ErrUnsupportedFormat)

	_, err = f.svc.Ingest(ctx, IngestRequest{Data: []byte("  \n "), FileName: "a.txt"})
	assert.ErrorIs(t, err, extract.ErrEmptyExtraction)

	_, err = f.svc.Ingest(ctx, IngestRequest{Data: []byte("hola"), FileName: "a.txt", Kind: "novela"})
	assert.ErrorIs(t, err, ErrInvalidKind)

	assert.Zero(t, f.embedder.calls.Load())
}

func TestIngestEmbeddingFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})
	f.embedder.fail = &embeddings.UnavailableError{Provider: "hash-v1", Err: errors.New("boom")}

	_, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("p", 200)), FileName: "a.txt"})
	assert.ErrorIs(t, err, embeddings.ErrUnavailable)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	vectors, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, vectors)
}

func TestReingestIdenticalContentReplaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})
	text := []byte(words("idem", 100))

	first, err := f.svc.Ingest(ctx, IngestRequest{Data: text, FileName: "a.txt", Title: "Primera"})
	require.NoError(t, err)
	second, err := f.svc.Ingest(ctx, IngestRequest{Data: text, FileName: "a-copia.txt"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Replaced)

	n, _ := f.store.Count(ctx)
	assert.Equal(t, 1, n)
	vectors, _ := f.index.Count(ctx)
	assert.Equal(t, first.Chunks, vectors)

	doc, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Primera", doc.Title, "metadata carries over when not supplied")
}

func TestReplaceByIDSupersedesChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	orig, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("viejo", 200)), FileName: "a.txt", Title: "Guía"})
	require.NoError(t, err)
	require.Greater(t, orig.Chunks, 2)

	repl, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("nuevo", 20)), FileName: "a-v2.txt", ReplaceID: orig.ID})
	require.NoError(t, err)
	assert.Equal(t, orig.ID, repl.ID)
	assert.Equal(t, 1, repl.Chunks)

	chunks, err := f.store.Chunks(ctx, orig.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "nuevo")

	vectors, _ := f.index.Count(ctx)
	assert.Equal(t, 1, vectors)

	_, err = f.svc.Ingest(ctx, IngestRequest{Data: []byte("x"), FileName: "a.txt", ReplaceID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})

	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("borrar", 150)), FileName: "a.txt", Tags: []string{"x", "y"}})
	require.NoError(t, err)
	keep, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("queda", 20)), FileName: "b.txt"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, res.ID))

	_, err = f.svc.Get(ctx, res.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var chunkRows, tagRows int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, res.ID).Scan(&chunkRows))
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM document_tags WHERE document_id = ?`, res.ID).Scan(&tagRows))
	assert.Zero(t, chunkRows)
	assert.Zero(t, tagRows)

	vectors, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, keep.Chunks, vectors)

	assert.ErrorIs(t, f.svc.Delete(ctx, res.ID), ErrNotFound)
}

// failingIndex fails every write.
type failingIndex struct {
	vectordb.Index
}

func (failingIndex) ReplaceDocument(context.Context, string, []vectordb.Chunk) error {
	return errors.New("index down")
}

func (failingIndex) DeleteDocument(context.Context, string) error {
	return errors.New("index down")
}

func TestIndexFailureRollsBackCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})
	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("fijo", 30)), FileName: "a.txt"})
	require.NoError(t, err)

	splitter, _ := chunker.New()
	broken := NewService(f.store, failingIndex{f.index}, f.embedder, splitter, nil, Options{}, nil)

	_, err = broken.Ingest(ctx, IngestRequest{Data: []byte(words("otro", 30)), FileName: "b.txt"})
	assert.Error(t, err)
	assert.Error(t, broken.Delete(ctx, res.ID))

	n, _ := f.store.Count(ctx)
	assert.Equal(t, 1, n)
	_, err = f.store.Get(ctx, res.ID)
	assert.NoError(t, err)
}

func TestUpdateMetadataRetagsVectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{SearchThreshold: 0.1})

	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("tema", 60)), FileName: "a.txt", Title: "Antes"})
	require.NoError(t, err)

	hits, err := f.svc.Search(ctx, SearchRequest{Query: "tema1 tema2", Tags: []string{"evaluacion"}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	title := "Después"
	tags := []string{"Evaluacion"}
	doc, err := f.svc.UpdateMetadata(ctx, res.ID, MetadataUpdate{Title: &title, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "Después", doc.Title)
	assert.Equal(t, []string{"evaluacion"}, doc.Tags)

	hits, err = f.svc.Search(ctx, SearchRequest{Query: "tema1 tema2", Tags: []string{"evaluacion"}})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Después", hits[0].ParentTitle)

	bad := "poema"
	_, err = f.svc.UpdateMetadata(ctx, res.ID, MetadataUpdate{Kind: &bad})
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = f.svc.UpdateMetadata(ctx, "missing", MetadataUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournalRecordsChanges(t *testing.T) {
	f := newFixture(t, nil, Options{})
	journal := audit.NewStore(f.db)
	f.svc.SetJournal(journal)
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "ana", Role: "coordinador"})

	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("diario", 30)), FileName: "a.txt", Title: "Diario"})
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("diario", 30)), FileName: "a.txt", UploadedBy: "luis"})
	require.NoError(t, err)
	title := "Diario de campo"
	_, err = f.svc.UpdateMetadata(ctx, res.ID, MetadataUpdate{Title: &title})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, res.ID))

	// Failed operations are not journaled.
	_, err = f.svc.UpdateMetadata(ctx, "missing", MetadataUpdate{Title: &title})
	require.Error(t, err)

	entries, err := journal.Query(context.Background(), audit.QueryFilter{DocumentID: res.ID})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	actions := map[audit.Action]audit.Entry{}
	for _, e := range entries {
		actions[e.Action] = e
	}
	assert.Equal(t, "ana", actions[audit.ActionIngested].Actor)
	assert.Equal(t, "coordinador", actions[audit.ActionIngested].Role)
	assert.Equal(t, "luis", actions[audit.ActionReplaced].Actor)
	assert.Equal(t, "Diario de campo", actions[audit.ActionEdited].Detail["title"])
	assert.Contains(t, actions, audit.ActionDeleted)
}

func TestReindexReembedsStaleDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{SearchThreshold: 0.1})

	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("modelo", 80)), FileName: "a.txt"})
	require.NoError(t, err)

	upgraded := &hashEmbedder{name: "hash-v2"}
	splitter, _ := chunker.New(chunker.WithChunkSize(40), chunker.WithOverlap(10))
	svc := NewService(f.store, f.index, upgraded, splitter, nil, Options{SearchThreshold: 0.1}, nil)

	hits, err := svc.Search(ctx, SearchRequest{Query: "modelo1 modelo2"})
	require.NoError(t, err)
	assert.Empty(t, hits, "vectors of another model are never compared")

	stale, err := svc.StaleDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, res.ID, stale[0].ID)

	var seen []string
	result, err := svc.Reindex(ctx, false, func(d Document, err error) {
		assert.NoError(t, err)
		seen = append(seen, d.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reembedded)
	assert.Equal(t, []string{res.ID}, seen)

	hits, err = svc.Search(ctx, SearchRequest{Query: "modelo1 modelo2"})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	stale, err = svc.StaleDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	chunks, err := f.store.Chunks(ctx, res.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, res.Chunks)
	assert.Equal(t, "hash-v2", chunks[0].EmbeddingModel)
}

func TestReindexAllRebuildsEmptyIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})
	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("copia", 70)), FileName: "a.txt"})
	require.NoError(t, err)

	fresh, err := vectordb.NewChromemIndex("")
	require.NoError(t, err)
	splitter, _ := chunker.New()
	svc := NewService(f.store, fresh, f.embedder, splitter, nil, Options{}, nil)

	calls := f.embedder.calls.Load()
	result, err := svc.Reindex(ctx, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resynced)
	assert.Equal(t, calls, f.embedder.calls.Load(), "stored embeddings are reused")

	n, err := fresh.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, n)
}

func TestConcurrentIngestOfSameContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Options{})
	text := []byte(words("paralelo", 100))

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Ingest(ctx, IngestRequest{Data: text, FileName: "a.txt"})
			if assert.NoError(t, err) {
				ids[i] = res.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	n, _ := f.store.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestInferenceDeclinesShortText(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	provider := &fakeProvider{content: `{"titulo":"X","autor":"Y"}`}
	inf := NewInferencer(provider, zap.New(core))

	_, err := inf.Infer(context.Background(), "Texto demasiado corto.")
	assert.ErrorIs(t, err, ErrInferenceDeclined)
	assert.Zero(t, provider.calls)

	out := inf.InferOrNull(context.Background(), "corto")
	assert.Equal(t, Inferred{}, out)
	assert.Zero(t, provider.calls)

	entries := logs.FilterMessage("inference declined").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
}

func TestInferParsesFencedJSON(t *testing.T) {
	provider := &fakeProvider{content: "```json\n{\"titulo\": \"Guía de Lectura\", \"autor\": null}\n```"}
	inf := NewInferencer(provider, nil)

	out, err := inf.Infer(context.Background(), words("texto", 40))
	require.NoError(t, err)
	assert.Equal(t, Inferred{Title: "Guía de Lectura"}, out)
	assert.Equal(t, 1, provider.calls)
}

func TestInferFailuresAreSoft(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
	}{
		{"model error", &fakeProvider{err: errors.New("overloaded")}},
		{"no json", &fakeProvider{content: "No lo sé."}},
		{"bad json", &fakeProvider{content: `{"titulo": }`}},
		{"cut off", &fakeProvider{content: `{"titulo": "Guía"}`, stop: llm.StopLength}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			inf := NewInferencer(tt.provider, zap.New(core))

			_, err := inf.Infer(context.Background(), words("texto", 40))
			assert.ErrorIs(t, err, ErrInferenceFailed)

			assert.Equal(t, Inferred{}, inf.InferOrNull(context.Background(), words("texto", 40)))
			entries := logs.FilterMessage("inference failed").All()
			require.Len(t, entries, 1)
			assert.Equal(t, zap.WarnLevel, entries[0].Level)
		})
	}
}

func TestSuggestTags(t *testing.T) {
	provider := &fakeProvider{content: `{"etiquetas": ["Lectura", "fonología", "lectura", "a", "b", "c", "d"]}`}
	inf := NewInferencer(provider, nil)

	tags, err := inf.SuggestTags(context.Background(), words("texto", 40))
	require.NoError(t, err)
	assert.Equal(t, []string{"lectura", "fonología", "a", "b", "c"}, tags)
}

func TestIngestUsesInference(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{content: `{"titulo": "Cuaderno de Fonología", "autor": null, "etiquetas": ["fonología"]}`}
	f := newFixture(t, NewInferencer(provider, nil), Options{InferMetadata: true, SuggestTags: true})

	res, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("fono", 60)), FileName: "cuaderno.txt"})
	require.NoError(t, err)

	doc, err := f.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cuaderno de Fonología", doc.Title)
	assert.Equal(t, UnknownAuthor, doc.Author)
	assert.Equal(t, []string{"fonología"}, doc.Tags)
	assert.Equal(t, 2, provider.calls)

	// Supplied metadata skips the model entirely.
	_, err = f.svc.Ingest(ctx, IngestRequest{Data: []byte(words("otro", 60)), FileName: "b.txt", Title: "T", Author: "A", Tags: []string{"t"}})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Manual ")
	require.NoError(t, err)
	assert.Equal(t, KindManual, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, DefaultKind, k)

	_, err = ParseKind("poema")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	v := []float32{0, -1.5, 3.25, float32(math.Pi)}
	got, err := decodeEmbedding(encodeEmbedding(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("doc")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}

func newRouter(f *fixture) http.Handler {
	guard := auth.NewHeaderResolver("X-User-Role", "X-User-ID", []string{"coordinador"})
	r := chi.NewRouter()
	r.Use(guard.Middleware)
	RegisterRoutes(r, f.svc, guard)
	return r
}

func uploadRequest(t *testing.T, role string, fields map[string]string, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	fw.Write(content)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/library/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-Role", role)
	req.Header.Set("X-User-ID", "u-7")
	return req
}

func TestRoutesUploadListDelete(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newRouter(f)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "voluntario", nil, "a.txt", []byte("hola")))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "coordinador", map[string]string{
		"title": "Guía de Lectura", "author": "A. Gómez", "kind": "guide", "tags": "lectura, inicial",
	}, "guia.txt", []byte(words("guia", 50))))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"chunks":2`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "coordinador", nil, "virus.exe", []byte("x")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/library/documents?tag=inicial", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Guía de Lectura")
	assert.Contains(t, w.Body.String(), `"uploadedBy":"u-7"`)

	docs, err := f.svc.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	id := docs[0].ID

	del := httptest.NewRequest(http.MethodDelete, "/api/library/documents/"+id, nil)
	del.Header.Set("X-User-Role", "coordinador")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, del)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/library/documents/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutesSearch(t *testing.T) {
	f := newFixture(t, nil, Options{})
	_, err := f.svc.Ingest(context.Background(), IngestRequest{Data: []byte(words("busca", 30)), FileName: "a.txt", Title: "Buscador"})
	require.NoError(t, err)
	h := newRouter(f)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/library/search", strings.NewReader(`{"query":"busca1 busca2","threshold":0.1,"topK":1}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"parentTitle":"Buscador"`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/library/search", strings.NewReader(`{"query":" "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"a", " b"}, splitTags("a, b"))
	assert.Equal(t, []string{"x", "y"}, splitTags(`["x","y"]`))
	assert.Nil(t, splitTags(" "))
}
