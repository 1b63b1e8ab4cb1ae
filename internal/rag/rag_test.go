package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/db"
	"github.com/ziadkadry99/biblioteca/internal/embeddings"
	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/llm"
	"github.com/ziadkadry99/biblioteca/internal/records"
	"github.com/ziadkadry99/biblioteca/internal/vectordb"
)

const model = "fixed-v1"

type fixedEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fixedEmbedder) Dimensions() int { return 2 }
func (f *fixedEmbedder) Name() string    { return model }

type scriptedProvider struct {
	mu      sync.Mutex
	calls   []llm.CompletionRequest
	respond func(req llm.CompletionRequest) (string, error)
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	content, err := s.respond(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: "scripted-model"}, nil
}

func (s *scriptedProvider) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.calls[len(s.calls)-1].Messages
	return msgs[len(msgs)-1].Content
}

func answerWith(text string) func(llm.CompletionRequest) (string, error) {
	return func(llm.CompletionRequest) (string, error) { return text, nil }
}

type staticCatalog []library.Document

func (c staticCatalog) Catalog(context.Context) ([]library.Document, error) { return c, nil }

type brokenIndex struct{ vectordb.Index }

func (brokenIndex) Search(context.Context, vectordb.Query) ([]vectordb.Result, error) {
	return nil, errors.New("index corrupted")
}

var (
	staff     = auth.Principal{UserID: "u-1", Role: "coordinador"}
	volunteer = auth.Principal{UserID: "u-2", Role: "voluntario"}
)

type env struct {
	embedder *fixedEmbedder
	provider *scriptedProvider
	index    vectordb.Index
	records  *records.Store
	catalog  staticCatalog
	d        *Dispatcher
}

func newEnv(t *testing.T, catalog staticCatalog, respond func(llm.CompletionRequest) (string, error)) *env {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	idx, err := vectordb.NewChromemIndex("")
	require.NoError(t, err)

	e := &env{
		embedder: &fixedEmbedder{},
		provider: &scriptedProvider{respond: respond},
		index:    idx,
		records:  records.NewStore(database),
		catalog:  catalog,
	}
	e.rebuild(DefaultConfig())
	return e
}

func (e *env) rebuild(cfg Config) {
	elevation := auth.NewHeaderResolver("X-User-Role", "X-User-ID", []string{"coordinador"})
	e.d = NewDispatcher(e.catalog, e.records, e.embedder, e.index, NewGenerator(e.provider, "", nil), elevation, cfg, nil)
}

func (e *env) addChunk(t *testing.T, docID, title, author string, ordinal int, text string) {
	t.Helper()
	require.NoError(t, e.index.ReplaceDocument(context.Background(), docID, []vectordb.Chunk{{
		ID: fmt.Sprintf("%s-%d", docID, ordinal), DocumentID: docID, Ordinal: ordinal, Text: text,
		Embedding: []float32{1, 0}, EmbeddingModel: model, Title: title, Author: author, IndexedAt: time.Now(),
	}}))
}

var twoDocs = staticCatalog{
	{ID: "1", Title: "Guía de Lectura", Author: "A. Gómez", Kind: library.KindGuide},
	{ID: "2", Title: "Manual de Escritura", Author: "B. Ruiz", Kind: library.KindManual},
}

// catalogEcho answers with the catalog lines of the prompt.
func catalogEcho(req llm.CompletionRequest) (string, error) {
	var lines []string
	for _, l := range strings.Split(req.Messages[len(req.Messages)-1].Content, "\n") {
		if strings.Contains(l, "«") && !strings.HasPrefix(l, "[Fragmento") {
			lines = append(lines, l)
		}
	}
	return "Documentos disponibles:\n" + strings.Join(lines, "\n"), nil
}

func TestLibraryListsCatalog(t *testing.T) {
	e := newEnv(t, twoDocs, catalogEcho)

	resp, err := e.d.Answer(context.Background(), volunteer, Request{Question: "¿qué documentos hay?", Mode: ModeLibrary})
	require.NoError(t, err)
	require.NotNil(t, resp.Library)

	answer := resp.Library.Answer
	assert.Contains(t, answer, "Guía de Lectura")
	assert.Contains(t, answer, "A. Gómez")
	assert.Contains(t, answer, "Manual de Escritura")
	assert.Contains(t, answer, "B. Ruiz")
	assert.Equal(t, 2, resp.Library.TotalDocuments)
	assert.Empty(t, resp.Library.Sources)

	prompt := e.provider.lastPrompt()
	assert.Contains(t, prompt, "1. «Guía de Lectura» — A. Gómez (guide)")
	assert.Contains(t, prompt, "2. «Manual de Escritura» — B. Ruiz (manual)")
	assert.Contains(t, prompt, noFragmentsNotice)

	system := e.provider.calls[0].Messages[0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "citar su título y su autor")
}

func TestLibraryRedirectSkipsEmbedding(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("no debería llamarse"))

	resp, err := e.d.Answer(context.Background(), staff, Request{Question: "¿Qué recomiendas para el NIÑO que no lee sílabas?"})
	require.NoError(t, err)
	assert.True(t, resp.Library.Redirected)
	assert.Equal(t, RedirectMessage, resp.Library.Answer)
	assert.Zero(t, e.embedder.calls.Load())
	assert.Empty(t, e.provider.calls)

	// Volunteers have no analysis mode, so they get a library answer.
	resp, err = e.d.Answer(context.Background(), volunteer, Request{Question: "¿Qué recomiendas para el niño que no lee sílabas?"})
	require.NoError(t, err)
	assert.False(t, resp.Library.Redirected)
	assert.Equal(t, int32(1), e.embedder.calls.Load())
}

func TestLibrarySourcesComeFromFragments(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("Según «Guía de Lectura» de A. Gómez..."))
	e.addChunk(t, "1", "Guía de Lectura", "A. Gómez", 0, "La conciencia fonológica se trabaja con rimas.")

	resp, err := e.d.Answer(context.Background(), volunteer, Request{Question: "¿cómo trabajar la conciencia fonológica?", Mode: ModeLibrary})
	require.NoError(t, err)
	assert.Equal(t, []Source{{Title: "Guía de Lectura", Author: "A. Gómez"}}, resp.Library.Sources)

	prompt := e.provider.lastPrompt()
	assert.Contains(t, prompt, "[Fragmento 1] «Guía de Lectura» — A. Gómez")
	assert.Contains(t, prompt, "se trabaja con rimas")
	assert.NotContains(t, prompt, noFragmentsNotice)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"Según «Guía de Lectura» de A. Gómez...","sources":[{"title":"Guía de Lectura","author":"A. Gómez"}],"totalDocuments":2}`, string(body))
}

func TestSearchFailureDegradesToCatalog(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("respuesta"))
	e.index = brokenIndex{e.index}
	e.rebuild(DefaultConfig())

	resp, err := e.d.Answer(context.Background(), volunteer, Request{Question: "¿qué es la lectura compartida?"})
	require.NoError(t, err)
	assert.Equal(t, "respuesta", resp.Library.Answer)
	assert.Contains(t, e.provider.lastPrompt(), noFragmentsNotice)
}

func TestEmbeddingFailureIsUnavailable(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("x"))
	e.embedder.err = errors.New("connection refused")

	_, err := e.d.Answer(context.Background(), volunteer, Request{Question: "¿qué es la lectura?"})
	assert.ErrorIs(t, err, embeddings.ErrUnavailable)
	assert.Empty(t, e.provider.calls)

	status, msg := HTTPError(err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, msgEmbeddings, msg)
}

func TestInvalidRequests(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("x"))
	ctx := context.Background()

	_, err := e.d.Answer(ctx, staff, Request{Question: "hola", Mode: "poesia"})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = e.d.Answer(ctx, staff, Request{Question: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = e.d.Answer(ctx, staff, Request{Mode: ModeAnalysis})
	assert.ErrorIs(t, err, ErrEntityRequired)

	_, err = e.d.Answer(ctx, volunteer, Request{Mode: ModeAnalysis, EntityID: "p-1"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.d.Answer(ctx, staff, Request{Mode: ModeAnalysis, EntityID: "missing"})
	assert.ErrorIs(t, err, records.ErrNotFound)
}

const validReport = `{
  "resumen": "Avanza en la lectura de sílabas directas.",
  "fortalezas": ["Motivación"],
  "dificultades": [],
  "recomendaciones": [{"accion": "Trabajar rimas", "fundamento": "Guía de Lectura"}],
  "fuentes_citadas": ["Guía de Lectura"]
}`

func TestAnalysisWithZeroRecords(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith(validReport))
	p, err := e.records.SaveProfile(context.Background(), records.Profile{Alias: "Lector 7", AgeBracket: "8-10", LiteracyLevel: "silábico"})
	require.NoError(t, err)

	resp, err := e.d.Answer(context.Background(), staff, Request{Mode: ModeAnalysis, EntityID: p.ID})
	require.NoError(t, err)
	require.NotNil(t, resp.Analysis)

	prompt := e.provider.lastPrompt()
	assert.Contains(t, prompt, "REGISTROS RECIENTES (del más reciente al más antiguo):\n[]\n")
	assert.Contains(t, prompt, noBibliographyNotice)
	assert.Contains(t, prompt, DefaultAnalysisQuestion)
	assert.Contains(t, prompt, `"alias": "Lector 7"`)
	assert.True(t, e.provider.calls[0].JSONMode)

	a := resp.Analysis
	assert.Equal(t, "Lector 7", a.Context.EntityAlias)
	assert.Zero(t, a.Context.RecordCount)
	assert.Empty(t, a.Context.Sources)
	assert.Equal(t, "Trabajar rimas", a.Report.Recomendaciones[0].Accion)
	assert.Contains(t, a.Answer, "## Resumen")

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Contains(t, decoded, "answer")
	assert.Contains(t, decoded, "report")
	assert.Contains(t, decoded, "context")
	assert.Equal(t, []any{}, decoded["context"].(map[string]any)["sources"])
}

func TestAnalysisCapsRecordsAndCitesBibliography(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, twoDocs, answerWith("```json\n"+validReport+"\n```"))
	e.addChunk(t, "1", "Guía de Lectura", "A. Gómez", 0, strings.Repeat("rimas ", 200))

	cfg := DefaultConfig()
	cfg.MaxRecords = 3
	e.rebuild(cfg)

	p, err := e.records.SaveProfile(ctx, records.Profile{Alias: "Lectora 3"})
	require.NoError(t, err)
	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := e.records.SaveSession(ctx, records.Session{
			ProfileID: p.ID, Date: start.AddDate(0, 0, i), DurationMinutes: 40,
			Scores: map[string]int{"fluidez": i}, Notes: fmt.Sprintf("nota-%d %s", i, strings.Repeat("x", 600)),
		})
		require.NoError(t, err)
	}

	resp, err := e.d.Answer(ctx, staff, Request{Mode: ModeAnalysis, EntityID: p.ID, Question: "¿Cómo mejorar la fluidez?"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Analysis.Context.RecordCount)
	assert.Equal(t, []string{"Guía de Lectura"}, resp.Analysis.Context.Sources)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"context":{"entityAlias":"Lectora 3","recordCount":3,"sources":["Guía de Lectura"]}`)

	prompt := e.provider.lastPrompt()
	assert.Contains(t, prompt, "nota-4")
	assert.Contains(t, prompt, "nota-2")
	assert.NotContains(t, prompt, "nota-1")
	assert.NotContains(t, prompt, strings.Repeat("x", 501))
	assert.Contains(t, prompt, "- «Guía de Lectura» — rimas")
	assert.NotContains(t, prompt, strings.Repeat("rimas ", 101))
	assert.Contains(t, prompt, "¿Cómo mejorar la fluidez?")
}

func TestAnalysisParseFailure(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith(`{"resumen": "ok", "fortalezas": []}`))
	p, err := e.records.SaveProfile(context.Background(), records.Profile{Alias: "L"})
	require.NoError(t, err)

	_, err = e.d.Answer(context.Background(), staff, Request{Mode: ModeAnalysis, EntityID: p.ID})
	assert.ErrorIs(t, err, ErrAnswerParse)
	status, _ := HTTPError(err)
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestParseAnalysisReport(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid", validReport, true},
		{"fenced", "```json\n" + validReport + "\n```", true},
		{"missing key", `{"resumen":"a","fortalezas":[],"dificultades":[],"recomendaciones":[{"accion":"b"}]}`, false},
		{"null list", `{"resumen":"a","fortalezas":null,"dificultades":[],"recomendaciones":[{"accion":"b"}],"fuentes_citadas":[]}`, false},
		{"empty resumen", `{"resumen":" ","fortalezas":[],"dificultades":[],"recomendaciones":[{"accion":"b"}],"fuentes_citadas":[]}`, false},
		{"no recommendations", `{"resumen":"a","fortalezas":[],"dificultades":[],"recomendaciones":[],"fuentes_citadas":[]}`, false},
		{"empty accion", `{"resumen":"a","fortalezas":[],"dificultades":[],"recomendaciones":[{"accion":""}],"fuentes_citadas":[]}`, false},
		{"wrong type", `{"resumen":"a","fortalezas":"muchas","dificultades":[],"recomendaciones":[{"accion":"b"}],"fuentes_citadas":[]}`, false},
		{"not json", "Lo siento, no puedo.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ParseAnalysisReport(tt.raw)
			if tt.ok {
				require.NoError(t, err)
				assert.NotEmpty(t, report.Resumen)
				return
			}
			assert.ErrorIs(t, err, ErrAnswerParse)
		})
	}
}

func TestAssembleLibraryPromptOrder(t *testing.T) {
	results := []vectordb.Result{{Chunk: vectordb.Chunk{Title: "T", Author: "A", Text: "contenido"}, Similarity: 0.9}}
	prompt := AssembleLibraryPrompt("¿pregunta literal?", twoDocs, results)

	catalog := strings.Index(prompt, "CATÁLOGO")
	fragments := strings.Index(prompt, "FRAGMENTOS RELEVANTES")
	question := strings.Index(prompt, "¿pregunta literal?")
	instructions := strings.Index(prompt, "INSTRUCCIONES")
	assert.True(t, catalog < fragments && fragments < question && question < instructions, prompt)
	assert.Contains(t, prompt, "cita el título y el autor")
}

func TestMentionsChild(t *testing.T) {
	tests := []struct {
		q    string
		want bool
	}{
		{"¿Cómo va la niña de tercer grado?", true},
		{"Necesito un INFORME", true},
		{"reporte de la sesión", true},
		{"el caso de Pedro", true},
		{"alumnos con dislexia", true},
		{"¿qué documentos hay sobre fonología?", false},
		{"casona antigua", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mentionsChild(tt.q), tt.q)
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"overloaded", &GenerationError{Err: &llm.ProviderStatusError{Provider: "anthropic", StatusCode: 529}}, http.StatusServiceUnavailable, msgOverloaded},
		{"quota", &GenerationError{Err: &openai.APIError{HTTPStatusCode: 429}}, http.StatusTooManyRequests, msgQuota},
		{"misconfigured", &GenerationError{Err: &openai.APIError{HTTPStatusCode: 401}}, http.StatusInternalServerError, msgMisconfigured},
		{"other model error", &GenerationError{Err: errors.New("stream reset")}, http.StatusInternalServerError, "stream reset"},
		{"verbatim", errors.New("disk full"), http.StatusInternalServerError, "disk full"},
		{"timeout", fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, msgTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := HTTPError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func newHandler(e *env) http.Handler {
	guard := auth.NewHeaderResolver("X-User-Role", "X-User-ID", []string{"coordinador"})
	r := chi.NewRouter()
	r.Use(guard.Middleware)
	RegisterRoutes(r, e.d)
	RegisterSocket(r, e.d, websocket.Upgrader{})
	return r
}

func TestAskRoute(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("hola"))
	h := newHandler(e)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"¿qué hay?","mode":"library"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"hola","sources":[],"totalDocuments":2}`, w.Body.String())

	e.provider.respond = func(llm.CompletionRequest) (string, error) {
		return "", &llm.ProviderStatusError{Provider: "anthropic", StatusCode: 529, Type: "overloaded_error"}
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"¿qué hay?"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"`+msgOverloaded+`"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAskRouteRejectsOversizedBody(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("hola"))
	h := newHandler(e)

	body := `{"question":"` + strings.Repeat("a", maxAskBytes) + `"}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"error":"request body too large"}`, w.Body.String())
	assert.Empty(t, e.provider.calls)
}

func TestAskSocket(t *testing.T) {
	e := newEnv(t, twoDocs, answerWith("por socket"))
	srv := httptest.NewServer(newHandler(e))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/ask"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"id": "q1", "question": "¿qué hay?"}))
	var msg struct {
		Type     string          `json:"type"`
		ID       string          `json:"id"`
		Response json.RawMessage `json:"response"`
		Error    string          `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "answer", msg.Type)
	assert.Equal(t, "q1", msg.ID)
	assert.JSONEq(t, `{"answer":"por socket","sources":[],"totalDocuments":2}`, string(msg.Response))

	require.NoError(t, conn.WriteJSON(map[string]string{"id": "q2", "mode": "analysis"}))
	msg.Response = nil
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "q2", msg.ID)
	assert.Equal(t, ErrEntityRequired.Error(), msg.Error)
}
