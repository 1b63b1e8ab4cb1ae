// Package rag answers questions over the library, in open library mode or in
// per-child analysis mode.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/embeddings"
	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/logging"
	"github.com/ziadkadry99/biblioteca/internal/metrics"
	"github.com/ziadkadry99/biblioteca/internal/records"
	"github.com/ziadkadry99/biblioteca/internal/vectordb"
)

var tracer = otel.Tracer("github.com/ziadkadry99/biblioteca/internal/rag")

// Mode selects how a question is answered.
type Mode string

const (
	ModeLibrary  Mode = "library"
	ModeAnalysis Mode = "analysis"
)

// Request is an incoming question.
type Request struct {
	Question  string   `json:"question"`
	Mode      Mode     `json:"mode"`
	EntityID  string   `json:"entityId,omitempty"`
	RecordIDs []string `json:"recordIds,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Source is a cited document.
type Source struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// LibraryAnswer is the response of library mode.
type LibraryAnswer struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	TotalDocuments int      `json:"totalDocuments"`
	Redirected     bool     `json:"redirected,omitempty"`
}

// AnalysisContext describes what an analysis was based on.
type AnalysisContext struct {
	EntityAlias string `json:"entityAlias"`
	RecordCount int    `json:"recordCount"`
	// Sources are the titles of the bibliography used, best first.
	Sources []string `json:"sources"`
}

// AnalysisAnswer is the response of analysis mode.
type AnalysisAnswer struct {
	Answer  string          `json:"answer"`
	Report  *AnalysisReport `json:"report"`
	Context AnalysisContext `json:"context"`
}

// Response holds the answer of whichever mode ran. It marshals as that
// mode's answer.
type Response struct {
	Mode     Mode
	Library  *LibraryAnswer
	Analysis *AnalysisAnswer
}

func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Analysis != nil {
		return json.Marshal(r.Analysis)
	}
	return json.Marshal(r.Library)
}

// Text returns the answer text of either mode.
func (r *Response) Text() string {
	if r.Analysis != nil {
		return r.Analysis.Answer
	}
	if r.Library != nil {
		return r.Library.Answer
	}
	return ""
}

// Catalog lists the library's documents.
type Catalog interface {
	Catalog(ctx context.Context) ([]library.Document, error)
}

// Elevation decides which principals hold an elevated role.
type Elevation interface {
	IsElevated(p auth.Principal) bool
}

// Config holds retrieval parameters per mode.
type Config struct {
	LibraryThreshold  float32
	LibraryTopK       int
	AnalysisThreshold float32
	AnalysisTopK      int
	MaxRecords        int
}

// DefaultConfig returns the standard retrieval parameters.
func DefaultConfig() Config {
	return Config{
		LibraryThreshold:  0.65,
		LibraryTopK:       8,
		AnalysisThreshold: 0.6,
		AnalysisTopK:      3,
		MaxRecords:        10,
	}
}

// Dispatcher routes a question to library or analysis mode.
type Dispatcher struct {
	catalog   Catalog
	records   records.Source
	embedder  embeddings.Embedder
	index     vectordb.Index
	generator *Generator
	elevation Elevation
	cfg       Config
	logger    *zap.Logger
}

// NewDispatcher wires a Dispatcher. The embedder must be the one used for
// ingestion.
func NewDispatcher(catalog Catalog, src records.Source, embedder embeddings.Embedder, index vectordb.Index,
	generator *Generator, elevation Elevation, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		catalog:   catalog,
		records:   src,
		embedder:  embedder,
		index:     index,
		generator: generator,
		elevation: elevation,
		cfg:       cfg,
		logger:    logging.OrNop(logger),
	}
}

// Answer answers req on behalf of p.
func (d *Dispatcher) Answer(ctx context.Context, p auth.Principal, req Request) (resp *Response, err error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeLibrary
	}

	ctx, span := tracer.Start(ctx, "rag.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(mode)))

	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case err != nil:
			result = "error"
			span.RecordError(err)
		case resp.Library != nil && resp.Library.Redirected:
			result = "redirect"
		}
		metrics.Answers.WithLabelValues(string(mode), result).Inc()
		metrics.AnswerDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	}()

	switch mode {
	case ModeLibrary:
		a, err := d.answerLibrary(ctx, p, req)
		if err != nil {
			return nil, err
		}
		return &Response{Mode: mode, Library: a}, nil
	case ModeAnalysis:
		a, err := d.answerAnalysis(ctx, p, req)
		if err != nil {
			return nil, err
		}
		return &Response{Mode: mode, Analysis: a}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
}

func (d *Dispatcher) answerLibrary(ctx context.Context, p auth.Principal, req Request) (*LibraryAnswer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	catalog, err := d.catalog.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	// Staff asking about a specific child belong in analysis mode, which
	// reads that child's records instead of the library.
	if d.isElevated(p) && mentionsChild(question) {
		d.logger.Debug("library question redirected", zap.String("user", p.UserID))
		return &LibraryAnswer{
			Answer:         RedirectMessage,
			Sources:        []Source{},
			TotalDocuments: len(catalog),
			Redirected:     true,
		}, nil
	}

	results, err := d.retrieve(ctx, ModeLibrary, question, d.cfg.LibraryThreshold, d.cfg.LibraryTopK, req.Tags)
	if err != nil {
		return nil, err
	}

	answer, err := d.generator.Generate(ctx, GenerateRequest{
		System: LibrarySystemPrompt,
		Prompt: AssembleLibraryPrompt(question, catalog, results),
	})
	if err != nil {
		return nil, err
	}

	return &LibraryAnswer{
		Answer:         answer,
		Sources:        sourcesOf(results),
		TotalDocuments: len(catalog),
	}, nil
}

func (d *Dispatcher) answerAnalysis(ctx context.Context, p auth.Principal, req Request) (*AnalysisAnswer, error) {
	if strings.TrimSpace(req.EntityID) == "" {
		return nil, ErrEntityRequired
	}
	if !d.isElevated(p) {
		return nil, ErrForbidden
	}

	profile, err := d.records.Profile(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	sessions, err := d.records.Recent(ctx, req.EntityID, d.cfg.MaxRecords, req.RecordIDs)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	if d.cfg.MaxRecords > 0 && len(sessions) > d.cfg.MaxRecords {
		sessions = sessions[:d.cfg.MaxRecords]
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = DefaultAnalysisQuestion
	}
	searchText := question
	if profile.LiteracyLevel != "" {
		searchText += " " + profile.LiteracyLevel
	}

	bibliography, err := d.retrieve(ctx, ModeAnalysis, searchText, d.cfg.AnalysisThreshold, d.cfg.AnalysisTopK, nil)
	if err != nil {
		return nil, err
	}

	prompt, err := AssembleAnalysisPrompt(*profile, sessions, bibliography, question)
	if err != nil {
		return nil, err
	}

	raw, err := d.generator.Generate(ctx, GenerateRequest{
		System: AnalysisSystemPrompt,
		Prompt: prompt,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	report, err := ParseAnalysisReport(raw)
	if err != nil {
		d.logger.Warn("analysis response rejected", zap.String("entity", req.EntityID), zap.Error(err))
		return nil, err
	}

	return &AnalysisAnswer{
		Answer: report.Markdown(),
		Report: report,
		Context: AnalysisContext{
			EntityAlias: profile.Alias,
			RecordCount: len(sessions),
			Sources:     sourceTitles(bibliography),
		},
	}, nil
}

// retrieve embeds text and searches the index. An embedding failure is
// returned; a search failure is logged and treated as no results.
func (d *Dispatcher) retrieve(ctx context.Context, mode Mode, text string, threshold float32, topK int, tags []string) ([]vectordb.Result, error) {
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		if !errors.Is(err, embeddings.ErrUnavailable) {
			err = &embeddings.UnavailableError{Provider: d.embedder.Name(), Err: err}
		}
		return nil, err
	}

	results, err := d.index.Search(ctx, vectordb.Query{
		Embedding: vec,
		Model:     d.embedder.Name(),
		Threshold: threshold,
		TopK:      topK,
		Tags:      tags,
	})
	if err != nil {
		metrics.SearchFailures.Inc()
		d.logger.Warn("vector search failed, answering without fragments",
			zap.String("mode", string(mode)), zap.Error(err))
		return nil, nil
	}
	metrics.RetrievalHits.WithLabelValues(string(mode)).Observe(float64(len(results)))
	return results, nil
}

func (d *Dispatcher) isElevated(p auth.Principal) bool {
	return d.elevation != nil && d.elevation.IsElevated(p)
}

// sourcesOf lists the distinct documents behind results, best first.
func sourcesOf(results []vectordb.Result) []Source {
	sources := []Source{}
	seen := make(map[Source]bool)
	for _, r := range results {
		s := Source{Title: r.Chunk.Title, Author: r.Chunk.Author}
		if !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}
	return sources
}

// sourceTitles lists the distinct document titles behind results, best first.
func sourceTitles(results []vectordb.Result) []string {
	titles := []string{}
	for _, s := range sourcesOf(results) {
		if !slices.Contains(titles, s.Title) {
			titles = append(titles, s.Title)
		}
	}
	return titles
}
