package cmd

import (
	"context"
	"fmt"
	"os/user"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/audit"
	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/chunker"
	"github.com/ziadkadry99/biblioteca/internal/config"
	"github.com/ziadkadry99/biblioteca/internal/db"
	"github.com/ziadkadry99/biblioteca/internal/embeddings"
	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/llm"
	"github.com/ziadkadry99/biblioteca/internal/logging"
	"github.com/ziadkadry99/biblioteca/internal/rag"
	"github.com/ziadkadry99/biblioteca/internal/records"
	"github.com/ziadkadry99/biblioteca/internal/vectordb"
)

const (
	retryMaxTries     = 4
	retryInitialDelay = 2 * time.Second
	ollamaDimensions  = 768
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `biblioteca init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(level, cfg.Log.Format)
}

// createEmbedderFromConfig creates the embedder used for both ingestion and
// queries, wrapped with rate limiting and retries.
func createEmbedderFromConfig(cfg *config.Config, logger *zap.Logger) (embeddings.Embedder, error) {
	model := cfg.EmbeddingModel
	if model == "" {
		model = config.GetPreset(cfg.Provider, cfg.Quality).EmbeddingModel
	}

	var inner embeddings.Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		apiKey := auth.GetAPIKey(string(config.ProviderOpenAI), config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI embeddings (or run `biblioteca auth set-key openai`)")
		}
		inner = embeddings.NewOpenAIEmbedder(apiKey, embeddings.OpenAIModel(model), "")
	case config.ProviderOllama:
		inner = embeddings.NewOllamaEmbedder(model, ollamaDimensions, llm.OllamaHost())
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}

	return embeddings.NewResilient(inner,
		embeddings.WithRPM(cfg.Ingest.EmbedRPM),
		embeddings.WithMaxTries(retryMaxTries),
		embeddings.WithInitialInterval(retryInitialDelay),
		embeddings.WithLogger(logger),
	), nil
}

// createLLMProviderFromConfig creates the chat provider, rate limited and
// retried on overload.
func createLLMProviderFromConfig(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	apiKey := auth.GetAPIKey(string(cfg.Provider), config.APIKeyEnvVar(cfg.Provider))
	provider, err := llm.NewProvider(string(cfg.Provider), cfg.Model, apiKey)
	if err != nil {
		return nil, err
	}
	provider = llm.NewRateLimitedProvider(provider, cfg.LLMRPM)
	return llm.NewRetryingProvider(provider, retryMaxTries, retryInitialDelay, logger), nil
}

// openIndex opens the configured vector index backend.
func openIndex(ctx context.Context, cfg *config.Config) (vectordb.Index, error) {
	switch cfg.VectorStore.Backend {
	case config.BackendQdrant:
		q := cfg.VectorStore.Qdrant
		return vectordb.NewQdrantIndex(ctx, vectordb.QdrantConfig{
			Host:       q.Host,
			Port:       q.Port,
			APIKey:     q.APIKey,
			UseTLS:     q.UseTLS,
			Collection: q.Collection,
		})
	default:
		return vectordb.NewChromemIndex(cfg.VectorPath())
	}
}

// app holds every client a command may need. Fields are built from config
// and injected into the services.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *db.DB
	index      vectordb.Index
	embedder   embeddings.Embedder
	provider   llm.Provider
	guard      *auth.HeaderResolver
	library    *library.Service
	records    *records.Store
	journal    *audit.Store
	dispatcher *rag.Dispatcher
}

// newApp wires the application. withLLM is false for commands that never
// call a chat model; metadata inference is then disabled.
func newApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.guard = auth.NewHeaderResolver(cfg.Auth.RoleHeader, cfg.Auth.UserHeader, cfg.Auth.ElevatedRoles)

	if a.embedder, err = createEmbedderFromConfig(cfg, logger); err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if withLLM {
		if a.provider, err = createLLMProviderFromConfig(cfg, logger); err != nil {
			return nil, fmt.Errorf("creating LLM provider: %w", err)
		}
	}

	splitter, err := chunker.New(chunker.WithChunkSize(cfg.Chunk.Size), chunker.WithOverlap(cfg.Chunk.Overlap))
	if err != nil {
		return nil, err
	}

	if a.db, err = db.Open(cfg.DatabasePath()); err != nil {
		return nil, err
	}
	if a.index, err = openIndex(ctx, cfg); err != nil {
		a.db.Close()
		return nil, fmt.Errorf("opening vector index: %w", err)
	}

	var inferencer *library.Inferencer
	if a.provider != nil {
		inferencer = library.NewInferencer(a.provider, logger.Named("inference"))
	}
	a.library = library.NewService(library.NewStore(a.db), a.index, a.embedder, splitter, inferencer, library.Options{
		MaxConcurrency:  cfg.Ingest.MaxConcurrency,
		InferMetadata:   cfg.Ingest.InferMetadata,
		SuggestTags:     cfg.Ingest.SuggestTags,
		SearchThreshold: float32(cfg.Retrieval.Library.Threshold),
		SearchTopK:      cfg.Retrieval.Library.TopK,
	}, logger.Named("library"))
	a.records = records.NewStore(a.db)
	a.journal = audit.NewStore(a.db)
	a.library.SetJournal(a.journal)

	if a.provider != nil {
		rc := cfg.Retrieval
		a.dispatcher = rag.NewDispatcher(a.library, a.records, a.embedder, a.index,
			rag.NewGenerator(a.provider, cfg.Model, logger.Named("generator")), a.guard, rag.Config{
				LibraryThreshold:  float32(rc.Library.Threshold),
				LibraryTopK:       rc.Library.TopK,
				AnalysisThreshold: float32(rc.Analysis.Threshold),
				AnalysisTopK:      rc.Analysis.TopK,
				MaxRecords:        rc.Analysis.MaxRecords,
			}, logger.Named("rag"))
	}

	return a, nil
}

// cliContext attributes library changes made from the command line to the
// local OS user.
func cliContext(ctx context.Context) context.Context {
	name := "cli"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = "cli:" + u.Username
	}
	return auth.WithPrincipal(ctx, auth.Principal{UserID: name})
}

func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		a.logger.Warn("closing vector index", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
