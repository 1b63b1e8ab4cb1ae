package config

import (
	"path/filepath"
	"time"
)

// QualityPreset describes the models to use for a given quality tier.
type QualityPreset struct {
	Model          string
	EmbeddingModel string
}

// qualityPresets maps each provider+quality combination to its model choices.
var qualityPresets = map[ProviderType]map[QualityTier]QualityPreset{
	ProviderAnthropic: {
		QualityLite:   {Model: "claude-haiku-4-5-20251001", EmbeddingModel: "text-embedding-3-small"},
		QualityNormal: {Model: "claude-sonnet-4-5-20250929", EmbeddingModel: "text-embedding-3-small"},
		QualityMax:    {Model: "claude-opus-4-6", EmbeddingModel: "text-embedding-3-large"},
	},
	ProviderOpenAI: {
		QualityLite:   {Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
		QualityNormal: {Model: "gpt-4o", EmbeddingModel: "text-embedding-3-small"},
		QualityMax:    {Model: "gpt-4.1", EmbeddingModel: "text-embedding-3-large"},
	},
	ProviderOllama: {
		QualityLite:   {Model: "llama3", EmbeddingModel: "nomic-embed-text"},
		QualityNormal: {Model: "llama3", EmbeddingModel: "nomic-embed-text"},
		QualityMax:    {Model: "llama3:70b", EmbeddingModel: "nomic-embed-text"},
	},
	ProviderOpenRouter: {
		QualityLite:   {Model: "openai/gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
		QualityNormal: {Model: "anthropic/claude-sonnet-4.5", EmbeddingModel: "text-embedding-3-small"},
		QualityMax:    {Model: "anthropic/claude-opus-4.1", EmbeddingModel: "text-embedding-3-large"},
	},
}

// Retrieval defaults per answer mode.
const (
	DefaultLibraryThreshold  = 0.65
	DefaultLibraryTopK       = 8
	DefaultAnalysisThreshold = 0.6
	DefaultAnalysisTopK      = 3
	DefaultMaxRecords        = 10
)

// DefaultElevatedRoles may request per-child information and manage the library.
var DefaultElevatedRoles = []string{"admin", "coordinador", "psicopedagogo"}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:          ProviderAnthropic,
		Model:             "claude-sonnet-4-5-20250929",
		EmbeddingProvider: ProviderOpenAI,
		EmbeddingModel:    "text-embedding-3-small",
		Quality:           QualityNormal,
		DataDir:           ".biblioteca",
		LLMRPM:            50,
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 200,
		},
		Ingest: IngestConfig{
			MaxConcurrency: 4,
			EmbedRPM:       300,
			InferMetadata:  true,
			SuggestTags:    false,
		},
		Retrieval: RetrievalConfig{
			Library: SearchConfig{Threshold: DefaultLibraryThreshold, TopK: DefaultLibraryTopK},
			Analysis: AnalysisConfig{
				Threshold:  DefaultAnalysisThreshold,
				TopK:       DefaultAnalysisTopK,
				MaxRecords: DefaultMaxRecords,
			},
		},
		VectorStore: VectorStoreConfig{
			Backend: BackendChromem,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "biblioteca_chunks",
			},
		},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
			RequestTimeout: 90 * time.Second,
			IngestTimeout:  10 * time.Minute,
		},
		Auth: AuthConfig{
			RoleHeader:    "X-User-Role",
			UserHeader:    "X-User-ID",
			ElevatedRoles: DefaultElevatedRoles,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// GetPreset returns the quality preset for the given provider and tier.
// Returns the Normal Anthropic preset if the combination is not found.
func GetPreset(provider ProviderType, tier QualityTier) QualityPreset {
	if tiers, ok := qualityPresets[provider]; ok {
		if preset, ok := tiers[tier]; ok {
			return preset
		}
	}
	return qualityPresets[ProviderAnthropic][QualityNormal]
}

// DatabasePath is the SQLite catalog location inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "biblioteca.db")
}

// VectorPath is the chromem persistence directory inside the data directory.
func (c *Config) VectorPath() string {
	return filepath.Join(c.DataDir, "vectors")
}
