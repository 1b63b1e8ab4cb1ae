package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BIBLIOTECA_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (BIBLIOTECA_*). Nested keys use a double
// underscore: BIBLIOTECA_RETRIEVAL__LIBRARY__TOP_K -> retrieval.library.top_k.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validProviders = map[ProviderType]bool{
	ProviderAnthropic:  true,
	ProviderOpenAI:     true,
	ProviderOllama:     true,
	ProviderOpenRouter: true,
}

// Embeddings are only served by providers with an embeddings endpoint.
var validEmbeddingProviders = map[ProviderType]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
}

var validQualityTiers = map[QualityTier]bool{
	QualityLite:   true,
	QualityNormal: true,
	QualityMax:    true,
}

var validBackends = map[string]bool{
	BackendChromem: true,
	BackendQdrant:  true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of anthropic, openai, ollama, openrouter", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.EmbeddingProvider == "" {
		return fmt.Errorf("embedding_provider is required")
	}
	if !validEmbeddingProviders[c.EmbeddingProvider] {
		return fmt.Errorf("invalid embedding_provider %q: must be one of openai, ollama", c.EmbeddingProvider)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("embedding_model is required")
	}

	if c.Quality != "" && !validQualityTiers[c.Quality] {
		return fmt.Errorf("invalid quality %q: must be one of lite, normal, max", c.Quality)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive")
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size)")
	}

	if c.Ingest.MaxConcurrency < 0 {
		return fmt.Errorf("ingest.max_concurrency must be non-negative")
	}
	if c.Ingest.EmbedRPM < 0 || c.LLMRPM < 0 {
		return fmt.Errorf("rate limits must be non-negative")
	}

	if err := validateSearch("retrieval.library", c.Retrieval.Library.Threshold, c.Retrieval.Library.TopK); err != nil {
		return err
	}
	if err := validateSearch("retrieval.analysis", c.Retrieval.Analysis.Threshold, c.Retrieval.Analysis.TopK); err != nil {
		return err
	}
	if c.Retrieval.Analysis.MaxRecords <= 0 {
		return fmt.Errorf("retrieval.analysis.max_records must be positive")
	}

	if !validBackends[c.VectorStore.Backend] {
		return fmt.Errorf("invalid vector_store.backend %q: must be one of chromem, qdrant", c.VectorStore.Backend)
	}
	if c.VectorStore.Backend == BackendQdrant {
		if c.VectorStore.Qdrant.Host == "" || c.VectorStore.Qdrant.Port <= 0 {
			return fmt.Errorf("vector_store.qdrant.host and port are required")
		}
		if c.VectorStore.Qdrant.Collection == "" {
			return fmt.Errorf("vector_store.qdrant.collection is required")
		}
	}

	return nil
}

func validateSearch(key string, threshold float64, topK int) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("%s.threshold must be in (0, 1]", key)
	}
	if topK <= 0 {
		return fmt.Errorf("%s.top_k must be positive", key)
	}
	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
