package config

import "time"

// QualityTier controls the model selection and trade-off between speed/cost and quality.
type QualityTier string

const (
	QualityLite   QualityTier = "lite"
	QualityNormal QualityTier = "normal"
	QualityMax    QualityTier = "max"
)

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOllama     ProviderType = "ollama"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Vector store backends.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Config is the top-level biblioteca configuration, corresponding to .biblioteca.yml.
type Config struct {
	Provider          ProviderType      `yaml:"provider" koanf:"provider"`
	Model             string            `yaml:"model" koanf:"model"`
	EmbeddingProvider ProviderType      `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string            `yaml:"embedding_model" koanf:"embedding_model"`
	Quality           QualityTier       `yaml:"quality" koanf:"quality"`
	DataDir           string            `yaml:"data_dir" koanf:"data_dir"`
	LLMRPM            int               `yaml:"llm_rpm" koanf:"llm_rpm"`
	Chunk             ChunkConfig       `yaml:"chunk" koanf:"chunk"`
	Ingest            IngestConfig      `yaml:"ingest" koanf:"ingest"`
	Retrieval         RetrievalConfig   `yaml:"retrieval" koanf:"retrieval"`
	VectorStore       VectorStoreConfig `yaml:"vector_store" koanf:"vector_store"`
	Server            ServerConfig      `yaml:"server" koanf:"server"`
	Auth              AuthConfig        `yaml:"auth" koanf:"auth"`
	Log               LogConfig         `yaml:"log" koanf:"log"`
}

// ChunkConfig sizes the word windows documents are split into.
type ChunkConfig struct {
	Size    int `yaml:"size" koanf:"size"`
	Overlap int `yaml:"overlap" koanf:"overlap"`
}

// IngestConfig holds document ingestion settings.
type IngestConfig struct {
	MaxConcurrency int  `yaml:"max_concurrency" koanf:"max_concurrency"`
	EmbedRPM       int  `yaml:"embed_rpm" koanf:"embed_rpm"`
	InferMetadata  bool `yaml:"infer_metadata" koanf:"infer_metadata"`
	SuggestTags    bool `yaml:"suggest_tags" koanf:"suggest_tags"`
}

// SearchConfig is a similarity threshold plus result cap.
type SearchConfig struct {
	Threshold float64 `yaml:"threshold" koanf:"threshold"`
	TopK      int     `yaml:"top_k" koanf:"top_k"`
}

// AnalysisConfig extends SearchConfig with the per-child record window.
type AnalysisConfig struct {
	Threshold  float64 `yaml:"threshold" koanf:"threshold"`
	TopK       int     `yaml:"top_k" koanf:"top_k"`
	MaxRecords int     `yaml:"max_records" koanf:"max_records"`
}

// RetrievalConfig holds per-mode search settings.
type RetrievalConfig struct {
	Library  SearchConfig   `yaml:"library" koanf:"library"`
	Analysis AnalysisConfig `yaml:"analysis" koanf:"analysis"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	Backend string       `yaml:"backend" koanf:"backend"`
	Qdrant  QdrantConfig `yaml:"qdrant" koanf:"qdrant"`
}

// QdrantConfig holds connection settings for a Qdrant server.
type QdrantConfig struct {
	Host       string `yaml:"host" koanf:"host"`
	Port       int    `yaml:"port" koanf:"port"`
	Collection string `yaml:"collection" koanf:"collection"`
	UseTLS     bool   `yaml:"use_tls" koanf:"use_tls"`
	APIKey     string `yaml:"api_key,omitempty" koanf:"api_key"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int           `yaml:"port" koanf:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" koanf:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
	IngestTimeout  time.Duration `yaml:"ingest_timeout" koanf:"ingest_timeout"`
}

// AuthConfig describes how callers are identified by the trusted proxy in
// front of the server.
type AuthConfig struct {
	RoleHeader    string   `yaml:"role_header" koanf:"role_header"`
	UserHeader    string   `yaml:"user_header" koanf:"user_header"`
	ElevatedRoles []string `yaml:"elevated_roles" koanf:"elevated_roles"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}
