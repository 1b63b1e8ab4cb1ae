package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// DefaultConfigFile is where RunWizard writes its result.
const DefaultConfigFile = ".biblioteca.yml"

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .biblioteca.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Bienvenido a biblioteca. Vamos a configurar la biblioteca de documentos.")
	fmt.Println()

	cfg := DefaultConfig()

	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{"anthropic", "openai", "openrouter", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)

	qualityPrompt := promptui.Select{
		Label: "Select quality tier",
		Items: []string{
			"lite   (fast & cheap)",
			"normal (balanced)",
			"max    (highest quality)",
		},
	}
	qualityIdx, _, err := qualityPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("quality selection: %w", err)
	}
	tiers := []QualityTier{QualityLite, QualityNormal, QualityMax}
	cfg.Quality = tiers[qualityIdx]

	preset := GetPreset(cfg.Provider, cfg.Quality)
	cfg.Model = preset.Model
	cfg.EmbeddingProvider = embeddingProviderFor(cfg.Provider)
	cfg.EmbeddingModel = preset.EmbeddingModel

	dataPrompt := promptui.Prompt{
		Label:   "Data directory (catalog + vectors)",
		Default: cfg.DataDir,
	}
	if cfg.DataDir, err = dataPrompt.Run(); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	backendPrompt := promptui.Select{
		Label: "Vector store backend",
		Items: []string{BackendChromem, BackendQdrant},
	}
	_, cfg.VectorStore.Backend, err = backendPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("backend selection: %w", err)
	}
	if cfg.VectorStore.Backend == BackendQdrant {
		hostPrompt := promptui.Prompt{Label: "Qdrant host", Default: cfg.VectorStore.Qdrant.Host}
		if cfg.VectorStore.Qdrant.Host, err = hostPrompt.Run(); err != nil {
			return nil, fmt.Errorf("qdrant host: %w", err)
		}
		portPrompt := promptui.Prompt{
			Label:    "Qdrant gRPC port",
			Default:  strconv.Itoa(cfg.VectorStore.Qdrant.Port),
			Validate: validatePort,
		}
		portStr, err := portPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("qdrant port: %w", err)
		}
		cfg.VectorStore.Qdrant.Port, _ = strconv.Atoi(portStr)
	}

	rolesPrompt := promptui.Prompt{
		Label:   "Elevated roles (comma-separated)",
		Default: strings.Join(cfg.Auth.ElevatedRoles, ","),
	}
	rolesStr, err := rolesPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("elevated roles: %w", err)
	}
	cfg.Auth.ElevatedRoles = splitAndTrim(rolesStr)

	for _, p := range []ProviderType{cfg.Provider, cfg.EmbeddingProvider} {
		if envVar := APIKeyEnvVar(p); envVar != "" && os.Getenv(envVar) == "" {
			fmt.Printf("\nNote: Set %s in your environment before running biblioteca server.\n", envVar)
		}
	}

	if err := cfg.Save(DefaultConfigFile); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", DefaultConfigFile)
	return cfg, nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port")
	}
	return nil
}

// embeddingProviderFor returns the default embedding provider for a given
// LLM provider. OpenAI embeddings are used for all cloud providers.
func embeddingProviderFor(p ProviderType) ProviderType {
	if p == ProviderOllama {
		return ProviderOllama
	}
	return ProviderOpenAI
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
