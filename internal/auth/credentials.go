package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// APIKeyCredentials stores an API key for a provider.
type APIKeyCredentials struct {
	APIKey string `json:"api_key,omitempty"`
}

// Credentials holds stored API keys keyed by provider name.
type Credentials struct {
	Providers map[string]*APIKeyCredentials `json:"providers,omitempty"`
}

// CredentialPath returns the path to the credentials file (~/.biblioteca/credentials.json).
func CredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".biblioteca", "credentials.json"), nil
}

// LoadCredentials reads the credentials file.
// Returns empty credentials if the file doesn't exist.
func LoadCredentials() (*Credentials, error) {
	path, err := CredentialPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return &creds, nil
}

// SaveCredentials writes the credentials file with restricted permissions.
func SaveCredentials(creds *Credentials) error {
	path, err := CredentialPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling credentials: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

// SetAPIKey stores the key for provider, replacing any previous one.
func (c *Credentials) SetAPIKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = make(map[string]*APIKeyCredentials)
	}
	c.Providers[provider] = &APIKeyCredentials{APIKey: key}
}

// GetAPIKey returns the API key for provider. The environment variable wins
// over stored credentials; envVar may be empty.
func GetAPIKey(provider, envVar string) string {
	if envVar != "" {
		if key := os.Getenv(envVar); key != "" {
			return key
		}
	}

	creds, err := LoadCredentials()
	if err != nil || creds.Providers == nil {
		return ""
	}
	if c := creds.Providers[provider]; c != nil {
		return c.APIKey
	}
	return ""
}
