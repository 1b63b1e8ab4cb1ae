package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/config"
)

var keyProviders = []config.ProviderType{
	config.ProviderAnthropic,
	config.ProviderOpenAI,
	config.ProviderOpenRouter,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API credentials for LLM providers",
	Long: `Store and manage API credentials for LLM providers.

Credentials are stored in ~/.biblioteca/credentials.json and used
as a fallback when environment variables are not set.`,
}

var authSetKeyCmd = &cobra.Command{
	Use:   "set-key <provider>",
	Short: "Store an API key for anthropic, openai or openrouter",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthSetKey,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which providers have credentials",
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [provider]",
	Short: "Remove stored credentials",
	Long: `Remove stored credentials for a provider.

If no provider is specified, removes all stored credentials.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogout,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetKeyCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func parseKeyProvider(s string) (config.ProviderType, error) {
	p := config.ProviderType(strings.ToLower(s))
	for _, known := range keyProviders {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q (valid: anthropic, openai, openrouter)", s)
}

func runAuthSetKey(cmd *cobra.Command, args []string) error {
	provider, err := parseKeyProvider(args[0])
	if err != nil {
		return err
	}

	prompt := promptui.Prompt{
		Label: fmt.Sprintf("%s API key", provider),
		Mask:  '*',
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("API key is required")
			}
			return nil
		},
	}
	input, err := prompt.Run()
	if err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}
	apiKey := strings.TrimSpace(input)

	if provider == config.ProviderAnthropic {
		fmt.Print("Verifying API key... ")
		if err := verifyAnthropicKey(cmd.Context(), apiKey); err != nil {
			fmt.Println("failed!")
			return fmt.Errorf("key verification failed: %w", err)
		}
		fmt.Println("valid!")
	}

	creds, err := auth.LoadCredentials()
	if err != nil {
		return err
	}
	creds.SetAPIKey(string(provider), apiKey)
	if err := auth.SaveCredentials(creds); err != nil {
		return err
	}

	fmt.Printf("%s credentials stored successfully!\n", provider)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	creds, err := auth.LoadCredentials()
	if err != nil {
		return err
	}

	path, _ := auth.CredentialPath()
	fmt.Printf("Credentials file: %s\n\n", path)

	fmt.Println("Provider     Status")
	fmt.Println("--------     ------")
	for _, p := range keyProviders {
		status := "not configured"
		if env := config.APIKeyEnvVar(p); env != "" && os.Getenv(env) != "" {
			status = "configured (env var " + env + ")"
		} else if c := creds.Providers[string(p)]; c != nil && c.APIKey != "" {
			status = "configured (stored)"
		}
		fmt.Printf("%-12s %s\n", p, status)
	}
	fmt.Printf("%-12s %s\n", config.ProviderOllama, "available (local)")
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	creds, err := auth.LoadCredentials()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		creds = &auth.Credentials{}
		fmt.Println("All stored credentials removed.")
	} else {
		provider, err := parseKeyProvider(args[0])
		if err != nil {
			return err
		}
		delete(creds.Providers, string(provider))
		fmt.Printf("%s credentials removed.\n", provider)
	}

	return auth.SaveCredentials(creds)
}

func verifyAnthropicKey(ctx context.Context, apiKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	body := strings.NewReader(`{"model":"claude-3-5-haiku-latest","max_tokens":1,"messages":[{"role":"user","content":"hi"}]}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key (401 Unauthorized)")
	}
	// Any other status (200, 429, etc.) means the key is valid.
	return nil
}
