package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 1. Provider validation and provider-specific API key checks.
	// Provider "local" runs fully offline: no key, no backend generation.
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required",
				ErrMissingAPIKey)
		}
	case ProviderLocal:
	default:
		return fmt.Errorf("%w: %q is not one of: gemini, openai, local",
			ErrInvalidProvider, c.Provider)
	}

	// 2. Model configuration validation
	if c.Provider != ProviderLocal && c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.Provider != ProviderLocal && c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 3. Embedding configuration validation
	if c.EmbeddingDimension < 1 || c.EmbeddingDimension > 8192 {
		return fmt.Errorf("%w: must be between 1 and 8192, got %d",
			ErrInvalidEmbeddingDimension, c.EmbeddingDimension)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 256 {
		return fmt.Errorf("%w: must be between 1 and 256, got %d",
			ErrInvalidBatchSize, c.EmbedBatchSize)
	}

	// 4. Retrieval configuration validation
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}

	// 5. Vector index backend validation
	validBackends := []string{IndexBackendFlat, IndexBackendPGVector}
	if !slices.Contains(validBackends, c.IndexBackend) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidIndexBackend, c.IndexBackend, validBackends)
	}
	if c.IndexBackend == IndexBackendFlat && c.IndexDir == "" {
		return fmt.Errorf("%w: index_dir cannot be empty for the flat backend",
			ErrInvalidIndexBackend)
	}

	// 6. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "copilot_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only; allow/prefer are deprecated and MITM-prone.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 7. Serve mode validation
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("%w: rate_limit_rps must be positive, got %v",
			ErrInvalidRateLimit, c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: rate_limit_burst must be at least 1, got %d",
			ErrInvalidRateLimit, c.RateLimitBurst)
	}

	return nil
}
