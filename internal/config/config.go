// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.copilot/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: generation provider and model, embedder model and dimension
//   - Index: vector index backend selection and on-disk location
//   - Storage: PostgreSQL connection (see storage.go)
//   - Serve: HTTP listen address, rate limiting, CORS
//   - Observability: OTLP trace export
//
// Security: sensitive fields (passwords, tokens) are masked in MarshalJSON
// and never logged. Validation lives in validation.go with sentinel errors
// for errors.Is checks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the generation provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDimension indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embedding batch size")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidIndexBackend indicates the vector index backend is unknown.
	ErrInvalidIndexBackend = errors.New("invalid index backend")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRateLimit indicates the request rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// Generation provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderLocal    = "local"
	ProviderGoogleAI = "googleai"
)

// Vector index backend identifiers used in Config.IndexBackend.
const (
	IndexBackendFlat     = "flat"
	IndexBackendPGVector = "pgvector"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Generation provider and model. Provider "local" disables backend
	// generation and embeds with the built-in hash embedder.
	Provider  string `mapstructure:"provider" json:"provider"`
	ModelName string `mapstructure:"model_name" json:"model_name"`

	// Embedding configuration. Dimension is the zero-vector fallback
	// dimension and the local embedder's output width.
	EmbedderModel      string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	EmbedBatchSize     int    `mapstructure:"embed_batch_size" json:"embed_batch_size"`

	// Retrieval configuration
	TopK      int  `mapstructure:"top_k" json:"top_k"`
	Reranking bool `mapstructure:"reranking" json:"reranking"`

	// Vector index configuration. "flat" stores per-repository files under
	// IndexDir; "pgvector" keeps vectors in PostgreSQL.
	IndexBackend string `mapstructure:"index_backend" json:"index_backend"`
	IndexDir     string `mapstructure:"index_dir" json:"index_dir"`

	// Repository acquisition
	CloneDir    string `mapstructure:"clone_dir" json:"clone_dir"`
	GitHubToken string `mapstructure:"github_token" json:"github_token"` // SENSITIVE: masked in MarshalJSON

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode configuration
	ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
	CORSOrigins    []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Generation cost accounting
	CostPerKiloToken float64 `mapstructure:"cost_per_kilo_token" json:"cost_per_kilo_token"`

	// Observability configuration (see observability.go)
	Otel OtelConfig `mapstructure:"otel" json:"otel"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".copilot")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(configDir string) {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")

	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("embedding_dimension", 768)
	viper.SetDefault("embed_batch_size", 32)

	viper.SetDefault("top_k", 8)
	viper.SetDefault("reranking", true)

	viper.SetDefault("index_backend", IndexBackendFlat)
	viper.SetDefault("index_dir", filepath.Join(configDir, "index"))
	viper.SetDefault("clone_dir", filepath.Join(configDir, "repos"))

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "copilot")
	viper.SetDefault("postgres_password", "copilot_dev_password")
	viper.SetDefault("postgres_db_name", "copilot")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("rate_limit_rps", 5.0)
	viper.SetDefault("rate_limit_burst", 10)
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})

	viper.SetDefault("cost_per_kilo_token", 0.01)

	viper.SetDefault("otel.endpoint", "localhost:4318")
	viper.SetDefault("otel.environment", "dev")
	viper.SetDefault("otel.service_name", "copilot")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit plugins,
// not via Viper; Validate checks their presence for the selected provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "COPILOT_PROVIDER")
	mustBind("model_name", "COPILOT_MODEL_NAME")
	mustBind("embedder_model", "COPILOT_EMBEDDER_MODEL")
	mustBind("index_backend", "COPILOT_INDEX_BACKEND")
	mustBind("index_dir", "COPILOT_INDEX_DIR")
	mustBind("listen_addr", "COPILOT_LISTEN_ADDR")
	mustBind("cors_origins", "COPILOT_CORS_ORIGINS")
	mustBind("github_token", "GITHUB_TOKEN")
	mustBind("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 chars or fewer
// are fully masked; longer ones keep the first and last two characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.GitHubToken = maskSecret(a.GitHubToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o". A ModelName that
// already contains "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// FullEmbedderName returns the provider-qualified embedder name for Genkit.
func (c *Config) FullEmbedderName() string {
	if strings.Contains(c.EmbedderModel, "/") {
		return c.EmbedderModel
	}
	switch c.Provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.EmbedderModel
	default:
		return ProviderGoogleAI + "/" + c.EmbedderModel
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
