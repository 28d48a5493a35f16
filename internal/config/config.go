// Package config provides engine configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.sage/config.yaml)
//  3. Default values
//
// Security: API keys are read from the environment only and never stored
// in the config file. The store DSN may embed a password, so it is
// masked in MarshalJSON.
//
// Error handling uses sentinel errors so callers can check categories
// with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the LLM provider is not supported.
	ErrInvalidProvider = errors.New("invalid llm provider")

	// ErrInvalidModelName indicates a model name is missing or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidContextWindow indicates the context window is out of range.
	ErrInvalidContextWindow = errors.New("invalid context window")

	// ErrInvalidTopK indicates the retrieval depth is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidMinScore indicates the similarity floor is out of range.
	ErrInvalidMinScore = errors.New("invalid min_score")

	// ErrInvalidEmbedderModel indicates the embedding model is unknown.
	ErrInvalidEmbedderModel = errors.New("invalid embedding model")

	// ErrInvalidStoreBackend indicates the vector store backend is unknown.
	ErrInvalidStoreBackend = errors.New("invalid store backend")

	// ErrInvalidOllamaHost indicates the Ollama host URL is malformed.
	ErrInvalidOllamaHost = errors.New("invalid ollama host")

	// ErrMissingAPIKey indicates a required API key is not set in the
	// environment for the selected provider.
	ErrMissingAPIKey = errors.New("missing API key")
)

// LLM provider identifiers used in Config.LLMProvider.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGroq      = "groq"
)

// Vector store backend identifiers used in Config.StoreBackend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultEmbeddingModel is the default local embedding model.
const DefaultEmbeddingModel = "nomic-embed-text"

// Config stores engine configuration.
// SECURITY: StoreDSN may embed credentials and is masked in MarshalJSON().
type Config struct {
	// Generation
	LLMProvider string  `mapstructure:"llm_provider" json:"llm_provider"` // "ollama" (default), "openai", "anthropic", "groq"
	LLMModel    string  `mapstructure:"llm_model" json:"llm_model"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	// ContextWindow caps the total bytes of retrieved passages placed in
	// a prompt.
	ContextWindow int `mapstructure:"context_window" json:"context_window"`

	// Embedding. The model picks the backend; EmbeddingProvider is a
	// consistency check and must match the model's backend when set.
	EmbeddingProvider string `mapstructure:"embedding_provider" json:"embedding_provider"` // "ollama" (default), "gemini", "openai"
	EmbeddingModel    string `mapstructure:"embedding_model" json:"embedding_model"`

	// Retrieval
	TopK     int     `mapstructure:"top_k" json:"top_k"`
	MinScore float32 `mapstructure:"min_score" json:"min_score"`

	// Vector store
	StoreBackend string `mapstructure:"store_backend" json:"store_backend"` // "sqlite" (default), "postgres"
	StorePath    string `mapstructure:"store_path" json:"store_path"`       // sqlite only
	StoreDSN     string `mapstructure:"store_dsn" json:"store_dsn"`         // postgres only; SENSITIVE: masked in MarshalJSON

	// Ollama (used when either provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Timeouts, in seconds.
	EmbedTimeout    int `mapstructure:"embed_timeout" json:"embed_timeout"`
	GenerateTimeout int `mapstructure:"generate_timeout" json:"generate_timeout"`

	// Hosted provider client-side rate limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requests_per_minute"`

	// Feature toggles
	EnableQA            bool `mapstructure:"enable_qa" json:"enable_qa"`
	EnableSummarization bool `mapstructure:"enable_summarization" json:"enable_summarization"`
	EnableAutoTagging   bool `mapstructure:"enable_auto_tagging" json:"enable_auto_tagging"`
	EnableSimilarNotes  bool `mapstructure:"enable_similar_notes" json:"enable_similar_notes"`

	// Indexing
	ReindexWorkers int `mapstructure:"reindex_workers" json:"reindex_workers"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".sage")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Fail fast: a bad config should never reach the engine.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("llm_provider", ProviderOllama)
	v.SetDefault("llm_model", "llama3.2")
	v.SetDefault("temperature", 0.3)
	v.SetDefault("context_window", 8192)

	v.SetDefault("embedding_provider", ProviderOllama)
	v.SetDefault("embedding_model", DefaultEmbeddingModel)

	v.SetDefault("top_k", 5)
	v.SetDefault("min_score", 0.0)

	v.SetDefault("store_backend", BackendSQLite)
	v.SetDefault("store_path", filepath.Join(configDir, "index.db"))

	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("embed_timeout", 30)
	v.SetDefault("generate_timeout", 120)
	v.SetDefault("requests_per_minute", 30)

	v.SetDefault("enable_qa", true)
	v.SetDefault("enable_summarization", true)
	v.SetDefault("enable_auto_tagging", true)
	v.SetDefault("enable_similar_notes", true)

	v.SetDefault("reindex_workers", 4)
}

// bindEnvVariables binds runtime overrides explicitly.
//
// API keys are NOT bound here: OPENAI_API_KEY, ANTHROPIC_API_KEY,
// GROQ_API_KEY, and GEMINI_API_KEY are read directly by the provider
// clients. Validate() checks their presence for the selected providers.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("llm_provider", "SAGE_LLM_PROVIDER")
	mustBind("llm_model", "SAGE_LLM_MODEL")
	mustBind("embedding_provider", "SAGE_EMBEDDING_PROVIDER")
	mustBind("embedding_model", "SAGE_EMBEDDING_MODEL")
	mustBind("store_backend", "SAGE_STORE_BACKEND")
	mustBind("store_path", "SAGE_STORE_PATH")
	mustBind("store_dsn", "SAGE_STORE_DSN")
	mustBind("ollama_host", "SAGE_OLLAMA_HOST")
}

// EmbedTimeoutDuration returns the embed timeout as a Duration.
func (c *Config) EmbedTimeoutDuration() time.Duration {
	return time.Duration(c.EmbedTimeout) * time.Second
}

// GenerateTimeoutDuration returns the generation timeout as a Duration.
func (c *Config) GenerateTimeoutDuration() time.Duration {
	return time.Duration(c.GenerateTimeout) * time.Second
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against the original secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep two characters at each end for debug
// utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit masking of the
// store DSN, which may embed a database password.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.StoreDSN = maskSecret(a.StoreDSN)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
