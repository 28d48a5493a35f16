package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/sagenote/sage/internal/embed"
)

// Validation bounds. Values outside these ranges are configuration
// mistakes, not tuning choices.
const (
	MinContextWindow = 512
	MaxContextWindow = 32768

	MinTopK = 1
	MaxTopK = 20

	MaxReindexWorkers = 32
)

var validLLMProviders = map[string]struct{}{
	ProviderOllama:    {},
	ProviderOpenAI:    {},
	ProviderAnthropic: {},
	ProviderGroq:      {},
}

var validStoreBackends = map[string]struct{}{
	BackendSQLite:   {},
	BackendPostgres: {},
}

// apiKeyEnv maps hosted LLM providers to their key environment variable.
var apiKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGroq:      "GROQ_API_KEY",
}

// Validate checks the whole configuration and returns the first
// violation found. Called from Load so an invalid config never reaches
// the engine.
func (c *Config) Validate() error {
	if _, ok := validLLMProviders[c.LLMProvider]; !ok {
		return fmt.Errorf("%w: %q (valid: ollama, openai, anthropic, groq)",
			ErrInvalidProvider, c.LLMProvider)
	}
	if c.LLMModel == "" {
		return fmt.Errorf("%w: llm_model is empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("%w: %v (must be in [0,1])", ErrInvalidTemperature, c.Temperature)
	}
	if c.ContextWindow < MinContextWindow || c.ContextWindow > MaxContextWindow {
		return fmt.Errorf("%w: %d (must be in [%d,%d])",
			ErrInvalidContextWindow, c.ContextWindow, MinContextWindow, MaxContextWindow)
	}
	if c.TopK < MinTopK || c.TopK > MaxTopK {
		return fmt.Errorf("%w: %d (must be in [%d,%d])", ErrInvalidTopK, c.TopK, MinTopK, MaxTopK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: %v (must be in [0,1])", ErrInvalidMinScore, c.MinScore)
	}

	embedBackend, err := embed.Backend(c.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEmbedderModel, c.EmbeddingModel)
	}
	if c.EmbeddingProvider != "" && c.EmbeddingProvider != embedBackend {
		return fmt.Errorf("%w: model %q is served by %q, not %q",
			ErrInvalidEmbedderModel, c.EmbeddingModel, embedBackend, c.EmbeddingProvider)
	}

	if _, ok := validStoreBackends[c.StoreBackend]; !ok {
		return fmt.Errorf("%w: %q (valid: sqlite, postgres)", ErrInvalidStoreBackend, c.StoreBackend)
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("%w: sqlite backend requires store_path", ErrInvalidStoreBackend)
		}
	case BackendPostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("%w: postgres backend requires store_dsn", ErrInvalidStoreBackend)
		}
	}

	if err := validateHostURL(c.OllamaHost); err != nil {
		return err
	}

	if c.EmbedTimeout <= 0 || c.GenerateTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive: embed=%d generate=%d",
			c.EmbedTimeout, c.GenerateTimeout)
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive: %d", c.RequestsPerMinute)
	}
	if c.ReindexWorkers < 1 || c.ReindexWorkers > MaxReindexWorkers {
		return fmt.Errorf("reindex_workers must be in [1,%d]: %d",
			MaxReindexWorkers, c.ReindexWorkers)
	}

	return c.validateAPIKeys()
}

// validateAPIKeys checks that the environment carries the keys the
// selected providers need. Keys live in the environment only, never in
// the config file. The embedding key follows the model's backend, not
// the declared embedding_provider.
func (c *Config) validateAPIKeys() error {
	if env, ok := apiKeyEnv[c.LLMProvider]; ok {
		if os.Getenv(env) == "" {
			return fmt.Errorf("%w: %s required for llm_provider %q",
				ErrMissingAPIKey, env, c.LLMProvider)
		}
	}
	backend, err := embed.Backend(c.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEmbedderModel, c.EmbeddingModel)
	}
	switch backend {
	case "gemini":
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY required for embedding model %q",
				ErrMissingAPIKey, c.EmbeddingModel)
		}
	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for embedding model %q",
				ErrMissingAPIKey, c.EmbeddingModel)
		}
	}
	return nil
}

func validateHostURL(host string) error {
	u, err := url.Parse(host)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidOllamaHost, host)
	}
	return nil
}
