// Package embed abstracts text-embedding backends behind a single
// Provider interface.
//
// A provider is selected once, by the configured embedding model
// identifier, at construction time. Each known model has a fixed vector
// dimensionality; the vector store validates compatibility against it,
// so mixing models without a full reindex is impossible by construction.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider failures are normalized to this taxonomy so callers can
// branch with errors.Is regardless of the backend.
var (
	// ErrUnavailable indicates the embedding backend is unreachable or
	// returned a server-side failure. Never silently substituted.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrInvalidResponse indicates the backend answered with a payload
	// the client could not use (wrong shape, wrong dimensionality).
	ErrInvalidResponse = errors.New("invalid embedding response")

	// ErrTimeout indicates the bounded request timeout elapsed.
	ErrTimeout = errors.New("embedding request timeout")

	// ErrUnknownModel indicates the configured embedding model is not
	// in the known-models table.
	ErrUnknownModel = errors.New("unknown embedding model")
)

// DefaultTimeout bounds a single embedding request.
const DefaultTimeout = 30 * time.Second

// Provider turns text into fixed-dimensional vectors.
//
// Embed is batched: it returns one vector per input text, in order.
// Implementations must be safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}

// Config selects and parameterizes an embedding backend.
type Config struct {
	// Model is the embedding model identifier (e.g. "gemini-embedding-001",
	// "nomic-embed-text", "text-embedding-3-small").
	Model string

	// OllamaHost is the base URL of the local Ollama server.
	OllamaHost string

	// OpenAIBaseURL overrides the OpenAI-compatible endpoint base URL.
	OpenAIBaseURL string

	// APIKey authenticates hosted backends. Unused for local models.
	APIKey string

	// Timeout bounds each Embed call. Default DefaultTimeout.
	Timeout time.Duration
}

// backend identifies which client implementation serves a model.
type backend string

const (
	backendGemini backend = "gemini"
	backendOllama backend = "ollama"
	backendOpenAI backend = "openai"
)

// modelSpec fixes the backend and dimensionality per model identifier.
type modelSpec struct {
	backend backend
	dim     int
}

// knownModels is the closed set of supported embedding models. The
// dimensionality recorded here is authoritative: the vector store
// refuses to open against an index built with a different one.
var knownModels = map[string]modelSpec{
	"gemini-embedding-001":   {backendGemini, 768},
	"text-embedding-004":     {backendGemini, 768},
	"nomic-embed-text":       {backendOllama, 768},
	"mxbai-embed-large":      {backendOllama, 1024},
	"all-minilm":             {backendOllama, 384},
	"text-embedding-3-small": {backendOpenAI, 1536},
	"text-embedding-3-large": {backendOpenAI, 3072},
}

// Dimension reports the vector dimensionality for a known model ID.
func Dimension(model string) (int, error) {
	spec, ok := knownModels[model]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return spec.dim, nil
}

// Backend reports which backend ("gemini", "ollama", "openai") serves a
// known model ID. The model table is authoritative; configuration that
// claims a different provider for the model is a mistake.
func Backend(model string) (string, error) {
	spec, ok := knownModels[model]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return string(spec.backend), nil
}

// New constructs the Provider for the configured model.
func New(ctx context.Context, cfg Config) (Provider, error) {
	spec, ok := knownModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Model)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch spec.backend {
	case backendGemini:
		return newGemini(ctx, cfg.Model, spec.dim, cfg.Timeout)
	case backendOllama:
		return newOllama(cfg.OllamaHost, cfg.Model, spec.dim, cfg.Timeout), nil
	case backendOpenAI:
		return newOpenAI(cfg.OpenAIBaseURL, cfg.APIKey, cfg.Model, spec.dim, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Model)
	}
}

// checkVectors validates a batch response against the expected shape.
func checkVectors(vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d inputs", ErrInvalidResponse, len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrInvalidResponse, i, len(v), dim)
		}
	}
	return nil
}

// normalizeErr maps transport-level failures onto the package taxonomy.
func normalizeErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
