// Package llm abstracts text generation behind a provider-neutral
// interface with both blocking and streaming calls.
//
// Four providers are supported: Ollama (local, NDJSON streaming) and
// three hosted SSE APIs (OpenAI, Anthropic, Groq). Hosted providers are
// wrapped with a client-side rate limiter so bursts of background work
// cannot trip remote quotas.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/sagenote/sage/internal/log"
)

var (
	// ErrUnavailable indicates the provider could not be reached or
	// returned a server error.
	ErrUnavailable = errors.New("llm provider unavailable")

	// ErrRateLimited indicates the provider rejected the request with a
	// rate limit response.
	ErrRateLimited = errors.New("llm provider rate limited")

	// ErrInvalidResponse indicates the provider answered with a payload
	// the client could not interpret.
	ErrInvalidResponse = errors.New("invalid llm response")

	// ErrTimeout indicates generation exceeded its deadline.
	ErrTimeout = errors.New("llm request timed out")
)

// DefaultTimeout bounds a single blocking generation call.
const DefaultTimeout = 120 * time.Second

// defaultHostedRPM is the client-side request budget for hosted
// providers when configuration does not set one.
const defaultHostedRPM = 30

// Options tunes a single generation call.
type Options struct {
	// Temperature in [0,1]. Zero means provider default.
	Temperature float32

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// Chunk is one streamed fragment of a response. Err is set on the final
// chunk when the stream ended abnormally.
type Chunk struct {
	Text string
	Err  error
}

// Provider generates text from prompts.
type Provider interface {
	// Generate returns the complete response for a prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// Stream returns a channel of response fragments. The channel is
	// closed when the response is complete or the context is cancelled;
	// a terminal error arrives as the last chunk's Err.
	Stream(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error)

	// ModelID reports the configured model.
	ModelID() string

	// Name reports the provider name.
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of "ollama", "openai", "anthropic", "groq".
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// OllamaHost is the base URL of a local Ollama server.
	OllamaHost string

	// Timeout bounds blocking calls; DefaultTimeout when zero.
	Timeout time.Duration

	// RequestsPerMinute is the client-side limit for hosted providers.
	RequestsPerMinute int

	Logger log.Logger
}

// New builds the configured provider. API keys are read from the
// environment only: OPENAI_API_KEY, ANTHROPIC_API_KEY, GROQ_API_KEY.
func New(cfg Config) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	switch cfg.Provider {
	case "ollama":
		host := cfg.OllamaHost
		if host == "" {
			host = "http://localhost:11434"
		}
		return newOllama(host, cfg.Model, cfg.Timeout, cfg.Logger), nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		p := newOpenAI("https://api.openai.com", key, cfg.Model, cfg.Timeout, cfg.Logger)
		return withRateLimit(p, cfg.RequestsPerMinute), nil
	case "groq":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY is not set")
		}
		p := newGroq(key, cfg.Model, cfg.Timeout, cfg.Logger)
		return withRateLimit(p, cfg.RequestsPerMinute), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		p := newAnthropic(key, cfg.Model, cfg.Timeout, cfg.Logger)
		return withRateLimit(p, cfg.RequestsPerMinute), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// classifyStatus maps an HTTP status to the package's error taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrUnavailable
	default:
		return ErrInvalidResponse
	}
}

// normalizeErr folds transport errors into the package taxonomy while
// keeping the original cause in the chain.
func normalizeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// rateLimited wraps a provider with a client-side request budget.
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

func withRateLimit(p Provider, rpm int) Provider {
	if rpm <= 0 {
		rpm = defaultHostedRPM
	}
	return &rateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60), 1),
	}
}

func (r *rateLimited) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.Provider.Generate(ctx, prompt, opts)
}

func (r *rateLimited) Stream(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Stream(ctx, prompt, opts)
}
