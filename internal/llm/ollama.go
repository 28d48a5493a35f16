package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sagenote/sage/internal/log"
)

// ollama talks to a local Ollama server via its /api/generate endpoint.
// Streaming responses are newline-delimited JSON objects.
type ollama struct {
	host    string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  log.Logger
}

func newOllama(host, model string, timeout time.Duration, logger log.Logger) *ollama {
	return &ollama{
		host:    strings.TrimRight(host, "/"),
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (o *ollama) ModelID() string { return o.model }
func (o *ollama) Name() string    { return "ollama" }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (o *ollama) request(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	reqBody := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: stream,
	}
	options := make(map[string]any)
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		reqBody.Options = options
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, normalizeErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama returned %d: %s",
			classifyStatus(resp.StatusCode), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Generate returns the complete response in one call.
func (o *ollama) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.request(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding ollama response: %v", ErrInvalidResponse, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidResponse, out.Error)
	}
	return out.Response, nil
}

// Stream emits response fragments as Ollama produces them. Cancelling
// the context aborts the underlying HTTP stream; a stream still open
// after the configured timeout ends with an ErrTimeout chunk.
func (o *ollama) Stream(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error) {
	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.request(reqCtx, prompt, opts, true)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part ollamaGenerateResponse
			if err := json.Unmarshal(line, &part); err != nil {
				emit(ctx, out, Chunk{Err: fmt.Errorf("%w: decoding stream line: %v", ErrInvalidResponse, err)})
				return
			}
			if part.Error != "" {
				emit(ctx, out, Chunk{Err: fmt.Errorf("%w: %s", ErrInvalidResponse, part.Error)})
				return
			}
			if part.Response != "" {
				if !emit(ctx, out, Chunk{Text: part.Response}) {
					return
				}
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			if reqCtx.Err() != nil {
				err = reqCtx.Err()
			}
			emit(ctx, out, Chunk{Err: normalizeErr(err)})
		}
	}()
	return out, nil
}

// emit sends a chunk unless the consumer has gone away. Reports whether
// the send happened.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
