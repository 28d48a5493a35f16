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

// openAI talks to the OpenAI chat completions API. Groq exposes the
// same wire format, so both providers share this client with different
// base URLs.
type openAI struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  log.Logger
}

func newOpenAI(baseURL, apiKey, model string, timeout time.Duration, logger log.Logger) *openAI {
	return &openAI{
		name:    "openai",
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

func newGroq(apiKey, model string, timeout time.Duration, logger log.Logger) *openAI {
	p := newOpenAI("https://api.groq.com/openai", apiKey, model, timeout, logger)
	p.name = "groq"
	return p
}

func (o *openAI) ModelID() string { return o.model }
func (o *openAI) Name() string    { return o.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (o *openAI) request(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	reqBody := chatCompletionRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		reqBody.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		reqBody.MaxTokens = opts.MaxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, normalizeErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d: %s",
			classifyStatus(resp.StatusCode), o.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Generate returns the complete response in one call.
func (o *openAI) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.request(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding %s response: %v", ErrInvalidResponse, o.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", ErrInvalidResponse, o.name)
	}
	return out.Choices[0].Message.Content, nil
}

// Stream emits delta fragments from the SSE response. Cancelling the
// context aborts the underlying HTTP stream; a stream still open after
// the configured timeout ends with an ErrTimeout chunk.
func (o *openAI) Stream(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error) {
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
			data, ok := sseData(scanner.Text())
			if !ok {
				continue
			}
			if data == "[DONE]" {
				return
			}
			var part chatCompletionResponse
			if err := json.Unmarshal([]byte(data), &part); err != nil {
				emit(ctx, out, Chunk{Err: fmt.Errorf("%w: decoding stream event: %v", ErrInvalidResponse, err)})
				return
			}
			if len(part.Choices) == 0 {
				continue
			}
			if text := part.Choices[0].Delta.Content; text != "" {
				if !emit(ctx, out, Chunk{Text: text}) {
					return
				}
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

// sseData extracts the payload of a server-sent event data line.
func sseData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
