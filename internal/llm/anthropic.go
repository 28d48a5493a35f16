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

const anthropicVersion = "2023-06-01"

// anthropic talks to the Anthropic messages API. Streaming uses SSE
// with typed events; only content_block_delta events carry text.
type anthropic struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  log.Logger
}

func newAnthropic(apiKey, model string, timeout time.Duration, logger log.Logger) *anthropic {
	return &anthropic{
		baseURL: "https://api.anthropic.com",
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (a *anthropic) ModelID() string { return a.model }
func (a *anthropic) Name() string    { return "anthropic" }

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float32      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropic) request(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		// The messages API requires an explicit cap.
		maxTokens = 4096
	}
	reqBody := anthropicRequest{
		Model:     a.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		reqBody.Temperature = &t
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, normalizeErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: anthropic returned %d: %s",
			classifyStatus(resp.StatusCode), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Generate returns the complete response in one call.
func (a *anthropic) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.request(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding anthropic response: %v", ErrInvalidResponse, err)
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic returned no text content", ErrInvalidResponse)
	}
	return sb.String(), nil
}

// Stream emits text deltas from the SSE response. Cancelling the
// context aborts the underlying HTTP stream; a stream still open after
// the configured timeout ends with an ErrTimeout chunk.
func (a *anthropic) Stream(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	resp, err := a.request(reqCtx, prompt, opts, true)
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
			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				emit(ctx, out, Chunk{Err: fmt.Errorf("%w: decoding stream event: %v", ErrInvalidResponse, err)})
				return
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Text != "" {
					if !emit(ctx, out, Chunk{Text: event.Delta.Text}) {
						return
					}
				}
			case "error":
				emit(ctx, out, Chunk{Err: fmt.Errorf("%w: %s", ErrInvalidResponse, event.Error.Message)})
				return
			case "message_stop":
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
