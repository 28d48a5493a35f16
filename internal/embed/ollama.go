package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultOllamaHost = "http://localhost:11434"

// ollama embeds text through a local Ollama server's batch /api/embed
// endpoint.
type ollama struct {
	host    string
	model   string
	dim     int
	client  *http.Client
	timeout time.Duration
}

func newOllama(host, model string, dim int, timeout time.Duration) *ollama {
	if host == "" {
		host = defaultOllamaHost
	}
	return &ollama{
		host:    host,
		model:   model,
		dim:     dim,
		client:  &http.Client{},
		timeout: timeout,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama returned %s", ErrUnavailable, resp.Status)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if err := checkVectors(parsed.Embeddings, len(texts), o.dim); err != nil {
		return nil, err
	}
	return parsed.Embeddings, nil
}

func (o *ollama) Dimension() int  { return o.dim }
func (o *ollama) ModelID() string { return o.model }
