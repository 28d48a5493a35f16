package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDimension(t *testing.T) {
	tests := []struct {
		model   string
		wantDim int
		wantErr bool
	}{
		{"gemini-embedding-001", 768, false},
		{"nomic-embed-text", 768, false},
		{"text-embedding-3-small", 1536, false},
		{"all-minilm", 384, false},
		{"made-up-model", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			dim, err := Dimension(tt.model)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownModel) {
					t.Errorf("Dimension(%q) err = %v, want ErrUnknownModel", tt.model, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Dimension(%q) err = %v", tt.model, err)
			}
			if dim != tt.wantDim {
				t.Errorf("Dimension(%q) = %d, want %d", tt.model, dim, tt.wantDim)
			}
		})
	}
}

func TestBackend(t *testing.T) {
	tests := []struct {
		model   string
		want    string
		wantErr bool
	}{
		{"gemini-embedding-001", "gemini", false},
		{"nomic-embed-text", "ollama", false},
		{"text-embedding-3-large", "openai", false},
		{"made-up-model", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := Backend(tt.model)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownModel) {
					t.Errorf("Backend(%q) err = %v, want ErrUnknownModel", tt.model, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Backend(%q) err = %v", tt.model, err)
			}
			if got != tt.want {
				t.Errorf("Backend(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestNew_UnknownModel(t *testing.T) {
	_, err := New(context.Background(), Config{Model: "nope"})
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("New() err = %v, want ErrUnknownModel", err)
	}
}

func TestOllama_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			v := make([]float32, 768)
			v[i] = 1
			vecs[i] = v
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: vecs})
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "nomic-embed-text", 768, time.Second)

	vecs, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed() err = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len(vecs) = %d, want 2", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors returned out of order")
	}
}

func TestOllama_EmbedEmptyInput(t *testing.T) {
	p := newOllama("http://127.0.0.1:1", "nomic-embed-text", 768, time.Second)
	vecs, err := p.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestOllama_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "nomic-embed-text", 768, time.Second)
	_, err := p.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestOllama_Unreachable(t *testing.T) {
	p := newOllama("http://127.0.0.1:1", "nomic-embed-text", 768, time.Second)
	_, err := p.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestOllama_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "nomic-embed-text", 768, 50*time.Millisecond)
	_, err := p.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestOllama_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{make([]float32, 12)},
		})
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "nomic-embed-text", 768, time.Second)
	_, err := p.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		// Return results deliberately out of order to exercise reordering.
		resp := openaiEmbedResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			v := make([]float32, 1536)
			v[i] = 1
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: v})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "test-key", "text-embedding-3-small", 1536, time.Second)

	vecs, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed() err = %v", err)
	}
	for i, v := range vecs {
		if v[i] != 1 {
			t.Errorf("vector %d not reordered by index", i)
		}
	}
}

func TestOpenAI_RateLimitedMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "k", "text-embedding-3-small", 1536, time.Second)
	_, err := p.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
