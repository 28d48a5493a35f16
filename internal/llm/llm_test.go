package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sagenote/sage/internal/log"
)

func collect(t *testing.T, ch <-chan Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Text)
	}
	return sb.String(), nil
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"response":"hello world","done":true}`)
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "test-model", time.Minute, log.NewNop())
	got, err := p.Generate(context.Background(), "hi", Options{})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	if got != "hello world" {
		t.Errorf("Generate() = %q", got)
	}
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"one ","done":false}`)
		fmt.Fprintln(w, `{"response":"two ","done":false}`)
		fmt.Fprintln(w, `{"response":"three","done":true}`)
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "test-model", time.Minute, log.NewNop())
	ch, err := p.Stream(context.Background(), "hi", Options{})
	if err != nil {
		t.Fatalf("Stream() err = %v", err)
	}
	got, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream err = %v", err)
	}
	if got != "one two three" {
		t.Errorf("streamed text = %q", got)
	}
}

func TestOllamaStreamReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		fmt.Fprintln(w, `{"error":"model blew up"}`)
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "test-model", time.Minute, log.NewNop())
	ch, err := p.Stream(context.Background(), "hi", Options{})
	if err != nil {
		t.Fatalf("Stream() err = %v", err)
	}
	got, err := collect(t, ch)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("err = %v, want ErrInvalidResponse", err)
	}
	if got != "partial" {
		t.Errorf("text before error = %q", got)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"the answer"}}]}`)
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "test-key", "test-model", time.Minute, log.NewNop())
	got, err := p.Generate(context.Background(), "hi", Options{Temperature: 0.5})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	if got != "the answer" {
		t.Errorf("Generate() = %q", got)
	}
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"foo \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"bar\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "test-key", "test-model", time.Minute, log.NewNop())
	ch, err := p.Stream(context.Background(), "hi", Options{})
	if err != nil {
		t.Fatalf("Stream() err = %v", err)
	}
	got, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream err = %v", err)
	}
	if got != "foo bar" {
		t.Errorf("streamed text = %q", got)
	}
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("x-api-key"); key != "test-key" {
			t.Errorf("x-api-key = %q", key)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"alpha \"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"beta\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	p := newAnthropic("test-key", "test-model", time.Minute, log.NewNop())
	p.baseURL = srv.URL
	ch, err := p.Stream(context.Background(), "hi", Options{})
	if err != nil {
		t.Fatalf("Stream() err = %v", err)
	}
	got, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream err = %v", err)
	}
	if got != "alpha beta" {
		t.Errorf("streamed text = %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad request", http.StatusBadRequest, ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			p := newOpenAI(srv.URL, "test-key", "test-model", time.Minute, log.NewNop())
			_, err := p.Generate(context.Background(), "hi", Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect
		// and cancels r.Context(); otherwise srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "test-model", 50*time.Millisecond, log.NewNop())
	_, err := p.Generate(context.Background(), "hi", Options{})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestStreamTimeoutOnStalledServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"response":"partial ","done":false}`)
		flusher.Flush()
		// Stall without closing until the client gives up.
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := newOllama(srv.URL, "test-model", 100*time.Millisecond, log.NewNop())
	ch, err := p.Stream(context.Background(), "hi", Options{})
	if err != nil {
		t.Fatalf("Stream() err = %v", err)
	}
	got, err := collect(t, ch)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if got != "partial " {
		t.Errorf("text before timeout = %q", got)
	}
}

func TestUnreachableHost(t *testing.T) {
	p := newOllama("http://127.0.0.1:1", "test-model", time.Second, log.NewNop())
	_, err := p.Generate(context.Background(), "hi", Options{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestStreamCancellationStopsProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	firstChunk := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"response":"first","done":false}`)
		flusher.Flush()
		<-firstChunk
		// Keep the stream open until the client goes away.
		<-r.Context().Done()
	}))
	defer srv.Close()
	defer close(firstChunk)

	ctx, cancel := context.WithCancel(context.Background())
	p := newOllama(srv.URL, "test-model", time.Minute, log.NewNop())
	ch, err := p.Stream(ctx, "hi", Options{})
	if err != nil {
		t.Fatalf("Stream() err = %v", err)
	}

	first := <-ch
	if first.Text != "first" {
		t.Fatalf("first chunk = %+v", first)
	}
	cancel()

	// Producer must close the channel promptly after cancellation.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("stream channel not closed after cancellation")
		}
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "carrier-pigeon", Model: "m"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Config{Provider: "ollama"})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestRateLimiterDelaysSecondCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	inner := newOpenAI(srv.URL, "test-key", "test-model", time.Minute, log.NewNop())
	p := withRateLimit(inner, 600) // 10 req/s, burst 1

	start := time.Now()
	for range 2 {
		if _, err := p.Generate(context.Background(), "hi", Options{}); err != nil {
			t.Fatalf("Generate() err = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second call not delayed: elapsed = %v", elapsed)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
