package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/sagenote/sage/internal/llm"
)

// MockLLM provides deterministic generation for testing. It matches
// prompts against registered patterns and returns the corresponding
// response; streaming splits the same response into word chunks so
// concatenation equals the blocking answer.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu        sync.Mutex
	responses []mockRule
	fallback  string
	calls     []MockCall

	// Err, when set, is returned by every Generate and Stream call.
	Err error
}

type mockRule struct {
	pattern  string // substring match, case-insensitive
	response string
}

// MockCall records a single call to the mock model.
type MockCall struct {
	Prompt   string
	Response string
	Streamed bool
}

// NewMockLLM creates a mock with the given fallback response, returned
// when no pattern matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair. Patterns are checked
// in registration order; first match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears recorded calls, keeping registered responses.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockLLM) respond(prompt string, streamed bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}

	response := m.fallback
	lower := strings.ToLower(prompt)
	for _, rule := range m.responses {
		if strings.Contains(lower, rule.pattern) {
			response = rule.response
			break
		}
	}
	m.calls = append(m.calls, MockCall{Prompt: prompt, Response: response, Streamed: streamed})
	return response, nil
}

// Generate returns the scripted response for the prompt.
func (m *MockLLM) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	return m.respond(prompt, false)
}

// Stream emits the scripted response as word-sized chunks.
func (m *MockLLM) Stream(ctx context.Context, prompt string, _ llm.Options) (<-chan llm.Chunk, error) {
	response, err := m.respond(prompt, true)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.Chunk, 8)
	go func() {
		defer close(out)
		words := strings.SplitAfter(response, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case out <- llm.Chunk{Text: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ModelID reports a fixed test model identifier.
func (m *MockLLM) ModelID() string { return "mock-model" }

// Name reports the provider name.
func (m *MockLLM) Name() string { return "mock" }

var _ llm.Provider = (*MockLLM)(nil)
