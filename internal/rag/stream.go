package rag

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StreamState is the lifecycle phase of a QueryStream.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamRetrieving
	StreamGenerating
	StreamCompleted
	StreamFailed
	StreamCancelled
)

// String implements Stringer for log output.
func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamRetrieving:
		return "retrieving"
	case StreamGenerating:
		return "generating"
	case StreamCompleted:
		return "completed"
	case StreamFailed:
		return "failed"
	case StreamCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// QueryStream is one in-flight streaming answer. Fragments arrive on
// Fragments() until the channel closes; Sources() is populated once
// retrieval finishes; Err() reports the terminal error after a Failed
// stream. Close cancels the stream and aborts the provider call.
//
// A stream never retries: a Failed state is final.
type QueryStream struct {
	id     uuid.UUID
	frags  chan string
	cancel context.CancelFunc

	mu      sync.Mutex
	state   StreamState
	sources []RetrievalResult
	err     error
}

func newQueryStream(cancel context.CancelFunc) *QueryStream {
	return &QueryStream{
		id:     uuid.New(),
		frags:  make(chan string, 16),
		cancel: cancel,
		state:  StreamIdle,
	}
}

// ID identifies the stream in logs.
func (qs *QueryStream) ID() string { return qs.id.String() }

// Fragments returns the answer fragment channel. It is closed when the
// stream reaches a terminal state.
func (qs *QueryStream) Fragments() <-chan string { return qs.frags }

// State returns the current lifecycle phase.
func (qs *QueryStream) State() StreamState {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return qs.state
}

// Sources returns the retrieved passages backing the answer. Empty
// until retrieval completes.
func (qs *QueryStream) Sources() []RetrievalResult {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	cp := make([]RetrievalResult, len(qs.sources))
	copy(cp, qs.sources)
	return cp
}

// Err returns the terminal error of a Failed stream, nil otherwise.
func (qs *QueryStream) Err() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return qs.err
}

// Close cancels an active stream. Closing a finished stream is a no-op.
func (qs *QueryStream) Close() {
	qs.mu.Lock()
	if qs.state == StreamIdle || qs.state == StreamRetrieving || qs.state == StreamGenerating {
		qs.state = StreamCancelled
	}
	qs.mu.Unlock()
	qs.cancel()
}

// transition advances an active stream to the next phase. Terminal
// states are never overwritten; reports whether the transition applied.
func (qs *QueryStream) transition(next StreamState) bool {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	switch qs.state {
	case StreamCompleted, StreamFailed, StreamCancelled:
		return false
	}
	qs.state = next
	return true
}

func (qs *QueryStream) setSources(sources []RetrievalResult) {
	qs.mu.Lock()
	qs.sources = sources
	qs.mu.Unlock()
}

// fail marks the stream Failed with its terminal error, unless it was
// already cancelled or finished.
func (qs *QueryStream) fail(err error) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	switch qs.state {
	case StreamCompleted, StreamFailed, StreamCancelled:
		return
	}
	qs.state = StreamFailed
	qs.err = err
}
