package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sagenote/sage/internal/chunker"
	"github.com/sagenote/sage/internal/config"
	"github.com/sagenote/sage/internal/embed"
	"github.com/sagenote/sage/internal/llm"
	"github.com/sagenote/sage/internal/log"
	"github.com/sagenote/sage/internal/note"
	"github.com/sagenote/sage/internal/vectorstore"
)

// minTagConfidence is the default floor below which tag suggestions
// are dropped.
const minTagConfidence = 0.2

// defaultMaxTags caps tag suggestions when the caller asks for none in
// particular.
const defaultMaxTags = 5

// Deps are the collaborators a System needs. All are required except
// Logger.
type Deps struct {
	Source   note.Source
	Embedder embed.Provider
	LLM      llm.Provider
	Store    vectorstore.Store
	Logger   log.Logger
}

// System is the engine's orchestrator: it owns the indexer and
// retriever and exposes the user-facing operations.
//
// System is safe for concurrent use by multiple goroutines.
type System struct {
	cfg       *config.Config
	source    note.Source
	embedder  embed.Provider
	llm       llm.Provider
	store     vectorstore.Store
	logger    log.Logger
	indexer   *Indexer
	retriever *Retriever

	mu       sync.Mutex
	vaultTag []string
	closed   bool
}

// New builds a System from configuration and dependencies.
func New(cfg *config.Config, deps Deps) (*System, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("note source is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := chunker.New(chunker.Config{})
	return &System{
		cfg:      cfg,
		source:   deps.Source,
		embedder: deps.Embedder,
		llm:      deps.LLM,
		store:    deps.Store,
		logger:   logger.With("component", "rag"),
		indexer: NewIndexer(deps.Source, ch, deps.Embedder, deps.Store,
			logger, cfg.ReindexWorkers),
		retriever: NewRetriever(deps.Embedder, deps.Store, deps.Source,
			logger, cfg.TopK, cfg.MinScore),
	}, nil
}

// Init verifies the vector store and repairs it if needed. Corruption
// triggers an automatic full reindex; anything else fails startup.
func (s *System) Init(ctx context.Context) error {
	if err := s.store.Verify(ctx); err != nil {
		if !errors.Is(err, vectorstore.ErrCorrupted) {
			return fmt.Errorf("verifying vector store: %w", err)
		}
		s.logger.Warn("vector store corrupted, rebuilding index", "error", err)
		if err := s.store.Clear(ctx); err != nil {
			return fmt.Errorf("clearing corrupted store: %w", err)
		}
		if err := s.indexer.ReindexAll(ctx); err != nil {
			return fmt.Errorf("rebuilding index: %w", err)
		}
	}
	return nil
}

// Close releases the vector store.
func (s *System) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.store.Close()
}

func (s *System) genOptions() llm.Options {
	return llm.Options{Temperature: s.cfg.Temperature}
}

// QueryOption narrows a single Query or StreamQuery call beyond the
// configured defaults.
type QueryOption func(*RetrieveOptions)

// WithinNotes scopes retrieval to the given notes.
func WithinNotes(noteIDs ...string) QueryOption {
	return func(o *RetrieveOptions) { o.NoteIDs = noteIDs }
}

// WithLimit overrides the configured top_k for this call.
func WithLimit(n int) QueryOption {
	return func(o *RetrieveOptions) { o.Limit = n }
}

func retrieveOptions(opts []QueryOption) RetrieveOptions {
	var ro RetrieveOptions
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// Query answers a question grounded in the user's notes. An empty
// retrieval is not an error: the answer says nothing relevant was found
// and Sources is empty.
func (s *System) Query(ctx context.Context, query string, opts ...QueryOption) (*Response, error) {
	if !s.cfg.EnableQA {
		return nil, fmt.Errorf("qa: %w", ErrFeatureDisabled)
	}

	sources, err := s.retriever.Retrieve(ctx, query, retrieveOptions(opts))
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return &Response{Answer: emptyCorpusAnswer}, nil
	}

	prompt := buildQueryPrompt(query, sources, s.cfg.ContextWindow)
	answer, err := s.llm.Generate(ctx, prompt, s.genOptions())
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	return &Response{Answer: answer, Sources: sources}, nil
}

// StreamQuery answers like Query but streams the answer fragment by
// fragment. The returned stream must be consumed or closed.
func (s *System) StreamQuery(ctx context.Context, query string, opts ...QueryOption) (*QueryStream, error) {
	if !s.cfg.EnableQA {
		return nil, fmt.Errorf("qa: %w", ErrFeatureDisabled)
	}

	ro := retrieveOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	qs := newQueryStream(cancel)

	go func() {
		defer close(qs.frags)
		defer cancel()

		qs.transition(StreamRetrieving)
		sources, err := s.retriever.Retrieve(ctx, query, ro)
		if err != nil {
			s.cancelOrFail(qs, err)
			return
		}
		qs.setSources(sources)

		qs.transition(StreamGenerating)
		if len(sources) == 0 {
			// Stream the empty-corpus answer like any other.
			select {
			case qs.frags <- emptyCorpusAnswer:
				qs.transition(StreamCompleted)
			case <-ctx.Done():
			}
			return
		}

		prompt := buildQueryPrompt(query, sources, s.cfg.ContextWindow)
		chunks, err := s.llm.Stream(ctx, prompt, s.genOptions())
		if err != nil {
			s.cancelOrFail(qs, err)
			return
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				s.cancelOrFail(qs, chunk.Err)
				return
			}
			select {
			case qs.frags <- chunk.Text:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() == nil {
			qs.transition(StreamCompleted)
		}
	}()
	return qs, nil
}

// cancelOrFail marks a stream Failed unless it died of cancellation.
func (s *System) cancelOrFail(qs *QueryStream, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error("query stream failed", "stream_id", qs.ID(), "error", err)
	qs.fail(err)
}

// SummarizeNote produces a summary of one note in the given style.
func (s *System) SummarizeNote(ctx context.Context, noteID string, style SummaryStyle) (*NoteSummary, error) {
	if !s.cfg.EnableSummarization {
		return nil, fmt.Errorf("summarization: %w", ErrFeatureDisabled)
	}

	n, err := s.source.Get(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("loading note %s: %w", noteID, err)
	}
	if n.Trashed {
		return nil, note.ErrNotFound
	}

	prompt := buildSummaryPrompt(n.Title, n.Content, style)
	response, err := s.llm.Generate(ctx, prompt, s.genOptions())
	if err != nil {
		return nil, fmt.Errorf("generating summary: %w", err)
	}
	summary := parseSummary(response)
	return &summary, nil
}

// tagOptions hold the per-call knobs of SuggestTags.
type tagOptions struct {
	maxTags       int
	minConfidence float32
	lexicalOnly   bool
}

// TagOption adjusts a single SuggestTags call.
type TagOption func(*tagOptions)

// WithMaxTags caps the number of suggestions for this call.
func WithMaxTags(n int) TagOption {
	return func(o *tagOptions) { o.maxTags = n }
}

// WithMinConfidence overrides the default confidence floor.
func WithMinConfidence(v float32) TagOption {
	return func(o *tagOptions) { o.minConfidence = v }
}

// WithoutModel skips the model call and suggests from the lexical
// baseline only.
func WithoutModel() TagOption {
	return func(o *tagOptions) { o.lexicalOnly = true }
}

// SuggestTags proposes new tags for a note, merging a lexical baseline
// with model suggestions. Tags the note already carries are never
// proposed again.
func (s *System) SuggestTags(ctx context.Context, noteID string, opts ...TagOption) ([]TagSuggestion, error) {
	if !s.cfg.EnableAutoTagging {
		return nil, fmt.Errorf("auto tagging: %w", ErrFeatureDisabled)
	}
	to := tagOptions{maxTags: defaultMaxTags, minConfidence: minTagConfidence}
	for _, opt := range opts {
		opt(&to)
	}
	if to.maxTags <= 0 {
		to.maxTags = defaultMaxTags
	}

	n, err := s.source.Get(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("loading note %s: %w", noteID, err)
	}

	lexical := lexicalSuggestions(n.Title, n.Content, to.maxTags)
	if to.lexicalOnly {
		return mergeSuggestions(lexical, nil, n.Tags, to.maxTags, to.minConfidence), nil
	}

	prompt := buildTagsPrompt(n.Title, s.tagContext(n.Content), n.Tags, s.VaultTags(), to.maxTags)
	response, err := s.llm.Generate(ctx, prompt, s.genOptions())
	if err != nil {
		// The lexical baseline still works when the model is down.
		s.logger.Warn("model tag suggestions unavailable", "note_id", noteID, "error", err)
		return mergeSuggestions(lexical, nil, n.Tags, to.maxTags, to.minConfidence), nil
	}
	model := parseTagSuggestions(response)
	return mergeSuggestions(lexical, model, n.Tags, to.maxTags, to.minConfidence), nil
}

// tagContext truncates note content to the configured context window
// for the tag prompt.
func (s *System) tagContext(content string) string {
	if len(content) <= s.cfg.ContextWindow {
		return content
	}
	cut := content[:s.cfg.ContextWindow]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}

// GetSimilarNotes ranks other notes by centroid similarity to the given
// note. The source note and trashed notes are excluded.
func (s *System) GetSimilarNotes(ctx context.Context, noteID string, limit int) ([]SimilarNote, error) {
	if !s.cfg.EnableSimilarNotes {
		return nil, fmt.Errorf("similar notes: %w", ErrFeatureDisabled)
	}
	if limit <= 0 {
		limit = s.cfg.TopK
	}

	centroids, err := s.store.NoteVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading note centroids: %w", err)
	}

	var source []float32
	for _, c := range centroids {
		if c.NoteID == noteID {
			source = c.Vector
			break
		}
	}
	if source == nil {
		// Note not indexed yet; nothing to compare against.
		return nil, nil
	}

	var similar []SimilarNote
	for _, c := range centroids {
		if c.NoteID == noteID {
			continue
		}
		n, err := s.source.Get(ctx, c.NoteID)
		if err != nil {
			if errors.Is(err, note.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolving note %s: %w", c.NoteID, err)
		}
		if n.Trashed {
			continue
		}
		similar = append(similar, SimilarNote{
			NoteID: c.NoteID,
			Title:  n.Title,
			Score:  vectorstore.CosineScore(source, c.Vector),
		})
	}
	sort.Slice(similar, func(i, j int) bool {
		if similar[i].Score != similar[j].Score {
			return similar[i].Score > similar[j].Score
		}
		return similar[i].NoteID < similar[j].NoteID
	})
	if len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

// UpdateTagsList replaces the engine's view of the vault-wide tag
// vocabulary. Informational: suggestions may reuse vault tags, only the
// note's own tags are excluded.
func (s *System) UpdateTagsList(tags []string) {
	cp := make([]string, len(tags))
	copy(cp, tags)
	s.mu.Lock()
	s.vaultTag = cp
	s.mu.Unlock()
}

// VaultTags returns the last vocabulary set via UpdateTagsList.
func (s *System) VaultTags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(s.vaultTag))
	copy(cp, s.vaultTag)
	return cp
}

// Stats reports index counters for host diagnostics.
func (s *System) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading store stats: %w", err)
	}
	return &Stats{
		Embedding: EmbeddingStats{
			TotalEmbeddings: st.TotalEmbeddings,
			CacheSizeBytes:  st.CacheSizeBytes,
		},
		Vector: VectorStats{UniqueNotes: st.UniqueNotes},
	}, nil
}

// IndexNote delegates to the indexer.
func (s *System) IndexNote(ctx context.Context, n *note.Note) error {
	return s.indexer.IndexNote(ctx, n)
}

// RemoveNote delegates to the indexer.
func (s *System) RemoveNote(ctx context.Context, noteID string) error {
	return s.indexer.RemoveNote(ctx, noteID)
}

// ReindexAll delegates to the indexer.
func (s *System) ReindexAll(ctx context.Context) error {
	return s.indexer.ReindexAll(ctx)
}

// ClearIndex delegates to the indexer.
func (s *System) ClearIndex(ctx context.Context) error {
	return s.indexer.ClearIndex(ctx)
}

// Subscribe drives the indexer from note lifecycle events until the
// context is done or the channel closes.
func (s *System) Subscribe(ctx context.Context, events <-chan note.Event) {
	s.indexer.Subscribe(ctx, events)
}
