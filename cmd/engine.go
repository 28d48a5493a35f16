package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sagenote/sage/internal/config"
	"github.com/sagenote/sage/internal/embed"
	"github.com/sagenote/sage/internal/llm"
	"github.com/sagenote/sage/internal/log"
	"github.com/sagenote/sage/internal/note"
	"github.com/sagenote/sage/internal/rag"
	"github.com/sagenote/sage/internal/vectorstore"
	"github.com/sagenote/sage/internal/vectorstore/postgres"
	"github.com/sagenote/sage/internal/vectorstore/sqlite"
)

// buildSystem assembles the engine from configuration. The returned
// cleanup function closes the vector store.
func buildSystem(ctx context.Context) (*rag.System, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	embedder, err := embed.New(ctx, embed.Config{
		Model:      cfg.EmbeddingModel,
		OllamaHost: cfg.OllamaHost,
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		Timeout:    cfg.EmbedTimeoutDuration(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building embedder: %w", err)
	}

	provider, err := llm.New(llm.Config{
		Provider:          cfg.LLMProvider,
		Model:             cfg.LLMModel,
		OllamaHost:        cfg.OllamaHost,
		Timeout:           cfg.GenerateTimeoutDuration(),
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building llm provider: %w", err)
	}

	store, err := openStore(ctx, cfg, embedder, logger)
	if err != nil {
		return nil, nil, err
	}

	system, err := rag.New(cfg, rag.Deps{
		Source:   note.NewDirSource(notesDir),
		Embedder: embedder,
		LLM:      provider,
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if err := system.Init(ctx); err != nil {
		system.Close()
		return nil, nil, fmt.Errorf("initializing engine: %w", err)
	}

	return system, func() { _ = system.Close() }, nil
}

func openStore(ctx context.Context, cfg *config.Config, embedder embed.Provider, logger log.Logger) (vectorstore.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return postgres.Open(ctx, cfg.StoreDSN, embedder.ModelID(), embedder.Dimension(), logger)
	default:
		return sqlite.Open(ctx, cfg.StorePath, embedder.ModelID(), embedder.Dimension(), logger)
	}
}
