package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ovokpus/regcopilot/configs"
	"github.com/ovokpus/regcopilot/internal/chunk"
	"github.com/ovokpus/regcopilot/internal/config"
	"github.com/ovokpus/regcopilot/internal/embed"
	"github.com/ovokpus/regcopilot/internal/kb"
	"github.com/ovokpus/regcopilot/internal/logging"
	"github.com/ovokpus/regcopilot/internal/server"
	"github.com/ovokpus/regcopilot/internal/session"
	"github.com/ovokpus/regcopilot/internal/store"
	"github.com/ovokpus/regcopilot/internal/telemetry"
	"github.com/ovokpus/regcopilot/pkg/version"
)

type serveOptions struct {
	port     int
	snapshot string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the regcopilot HTTP server",
		Long: `Start the HTTP API. The knowledge base is seeded from the corpus snapshot
at startup; embeddings are built lazily on the first request that carries
an OpenAI API key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", 0, "Listen port (overrides config and PORT)")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "Corpus snapshot path (overrides config)")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.snapshot != "" {
		cfg.Corpus.SnapshotPath = opts.snapshot
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	knowledge, err := buildKnowledgeBase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer knowledge.Close()

	if cfg.Corpus.WatchDir != "" {
		watcher, err := kb.NewWatcher(knowledge, cfg.Corpus.WatchDir, cfg.WatchDebounceDuration(), logger)
		if err != nil {
			logger.Warn("corpus watcher disabled", "dir", cfg.Corpus.WatchDir, "error", err)
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	sessions := session.NewRegistry()
	metrics := telemetry.NewMetrics()
	defer metrics.Close()

	handlers, err := server.NewHandlers(cfg, knowledge, sessions, metrics, server.NewChatFactory(cfg), logger)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg, server.NewRouter(handlers), logger)
	info := knowledge.Info()
	logger.Info("regcopilot starting",
		"version", version.Version,
		"addr", srv.Addr(),
		"kb_status", info.Status,
		"documents", info.DocumentCount,
		"chunks", info.ChunkCount)

	return srv.Run(ctx)
}

// buildKnowledgeBase wires the vector index, embedder factory, upload store,
// and seed snapshot into a ready knowledge base.
func buildKnowledgeBase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*kb.KnowledgeBase, error) {
	splitter := chunk.NewSplitterWithOptions(chunk.Options{
		Size:    cfg.Chunking.ChunkSize,
		Overlap: cfg.Chunking.ChunkOverlap,
	})

	opts := []kb.Option{kb.WithLogger(logger), kb.WithSplitter(splitter)}

	if cfg.Corpus.UploadsDir != "" {
		uploads, err := kb.NewUploadStore(cfg.Corpus.UploadsDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open uploads dir: %w", err)
		}
		opts = append(opts, kb.WithUploadStore(uploads))
	}

	knowledge, err := kb.NewKnowledgeBase(store.NewMemoryIndex(), newEmbedderFactory(cfg), opts...)
	if err != nil {
		return nil, err
	}

	if err := knowledge.Seed(ctx, loadSeedSnapshot(cfg, logger)); err != nil {
		return nil, err
	}
	return knowledge, nil
}

// newEmbedderFactory builds per-key embedders from config, wrapped in the
// query LRU cache when one is configured.
func newEmbedderFactory(cfg *config.Config) kb.EmbedderFactory {
	return func(apiKey string) embed.Embedder {
		var e embed.Embedder = embed.NewOpenAIEmbedderWithOptions(embed.Options{
			APIKey:         apiKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          cfg.OpenAI.EmbeddingModel,
			Dimensions:     cfg.OpenAI.EmbeddingDimensions,
			BatchSize:      cfg.OpenAI.BatchSize,
			Concurrency:    cfg.OpenAI.MaxConcurrency,
			MaxRetries:     cfg.OpenAI.MaxRetries,
			RequestTimeout: cfg.RequestTimeoutDuration(),
		})
		if cfg.OpenAI.CacheSize > 0 {
			e = embed.NewCachedEmbedder(e, cfg.OpenAI.CacheSize)
		}
		return e
	}
}

// loadSeedSnapshot prefers the configured snapshot file and falls back to
// the embedded default corpus. Seeding tolerates a nil snapshot, so a broken
// corpus degrades to upload-only mode instead of failing the start.
func loadSeedSnapshot(cfg *config.Config, logger *slog.Logger) *kb.Snapshot {
	if cfg.Corpus.SnapshotPath != "" {
		snap, err := kb.LoadSnapshot(cfg.Corpus.SnapshotPath)
		if err == nil {
			logger.Info("corpus snapshot loaded",
				"path", cfg.Corpus.SnapshotPath,
				"documents", snap.Metadata.TotalDocuments,
				"chunks", len(snap.Chunks))
			return snap
		}
		logger.Warn("corpus snapshot unreadable, falling back to embedded corpus",
			"path", cfg.Corpus.SnapshotPath, "error", err)
	}

	snap, err := kb.ParseSnapshot(configs.DefaultSnapshot)
	if err != nil {
		logger.Warn("embedded corpus unavailable, starting upload-only", "error", err)
		return nil
	}
	return snap
}
