package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/framesight/framesight/internal/broker"
	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/database"
	"github.com/framesight/framesight/internal/extract"
	"github.com/framesight/framesight/internal/fetcher"
	"github.com/framesight/framesight/internal/ffmpeg"
	"github.com/framesight/framesight/internal/fusion"
	internalhttp "github.com/framesight/framesight/internal/http"
	"github.com/framesight/framesight/internal/http/handlers"
	"github.com/framesight/framesight/internal/pipeline"
	"github.com/framesight/framesight/internal/report"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/service"
	"github.com/framesight/framesight/internal/startup"
	"github.com/framesight/framesight/internal/storage"
	"github.com/framesight/framesight/internal/version"
	"github.com/framesight/framesight/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the framesight server",
	Long: `Start the framesight HTTP server and worker pool.

The server provides:
- REST API for submitting videos and querying status, frames, and reports
- Entity search across completed videos
- Health check endpoint
- OpenAPI documentation at /docs`,
}

func init() {
	serveCmd.RunE = runServe
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "./data", "Data directory for videos, frames, and reports")
	serveCmd.Flags().String("database-dsn", "", "Database DSN (default: sqlite under data-dir)")

	// Worker flags
	serveCmd.Flags().Int("workers", 2, "Number of pipeline workers")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.data_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
	mustBindPFlag("worker.count", serveCmd.Flags().Lookup("workers"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.Default()

	// Initialize storage layout before the database: the default sqlite
	// DSN lives under the data directory.
	layout, err := storage.NewLayout(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing storage layout: %w", err)
	}

	// Remove partial downloads left behind by an interrupted fetch.
	orphansRemoved, err := startup.CleanupPartialDownloads(logger, cfg.Storage.VideosDir(), startup.DefaultCleanupAge)
	if err != nil {
		logger.Warn("failed to clean orphaned partial downloads",
			slog.String("error", err.Error()),
		)
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned partial downloads on startup",
			slog.Int("removed_count", orphansRemoved),
		)
	}

	dbCfg := cfg.Database
	dbCfg.DSN = cfg.StateDSN()
	db, err := database.New(dbCfg, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	repo := repository.NewVideoRepository(db.DB)

	taskBroker, err := broker.New(cfg.Broker.URL, cfg.Broker.QueueKey, cfg.Broker.QueueSize)
	if err != nil {
		return fmt.Errorf("initializing task broker: %w", err)
	}
	defer taskBroker.Close()

	capabilities := capability.NewSet(cfg.Capabilities)

	ffmpegClient, err := ffmpeg.NewClient(cfg.FFmpeg, logger)
	if err != nil {
		return fmt.Errorf("initializing ffmpeg client: %w", err)
	}

	extractor := extract.NewExtractor(ffmpegClient, layout, cfg.Pipeline, logger)

	engine, err := fusion.NewEngine(capabilities, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing fusion engine: %w", err)
	}

	assembler := report.NewAssembler(layout, logger)

	// The search index degrades to lexical matching when no embedder
	// capability is configured.
	embedder, err := capabilities.Embedder()
	if err != nil {
		logger.Info("embedder capability not configured, search runs lexical-only")
		embedder = nil
	}
	index := search.NewIndex(embedder, logger)

	driver := pipeline.NewDefaultDriver(pipeline.Dependencies{
		Repo:         repo,
		Layout:       layout,
		Extractor:    extractor,
		Engine:       engine,
		Capabilities: capabilities,
		Assembler:    assembler,
		Indexer:      index,
		Config:       cfg,
		Logger:       logger,
	})

	pool := worker.NewPool(taskBroker, repo, driver, layout, cfg).
		WithLogger(logger).
		WithSearchIndex(index, assembler)

	videoService := service.NewVideoService(repo, layout, taskBroker, cfg).
		WithLogger(logger).
		WithFetcher(fetcher.New(cfg.Fetcher, logger)).
		WithAssembler(assembler).
		WithIndex(index).
		WithCanceller(pool.Registry())

	searchService := service.NewSearchService(index).WithLogger(logger)

	// Initialize HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	videoHandler := handlers.NewVideoHandler(videoService)
	videoHandler.Register(server.API())
	videoHandler.RegisterRaw(server.Router())

	searchHandler := handlers.NewSearchHandler(searchService)
	searchHandler.Register(server.API())

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	systemHandler := handlers.NewSystemHandler(repo, layout, capabilities)
	systemHandler.Register(server.API())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start worker pool: recovers orphaned jobs, rebuilds the search
	// index, then begins consuming queued tasks.
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}
	defer pool.Stop()

	logger.Info("starting framesight server",
		slog.String("address", cfg.Server.Address()),
		slog.Int("workers", cfg.Worker.Count),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// loadConfig loads the full configuration and overlays any values bound
// to CLI flags through the global viper instance.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// Flag-bound keys live in the global viper; overlay the ones that
	// were explicitly set so CLI flags win over file and environment.
	if serveCmd.Flags().Changed("host") {
		cfg.Server.Host = viper.GetString("server.host")
	}
	if serveCmd.Flags().Changed("port") {
		cfg.Server.Port = viper.GetInt("server.port")
	}
	if serveCmd.Flags().Changed("data-dir") {
		cfg.Storage.DataDir = viper.GetString("storage.data_dir")
	}
	if serveCmd.Flags().Changed("database-dsn") {
		cfg.Database.DSN = viper.GetString("database.dsn")
	}
	if serveCmd.Flags().Changed("workers") {
		cfg.Worker.Count = viper.GetInt("worker.count")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
