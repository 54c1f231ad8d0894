package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/logvista/ingest/internal"
	"github.com/logvista/ingest/internal/health"
	"github.com/logvista/ingest/internal/middleware"
	"github.com/logvista/ingest/internal/status"
	"github.com/logvista/ingest/internal/storage"
	"github.com/logvista/ingest/internal/upload"
	"github.com/logvista/ingest/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

func main() {
	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}
	internal.SetupLogger(config.Log)

	db, err := internal.NewDB(config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
		return
	}

	var repo storage.Repository = storage.NewMemoryRepository()
	if db != nil {
		defer db.Close()
		repo = storage.NewPostgresRepository(db)
	}

	store, err := storage.NewLocalStore(config.Storage.UploadDir, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing file store")
		return
	}

	hub := websocket.NewHub()
	go hub.Run()

	manager := upload.NewManager(store, upload.Options{
		MaxConcurrentJobs: config.Upload.MaxConcurrentJobs,
		ProgressInterval:  config.Upload.ProgressInterval,
		BufferSize:        config.Upload.BufferSize,
		Notifier:          hub,
	})

	cleanup := upload.NewCleanupScheduler(manager, store,
		config.Upload.CleanupInterval,
		config.Upload.JobRetention,
		config.Upload.ChunkRetention,
	)
	cleanup.Start()

	cors := middleware.NewCORSMiddleware(config.AllowedOrigins)
	requestHandler := internal.NewRequestHandler(
		cors,
		health.NewEndpoints(config.Server.Version, healthChecks(config, db)),
		status.NewEndpoints(config.Server.Version, store, manager, hub),
		storage.NewEndpoints(store, config.Storage.MaxChunkSize),
		upload.NewEndpoints(manager),
		websocket.NewHandler(hub, store, manager, cors.IsOriginAllowed),
	)

	server := &fasthttp.Server{
		Handler:            requestHandler,
		Name:               "ingest",
		MaxRequestBodySize: int(config.Storage.MaxChunkSize) + 1024*1024,
	}

	go func() {
		log.Info().Str("address", config.Server.Address).Msg("Server listening")
		if err := server.ListenAndServe(config.Server.Address); err != nil {
			log.Fatal().Err(err).Msg("Error starting server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
	cleanup.Stop()
	if err := manager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Upload jobs did not stop in time")
	}
	hub.Stop()
}

func healthChecks(config *internal.Config, db *sql.DB) map[string]health.Check {
	checks := map[string]health.Check{
		"uploadDir": func() error {
			_, err := os.Stat(config.Storage.UploadDir)
			return err
		},
	}
	if db != nil {
		checks["database"] = db.Ping
	}
	return checks
}
