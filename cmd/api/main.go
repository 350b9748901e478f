package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/storage"
	"server/internal/workflow"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect database")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	store := workflow.NewPostgresStore(runner)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: failed to ensure schema")
	}

	blobs, err := storage.New(storage.Options{
		Driver:           cfg.StorageDriver,
		BasePath:         cfg.StoragePath,
		ConnectionString: cfg.AzureConnectionString,
		Container:        cfg.AzureContainer,
		PublicBaseURL:    cfg.PublicBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}
	if az, ok := blobs.(*storage.AzureStore); ok {
		if err := az.EnsureContainer(ctx); err != nil {
			logger.Fatal().Err(err).Msg("api: failed to ensure blob container")
		}
	}

	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		Workflows: store,
		Blobs:     blobs,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
