package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/providers/image"
	"server/internal/providers/prompt"
	"server/internal/references"
	"server/internal/storage"
	"server/internal/workflow"
)

const claimPollInterval = 2 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	sqlRunner := infra.NewSQLRunner(pool, logger)
	store := workflow.NewPostgresStore(sqlRunner)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to ensure schema")
	}

	blobs, err := storage.New(storage.Options{
		Driver:           cfg.StorageDriver,
		BasePath:         cfg.StoragePath,
		ConnectionString: cfg.AzureConnectionString,
		Container:        cfg.AzureContainer,
		PublicBaseURL:    cfg.PublicBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	if az, ok := blobs.(*storage.AzureStore); ok {
		if err := az.EnsureContainer(ctx); err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to ensure blob container")
		}
	}

	geminiAPIKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if geminiAPIKey == "" {
		credStore := credentials.NewStore(sqlRunner)
		keyFromStore, err := credStore.GeminiAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load gemini api key from store")
		} else {
			geminiAPIKey = keyFromStore
		}
	}
	if geminiAPIKey == "" {
		logger.Warn().Msg("worker: gemini api key missing, variations will fail until one is configured")
	}

	synthesizer := prompt.NewSynthesizer(prompt.Options{
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.OpenAIModel,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		HTTPClient:   &http.Client{Timeout: cfg.PromptTimeout},
		OnFallback: func(reason string, err error) {
			logger.Warn().Err(err).Str("reason", reason).Msg("worker: using fallback directive")
		},
	})
	renderer := image.NewRenderer(image.Options{
		APIKey:     geminiAPIKey,
		Model:      cfg.GeminiModel,
		BaseURL:    cfg.GeminiBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.RenderTimeout},
	})

	runner := workflow.NewRunner(workflow.Config{
		Store:      store,
		References: references.NewFetcher(blobs),
		Prompts:    synthesizer,
		Renderer:   renderer,
		Blobs:      blobs,
		Logger:     logger,
	})

	logger.Info().Msg("worker: started")
	if err := run(ctx, store, runner, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func run(ctx context.Context, store workflow.Store, runner *workflow.Runner, logger infra.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		inst, err := store.ClaimQueued(ctx)
		if err != nil {
			if !errors.Is(err, workflow.ErrNoneQueued) {
				logger.Error().Err(err).Msg("worker: failed to claim instance")
			}
			if err := sleep(ctx, claimPollInterval); err != nil {
				return err
			}
			continue
		}

		if err := runner.Run(ctx, inst); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error().Err(err).Str("instance_id", inst.ID).Msg("worker: instance failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
