package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iabi/nlq/internal/api"
	"github.com/iabi/nlq/internal/api/uistatic"
	"github.com/iabi/nlq/internal/auth"
	"github.com/iabi/nlq/internal/config"
	"github.com/iabi/nlq/internal/dataset"
	"github.com/iabi/nlq/internal/engine"
	"github.com/iabi/nlq/internal/journal"
	journalpostgres "github.com/iabi/nlq/internal/journal/postgres"
	"github.com/iabi/nlq/internal/llm"
	"github.com/iabi/nlq/internal/observability"
	"github.com/iabi/nlq/internal/storage"
	s3store "github.com/iabi/nlq/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("nlq-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, closeJournal, err := openJournal(ctx, cfg)
	if err != nil {
		logger.Error("failed to open query journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeJournal()

	nlq, err := engine.New(ctx, engine.Config{
		Open:      datasetOpener(cfg, logger),
		TableName: cfg.Dataset.Table,
		RowLimit:  cfg.Dataset.RowLimit,
		LoadModel: func(ctx context.Context) (llm.Generator, error) {
			return llm.LoadOllama(ctx, llm.OllamaConfig{
				BaseURL:   cfg.Model.BaseURL,
				Model:     cfg.Model.Name,
				ModelPath: config.DiscoverFile(cfg.Model.Path()),
				Device:    cfg.Model.Device,
				GPULayers: cfg.Model.GPULayers,
				Timeout:   cfg.Model.Timeout,
			}, logger)
		},
		Generation: llm.Options{
			MaxTokens:   cfg.Model.MaxTokens,
			Temperature: cfg.Model.Temperature,
			Sampling: llm.Sampling{
				TopK:          cfg.Model.TopK,
				TopP:          cfg.Model.TopP,
				RepeatPenalty: cfg.Model.RepeatPenalty,
			},
		},
		Correction: cfg.Model.Correction,
		Journal:    recorder,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = nlq.Close() }()

	info := nlq.Info()
	logger.Info("engine ready",
		slog.String("table", info.Table),
		slog.Int("rows", info.Rows),
		slog.String("model", info.Model),
		slog.String("mode", string(info.Mode)),
	)

	deps := api.Dependencies{
		Logger:            logger,
		Engine:            nlq,
		UI:                uistatic.Handler(),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		if validator.Len() == 0 {
			logger.Warn("auth required but no static keys configured; protected routes will reject every request")
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// datasetOpener reads s3://bucket/key paths through the object store and
// everything else from the local filesystem.
func datasetOpener(cfg config.Config, logger *slog.Logger) func(context.Context) (*dataset.Table, error) {
	return func(ctx context.Context) (*dataset.Table, error) {
		if !storage.IsURI(cfg.Dataset.Path) {
			path := config.DiscoverFile(cfg.Dataset.Path)
			logger.Info("loading dataset", slog.String("path", path))
			return dataset.Load(ctx, path)
		}
		uri, err := storage.ParseURI(cfg.Dataset.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", dataset.ErrDataSource, err)
		}
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          uri.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", dataset.ErrDataSource, err)
		}
		logger.Info("loading dataset", slog.String("uri", uri.String()))
		return dataset.LoadObject(ctx, store, uri.Key)
	}
}

func openJournal(ctx context.Context, cfg config.Config) (journal.Recorder, func(), error) {
	if cfg.Journal.DSN == "" {
		return journal.NewMemory(cfg.Journal.MemorySize), func() {}, nil
	}
	db, err := journalpostgres.Open(ctx, journalpostgres.DBConfig{
		DSN:             cfg.Journal.DSN,
		ApplicationName: "nlq-api",
		MaxOpenConns:    cfg.Journal.MaxOpenConns,
		MaxIdleConns:    cfg.Journal.MaxIdleConns,
		ConnMaxIdleTime: cfg.Journal.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Journal.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return journalpostgres.NewRepository(db), func() { _ = db.Close() }, nil
}
