package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"log/slog"

	"readmate/internal/config"
	"readmate/internal/ratelimit"
	"readmate/internal/server"
	"readmate/internal/token"
	"readmate/internal/util"
	"readmate/pkg/ai"
	"readmate/pkg/catalog"
	"readmate/pkg/chat"
	"readmate/pkg/events"
	"readmate/pkg/ingest"
	"readmate/pkg/queue"
	"readmate/pkg/secrets"
	"readmate/pkg/storage"
	"readmate/pkg/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	var bookStore store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal("failed to init database", "err", err)
		}
		bookStore = gormStore
	} else {
		slog.Warn("no databaseURL configured, using in-memory store")
		bookStore = store.NewMemoryStore()
	}

	var secretStore secrets.Store
	if cfg.RedisAddr != "" {
		secretStore = secrets.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		fileSecrets, err := secrets.NewFileStore(cfg.SecretsDir)
		if err != nil {
			util.Fatal("failed to init secret store", "err", err)
		}
		secretStore = fileSecrets
	}

	streamer := ai.NewOpenAIStreamClient(cfg.ChatAPIBaseURL, cfg.ChatModel, secrets.Credential{
		Store: secretStore,
		Name:  secrets.APIKeyName,
	})
	sessions := chat.NewManager(bookStore, streamer)

	var source storage.SourceStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		source = minioStore
	} else {
		fileSource, err := storage.NewFileStore(cfg.UploadDir)
		if err != nil {
			util.Fatal("failed to init upload storage", "err", err)
		}
		source = fileSource
	}

	var ingestQueue *queue.RedisJobQueue
	if cfg.RedisAddr != "" {
		ingestQueue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.IngestStream,
			MaxRetries: cfg.IngestMaxRetries,
		})
		if err != nil {
			util.Fatal("failed to init ingest queue", "err", err)
		}
	} else {
		slog.Warn("no redisAddr configured, book ingestion disabled")
	}

	var publisher *events.Publisher
	if cfg.RabbitURL != "" {
		publisher, err = events.NewPublisher(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			util.Fatal("failed to init event publisher", "err", err)
		}
		defer publisher.Close()
	}

	tokens, err := token.NewManager(token.Options{Secret: cfg.SessionSecret})
	if err != nil {
		util.Fatal("failed to init session tokens", "err", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "readmate:ratelimit", cfg.ChatRatePerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		Store:              bookStore,
		Sessions:           sessions,
		Catalog:            catalog.NewClient(cfg.CatalogBaseURL),
		Source:             source,
		Queue:              ingestQueue,
		Secrets:            secretStore,
		Events:             publisher,
		Tokens:             tokens,
		Limiter:            limiter,
		AccessPasswordHash: cfg.AccessPasswordHash,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Long write timeout: chat turns stream for a while.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("companion server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if ingestQueue != nil {
		worker := ingest.NewWorker(bookStore, source, ingestQueue, publisher, cfg.IngestMaxRetries)
		g.Go(func() error {
			return worker.Run(gctx, cfg.IngestConcurrency)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
