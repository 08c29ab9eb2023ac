package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"

	"chatClient/config"
	"chatClient/pkg/api"
	"chatClient/pkg/app"
	"chatClient/pkg/cache"
	"chatClient/pkg/chat"
	myMiddleware "chatClient/pkg/middleware"
	"chatClient/pkg/repository"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func init() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalln("Error loading .env file:", err)
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("CHAT_CONFIG"))
	if err != nil {
		log.Fatalln(err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalln(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Fatal("chat client stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	client, err := repository.NewClient(repository.ClientConfig{
		BaseURL:            cfg.API.BaseURL,
		Token:              cfg.API.Token,
		Timeout:            cfg.API.Timeout,
		RequestsPerSecond:  cfg.API.RequestsPerSecond,
		Burst:              cfg.API.Burst,
		BreakerMaxFailures: cfg.API.BreakerMaxFailures,
		BreakerTimeout:     cfg.API.BreakerTimeout,
	}, logger)
	if err != nil {
		return err
	}
	storage := repository.NewStorage(client)

	opts := chat.Options{
		UserId:   api.ID(cfg.User.Id),
		UserName: cfg.User.Name,
		Intervals: chat.Intervals{
			Messages: cfg.Polling.Messages,
			Typing:   cfg.Polling.Typing,
			Status:   cfg.Polling.Status,
		},
		HeartbeatInterval: cfg.Polling.Heartbeat,
		ListInterval:      cfg.Polling.List,
	}

	if cfg.API.StreamURL != "" {
		stream, err := repository.NewStream(cfg.API.StreamURL, cfg.API.Token, logger)
		if err != nil {
			return err
		}
		opts.Stream = stream
		logger.Info("using server push for the open thread", zap.String("url", cfg.API.StreamURL))
	}

	switch cfg.Cache.Backend {
	case "memory":
		opts.Cache = cache.NewMemory()
	case "redis":
		c, closeCache, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			logger.Warn("redis unavailable, chat list will not be cached", zap.Error(err))
			break
		}
		defer func() { _ = closeCache() }()
		opts.Cache = c
	}

	session := chat.NewSession(storage, opts, logger)
	if err := session.Start(ctx); err != nil {
		// Partial lists are still usable; the background refresh retries.
		logger.Warn("initial chat list refresh incomplete", zap.Error(err))
	}
	defer session.Stop()

	verifier, err := setupVerifier(ctx, cfg.Auth, logger)
	if err != nil {
		return err
	}

	server := app.NewServer(chi.NewRouter(), session, verifier, app.ServerConfig{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)
	return server.Run(ctx)
}

func setupVerifier(ctx context.Context, cfg config.AuthCfg, logger *zap.Logger) (myMiddleware.TokenVerifier, error) {
	switch {
	case cfg.Firebase:
		firebaseApp, err := config.SetupFirebase(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		verifier, err := myMiddleware.NewFirebaseVerifier(ctx, firebaseApp)
		if err != nil {
			return nil, err
		}
		logger.Info("view server accepts Firebase ID tokens")
		return verifier, nil
	case cfg.Token != "":
		return myMiddleware.StaticToken{Token: cfg.Token}, nil
	default:
		logger.Warn("view server is not authenticated; bind it to loopback only")
		return nil, nil
	}
}
