package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SRL-GEN/internal"
	"SRL-GEN/internal/config"
	"SRL-GEN/internal/handlers"
	"SRL-GEN/internal/logger"
	"SRL-GEN/internal/ratelimit"
	"SRL-GEN/internal/services"
	"SRL-GEN/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := internal.InitDB(cfg, zlog); err != nil {
		zlog.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer internal.CloseDB()

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		zlog.Fatal("Failed to initialize storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer closeStore()

	fields := services.DefaultFieldTable()
	if cfg.Letter.FieldAliasesFile != "" {
		if fields, err = services.LoadFieldTable(cfg.Letter.FieldAliasesFile); err != nil {
			zlog.Fatal("Failed to load field aliases", zap.Error(err))
		}
	}

	pdf, err := services.NewPDFService(cfg.Gotenberg.URL, cfg.Gotenberg.TimeoutDuration(), zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize PDF service", zap.Error(err))
	}

	verification := services.NewVerificationService(internal.DB, cfg.Letter.FrontendBaseURL, zlog)
	numbering := services.NewNumberingService(internal.DB, cfg.Letter.OrgCode, cfg.Letter.LetterType, verification, zlog)
	letters := services.NewLetterService(internal.DB)
	templates := services.NewTemplateService(store, zlog)
	generation := services.NewGenerationService(services.GenerationDeps{
		DB:                internal.DB,
		Store:             store,
		Templates:         templates,
		Fields:            fields,
		Features:          services.NewFeatureComposer(cfg.Storage.UploadsDir, cfg.Storage.ScratchDir, zlog),
		Numbering:         numbering,
		Verification:      verification,
		Letters:           letters,
		PDF:               pdf,
		DefaultTemplateID: cfg.Letter.DefaultTemplateID,
		Logger:            zlog,
	})

	deps := handlers.Dependencies{
		Templates:    templates,
		Generation:   generation,
		Numbering:    numbering,
		Letters:      letters,
		Verification: verification,
		AllowOrigins: cfg.Server.AllowOrigins,
		Logger:       zlog,
	}
	if cfg.Redis.Addr != "" {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.Prefix, cfg.Redis.VerifyLimit, cfg.Redis.Window())
		if err != nil {
			zlog.Fatal("Failed to initialize rate limiter", zap.Error(err))
		}
		defer limiter.Close()
		deps.Limiter = limiter
	} else {
		zlog.Warn("REDIS_ADDR is empty, public verification is not rate limited")
	}

	// Scratch files (downloaded signatures and stamps) older than an hour are removed.
	sweeper := services.NewScratchSweeper(time.Hour, 10*time.Minute, zlog, cfg.Storage.ScratchDir)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("Starting server", zap.String("addr", server.Addr), zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, func(), error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS.BucketName, cfg.GCS.ProjectID, cfg.GCS.CredentialsPath)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	case "minio":
		client, err := storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	default:
		local, err := storage.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			return nil, nil, err
		}
		return local, func() {}, nil
	}
}
