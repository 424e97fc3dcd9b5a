// Package main provides the entry point for the docsync service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docuvault/docsync/internal/cache"
	"github.com/docuvault/docsync/internal/common/config"
	"github.com/docuvault/docsync/internal/common/logger"
	"github.com/docuvault/docsync/internal/record"
	"github.com/docuvault/docsync/internal/replicator"
	"github.com/docuvault/docsync/internal/service"
	"github.com/docuvault/docsync/internal/storage"
	"github.com/docuvault/docsync/internal/transfer"
	httpapi "github.com/docuvault/docsync/pkg/api/http"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "path to config file")
	version    = "dev"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logCfg := logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		Output:      cfg.Logger.Output,
		Development: cfg.Logger.Development,
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.WithComponent("main")
	log.Info("starting docsync service",
		zap.String("version", version),
		zap.Bool("replication", cfg.Remote.Enabled),
	)

	// Initialize storage backend
	storageBackend, err := storage.NewLocalFS(cfg.Storage.UploadPath)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer storageBackend.Close()

	// Initialize record store
	store, err := record.NewBadgerStore(cfg.Metadata.DBPath)
	if err != nil {
		log.Fatal("failed to initialize record store", zap.Error(err))
	}
	defer store.Close()

	// Initialize the remote transfer client when replication is enabled.
	var client *transfer.Client
	if cfg.Remote.Enabled {
		client, err = transfer.NewClient(transfer.Config{
			Protocol:      cfg.Remote.Protocol,
			Host:          cfg.Remote.Host,
			Port:          cfg.Remote.Port,
			User:          cfg.Remote.User,
			Module:        cfg.Remote.Module,
			BasePath:      cfg.Remote.BasePath,
			Secret:        cfg.Remote.Secret,
			SecretFile:    cfg.Remote.SecretFile,
			Flags:         cfg.Remote.Flags,
			Compress:      cfg.Remote.Compress,
			DryRun:        cfg.Remote.DryRun,
			BWLimitKBps:   cfg.Remote.BWLimitKBps,
			IncludeFrom:   cfg.Remote.IncludeFrom,
			ExcludeFrom:   cfg.Remote.ExcludeFrom,
			TempDir:       cfg.Storage.TempPath,
			Timeout:       cfg.Remote.Timeout,
			DeleteTimeout: cfg.Remote.DeleteTimeout,
		})
		if err != nil {
			log.Fatal("failed to initialize transfer client", zap.Error(err))
		}
	}

	// Download cache; without a remote it only serves reconciled
	// leftovers from a previous run.
	var downloader cache.Downloader
	if client != nil {
		downloader = client
	}
	dlCache, err := cache.New(cache.Config{
		Dir:           cfg.Storage.TempPath,
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
		LockWait:      cfg.Cache.LockWait,
	}, downloader)
	if err != nil {
		log.Fatal("failed to initialize download cache", zap.Error(err))
	}
	dlCache.Start()
	defer dlCache.Stop()

	// Replication worker
	var (
		worker   *replicator.Worker
		deleter  service.Deleter
		resyncer service.Resyncer
	)
	if client != nil {
		worker = replicator.NewWorker(replicator.Config{
			BatchSize:     cfg.Replication.BatchSize,
			Interval:      cfg.Replication.Interval,
			RetryDelay:    cfg.Replication.RetryDelay,
			MaxRetries:    cfg.Replication.MaxRetries,
			PriorityFirst: cfg.Replication.PriorityFirst,
			StaleClaim:    cfg.Replication.StaleClaim,
		}, store, client)
		if err := worker.Start(context.Background()); err != nil {
			log.Fatal("failed to start replication worker", zap.Error(err))
		}
		defer worker.Stop()
		deleter = client
		resyncer = worker
	}

	// Create file service
	fileService := service.NewFileService(storageBackend, store, dlCache, deleter, resyncer, cfg.Remote.Enabled)

	// Create HTTP handler
	handler := httpapi.NewHandler(fileService)

	// Setup Gin
	if !cfg.Logger.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger())

	// Register routes
	handler.RegisterRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// ginLogger returns a Gin middleware that logs requests using zap.
func ginLogger() gin.HandlerFunc {
	log := logger.WithComponent("http")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
