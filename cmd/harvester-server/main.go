package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/maltedev/adlibrary-harvester/internal/api"
	"github.com/maltedev/adlibrary-harvester/internal/app"
	"github.com/maltedev/adlibrary-harvester/internal/config"
	"github.com/maltedev/adlibrary-harvester/internal/job"
	"github.com/maltedev/adlibrary-harvester/internal/logger"
	"github.com/maltedev/adlibrary-harvester/internal/queue"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize harvester", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	a.StartRelay(ctx)

	q := queue.NewInMemoryQueue(cfg.Server.QueueSize)
	manager := job.NewManager(a.Runner, q, cfg.JobConfig(), logger)
	go manager.StartWorker(ctx)

	handlers := api.NewHandlers(manager, logger)
	if a.Outbox != nil {
		handlers.WithOutbox(a.Outbox)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, a.Registry, nil),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		if err := q.Close(); err != nil {
			logger.Warn("failed to close job queue", "error", err)
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
