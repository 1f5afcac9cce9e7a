// Command harvester runs a single job configured entirely from the
// environment (optionally preloaded from .env) and prints its report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/maltedev/adlibrary-harvester/internal/app"
	"github.com/maltedev/adlibrary-harvester/internal/config"
	"github.com/maltedev/adlibrary-harvester/internal/logger"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/proxy"
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize harvester", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	a.StartRelay(ctx)

	jobCfg := cfg.JobConfig()
	logger.Info("Starting harvest",
		"search_term", jobCfg.SearchFilters[models.FilterSearchTerm],
		"country", jobCfg.SearchFilters[models.FilterCountry],
		"workers", jobCfg.MaxWorkers)

	report, err := a.Runner.Run(ctx, jobCfg)
	if report != nil {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		if errors.Is(err, proxy.ErrNoProxiesAvailable) {
			logger.Error("No working proxies found, nothing was scraped")
		} else {
			logger.Error("Harvest failed", "error", err)
		}
		a.Close()
		os.Exit(1)
	}

	logger.Info("Harvest complete",
		"job_id", report.ID,
		"total_records", report.Summary.TotalRecords,
		"files", report.Files)
}
