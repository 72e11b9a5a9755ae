package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/app"
	"github.com/xelth-com/stocksyncgo/internal/buildinfo"
	"github.com/xelth-com/stocksyncgo/internal/config"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	syncCfg, err := config.LoadSyncConfig()
	if err != nil {
		log.Fatalf("Failed to load sync configuration: %v", err)
	}

	// 2. Database, single startup migration, engine and collaborators
	a, err := app.New(cfg, syncCfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	// Note: a.Close() is called manually in shutdown handler below

	// 3. Background queue worker
	if syncCfg.Active && cfg.Server.WorkerEnabled {
		if err := a.Engine.Start(); err != nil {
			log.Printf("⚠️ Sync Engine: Failed to start: %v", err)
		} else {
			log.Printf("✅ Sync Engine: worker started (every %v, batch %d)", syncCfg.WorkerInterval(), syncCfg.BatchSize)
		}
	} else if !syncCfg.Active {
		log.Println("⏸️ Sync Engine: module inactive, worker not started")
	}

	// 4. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 StockSync %s (%s) starting on port %s", buildinfo.Version, syncCfg.Role, cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("⚠️  Received signal: %v. Shutting down gracefully...", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop worker, event hub and database (this also stops embedded PostgreSQL)
	if err := a.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
