package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/siegeup/node-agent/internal/agentcert"
	"github.com/siegeup/node-agent/internal/api"
	"github.com/siegeup/node-agent/internal/builds"
	"github.com/siegeup/node-agent/internal/config"
	"github.com/siegeup/node-agent/internal/hostinfo"
	"github.com/siegeup/node-agent/internal/logging"
	"github.com/siegeup/node-agent/internal/logsink"
	"github.com/siegeup/node-agent/internal/maintenance"
	"github.com/siegeup/node-agent/internal/orchestrator"
	"github.com/siegeup/node-agent/internal/reconcile"
	"github.com/siegeup/node-agent/internal/state"
	"github.com/siegeup/node-agent/internal/supervisor"
)

func main() {
	listenPort := pflag.Int("port", 0, "HTTPS listen port (overrides configuration)")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listenPort != 0 {
		cfg.Server.Port = *listenPort
	}

	if err := os.MkdirAll(cfg.Storage.SettingsDir, 0755); err != nil {
		log.Fatalf("Failed to create settings directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	// Set up logging
	if _, err := logging.Init(cfg.Logging); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	// Initialize state store
	store, err := state.NewStore(cfg.SettingsFile())
	if err != nil {
		log.Fatalf("Failed to initialize state store: %v", err)
	}

	// Initialize build store
	buildStore, err := builds.NewStore(cfg.Storage.BuildsDir)
	if err != nil {
		log.Fatalf("Failed to initialize build store: %v", err)
	}

	sink := logsink.NewSink(cfg.Storage.LogsDir)
	sup := supervisor.New(store, sink, cfg.GracefulWait(), cfg.KillWait())

	// Start reconciler
	reconciler := reconcile.New(store, buildStore, sup, cfg.WatchInterval())
	reconciler.Start()

	// Start maintenance sweeper
	sweeper := maintenance.NewSweeper(store, sink)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start maintenance sweeper: %v", err)
	}

	hostname := hostinfo.Hostname()

	// Self-signed certificate must exist before the listener comes up
	if err := agentcert.Ensure(cfg.CertFile(), cfg.KeyFile(), hostname); err != nil {
		log.Fatalf("Failed to prepare TLS certificate: %v", err)
	}

	// Best-effort orchestrator registration
	if cfg.Orchestrator.URL != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			reg := orchestrator.Registration{
				Hostname: hostname,
				Platform: hostinfo.Platform(),
				Port:     cfg.Server.Port,
				Commit:   hostinfo.Commit(),
			}
			if err := orchestrator.NewClient(cfg.Orchestrator.URL).Register(ctx, reg); err != nil {
				logging.L().Warn("orchestrator registration failed", "error", err)
			}
		}()
	}

	// Set up HTTPS server
	updateCh := make(chan struct{}, 1)
	router := api.SetupRouter(cfg, store, buildStore, sink, sup, hostinfo.NewCPUTracker(), updateCh)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting agent on %s (commit %s)", server.Addr, hostinfo.Commit())
		if err := server.ListenAndServeTLS(cfg.CertFile(), cfg.KeyFile()); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTPS server: %v", err)
		}
	}()

	// Wait for a shutdown signal or an update request
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutting down agent...")
	case <-updateCh:
		log.Println("Update requested, shutting down for relaunch...")
	}

	reconciler.Stop()
	sweeper.Stop()

	log.Println("Stopping game servers...")
	sup.ShutdownAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Agent exited")
}
