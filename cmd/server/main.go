package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/termhost/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override environment
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Server port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Listen host")
	flag.StringVar(&cfg.Terminal.Program, "program", cfg.Terminal.Program, "Program to run in new terminals")
	flag.DurationVar(&cfg.Terminal.OrphanTimeout, "orphan-timeout", cfg.Terminal.OrphanTimeout, "Grace period before an orphaned terminal is killed")
	flag.BoolVar(&cfg.Backing.Enabled, "tmux", cfg.Backing.Enabled, "Back terminals with tmux sessions")
	flag.BoolVar(&cfg.Backing.SyncOnStart, "sync", cfg.Backing.SyncOnStart, "Prune stale tmux sessions on start")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.Parse()
	if cfg.Logging.Development {
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg, server.Dependencies{})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}
