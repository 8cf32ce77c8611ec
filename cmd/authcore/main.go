package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/staticms/authcore/internal/config"
	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/server"
)

var BuildVersion = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("authcore %s\n", BuildVersion)
		return
	}

	// Load .env if present; environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.LogError("Invalid configuration: %v", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.LogError("Failed to build server: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.LogInfoWithFields("main", "Starting authcore", map[string]any{
		"version": BuildVersion,
		"addr":    cfg.ListenAddr,
	})

	if err := srv.ListenAndServe(ctx); err != nil {
		log.LogError("Server exited: %v", err)
		os.Exit(1)
	}
}
