package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/tjfontaine/testernest-go/internal/config"
	"github.com/tjfontaine/testernest-go/internal/mockserver"
	"github.com/tjfontaine/testernest-go/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	configPath := flag.StringP("config", "c", config.DefaultPath, "config file path")
	port := flag.IntP("port", "p", 0, "listen port (overrides mock.port)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Mock.Port = *port
	}

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName+"-mock", logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.Mock.SigningSecret == "" {
		secret, err := mockserver.GenerateKey("")
		if err != nil {
			log.Fatalf("Failed to generate signing secret: %v", err)
		}
		cfg.Mock.SigningSecret = secret
		logger.Warn("mock.signing_secret not set, using an ephemeral secret")
	}

	srv, err := mockserver.New(mockserver.Config{
		Port:            cfg.Mock.Port,
		SigningSecret:   cfg.Mock.SigningSecret,
		TokenTTL:        cfg.Mock.TokenTTL,
		PublicKeyHashes: cfg.Mock.PublicKeyHashes,
		ConnectCodes:    cfg.Mock.ConnectCodes,
		EnableAdmin:     cfg.Mock.EnableAdmin,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create mock server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("mock ingest server started",
		slog.Int("port", cfg.Mock.Port),
		slog.Bool("admin", cfg.Mock.EnableAdmin),
		slog.Int("public_keys", len(cfg.Mock.PublicKeyHashes)),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping mock server...")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Mock server shutdown complete")
}
