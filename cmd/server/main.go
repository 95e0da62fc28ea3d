// Package main provides the entry point for the ThreatPulse server.
// It scores Middle East escalation risk from open-source signals.
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/api"
	"github.com/lvonguyen/threatpulse/internal/config"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/service"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ThreatPulse %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "threatpulse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	env := os.Getenv("THREATPULSE_ENV")
	if env == "" {
		env = "development"
	}
	tel, err := observability.New(cfg.Telemetry(Version, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	logger := tel.Logger()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ThreatPulse",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("config", configPath),
		zap.Strings("sources", cfg.EnabledSources()),
	)

	var rdb redis.UniversalClient
	var ready api.Pinger
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The readiness check keeps reporting it; the server still starts.
			logger.Warn("Redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		}
		rdb = client
		ready = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	svc, err := service.Build(cfg, rdb, logger.Named("service"), tel.Tracer(), tel.Metrics())
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	srv := api.NewServer(svc, cfg.Server, api.Options{
		Logger:  logger.Named("http"),
		Metrics: tel.Metrics(),
		Ready:   ready,
		Version: Version,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
