package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"authd/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHD_CONFIG"), "Path to YAML config")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := server.NewSQLiteAccountStore(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open account store: %v", err)
	}
	defer store.Close()

	denylist, err := buildDenylist(cfg, logger)
	if err != nil {
		log.Fatalf("connect denylist: %v", err)
	}

	registry, err := server.BuildProviderRegistry(ctx, cfg.OAuth2, logger)
	if err != nil {
		log.Fatalf("build provider registry: %v", err)
	}

	app, err := server.NewApp(cfg, store, denylist, registry, logger)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           app.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.ListenAddr, "public_url", cfg.Server.PublicURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
}

// buildDenylist prefers Redis when configured; without an address the
// in-memory denylist serves single-instance deployments.
func buildDenylist(cfg server.Config, logger *slog.Logger) (server.Denylist, error) {
	if !cfg.Denylist.Enabled || cfg.Denylist.RedisAddr == "" {
		if cfg.Denylist.Enabled {
			logger.Warn("no redis address configured, using in-memory denylist")
		}
		return server.NewMemoryDenylist(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Denylist.RedisAddr,
		Password: cfg.Denylist.RedisPassword,
		DB:       cfg.Denylist.RedisDB,
	})
	return server.NewRedisDenylist(client, cfg.Denylist.Prefix)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level")
	}
}
