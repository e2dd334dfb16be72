// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"streak-service/internal/api"
	"streak-service/internal/config"
	"streak-service/internal/github"
	"streak-service/internal/notify"
	"streak-service/internal/reminder"
	"streak-service/internal/store"
	"streak-service/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	st := store.New(dbpool, logger.With("component", "store"))

	ghClient, err := newProviderClient(cfg, logger.With("component", "github"))
	if err != nil {
		return fmt.Errorf("failed to create provider client: %w", err)
	}

	worker := syncer.New(st, ghClient, logger.With("component", "syncer"), cfg.SyncInterval)
	go worker.Start(ctx)

	messenger := notify.NewTelegramMessenger(cfg.TelegramToken, logger.With("component", "notify"))
	reminders := reminder.New(st, messenger, logger.With("component", "reminder"), cfg.ReminderInterval)
	go reminders.Start(ctx)

	router := api.NewRouter(st, worker, cfg.WebhookSecret, logger.With("component", "api"))
	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	go func() {
		logger.Info("API server listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	return nil
}

func newProviderClient(cfg *config.Config, logger *slog.Logger) (*github.Client, error) {
	if cfg.GithubAppID != 0 && len(cfg.GithubKey) > 0 {
		return github.NewAppClient(cfg.GithubAppID, cfg.GithubKey, logger)
	}
	return github.NewTokenClient(cfg.GithubToken, logger), nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
