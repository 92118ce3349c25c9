package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"modrequests/api/internal/app"
	"modrequests/api/internal/config"
	"modrequests/api/internal/email"
	"modrequests/api/internal/lock"
	"modrequests/api/internal/notify"
	"modrequests/api/internal/rbac"
	"modrequests/api/internal/store"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var skipMigrations bool
	flagSet := pflag.NewFlagSet("modrequests-api", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (overrides API_ADDR)")
	flagSet.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "store backend: postgres, mongo or memory (overrides STORE_DRIVER)")
	flagSet.BoolVar(&skipMigrations, "skip-migrations", false, "do not apply PostgreSQL migrations on startup")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if skipMigrations {
		cfg.RunMigrations = false
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	requests, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var locker app.Locker = lock.NewLocal()
	var redisLocker *lock.Redis
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLocker, err = lock.NewRedis(cfg.RedisURL, cfg.LockTTL, logger)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		logger.Info("using redis for record locks")
	}

	policy := rbac.NewPolicy(rbac.Roles{Managers: cfg.ManagerIDs, Admins: cfg.AdminIDs})
	dispatcher := notify.NewDispatcher(notify.Options{
		Managers: policy.Managers(),
		Admins:   policy.Admins(),
		Timeout:  cfg.NotifyTimeout,
		Logger:   logger.With("component", "notify"),
	}, transports(cfg, redisLocker, logger)...)

	service := app.New(requests, app.Options{
		Policy:   policy,
		Notifier: dispatcher,
		Locker:   locker,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("mod requests API listening", "addr", cfg.Addr, "store", cfg.Driver())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("pending notifications dropped", "error", err)
	}
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (app.RequestStore, func(), error) {
	switch cfg.Driver() {
	case config.DriverPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if cfg.RunMigrations {
			if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("migrations failed: %w", err)
			}
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil

	case config.DriverMongo:
		client, err := store.OpenMongo(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		requests := store.NewMongoStore(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
		if err := requests.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("mongo indexes failed: %w", err)
		}
		return requests, disconnect, nil

	default:
		logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}

func transports(cfg config.Config, redisLocker *lock.Redis, logger *slog.Logger) []notify.Transport {
	var out []notify.Transport
	if url := strings.TrimSpace(cfg.NotifyWebhookURL); url != "" {
		out = append(out, notify.NewWebhook(url, &http.Client{Timeout: cfg.NotifyTimeout}))
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() && len(cfg.NotifyEmails) > 0 {
		out = append(out, notify.NewEmail(mailer, cfg.NotifyEmails))
	}

	if cfg.NotifyRedisChannel != "" && redisLocker != nil {
		out = append(out, notify.NewRedis(redisLocker.Client(), cfg.NotifyRedisChannel))
	}

	names := make([]string, 0, len(out))
	for _, t := range out {
		names = append(names, t.Name())
	}
	logger.Info("notification transports", "transports", names)
	return out
}
