// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pawtrust/adoption-platform/internal/catalog"
	"github.com/pawtrust/adoption-platform/internal/config"
	"github.com/pawtrust/adoption-platform/internal/handler"
	"github.com/pawtrust/adoption-platform/internal/llm"
	natsclient "github.com/pawtrust/adoption-platform/internal/nats"
	"github.com/pawtrust/adoption-platform/internal/realtime"
	"github.com/pawtrust/adoption-platform/internal/service"
	"github.com/pawtrust/adoption-platform/internal/store"
	"github.com/pawtrust/adoption-platform/internal/store/memory"
	"github.com/pawtrust/adoption-platform/internal/store/sqlstore"
	"github.com/pawtrust/adoption-platform/pkg/logger"
	"github.com/pawtrust/adoption-platform/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting API server", zap.String("store", cfg.StoreDriver))

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "adoption-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	st, pets, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}

	checks := map[string]handler.Pinger{"store": st}

	var (
		publisher service.EventPublisher
		history   service.EventHistory
	)
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsClient.Close()

		streams := natsclient.NewStreamManager(natsClient)
		if err := streams.EnsureStream(ctx); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		publisher, history = streams, streams
		checks["nats"] = natsClient
		log.Info("event log enabled", zap.String("stream", natsclient.StreamName))
	}

	hub := realtime.NewHub()
	var notifier service.ChatNotifier = hub
	if cfg.RedisAddr != "" {
		relay, err := realtime.NewRedisRelay(ctx, cfg.RedisAddr, cfg.RedisChannel, hub, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer relay.Close()
		if err := relay.Start(ctx); err != nil {
			return err
		}
		notifier = relay
		checks["redis"] = relay
		log.Info("chat notifications relayed over redis", zap.String("channel", cfg.RedisChannel))
	}

	llmClient, err := llm.FromKeys(cfg.DefaultLLM, cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		log.Warn("failed to create LLM client, digest disabled", zap.Error(err))
		llmClient = nil
	}

	events := service.NewEvents(publisher, notifier, log)
	coordinator := service.NewCoordinator(st, pets, events, service.RetryPolicy{
		InitialInterval: cfg.FinalizeInitialInterval,
		MaxElapsed:      cfg.FinalizeMaxElapsed,
	}, log)
	lifecycle := service.NewLifecycle(st, pets, coordinator, events, history, log)
	chats := service.NewChatProtocol(st, events, hub, cfg.LongPollMaxWait, log)
	digest := service.NewTermsDigest(chats, llmClient, log)

	go reconcileLoop(ctx, coordinator, cfg.ReconcileInterval, log)

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: handler.NewRouter(handler.RouterConfig{
			Lifecycle:         lifecycle,
			Chats:             chats,
			Digest:            digest,
			Checks:            checks,
			Logger:            log,
			JWTSecret:         cfg.JWTSecret,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		}),
		ReadTimeout: cfg.ServerReadTimeout,
		// long-polls are held up to LongPollMaxWait
		WriteTimeout: maxDuration(cfg.ServerWriteTimeout, cfg.LongPollMaxWait+5*time.Second),
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openStores builds the negotiation store and pet catalog for the
// configured driver, migrating and seeding as needed.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.NegotiationStore, catalog.PetCatalog, error) {
	var (
		st     store.NegotiationStore
		pets   catalog.PetCatalog
		seeder catalog.Seeder
	)

	switch driver := strings.ToLower(cfg.StoreDriver); driver {
	case "memory", "":
		mem := catalog.NewMemoryCatalog()
		st, pets, seeder = memory.New(), mem, mem

	default:
		dsn := cfg.DatabaseDSN
		opts := sqlstore.Options{MaxOpenConns: cfg.DBMaxOpenConn, LogQueries: cfg.LogLevel == "debug"}
		if driver == "sqlite" || driver == "sqlite3" {
			if dsn == "" {
				dsn = "file:adoption.db?_busy_timeout=5000"
			}
			// sqlite serializes writers
			opts.MaxOpenConns = 1
		}
		if dsn == "" {
			return nil, nil, fmt.Errorf("DATABASE_DSN is required for store driver %q", driver)
		}

		db, err := sqlstore.Open(driver, dsn, opts)
		if err != nil {
			return nil, nil, err
		}
		sql := sqlstore.New(db)
		if err := sql.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate negotiation store: %w", err)
		}
		gormPets := catalog.NewGormCatalog(db)
		if err := gormPets.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate catalog: %w", err)
		}
		st, pets, seeder = sql, gormPets, gormPets
	}

	if cfg.SeedPetsFile != "" {
		seed, err := catalog.LoadSeed(cfg.SeedPetsFile)
		if err != nil {
			return nil, nil, err
		}
		if err := catalog.Seed(ctx, seeder, seed); err != nil {
			return nil, nil, fmt.Errorf("seed catalog: %w", err)
		}
		log.Info("catalog seeded", zap.Int("pets", len(seed)), zap.String("file", cfg.SeedPetsFile))
	}

	return st, pets, nil
}

// reconcileLoop repairs divergent requests at startup and then on every
// tick, looking back over a window a few intervals wide.
func reconcileLoop(ctx context.Context, coordinator *service.Coordinator, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}
	lookback := 24 * time.Hour
	if w := 10 * interval; w > lookback {
		lookback = w
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := coordinator.Reconcile(ctx, time.Now().UTC().Add(-lookback)); err != nil && ctx.Err() == nil {
			log.Warn("reconcile failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
