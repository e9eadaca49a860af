package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/festboard/internal/adapters/http/api"
	"github.com/okian/festboard/internal/adapters/http/swagger"
	"github.com/okian/festboard/internal/adapters/mq/broker"
	"github.com/okian/festboard/internal/adapters/mq/relay"
	"github.com/okian/festboard/internal/adapters/repository"
	app "github.com/okian/festboard/internal/app"
	"github.com/okian/festboard/internal/config"
	"github.com/okian/festboard/internal/domain/dedupe"
	"github.com/okian/festboard/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(logger.Format(cfg.LogFormat))); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "festboard exited", logger.Error(err))
		os.Exit(1)
	}
}

// run wires the components from cfg and serves HTTP until ctx ends.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	hub := broker.NewHub(
		broker.WithBuffer(cfg.SubscriberBuffer),
		broker.WithLogger(log.Named("broker")),
	)
	notifier, closeRelay, err := openNotifier(ctx, cfg, hub)
	if err != nil {
		_ = store.Close()
		return err
	}

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithNotifier(notifier),
		app.WithStoreTimeout(cfg.StoreTimeout()),
		app.WithReadRetries(cfg.ReadRetries),
		app.WithRetryBackoff(cfg.RetryBackoff()),
		app.WithSubscriberBuffer(cfg.SubscriberBuffer),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(svc, cfg),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := closeRelay(); err != nil {
			errs = append(errs, fmt.Errorf("close relay: %w", err))
		}
		// Stop closes the store; the hub is closed separately when a relay
		// wraps it.
		if err := svc.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := hub.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close hub: %w", err))
		}
		log.Info(ctx, "server stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// openStore opens the configured result store backend.
func openStore(ctx context.Context, cfg *config.Config) (repository.ResultStore, error) {
	log := logger.Get()
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		store, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info(ctx, "using sqlite result store", logger.String("path", cfg.SQLitePath))
		return store, nil
	case config.BackendPostgres:
		store, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info(ctx, "using postgres result store")
		return store, nil
	default:
		log.Info(ctx, "using in-memory result store")
		return repository.NewMemoryStore(), nil
	}
}

// openNotifier returns hub itself, or a Redis relay around it when a Redis
// address is configured. The returned func closes the relay.
func openNotifier(ctx context.Context, cfg *config.Config, hub *broker.Hub) (broker.Notifier, func() error, error) {
	if cfg.RedisAddr == "" {
		return hub, func() error { return nil }, nil
	}
	client, err := relay.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	r, err := relay.New(ctx, hub, client,
		relay.WithChannel(cfg.RedisChannel),
		relay.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
		relay.WithLogger(logger.Get().Named("relay")),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("start relay: %w", err)
	}
	return r, r.Close, nil
}

// newMux registers the API and docs routes.
func newMux(svc *app.Service, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(svc,
		api.WithMaxLimit(cfg.MaxLeaderboardLimit),
		api.WithLogger(logger.Get().Named("api")),
	).Register(mux)
	return mux
}
