// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"verikey/internal/jwttoken"
	"verikey/internal/platform/config"
	"verikey/internal/platform/httpserver"
	"verikey/internal/platform/logger"
	platformredis "verikey/internal/platform/redis"
	httptransport "verikey/internal/transport/http"
	"verikey/internal/verification/generator"
	"verikey/internal/verification/handler"
	"verikey/internal/verification/metrics"
	"verikey/internal/verification/models"
	"verikey/internal/verification/service"
	"verikey/internal/verification/store"
	"verikey/internal/verification/worker"
)

const jwtIssuer = "verikey"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys, groups, health, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.New(keys, groups, generator.Default(),
		service.WithLogger(log),
		service.WithMetrics(metrics.New(registry)),
	)
	svc.OnKeyClaimed(func(ctx context.Context, event models.KeyClaimed) error {
		log.InfoContext(ctx, "key claimed event",
			"group", event.Key.Group, "key_id", event.Key.ID, "claimant", event.Claimant)
		return nil
	})

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, jwtIssuer, jwtIssuer)
	router := httptransport.NewRouter(handler.New(svc, log, jwtService), log, registry, health)
	srv := httpserver.New(cfg.Addr, router)
	sweeper := worker.NewSweeper(svc, cfg.SweepInterval, log)

	log.Info("starting verikey", "addr", cfg.Addr, "store", cfg.Store, "sweep_interval", cfg.SweepInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sweeper: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildStores selects the persistence backend. The returned cleanup closes
// whatever connections were opened.
func buildStores(ctx context.Context, cfg config.Server) (store.KeyStore, store.GroupStore, httptransport.HealthChecker, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if _, err := db.ExecContext(ctx, store.Schema); err != nil {
			db.Close()
			return nil, nil, nil, nil, fmt.Errorf("apply schema: %w", err)
		}
		health := func(ctx context.Context) error { return db.PingContext(ctx) }
		cleanup := func() { _ = db.Close() }
		return store.NewPostgresKeyStore(db), store.NewPostgresGroupStore(db), health, cleanup, nil

	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		cleanup := func() { _ = client.Close() }
		return store.NewRedisKeyStore(client.Client), store.NewRedisGroupStore(client.Client), client.Health, cleanup, nil

	default:
		return store.NewMemoryKeyStore(), store.NewMemoryGroupStore(), nil, func() {}, nil
	}
}
