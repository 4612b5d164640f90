package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/csmith/mydnshost-api/internal/adapters/api"
	"github.com/csmith/mydnshost-api/internal/adapters/command"
	"github.com/csmith/mydnshost-api/internal/adapters/filelock"
	"github.com/csmith/mydnshost-api/internal/adapters/hostresolver"
	"github.com/csmith/mydnshost-api/internal/adapters/redisbus"
	"github.com/csmith/mydnshost-api/internal/adapters/repository"
	"github.com/csmith/mydnshost-api/internal/config"
	"github.com/csmith/mydnshost-api/internal/core/events"
	"github.com/csmith/mydnshost-api/internal/core/ports"
	"github.com/csmith/mydnshost-api/internal/core/services"
	"github.com/csmith/mydnshost-api/internal/infrastructure/metrics"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("zonesyncd: %v", err)
	}
}

// app is the wired engine: one bus, the services subscribed to it and the
// HTTP routes in front of them.
type app struct {
	repo    ports.DomainRepository
	bus     *events.Bus
	writer  *services.ZoneWriter
	catalog *services.CatalogManager
	sync    *services.SyncService
	mux     *http.ServeMux
}

func run(args []string) error {
	fs := flag.NewFlagSet("zonesyncd", flag.ContinueOnError)
	configFile := fs.String("config", os.Getenv("ZONESYNC_CONFIG"), "Path to a config file")
	readd := fs.Bool("readd", false, "Rewrite every zone file on startup")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	if cfg.DatabaseURL == "none" {
		logger.Info("no database configured, exiting")
		return nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer func() {
		if errClose := db.Close(); errClose != nil {
			log.Printf("failed to close database: %v", errClose)
		}
	}()

	if err := db.Ping(); err != nil {
		logger.Warn("could not ping database", "error", err)
	}

	a, err := newApp(cfg, repository.NewPostgresRepository(db), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go trackConnections(ctx, db)

	if cfg.Redis.Addr != "" {
		client := redisbus.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer func() {
			if errClose := client.Close(); errClose != nil {
				logger.Warn("failed to close redis client", "error", errClose)
			}
		}()
		if err := startRedis(ctx, a, client, logger); err != nil {
			return err
		}
	}

	if *readd {
		if err := a.writer.ReAddAllZones(ctx); err != nil {
			logger.Error("failed to re-add zones", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			logger.Warn("http shutdown failed", "error", errShutdown)
		}
	}()

	logger.Info("zonesyncd listening", "addr", cfg.HTTPAddr, "zone_dir", cfg.ZoneDir, "catalog", cfg.CatalogZone)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// newApp wires the engine around repo.
func newApp(cfg *config.Config, repo ports.DomainRepository, logger *slog.Logger) (*app, error) {
	kinds := append(append([]events.Kind(nil), events.DomainKinds...), events.ZoneKinds...)
	bus := events.NewBus(logger, kinds...)

	resolver := services.NewRecordResolver(repo, logger)
	writer := services.NewZoneWriter(repo, resolver, bus, cfg.ZoneDir, logger)
	writer.SetWorkers(cfg.Workers)

	hosts := hostresolver.Chain{hostresolver.NewStoreResolver(repo, resolver)}
	if cfg.Upstream != "" {
		hosts = append(hosts, hostresolver.NewDNSResolver(cfg.Upstream, cfg.UpstreamTimeout, logger))
	}

	runner := command.NewRunner(command.Templates{
		Add:    cfg.Commands.Add,
		Reload: cfg.Commands.Reload,
		Delete: cfg.Commands.Delete,
	}, cfg.Commands.Timeout, logger)

	locker := filelock.New(cfg.LockFile(), cfg.LockTimeout, logger)
	catalog := services.NewCatalogManager(repo, resolver, hosts, locker, runner,
		services.CatalogOptions{Zone: cfg.CatalogZone, File: cfg.CatalogFile}, logger)

	syncSvc := services.NewSyncService(repo, writer, catalog, runner, logger)
	if err := syncSvc.Register(bus); err != nil {
		return nil, fmt.Errorf("failed to register sync service: %w", err)
	}

	mux := http.NewServeMux()
	api.NewOpsHandler(repo, syncSvc, catalog, writer, cfg.APIToken, logger).RegisterRoutes(mux)

	return &app{
		repo:    repo,
		bus:     bus,
		writer:  writer,
		catalog: catalog,
		sync:    syncSvc,
		mux:     mux,
	}, nil
}

// startRedis forwards zone lifecycle events to other nodes and starts
// consuming domain events in the background.
func startRedis(ctx context.Context, a *app, client *redis.Client, logger *slog.Logger) error {
	if err := redisbus.NewNotifier(client, logger).Register(a.bus); err != nil {
		return fmt.Errorf("failed to register redis notifier: %w", err)
	}

	listener := redisbus.NewListener(client, a.repo, a.bus, logger)
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("redis listener stopped", "error", err)
		}
	}()
	return nil
}

func trackConnections(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		metrics.DBConnectionsActive.Set(float64(db.Stats().OpenConnections))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
