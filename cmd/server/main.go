package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-coordinator/internal/config"
	"github.com/example/ride-coordinator/internal/coordinator"
	"github.com/example/ride-coordinator/internal/dispatch"
	"github.com/example/ride-coordinator/internal/eta"
	"github.com/example/ride-coordinator/internal/geo"
	httpapi "github.com/example/ride-coordinator/internal/http"
	"github.com/example/ride-coordinator/internal/ingest"
	"github.com/example/ride-coordinator/internal/ledger"
	"github.com/example/ride-coordinator/internal/location"
	"github.com/example/ride-coordinator/internal/logging"
	"github.com/example/ride-coordinator/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-coordinator", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, closeStore, err := openTripStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locs := location.NewStore()
	rides := ledger.New()

	saved, err := store.ListRides(ctx)
	if err != nil {
		return fmt.Errorf("load rides: %w", err)
	}
	if err := rides.Restore(saved); err != nil {
		// conflicting rows are skipped; the rest is usable
		logger.Warn("ride restore skipped records", "error", err)
	}
	logger.Info("rides restored", "count", len(saved))

	if cfg.RedisAddr != "" {
		warmLocations(ctx, cfg, locs, logger)
	}

	coord := coordinator.New(locs, rides, logger)
	coord.SpeedMps = cfg.DefaultSpeedMps

	journal := storage.NewJournal(store, cfg.JournalBuffer, logger)
	wsReg := dispatch.NewWSRegistry(locs, logger)
	coord.RideObservers = append(coord.RideObservers, journal, wsReg)

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka producer close", "error", err)
			}
		}()
		coord.LocationObservers = append(coord.LocationObservers, producer)
		logger.Info("publishing driver locations", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var estimator *eta.Estimator
	if cfg.OSRMURL != "" {
		estimator = &eta.Estimator{
			Client:   eta.NewOSRMClient(cfg.OSRMURL),
			Cache:    eta.NewCache(cfg.ETACacheTTL),
			SpeedMps: cfg.DefaultSpeedMps,
		}
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(coord, wsReg, estimator, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	loop := &dispatch.Loop{
		Matcher:  coord,
		Interval: cfg.DispatchInterval,
		Workers:  cfg.DispatchWorkers,
		Batch:    cfg.DispatchBatch,
		Logger:   logger,
	}

	return runWithJournal(ctx, journal,
		func(ctx context.Context) error {
			logger.Info("ride-coordinator listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		func(ctx context.Context) error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
		loop.Run,
	)
}

type runner interface {
	Run(ctx context.Context) error
}

// runWithJournal runs the producers of ride changes until ctx is done or one
// fails, and stops the journal only after all of them have returned, so its
// final flush sees every committed change.
func runWithJournal(ctx context.Context, journal runner, producers ...func(context.Context) error) error {
	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()
	journalDone := make(chan error, 1)
	go func() { journalDone <- journal.Run(journalCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range producers {
		p := p
		g.Go(func() error { return p(gctx) })
	}
	err := g.Wait()

	stopJournal()
	return errors.Join(err, <-journalDone)
}

// openTripStore picks Postgres when PG_DSN is set and an in-memory store
// otherwise.
func openTripStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.TripStore, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("no PG_DSN set, rides kept in memory only")
		return storage.NewMemoryStore(), func() {}, nil
	}
	pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
		if err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("read migration: %w", err)
		}
		if err := pg.Migrate(ctx, string(b)); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info("migration applied", "file", "001_create_rides.sql")
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Warn("postgres close", "error", err)
		}
	}, nil
}

// warmLocations seeds the store from the Redis mirror the consumer keeps, so
// drivers are matchable right after a restart. Failures are not fatal.
func warmLocations(ctx context.Context, cfg config.ServerConfig, locs *location.Store, logger *slog.Logger) {
	mirror := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	defer mirror.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	recs, err := mirror.Snapshot(ctx)
	if err != nil {
		logger.Warn("redis warm start failed", "error", err)
		return
	}
	loaded := 0
	for _, rec := range recs {
		if _, err := locs.Report(rec.ActorID, rec.Role, rec.Loc.Lat, rec.Loc.Lon, rec.UpdatedAt); err != nil {
			logger.Warn("skipping mirrored location", "driver_id", rec.ActorID, "error", err)
			continue
		}
		loaded++
	}
	logger.Info("driver locations warmed", "count", loaded)
}
