// app.go
package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/gewnthar/playsync/config"
	"github.com/gewnthar/playsync/database"
	"github.com/gewnthar/playsync/ingest"
	"github.com/gewnthar/playsync/logging"
	"github.com/gewnthar/playsync/services"
	"github.com/gewnthar/playsync/storage"
)

// app holds the process-wide collaborators built from the config.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *sql.DB
	sources  *database.DataSourceStore
	registry *prometheus.Registry
	broker   *services.Broker
	sync     *services.SyncService
	closers  []func() error
}

func loadConfigAndLogger() (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

// newApp connects to the database, the object stores and Redis, and wires
// the sync service. background is the parent context of background runs.
func newApp(ctx, background context.Context) (*app, error) {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry(), broker: services.NewBroker()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.db, err = database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)
	a.sources = database.NewDataSourceStore(a.db)

	objects := storage.NewMux()
	objects.Handle(storage.NewLocalClient(cfg.Storage.LocalRoot), storage.SchemeFile)
	s3Client, err := storage.NewS3Client(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	objects.Handle(s3Client, storage.SchemeS3)
	if cfg.Storage.GCSInterop() {
		objects.Handle(s3Client, storage.SchemeGCS)
	} else {
		gcsClient, err := storage.NewGCSClient(ctx, cfg.Storage, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, gcsClient.Close)
		objects.Handle(gcsClient, storage.SchemeGCS)
	}

	var locker services.Locker
	if cfg.Redis.Address != "" {
		redisLocker, err := services.NewRedisLocker(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, redisLocker.Close)
		locker = redisLocker
	} else {
		logger.Warn("redis address not configured, run locks are process-local")
		locker = services.NewMemoryLocker()
	}

	a.sync = services.NewSyncService(services.Deps{
		Sources:     a.sources,
		Tracking:    database.NewFileTrackingStore(a.db),
		Storage:     objects,
		Loader:      database.NewReportStore(a.db, cfg.Sync.BatchSize, logger),
		Locker:      locker,
		Progress:    services.MultiSink{services.NewLogSink(logger), a.broker},
		Metrics:     services.NewMetrics(a.registry),
		Router:      ingest.NewRouter(ingest.DefaultRules()),
		Extractor:   ingest.NewExtractor(cfg.Sync.ScratchDir, logger),
		Reader:      ingest.NewCSVReader(logger),
		Transformer: ingest.NewTransformer(logger),
		Config:      cfg.Sync,
		Logger:      logger,
		Background:  background,
	})
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error during shutdown", zap.Error(err))
		}
	}
	a.logger.Sync()
}
