package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nainya/surveystore/internal/config"
	"github.com/nainya/surveystore/internal/logger"
	"github.com/nainya/surveystore/internal/metrics"
	"github.com/nainya/surveystore/pkg/lineage"
	"github.com/nainya/surveystore/pkg/notify"
	"github.com/nainya/surveystore/pkg/storage"
	"github.com/nainya/surveystore/pkg/writer"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    storage.Store
	resolver *lineage.Resolver
	hub      *notify.Hub
	writer   *writer.Writer
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.InitGlobalLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Pretty:     cfg.Logging.Pretty,
		WithCaller: cfg.Logging.Caller,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	store, err := openStore(cfg.Storage, log.StoreLogger(cfg.Storage.Driver))
	if err != nil {
		return nil, err
	}

	resolver := &lineage.Resolver{MaxDepth: cfg.Lineage.MaxDepth, MaxFamily: cfg.Lineage.MaxFamily}
	hub := notify.NewHub(*log.Zerolog())
	notifier := notify.Multi{notify.NewLogNotifier(*log.Zerolog()), hub}

	w := writer.New(metrics.InstrumentStore(store, m), notifier, *log.WriterLogger().Zerolog(),
		writer.WithObserver(m),
		writer.WithResolver(resolver),
		writer.WithBranchGuard(cfg.Writer.BranchGuard),
		writer.WithNotifyTimeout(cfg.Writer.NotifyTimeout),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  m,
		store:    store,
		resolver: resolver,
		hub:      hub,
		writer:   w,
	}, nil
}

func openStore(cfg config.StorageConfig, log *logger.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil
	case config.DriverBadger:
		s, err := storage.OpenBadger(storage.BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			Logger:     log.Zerolog(),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	case config.DriverSQLite:
		s, err := storage.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ready probes the store with a lookup that is expected to miss.
func (a *app) ready(ctx context.Context) error {
	_, err := a.store.GetDocument(ctx, "readiness-probe")
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// close drains background notifications before releasing the store.
func (a *app) close() error {
	a.writer.Wait()
	a.hub.Close()
	return a.store.Close()
}
