package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/renderinc/channel-search/internal/config"
	"github.com/renderinc/channel-search/internal/indexer"
	"github.com/renderinc/channel-search/internal/logger"
	"github.com/renderinc/channel-search/internal/metrics"
	"github.com/renderinc/channel-search/internal/search"
	"github.com/renderinc/channel-search/internal/source"
	"github.com/renderinc/channel-search/internal/storage"
)

// app is everything a command needs, built from config
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *storage.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	engine   *search.Engine

	// nil when no source is configured
	connector source.Connector
	indexer   *indexer.Indexer
	scheduler *indexer.Scheduler
}

// openApp loads config and opens the store. Logs go to logOut.
func openApp(opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = logger.LevelDebug
	}
	log := logger.New(logger.Config{Level: level, JSON: cfg.Log.JSON, Output: logOut})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &app{
		cfg:      cfg,
		logger:   log,
		db:       db,
		registry: reg,
		metrics:  m,
		engine: search.NewEngine(db, search.Options{
			DefaultLimit: cfg.Search.DefaultLimit,
			Logger:       log,
			Metrics:      m,
		}),
	}

	a.connector = opts.Connector
	if a.connector == nil && cfg.Source.URL != "" {
		a.connector = source.NewHTTPConnector(cfg.Source.URL, source.HTTPOptions{
			Token:             cfg.Source.Token,
			Timeout:           cfg.Source.Timeout,
			RequestsPerSecond: cfg.Source.RequestsPerSecond,
			PageSize:          cfg.Source.PageSize,
		})
	}

	if a.connector != nil {
		a.indexer = indexer.New(a.connector, db, indexer.Options{
			ThrottleEvery: cfg.Indexer.ThrottleEvery,
			ThrottlePause: cfg.Indexer.ThrottlePause,
			Logger:        log,
			Metrics:       m,
		})
		a.scheduler = indexer.NewScheduler(a.indexer, db, indexer.SchedulerOptions{
			BackfillPause: cfg.Scheduler.BackfillPause,
			UpdatePause:   cfg.Scheduler.UpdatePause,
			ErrorBackoff:  cfg.Scheduler.ErrorBackoff,
			UpdateLimit:   cfg.Scheduler.UpdateLimit,
			UpdateWindow:  cfg.Scheduler.UpdateWindow,
			Logger:        log,
			Metrics:       m,
		})
	}

	return a, nil
}

// requireIndexer fails commands that crawl when no source is configured
func (a *app) requireIndexer() error {
	if a.indexer == nil {
		return a.cfg.RequireSource()
	}
	return nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
