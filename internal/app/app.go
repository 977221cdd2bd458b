// Package app wires configuration, storage, extractors and the download
// manager together for the command line entry points.
package app

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tiktok-extractor/internal/config"
	"tiktok-extractor/internal/downloader"
	"tiktok-extractor/internal/monitor"
	"tiktok-extractor/internal/platform/tiktok"
	"tiktok-extractor/internal/registry"
	"tiktok-extractor/internal/storage"
	"tiktok-extractor/pkg/models"
)

// App holds the long-lived components shared by every command
type App struct {
	Config     *models.Config
	ConfigMgr  *config.Manager
	Logger     zerolog.Logger
	Monitor    *monitor.Monitor
	Registry   *registry.Registry
	Storage    *storage.SQLite
	Downloader *downloader.Manager
}

type options struct {
	logger  *zerolog.Logger
	tiktok  []tiktok.Option
	workers int
}

// Option configures New
type Option func(*options)

// WithLogger replaces the logger built from the log settings
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithClientOptions passes extra options to every platform client
func WithClientOptions(opts ...tiktok.Option) Option {
	return func(o *options) { o.tiktok = append(o.tiktok, opts...) }
}

// WithWorkers sets how many URLs a batch processes at once
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// New loads the configuration found under configPath and builds the
// components from it
func New(configPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cm := config.NewManager()
	cfg, err := cm.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logger := cm.GetLogger()
	if o.logger != nil {
		logger = *o.logger
	}

	mon := monitor.NewMonitor(logger)

	reg := registry.NewRegistry(logger)
	clientOpts := append([]tiktok.Option{tiktok.WithMetrics(mon)}, o.tiktok...)
	if err := reg.RegisterDefaultPlatforms(cfg, clientOpts...); err != nil {
		return nil, fmt.Errorf("error registering platforms: %w", err)
	}

	store, err := storage.NewSQLite(cfg.Database.Path)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("error initializing storage: %w", err)
	}

	dmOpts := []downloader.Option{downloader.WithMetrics(mon)}
	if o.workers > 0 {
		dmOpts = append(dmOpts, downloader.WithWorkers(o.workers))
	}

	return &App{
		Config:     cfg,
		ConfigMgr:  cm,
		Logger:     logger,
		Monitor:    mon,
		Registry:   reg,
		Storage:    store,
		Downloader: downloader.NewManager(cfg, reg, store, logger, dmOpts...),
	}, nil
}

// Close stops the monitor and releases clients and storage
func (a *App) Close() error {
	a.Monitor.Stop()
	return errors.Join(a.Registry.Close(), a.Storage.Close())
}
