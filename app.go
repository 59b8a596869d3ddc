package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duynguyendang/fiscalxml/internal/config"
	"github.com/duynguyendang/fiscalxml/internal/license"
	"github.com/duynguyendang/fiscalxml/internal/logging"
	"github.com/duynguyendang/fiscalxml/internal/manager"
	"github.com/duynguyendang/fiscalxml/internal/metrics"
	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/service"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	envFile    string
	dataDir    string
	workspace  string
	logLevel   string
	logFormat  string
}

// app is the wiring of one command invocation.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	manager  *manager.StoreManager
	svc      *service.Service
}

func newApp(g *globalFlags, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(g.configFile, g.envFile)
	if err != nil {
		return nil, err
	}
	if g.dataDir != "" {
		cfg.Store.DataDir = g.dataDir
	}
	if g.workspace != "" {
		cfg.Store.Workspace = g.workspace
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.Setup(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	cols, err := cfg.ExportColumns()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mgr, err := manager.NewStoreManager(cfg.Store.DataDir, cfg.StoreTemplate(), cfg.Store.MaxOpen,
		docstore.WithLogger(logger),
		docstore.WithRecorder(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store manager: %w", err)
	}

	svc := service.New(mgr, license.FromKey(cfg.License.Key, !cfg.License.Required), service.Settings{
		Ingest:  cfg.IngestConfig(),
		Walker:  cfg.WalkerOptions(),
		Export:  cfg.ExportOptions(),
		Columns: cols,
	}, service.WithLogger(logger), service.WithRecorder(m))

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		manager:  mgr,
		svc:      svc,
	}, nil
}

func (a *app) workspace() string {
	return a.cfg.Store.Workspace
}

func (a *app) close() {
	a.manager.CloseAll()
}
