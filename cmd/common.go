package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/deftorch/deftheim/config"
	"github.com/deftorch/deftheim/db"
	"github.com/deftorch/deftheim/installer"
	"github.com/deftorch/deftheim/logger"
	"github.com/deftorch/deftheim/manager"
	"github.com/deftorch/deftheim/profile"
	"github.com/deftorch/deftheim/repository"
	"github.com/deftorch/deftheim/thunderstore"
	"github.com/deftorch/deftheim/ui"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg     config.Config
	store   *db.Store
	manager *manager.Manager
}

// bootstrap handles shared initialization logic for commands.
func bootstrap(path string, reporter installer.Reporter) *app {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Log.Fatalw("Failed to load configuration", zap.Error(err))
	}

	a, err := newApp(cfg, reporter)
	if err != nil {
		logger.Log.Fatalw("Failed to initialize", zap.Error(err))
	}

	if _, err := a.manager.ImportInstalled(context.Background()); err != nil {
		logger.Log.Warnw("Failed to import installed packages", zap.Error(err))
	}
	return a
}

// newApp opens the metadata store and builds the manager for cfg.
func newApp(cfg config.Config, reporter installer.Reporter) (*app, error) {
	gdb, err := db.OpenDatabase(cfg.DatabasePath, gormlogger.Warn)
	if err != nil {
		return nil, err
	}
	store := db.NewStore(gdb)
	logger.Log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	repo, err := repository.New(cfg.RepositoryDir, logger.Named("repository"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client, err := thunderstore.NewClient(cfg, logger.Named("thunderstore"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create Thunderstore client: %w", err)
	}

	projector, err := profile.ForStrategy(cfg.LinkStrategy, cfg.PluginsDir, logger.Named("profile"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	profiles := profile.NewService(store, repo, projector, cfg.PluginsDir, logger.Named("profile"))

	m := manager.New(store, repo, client, profiles, installer.Options{
		Concurrency: cfg.MaxConcurrentInstalls,
		Reporter:    reporter,
	}, logger.Named("manager"))

	return &app{cfg: cfg, store: store, manager: m}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Log.Warnw("Failed to close database", zap.Error(err))
	}
}

// summarizeBatch renders the outcome of an install for the terminal.
func summarizeBatch(result *installer.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d installed, %d already present, %d failed, %d missing\n",
		result.Root, len(result.Installed), len(result.Skipped), len(result.Failed), len(result.Missing))

	for _, id := range result.Installed {
		fmt.Fprintf(&b, "  %s %s\n", ui.Success("+"), id)
	}

	failed := make([]string, 0, len(result.Failed))
	for id := range result.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(&b, "  %s %s: %v\n", ui.Failure("x"), id, result.Failed[id])
	}

	for _, miss := range result.Missing {
		fmt.Fprintf(&b, "  %s %s (required by %s, not in cache)\n", ui.Warning("?"), miss.ID, miss.RequiredBy)
	}
	return b.String()
}
