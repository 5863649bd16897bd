package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/repository"
	"github.com/sfu-fas/coursys-sub000/internal/service"
	"github.com/sfu-fas/coursys-sub000/pkg/cache"
	"github.com/sfu-fas/coursys-sub000/pkg/config"
	"github.com/sfu-fas/coursys-sub000/pkg/database"
	"github.com/sfu-fas/coursys-sub000/pkg/logger"
	"github.com/sfu-fas/coursys-sub000/pkg/storage"
)

// app holds the wired services shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *service.MetricsService
	cache   *service.CacheService
	sync    *service.SyncService
	reports *service.ReportService
	store   *storage.LocalStorage

	local  *sqlx.DB
	source *sqlx.DB
	redis  *redis.Client
}

// loadConfig reads the configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWith(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if units, _ := cmd.Flags().GetStringSlice("unit"); len(units) > 0 {
		cfg.Import.Units = units
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a = &app{cfg: cfg, logger: logr, metrics: service.NewMetricsService()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.local, err = database.NewPostgres(cfg.Database); err != nil {
		return nil, fmt.Errorf("connect local database: %w", err)
	}
	if a.source, err = database.NewSource(cfg.Source); err != nil {
		return nil, fmt.Errorf("connect source %s: %w", cfg.Source.Driver, err)
	}
	if a.redis, err = cache.NewRedis(ctx, cfg.Redis, cfg.Source.CacheEnabled); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	var cacheRepo service.CacheRepository
	if a.redis != nil {
		cacheRepo = repository.NewCacheRepository(a.redis, "gradsync")
	}
	a.cache = service.NewCacheService(cacheRepo, a.metrics, cfg.Source.CacheTTL, logr, a.redis != nil)

	grads := repository.NewGradRepository(a.local)
	sourceSvc := service.NewSourceService(repository.NewSourceRepository(a.source), a.cache, a.metrics, logr)
	a.sync = service.NewSyncService(grads, sourceSvc, service.NewGradTxRunner(grads), cfg.Import, a.metrics, nil, logr)

	if cfg.Reports.Enabled {
		if a.store, err = storage.NewLocalStorage(cfg.Reports.StorageDir); err != nil {
			return nil, fmt.Errorf("init report storage: %w", err)
		}
		a.reports = service.NewReportService(a.store, reportConfig(cfg), logr)
	} else {
		a.reports = service.NewReportService(nil, reportConfig(cfg), logr)
	}
	return a, nil
}

func reportConfig(cfg *config.Config) service.ReportConfig {
	return service.ReportConfig{Format: cfg.Reports.Format, Retention: cfg.Reports.Retention}
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.source != nil {
		_ = a.source.Close()
	}
	if a.local != nil {
		_ = a.local.Close()
	}
	_ = a.logger.Sync()
}
