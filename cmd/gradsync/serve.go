package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/handler"
	"github.com/sfu-fas/coursys-sub000/internal/middleware"
	"github.com/sfu-fas/coursys-sub000/internal/service"
	"github.com/sfu-fas/coursys-sub000/pkg/config"
	"github.com/sfu-fas/coursys-sub000/pkg/logger"
	reqidmiddleware "github.com/sfu-fas/coursys-sub000/pkg/middleware/requestid"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run imports on a schedule and expose health, metrics and run reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}

	cmd.Flags().Int("port", 0, "HTTP port (overrides PORT)")
	cmd.Flags().Duration("interval", 0, "time between scheduled runs (overrides SYNC_INTERVAL)")
	cmd.Flags().Bool("run-on-start", false, "run an import as soon as the server starts")

	_ = v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("SYNC_INTERVAL", cmd.Flags().Lookup("interval"))
	_ = v.BindPFlag("SYNC_RUN_ON_START", cmd.Flags().Lookup("run-on-start"))

	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	scheduler := service.NewSchedulerService(a.sync, a.reports, service.SchedulerConfig{
		Interval:        cfg.Server.SyncInterval,
		RunOnStart:      cfg.Server.RunOnStart,
		SaveReports:     a.store != nil,
		CleanupInterval: cfg.Reports.CleanupInterval,
		Defaults: service.RunOptions{
			DryRun:    cfg.Import.DryRun,
			Verbosity: cfg.Import.Verbosity,
		},
	}, a.logger)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	handler.NewOpsHandler(a.sync, scheduler, a.reports, a.metrics, a.logger).Register(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown", zap.Error(err))
	}
	stop()
	scheduler.Wait()
	a.logger.Info("server stopped")
	return serveErr
}
