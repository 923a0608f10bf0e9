package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/driftwatch/internal/handler"
	"github.com/angeloszaimis/driftwatch/internal/httpserver"
	"github.com/angeloszaimis/driftwatch/internal/probe"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Probe every configured endpoint periodically and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(ctx, opts)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					a.logger.Error("Error during shutdown", slog.String("error", err.Error()))
				}
			}()

			return runServe(ctx, a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	targets := probe.TargetsFromConfig(a.cfg.Target.Endpoints)
	scheduler, err := probe.NewScheduler(a.pipeline, targets, a.cfg.Probe.Interval, a.cfg.Probe.Workers, a.logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	admin := handler.NewAdminHandler(a.logger, a.breakers, a.limiter, a.store, a.client)
	srv, err := httpserver.New(a.cfg.Server.Address, setupRouter(admin, a.collector, a.provider, a.logger), a.logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			a.logger.Error("Error during shutdown", slog.String("error", err.Error()))
		}
	case err := <-srvErrCh:
		if err != nil {
			a.logger.Error("Admin server failed", slog.String("error", err.Error()))
			runErr = err
		}
	}

	// The scheduler must stop before the store is closed.
	stop()
	<-schedulerDone
	return runErr
}
