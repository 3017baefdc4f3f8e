// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/plusclinic/schedlive/internal/config"
	"github.com/plusclinic/schedlive/internal/core"
	"github.com/plusclinic/schedlive/internal/directory"
	"github.com/plusclinic/schedlive/internal/logging"
	"github.com/plusclinic/schedlive/internal/observability"
	"github.com/plusclinic/schedlive/internal/store"
	"github.com/plusclinic/schedlive/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler hub",
		Long: `Start the WebSocket hub that accepts clinic calendar connections,
applies event changes to the database and fans updates out per clinic.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen-addr", "", "WebSocket/HTTP listen address")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("log-format", "", "log format (json or text)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("schedlive", version, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventStore, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer eventStore.Close()

	slog.Info("connected to database")

	dir := directory.NewClient(
		cfg.Directory.AuthBaseURL,
		cfg.Directory.CoreBaseURL,
		cfg.Directory.APIKey,
		cfg.ExternalCallTimeout,
	)

	registry := core.NewConnectionRegistry()
	queue := core.NewInboundQueue()
	broadcaster := core.NewBroadcaster(registry)
	dispatcher := core.NewDispatcher(queue, registry, eventStore, dir, broadcaster, cfg.ExternalCallTimeout)

	wsServer := ws.NewServer(
		cfg.ListenAddr,
		registry,
		queue,
		dir,
		eventStore.Ping,
		cfg.ExternalCallTimeout,
		cfg.WriteTimeout,
		cfg.AllowedOrigins,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return wsServer.Run(ctx) })

	if cfg.MetricsAddr != "" {
		obsServer := observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), cfg.ExternalCallTimeout)
			defer cancel()
			return eventStore.Ping(pingCtx) == nil
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		slog.Info("observability server started", "addr", obsServer.Addr())

		g.Go(func() error {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
					slog.Warn("error stopping observability server", "error", stopErr)
				}
			}()
			select {
			case err, ok := <-obsErrChan:
				if ok && err != nil {
					return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
				}
				return nil
			case <-ctx.Done():
				return nil
			}
		})
	}

	cmd.Println("schedlive started")
	slog.Info("scheduler hub ready", "listen_addr", cfg.ListenAddr)

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
