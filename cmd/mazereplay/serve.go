package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/simplehardware/maze-replay-go/internal/metrics"
	"github.com/simplehardware/maze-replay-go/internal/server"
	"github.com/simplehardware/maze-replay-go/internal/source"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve replays to websocket viewers and gRPC clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("starting maze replay server",
		zap.String("version", version),
		zap.String("config", a.configPath),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Game lookups need the results database
	var games source.GameLookup
	if cfg.Database.URL != "" {
		store, err := source.OpenGameStore(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()
		games = store
	} else {
		logger.Warn("database url not configured; game lookups disabled")
	}

	loader, err := source.NewLoader(cfg.Source, games, logger)
	if err != nil {
		return err
	}

	hub := server.NewViewerHub(loader, cfg.Playback, logger)
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WebSocket.Path, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServers := []*http.Server{{
		Addr:              cfg.Server.WebSocket.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}}

	if cfg.Server.Metrics.Enabled {
		if cfg.Server.Metrics.Address == cfg.Server.WebSocket.Address {
			mux.Handle(cfg.Server.Metrics.Path, metrics.Handler())
		} else {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.Server.Metrics.Path, metrics.Handler())
			httpServers = append(httpServers, &http.Server{
				Addr:              cfg.Server.Metrics.Address,
				Handler:           metricsMux,
				ReadHeaderTimeout: 10 * time.Second,
			})
		}
	}

	grpcServer := server.NewGRPCServer(
		server.NewReplayService(loader, cfg.Playback, logger),
		logger,
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)

	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPC.Address, err)
	}

	errCh := make(chan error, len(httpServers)+1)

	// Start gRPC server
	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			errCh <- fmt.Errorf("gRPC server: %w", serveErr)
		}
	}()

	// Start HTTP servers
	for _, srv := range httpServers {
		go func(srv *http.Server) {
			logger.Info("starting HTTP server", zap.String("address", srv.Addr))
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server %s: %w", srv.Addr, serveErr)
			}
		}(srv)
	}

	logger.Info("maze replay server initialized",
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
		zap.String("websocket_path", cfg.Server.WebSocket.Path),
		zap.Bool("metrics", cfg.Server.Metrics.Enabled),
	)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	for _, srv := range httpServers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", zap.String("address", srv.Addr), zap.Error(err))
		}
	}

	// Hijacked viewer connections are not tracked by http.Server
	hub.CloseAll()
	grpcServer.GracefulStop()

	logger.Info("maze replay server stopped")
	return runErr
}
