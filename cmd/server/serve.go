package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/rl1809/library-management/internal/adapter/handler"
	"github.com/rl1809/library-management/internal/config"
	"github.com/rl1809/library-management/internal/core/service"
)

func runServe(ctx context.Context, autoMigrate bool) error {
	cfg := config.MustLoad()
	setupLogger(cfg)

	slog.Debug("config loaded", slog.Any("cfg", cfg))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if autoMigrate {
		if err := migrateStore(ctx, cfg); err != nil {
			return err
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", slog.String("err", err.Error()))
		}
		slog.Info("connections closed")
	}()
	slog.Info("store connected", slog.String("driver", cfg.Store.Driver))

	// Initialize services
	bookService := service.NewBookService(store)
	borrowService := service.NewBorrowService(store, store)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	health := handler.NewHealthHandler(store, cfg.HealthInterval)
	health.Register(grpcServer)

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go health.Run(healthCtx)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	go func() {
		slog.Info("gRPC server listening", slog.Int("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", slog.String("err", err.Error()))
		}
	}()

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.NewHTTPHandler(bookService, borrowService).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		slog.Error("HTTP server error", slog.String("err", err.Error()))
	}

	slog.Info("shutting down")

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.String("err", err.Error()))
	}
	slog.Info("HTTP server stopped")

	// Stop gRPC server
	stopHealth()
	grpcServer.GracefulStop()
	slog.Info("gRPC server stopped")

	return nil
}

func runMigrate(ctx context.Context) error {
	cfg := config.MustLoad()
	setupLogger(cfg)

	if err := migrateStore(ctx, cfg); err != nil {
		slog.Error("migration failed", slog.String("err", err.Error()))
		return err
	}
	slog.Info("migrations applied", slog.String("driver", cfg.Store.Driver))
	return nil
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log.With(slog.String("env", cfg.Env)))
}
