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

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/mtiwari1/stylesync/internal/app"
	"github.com/mtiwari1/stylesync/internal/grpcserver"
	"github.com/mtiwari1/stylesync/internal/restapi"
	"github.com/mtiwari1/stylesync/internal/wake"
	pb "github.com/mtiwari1/stylesync/proto"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the UI bridge, worker pool and periodic upload drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to stylesync config file (defaults when empty)")
	return cmd
}

func runServe(configPath string) error {
	cfg, logger, err := loadConfig(configPath, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting stylesync", slog.String("version", Version))

	a, db, err := app.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// ── Worker pool + results consumer ──
	a.Start()
	logger.Info("worker pool started", slog.Int("workers", cfg.Uploads.Workers))

	// An upload interrupted by the last shutdown or crash.
	if t, ok, err := a.ResumeProfileUpload(context.Background()); err != nil {
		logger.Error("resume profile upload", slog.String("error", err.Error()))
	} else if ok {
		logger.Info("profile upload resumed", slog.String("upload_id", t.ID), slog.String("disposition", string(t.Disposition)))
	}

	// ── Periodic drain ──
	sched := wake.NewCronScheduler(5*time.Minute, logger.With(slog.String("component", "wake")))
	if err := a.RegisterWake(sched); err != nil {
		a.Close()
		return fmt.Errorf("register drain: %w", err)
	}
	sched.Start()
	logger.Info("drain scheduled", slog.Duration("interval", cfg.Uploads.DrainInterval))

	// ── gRPC server ──
	grpcSrv := grpc.NewServer()
	grpcImpl := grpcserver.NewServer(a, logger)
	pb.RegisterTaskBridgeServer(grpcSrv, grpcImpl)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		a.Close()
		return fmt.Errorf("listen gRPC: %w", err)
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("addr", cfg.Server.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC serve", slog.String("error", err.Error()))
		}
	}()

	// ── REST API ──
	handler := restapi.NewHandler(grpcImpl, a, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // restore-all replays sequentially
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP serve", slog.String("error", err.Error()))
		}
	}()

	// ── Graceful shutdown (SIGINT / SIGTERM) ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()

	// 1. Stop accepting new HTTP requests.
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown", slog.String("error", err.Error()))
	}
	logger.Info("HTTP server stopped")

	// 2. Stop gRPC server gracefully.
	grpcSrv.GracefulStop()
	logger.Info("gRPC server stopped")

	// 3. Let a running drain finish.
	sched.Stop(shutCtx)
	logger.Info("drain scheduler stopped")

	// 4. Drain the worker pool and close the store; transfers still running
	// at the deadline are aborted and requeued.
	if err := a.Shutdown(shutCtx); err != nil {
		logger.Error("close app", slog.String("error", err.Error()))
	}
	logger.Info("stylesync shutdown complete")
	return nil
}
