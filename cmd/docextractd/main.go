package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/queue"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := app.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, closeEvents, err := app.NewPublisher(cfg.Events, logger)
	if err != nil {
		logger.Error("failed to set up event publisher", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeEvents(); err != nil {
			logger.Warn("close event publisher", "error", err)
		}
	}()

	stack, err := app.Build(ctx, cfg, pub, logger)
	if err != nil {
		logger.Error("failed to build extraction stack", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	if err := repository.HealthCheck(ctx, stack.Store, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	q := queue.New(stack.Processor, queue.Config{
		Workers:        cfg.Queue.Workers,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BaseDelay:      cfg.Queue.BaseDelay.Duration,
		ProcessTimeout: cfg.Queue.ProcessTimeout.Duration,
		MaxBatch:       cfg.Queue.MaxBatch,
		RetainFinished: cfg.Queue.RetainFinished,
	},
		queue.WithJournal(stack.Store),
		queue.WithPublisher(pub),
		queue.WithLogger(logger),
	)
	restored, err := q.Restore(ctx)
	if err != nil {
		logger.Error("failed to restore queue journal", "error", err)
		os.Exit(1)
	}
	logger.Info("queue journal restored", "items", restored)
	q.Start()

	svc := server.NewQueueService(q, stack.Store, logger)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer, healthServer := server.NewGRPCServer(svc, logger)
	go func() {
		logger.Info("docextractd grpc listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           server.NewRouter(svc, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("docextractd http listening", "addr", cfg.Server.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http serve error", "error", err)
				stop()
			}
		}()
	}

	if cfg.Storage.Watch {
		priority, err := constants.ParsePriority(cfg.Storage.WatchPriority)
		if err != nil {
			logger.Error("invalid watch priority", "priority", cfg.Storage.WatchPriority, "error", err)
			os.Exit(2)
		}
		go func() {
			err := app.WatchInbox(ctx, app.InboxConfig{
				Root:     cfg.Storage.Root,
				Priority: priority,
				Debounce: cfg.Storage.WatchDebounce.Duration,
			}, q, logger)
			if err != nil {
				logger.Error("inbox watcher failed", "root", cfg.Storage.Root, "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	q.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
}
