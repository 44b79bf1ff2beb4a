package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"staffplanner/internal/app"
	"staffplanner/internal/config"
	"staffplanner/internal/handler"
	"staffplanner/internal/httpserver"
	"staffplanner/pkg/logger"
	"staffplanner/pkg/otel"
)

var version = "dev"

func main() {
	cfg, err := config.Load("", os.Getenv("CONFIG_DIR"))
	if err != nil {
		// logger 依赖配置，这里只能直接退出
		panic(err)
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting planner-service",
		zap.String("version", version),
		zap.String("storage", cfg.Storage.Driver),
	)

	shutdownTracing, err := otel.Init(cfg.Otel, version, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to wire planner", zap.Error(err))
	}
	defer a.Close()

	if err := a.StartOutbox(cfg, log); err != nil {
		log.Fatal("Failed to start outbox", zap.Error(err))
	}
	dispatcherDone := make(chan struct{})
	if a.Dispatcher != nil {
		go func() {
			defer close(dispatcherDone)
			a.Dispatcher.Start(ctx)
		}()
	} else {
		close(dispatcherDone)
	}

	deps := httpserver.RouterDeps{
		Planner:   handler.NewPlannerHandler(a.Engine, log),
		Readiness: a.Readiness,
		Logger:    log,
	}
	if a.Outbox != nil {
		deps.Admin = handler.NewAdminHandler(a.Outbox, log)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: httpserver.NewRouter(deps),
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down planner-service gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// 停止 dispatcher，等待当前批次结束
	stop()
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		log.Warn("Outbox dispatcher did not stop before the shutdown deadline")
	}

	log.Info("planner-service shutdown complete")
}
