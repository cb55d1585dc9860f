package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/api"
	"github.com/yourorg/erp-loader/internal/config"
	"github.com/yourorg/erp-loader/internal/logging"
	"github.com/yourorg/erp-loader/internal/metrics"
	"github.com/yourorg/erp-loader/internal/runner"
)

func main() {
	cfg, err := config.Load(os.Getenv("LOADER_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl := logging.New(cfg.Log.Level, cfg.Log.Development)
	defer zl.Sync()
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.Init()

	// Temporal is optional; without it only in-process runs are served.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		zl.Warn("temporal unavailable, workflow routes disabled", zap.Error(err))
		temporalClient = nil
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	runs := api.NewRunManager(runner.New(cfg, zl), zl)
	r := api.NewRouter(api.RouterConfig{
		Runs:           runs,
		UploadRoot:     cfg.API.UploadRoot,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Temporal:       temporalClient,
		TaskQueue:      cfg.Temporal.TaskQueue,
		Logger:         zl,
	})

	srv := &http.Server{Addr: cfg.API.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		zl.Info("api listening", zap.String("addr", cfg.API.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("api server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}
