package main

import (
	"log"
	"os"

	tactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	tworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/activities"
	"github.com/yourorg/erp-loader/internal/config"
	"github.com/yourorg/erp-loader/internal/logging"
	"github.com/yourorg/erp-loader/internal/metrics"
	"github.com/yourorg/erp-loader/internal/workflow"
)

func main() {
	cfg, err := config.Load(os.Getenv("LOADER_CONFIG"))
	if err != nil {
		log.Fatal("config:", err)
	}

	zl := logging.New(cfg.Log.Level, cfg.Log.Development)
	defer zl.Sync()

	// Metrics server
	metrics.Init()
	go func() {
		if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
			zl.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	c, err := client.Dial(client.Options{HostPort: cfg.Temporal.Address, Namespace: cfg.Temporal.Namespace})
	if err != nil {
		log.Fatal("temporal client:", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	acts := activities.New(cfg, zl)
	w.RegisterActivityWithOptions(acts.SubmitRecords, tactivity.RegisterOptions{Name: activities.SubmitRecordsName})
	w.RegisterWorkflowWithOptions(workflow.SubmissionWorkflow, tworkflow.RegisterOptions{Name: workflow.Name})

	zl.Info("worker started",
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("taskQueue", cfg.Temporal.TaskQueue),
		zap.String("metrics", cfg.Metrics.Addr))
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker failed:", err)
	}
}
