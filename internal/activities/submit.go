package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/config"
	"github.com/yourorg/erp-loader/internal/engine"
	"github.com/yourorg/erp-loader/internal/runner"
	"github.com/yourorg/erp-loader/internal/types"
)

// SubmitRecordsName is the registered activity name.
const SubmitRecordsName = "Activities.SubmitRecords"

type Activities struct {
	runner *runner.Runner
	log    *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner.New(cfg, logger), log: logger}
}

// SubmitRecords loads the input file, runs the engine over its valid records
// and writes the result manifest. A progress snapshot is heartbeated after
// every batch; cancelling the activity stops the run at the next batch
// boundary.
func (a *Activities) SubmitRecords(ctx context.Context, p types.SubmissionParams) (types.RunSummary, error) {
	runID := activity.GetInfo(ctx).WorkflowExecution.ID
	log := a.log.With(zap.String("run_id", runID), zap.String("object", p.Object))
	activity.GetLogger(ctx).Info("Starting submission", "inputURI", p.InputURI, "object", p.Object, "mode", p.Mode)

	job, err := a.runner.Prepare(ctx, p)
	if err != nil {
		return types.RunSummary{}, err
	}
	activity.RecordHeartbeat(ctx, types.ProgressState{
		State:        types.StateInitializing,
		Status:       "records loaded",
		TotalEntries: len(job.Batch.Records),
	})

	eng := a.runner.NewEngine(log)
	stop := watch(ctx, eng, log)
	// The in-flight batch always finishes, so the run outlives activity cancellation.
	m, err := a.runner.Run(context.WithoutCancel(ctx), job, eng, runID)
	stop()
	if err != nil {
		return m.Summary, err
	}

	activity.GetLogger(ctx).Info("Submission finished",
		"success", m.Summary.SuccessCount, "failed", m.Summary.FailureCount,
		"rejected", m.Summary.Rejected, "cancelled", m.Summary.Cancelled)
	return m.Summary, nil
}

// watch heartbeats every progress snapshot of eng and turns cancellation of
// ctx into eng.Cancel. The returned func stops the watcher.
func watch(ctx context.Context, eng *engine.Engine, log *zap.Logger) func() {
	updates, unsubscribe := eng.Subscribe(1)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		cancelled := ctx.Done()
		for {
			select {
			case p, ok := <-updates:
				if !ok {
					return
				}
				activity.RecordHeartbeat(ctx, p)
			case <-cancelled:
				log.Info("cancellation requested, stopping after the current batch")
				cancelled = nil
				eng.Cancel()
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-exited
		unsubscribe()
	}
}
