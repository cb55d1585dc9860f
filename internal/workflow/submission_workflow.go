package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/erp-loader/internal/activities"
	"github.com/yourorg/erp-loader/internal/types"
)

// Name is the registered workflow type.
const Name = "SubmissionWorkflow"

// SubmissionWorkflow runs one submission as a single activity. The activity
// is never retried: a retry would resubmit batches the backend already
// accepted.
func SubmissionWorkflow(ctx workflow.Context, p types.SubmissionParams) (types.RunSummary, error) {
	if p.InputURI == "" || p.Object == "" {
		return types.RunSummary{}, temporal.NewNonRetryableApplicationError("input_uri and object are required", "InvalidParams", nil)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var summary types.RunSummary
	if err := workflow.ExecuteActivity(ctx, activities.SubmitRecordsName, p).Get(ctx, &summary); err != nil {
		return types.RunSummary{}, err
	}
	workflow.GetLogger(ctx).Info("Submission completed",
		"result", summary.Result, "success", summary.SuccessCount, "failed", summary.FailureCount)
	return summary, nil
}
