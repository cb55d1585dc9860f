package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/yourorg/erp-loader/internal/activities"
	"github.com/yourorg/erp-loader/internal/types"
)

func TestSubmissionWorkflowReturnsSummary(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	var got types.SubmissionParams
	env.RegisterActivityWithOptions(func(ctx context.Context, p types.SubmissionParams) (types.RunSummary, error) {
		got = p
		return types.RunSummary{RunID: "wf-1", SuccessCount: 3, FailureCount: 1, Result: types.RunPartialSuccess}, nil
	}, activity.RegisterOptions{Name: activities.SubmitRecordsName})

	params := types.SubmissionParams{InputURI: "s3://in/gr.jsonl", Object: "goods-receipt", BatchSize: 5}
	env.ExecuteWorkflow(SubmissionWorkflow, params)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var summary types.RunSummary
	require.NoError(t, env.GetWorkflowResult(&summary))
	assert.Equal(t, types.RunPartialSuccess, summary.Result)
	assert.Equal(t, 3, summary.SuccessCount)
	assert.Equal(t, params, got)
}

func TestSubmissionWorkflowDoesNotRetry(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	calls := 0
	env.RegisterActivityWithOptions(func(ctx context.Context, p types.SubmissionParams) (types.RunSummary, error) {
		calls++
		return types.RunSummary{}, errors.New("backend unreachable")
	}, activity.RegisterOptions{Name: activities.SubmitRecordsName})

	env.ExecuteWorkflow(SubmissionWorkflow, types.SubmissionParams{InputURI: "/tmp/a.jsonl", Object: "purchase-order"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unreachable")
	assert.Equal(t, 1, calls)
}

func TestSubmissionWorkflowRejectsMissingParams(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(func(ctx context.Context, p types.SubmissionParams) (types.RunSummary, error) {
		t.Error("activity must not run")
		return types.RunSummary{}, nil
	}, activity.RegisterOptions{Name: activities.SubmitRecordsName})

	env.ExecuteWorkflow(SubmissionWorkflow, types.SubmissionParams{Object: "goods-receipt"})

	require.True(t, env.IsWorkflowCompleted())
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, env.GetWorkflowError(), &appErr)
	assert.Equal(t, "InvalidParams", appErr.Type())
}
