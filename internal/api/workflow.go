package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"github.com/yourorg/erp-loader/internal/types"
	"github.com/yourorg/erp-loader/internal/workflow"
)

type WorkflowHandler struct {
	temporalClient client.Client
	taskQueue      string
}

func NewWorkflowHandler(temporalClient client.Client, taskQueue string) *WorkflowHandler {
	return &WorkflowHandler{temporalClient: temporalClient, taskQueue: taskQueue}
}

type StartWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// StartSubmissionWorkflow starts a durable submission on the worker.
func (h *WorkflowHandler) StartSubmissionWorkflow(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := types.SubmissionParams{
		InputURI:  req.InputURI,
		ResultURI: req.ResultURI,
		Object:    req.Object,
		Mode:      req.Mode,
		BatchSize: req.BatchSize,
	}

	options := client.StartWorkflowOptions{
		ID:        "submission-" + uuid.NewString(),
		TaskQueue: h.taskQueue,
	}
	workflowRun, err := h.temporalClient.ExecuteWorkflow(c.Request.Context(), options, workflow.Name, params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start workflow: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, StartWorkflowResponse{
		WorkflowID: workflowRun.GetID(),
		RunID:      workflowRun.GetRunID(),
	})
}

// GetWorkflowStatus reports the workflow state, the last heartbeated
// progress while running and the summary once completed.
func (h *WorkflowHandler) GetWorkflowStatus(c *gin.Context) {
	workflowID := c.Param("id")
	ctx := c.Request.Context()

	describe, err := h.temporalClient.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Failed to describe workflow: " + err.Error()})
		return
	}
	info := describe.GetWorkflowExecutionInfo()
	out := gin.H{
		"workflow_id": workflowID,
		"status":      info.GetStatus().String(),
		"start_time":  info.GetStartTime().AsTime(),
	}

	for _, pa := range describe.GetPendingActivities() {
		details := pa.GetHeartbeatDetails()
		if details == nil {
			continue
		}
		var progress types.ProgressState
		if err := converter.GetDefaultDataConverter().FromPayloads(details, &progress); err == nil {
			out["progress"] = progress
		}
	}

	if info.GetCloseTime() != nil {
		var summary types.RunSummary
		if err := h.temporalClient.GetWorkflow(ctx, workflowID, "").Get(ctx, &summary); err != nil {
			out["error"] = err.Error()
		} else {
			out["result"] = summary
		}
	}
	c.JSON(http.StatusOK, out)
}

// CancelWorkflow requests cancellation; the activity stops at its next batch
// boundary.
func (h *WorkflowHandler) CancelWorkflow(c *gin.Context) {
	workflowID := c.Param("id")
	if err := h.temporalClient.CancelWorkflow(c.Request.Context(), workflowID, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel workflow: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": workflowID, "status": "cancelling"})
}
