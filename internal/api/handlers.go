package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/erp-loader/internal/grouping"
	"github.com/yourorg/erp-loader/internal/intake"
	"github.com/yourorg/erp-loader/internal/iopkg"
	"github.com/yourorg/erp-loader/internal/runner"
	"github.com/yourorg/erp-loader/internal/submit"
	"github.com/yourorg/erp-loader/internal/types"
)

type Handler struct {
	runs *RunManager
}

func NewHandler(runs *RunManager) *Handler {
	return &Handler{runs: runs}
}

type StartRunRequest struct {
	InputURI  string `json:"input_uri" binding:"required"`
	ResultURI string `json:"result_uri"`
	Object    string `json:"object" binding:"required"`
	Mode      string `json:"mode"`
	BatchSize int    `json:"batch_size" binding:"gte=0"`
}

type RunView struct {
	RunID     string         `json:"run_id"`
	Object    string         `json:"object"`
	Mode      string         `json:"mode"`
	InputURI  string         `json:"input_uri"`
	ResultURI string         `json:"result_uri,omitempty"`
	Rejected  int            `json:"rejected"`
	State     types.RunState `json:"state"`
	Done      bool           `json:"done"`
	CreatedAt time.Time      `json:"created_at"`
}

func view(r *Run) RunView {
	v := RunView{
		RunID:     r.ID,
		Object:    r.Params.Object,
		Mode:      r.Mode,
		InputURI:  r.Params.InputURI,
		ResultURI: r.Params.ResultURI,
		Rejected:  r.Rejected,
		State:     r.Engine.State(),
		CreatedAt: r.CreatedAt,
	}
	select {
	case <-r.Done():
		v.Done = true
	default:
	}
	return v
}

// StartRun loads the input and starts submitting it in the background.
func (h *Handler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := h.runs.Start(c.Request.Context(), types.SubmissionParams{
		InputURI:  req.InputURI,
		ResultURI: req.ResultURI,
		Object:    req.Object,
		Mode:      req.Mode,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		c.JSON(startStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, view(run))
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, runner.ErrUnknownObject),
		errors.Is(err, submit.ErrUnknownMode),
		errors.Is(err, intake.ErrUnsupportedFormat),
		errors.Is(err, intake.ErrEmptySource),
		errors.Is(err, iopkg.ErrUnsupportedScheme),
		errors.Is(err, iopkg.ErrInvalidS3URI):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) ListRuns(c *gin.Context) {
	runs := h.runs.List()
	out := make([]RunView, 0, len(runs))
	for _, r := range runs {
		out = append(out, view(r))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (h *Handler) run(c *gin.Context) (*Run, bool) {
	r, ok := h.runs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
	}
	return r, ok
}

func (h *Handler) GetRun(c *gin.Context) {
	if r, ok := h.run(c); ok {
		c.JSON(http.StatusOK, view(r))
	}
}

func (h *Handler) GetProgress(c *gin.Context) {
	if r, ok := h.run(c); ok {
		c.JSON(http.StatusOK, r.Engine.Progress())
	}
}

// StreamProgress sends a progress event per batch as server-sent events and
// a final "done" event when the run ends.
func (h *Handler) StreamProgress(c *gin.Context) {
	r, ok := h.run(c)
	if !ok {
		return
	}
	updates, stop := r.Engine.Subscribe(4)
	defer stop()

	c.SSEvent("progress", r.Engine.Progress())
	c.Stream(func(io.Writer) bool {
		select {
		case p, ok := <-updates:
			if !ok {
				c.SSEvent("done", r.Engine.Progress())
				return false
			}
			c.SSEvent("progress", p)
			return true
		case <-r.Done():
			c.SSEvent("done", r.Engine.Progress())
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// CancelRun stops the run before its next batch.
func (h *Handler) CancelRun(c *gin.Context) {
	r, ok := h.run(c)
	if !ok {
		return
	}
	select {
	case <-r.Done():
		c.JSON(http.StatusConflict, gin.H{"error": "Run already finished"})
		return
	default:
	}
	r.Engine.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"run_id": r.ID, "status": "cancelling"})
}

// GetResult returns the run's manifest once the run has finished.
func (h *Handler) GetResult(c *gin.Context) {
	r, ok := h.run(c)
	if !ok {
		return
	}
	m, err := r.Manifest()
	switch {
	case errors.Is(err, ErrRunNotFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "progress": r.Engine.Progress()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, m)
	}
}

type ObjectView struct {
	Name      string   `json:"name"`
	Mode      string   `json:"mode"`
	KeyFields []string `json:"key_fields"`
	Entity    string   `json:"entity"`
}

// ListObjects returns the business objects that can be submitted.
func (h *Handler) ListObjects(c *gin.Context) {
	var out []ObjectView
	for _, name := range grouping.Names() {
		l, _ := grouping.Lookup(name)
		out = append(out, ObjectView{Name: l.Name, Mode: l.Mode, KeyFields: l.KeyFields, Entity: l.Entity})
	}
	c.JSON(http.StatusOK, gin.H{"objects": out, "modes": []string{submit.ModeOData, submit.ModeSOAP}})
}
