package api

import (
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourorg/erp-loader/internal/iopkg"
	"github.com/yourorg/erp-loader/internal/types"
)

var uploadExts = map[string]bool{".jsonl": true, ".ndjson": true, ".csv": true, ".tsv": true, ".xlsx": true, ".xlsm": true, ".xls": true}

type UploadHandler struct {
	root string // local dir or s3://bucket/prefix
	runs *RunManager
}

func NewUploadHandler(root string, runs *RunManager) *UploadHandler {
	return &UploadHandler{root: strings.TrimRight(root, "/"), runs: runs}
}

type UploadRequest struct {
	Object    string `form:"object"`
	Mode      string `form:"mode"`
	BatchSize int    `form:"batch_size" binding:"gte=0"`
	ResultURI string `form:"result_uri"`
}

// UploadFile stores a record file and, when an object is given, starts a run
// over it.
func (h *UploadHandler) UploadFile(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload error: " + err.Error()})
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !uploadExts[strings.ToLower(filepath.Ext(name))] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	uri := h.root + "/" + path.Join(uuid.NewString(), name)
	w, err := iopkg.CreateWriter(c.Request.Context(), uri)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
		return
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
		return
	}
	if err := w.Close(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
		return
	}

	if req.Object == "" {
		c.JSON(http.StatusCreated, gin.H{"input_uri": uri, "size": header.Size})
		return
	}
	run, err := h.runs.Start(c.Request.Context(), types.SubmissionParams{
		InputURI:  uri,
		ResultURI: req.ResultURI,
		Object:    req.Object,
		Mode:      req.Mode,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		c.JSON(startStatus(err), gin.H{"error": err.Error(), "input_uri": uri})
		return
	}
	c.JSON(http.StatusAccepted, view(run))
}
