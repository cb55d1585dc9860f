package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/metrics"
)

// RouterConfig wires the handlers. Temporal is optional; without it the
// workflow routes are not registered.
type RouterConfig struct {
	Runs           *RunManager
	UploadRoot     string
	AllowedOrigins []string
	Temporal       client.Client
	TaskQueue      string
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger))
	}
	r.MaxMultipartMemory = 8 << 20 // 8MB

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiV1 := r.Group("/api/v1")
	{
		handler := NewHandler(cfg.Runs)
		apiV1.GET("/objects", handler.ListObjects)

		apiV1.POST("/runs", handler.StartRun)
		apiV1.GET("/runs", handler.ListRuns)
		apiV1.GET("/runs/:id", handler.GetRun)
		apiV1.GET("/runs/:id/progress", handler.GetProgress)
		apiV1.GET("/runs/:id/events", handler.StreamProgress)
		apiV1.POST("/runs/:id/cancel", handler.CancelRun)
		apiV1.GET("/runs/:id/result", handler.GetResult)

		if cfg.UploadRoot != "" {
			uploadHandler := NewUploadHandler(cfg.UploadRoot, cfg.Runs)
			apiV1.POST("/uploads", uploadHandler.UploadFile)
		}

		if cfg.Temporal != nil {
			workflowHandler := NewWorkflowHandler(cfg.Temporal, cfg.TaskQueue)
			apiV1.POST("/workflows/submissions", workflowHandler.StartSubmissionWorkflow)
			apiV1.GET("/workflows/:id/status", workflowHandler.GetWorkflowStatus)
			apiV1.POST("/workflows/:id/cancel", workflowHandler.CancelWorkflow)
		}
	}
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}
