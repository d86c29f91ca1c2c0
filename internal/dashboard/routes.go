package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/chain"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/remote"
	"github.com/zulandar/signalbox/internal/signalman"
	"github.com/zulandar/signalbox/internal/watch"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, gdb *gorm.DB, rc remote.Client) {
	router.GET("/healthz", handleHealth(gdb))

	api := router.Group("/api")
	api.GET("/summary", handleSummary(gdb))
	api.GET("/events", handleSSE(gdb))

	api.GET("/pipelines", handlePipelineList(gdb))
	api.POST("/pipelines", handlePipelineCreate(gdb, rc))

	api.GET("/merge-requests", handleMergeRequestList(gdb))
	api.POST("/merge-requests", handleMergeRequestCreate(gdb, rc))

	api.GET("/chains", handleChainList(gdb))
	api.GET("/chains/:id", handleChainDetail(gdb))
	api.POST("/chains", handleChainCreate(gdb))
}

// errorStatus maps a domain error to an HTTP status. Errors not recognised
// here came from the remote.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, watch.ErrDuplicatePipeline), errors.Is(err, watch.ErrDuplicateMergeRequest):
		return http.StatusConflict
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, watch.ErrNotFound), errors.Is(err, chain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func handleHealth(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := gdb.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			abortWithError(c, http.StatusServiceUnavailable, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleSummary(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := signalman.Summarize(gdb)
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, summaryView(s))
	}
}

func handlePipelineList(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ps, err := watch.ListPipelines(gdb, c.Query("status"))
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, pipelineRows(ps))
	}
}

type createPipelineRequest struct {
	ProjectID   int64 `json:"project_id" binding:"required"`
	PipelineID  int64 `json:"pipeline_id" binding:"required"`
	NotifyOnEnd bool  `json:"notify_on_end"`
}

func handlePipelineCreate(gdb *gorm.DB, rc remote.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPipelineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		p, err := watch.RegisterPipeline(c.Request.Context(), gdb, rc, req.ProjectID, req.PipelineID, req.NotifyOnEnd)
		if err != nil {
			abortWithError(c, errorStatus(err), err)
			return
		}
		c.JSON(http.StatusCreated, pipelineRow(*p))
	}
}

func handleMergeRequestList(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ms, err := watch.ListMergeRequests(gdb, c.Query("status"))
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, mergeRequestRows(ms))
	}
}

type createMergeRequestRequest struct {
	ProjectID               int64 `json:"project_id" binding:"required"`
	MRID                    int64 `json:"mr_id" binding:"required"`
	AutoMerge               bool  `json:"auto_merge"`
	NotifyOnEnd             bool  `json:"notify_on_end"`
	WatchPipelineAfterMerge bool  `json:"watch_pipeline_after_merge"`
}

func handleMergeRequestCreate(gdb *gorm.DB, rc remote.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createMergeRequestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		mr, err := watch.RegisterMergeRequest(c.Request.Context(), gdb, rc, watch.CreateMergeRequestOpts{
			RemoteID:                req.MRID,
			ProjectID:               req.ProjectID,
			AutoMerge:               req.AutoMerge,
			NotifyOnEnd:             req.NotifyOnEnd,
			WatchPipelineAfterMerge: req.WatchPipelineAfterMerge,
		})
		if err != nil {
			abortWithError(c, errorStatus(err), err)
			return
		}
		c.JSON(http.StatusCreated, mergeRequestRow(*mr))
	}
}

func handleChainList(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ts, err := chain.List(gdb, c.Query("status"))
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, chainRows(ts))
	}
}

func handleChainDetail(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, errors.New("invalid chain id"))
			return
		}
		t, err := chain.Get(gdb, uint(id))
		if err != nil {
			abortWithError(c, errorStatus(err), err)
			return
		}
		c.JSON(http.StatusOK, chainRow(*t))
	}
}

type createChainRequest struct {
	ProjectID                  int64    `json:"project_id" binding:"required"`
	Branches                   []string `json:"branches" binding:"required"`
	WatchPipelineAfterComplete bool     `json:"watch_pipeline_after_complete"`
}

func handleChainCreate(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createChainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		t, err := chain.Create(gdb, chain.CreateOpts{
			ProjectID:                  req.ProjectID,
			Branches:                   req.Branches,
			WatchPipelineAfterComplete: req.WatchPipelineAfterComplete,
		})
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, db.ErrStorage) {
				status = http.StatusInternalServerError
			}
			abortWithError(c, status, err)
			return
		}
		c.JSON(http.StatusCreated, chainRow(*t))
	}
}
