package controllers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
)

type pullRequest struct {
	WorkerID string `json:"worker_id"`
}

// POST /collector/queue/pull
func (h *CollectHandler) QueuePull(c *gin.Context) {
	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "invalid request body"})
		return
	}

	res, err := h.Pull.Pull(c.Request.Context(), strings.TrimSpace(req.WorkerID))
	if err != nil {
		log.Printf("collector pull failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": "pull failed"})
		return
	}
	if res.Run == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "run": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": res.Run, "job": res.Job, "sources": res.Sources})
}

type reportRequest struct {
	RunID              uint    `json:"id"`
	TaskID             uint    `json:"task_id"`
	Status             *int    `json:"status"`
	ProgressPage       *int    `json:"progress_page"`
	ProgressTotalPages *int    `json:"progress_total_pages"`
	CreatedCount       *int    `json:"created_count"`
	UpdatedCount       *int    `json:"updated_count"`
	ErrorCount         *int    `json:"error_count"`
	Message            *string `json:"message"`
}

// POST /collector/queue/report
func (h *CollectHandler) QueueReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "invalid request body"})
		return
	}

	err := h.Runs.Report(c.Request.Context(), services.RunReport{
		RunID:              req.RunID,
		TaskID:             req.TaskID,
		Status:             req.Status,
		ProgressPage:       req.ProgressPage,
		ProgressTotalPages: req.ProgressTotalPages,
		CreatedCount:       req.CreatedCount,
		UpdatedCount:       req.UpdatedCount,
		ErrorCount:         req.ErrorCount,
		Message:            req.Message,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, services.ErrInvalidRunID), errors.Is(err, services.ErrInvalidRunStatus):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": err.Error()})
	case errors.Is(err, services.ErrCollectRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "message": err.Error()})
	default:
		log.Printf("collector report for run %d failed: %v", req.RunID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": "report failed"})
	}
}

// GET /collector/queue/tasks?run_id=&source_id=&status=&page=&page_size=
func (h *CollectHandler) QueueTasks(c *gin.Context) {
	tasks, total, err := h.Runs.Tasks().List(c.Request.Context(), services.TaskListFilter{
		RunID:    queryUint(c, "run_id"),
		SourceID: queryUint(c, "source_id"),
		Status:   queryStatus(c),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": "failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": tasks, "total": total})
}

// GET /collector/queue/task-stats/:runId
func (h *CollectHandler) QueueTaskStats(c *gin.Context) {
	runID, ok := parseUintParam(c, "runId")
	if !ok {
		return
	}
	stats, err := h.Runs.Tasks().Stats(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": stats})
}

// GET /collector/queue/records?source_id=&remote_id=
func (h *CollectHandler) QueueRecordExists(c *gin.Context) {
	sourceID := queryUint(c, "source_id")
	remoteID := strings.TrimSpace(c.Query("remote_id"))
	if sourceID == 0 || remoteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "source_id and remote_id are required"})
		return
	}
	exists, err := h.Runs.Tasks().RecordExists(c.Request.Context(), sourceID, remoteID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": "failed to check record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "exists": exists})
}
