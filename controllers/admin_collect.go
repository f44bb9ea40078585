package controllers

import (
	"errors"
	"log"
	"net/http"

	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
)

func collectErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrCollectSourceNotFound),
		errors.Is(err, services.ErrCollectJobNotFound),
		errors.Is(err, services.ErrCollectRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSourceBaseURLExists),
		errors.Is(err, services.ErrSourceInUse),
		errors.Is(err, services.ErrCollectRunFinished),
		errors.Is(err, services.ErrRunnerBusy):
		return http.StatusConflict
	case errors.Is(err, services.ErrSourceNameTooShort),
		errors.Is(err, services.ErrSourceBaseURLRequired),
		errors.Is(err, services.ErrSourceBaseURLInvalid),
		errors.Is(err, services.ErrJobNameTooShort),
		errors.Is(err, services.ErrJobAPIPassShort),
		errors.Is(err, services.ErrInvalidRunID),
		errors.Is(err, services.ErrInvalidRunStatus),
		errors.Is(err, services.ErrInvalidTypeBind),
		errors.Is(err, services.ErrRemoteTypesBaseURL),
		errors.Is(err, services.ErrUnknownSettingField):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRemoteTypesFetch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondCollectError(c *gin.Context, action string, err error) {
	status := collectErrorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("collect admin: %s failed: %v", action, err)
		c.JSON(status, gin.H{"success": false, "error": "failed to " + action})
		return
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

type sourceRequest struct {
	Name        *string `json:"name"`
	BaseURL     *string `json:"base_url"`
	CollectType *int    `json:"collect_type"`
	Status      *int    `json:"status"`
}

func (r sourceRequest) input(id uint) services.SourceInput {
	return services.SourceInput{ID: id, Name: r.Name, BaseURL: r.BaseURL, CollectType: r.CollectType, Status: r.Status}
}

// GET /api/v1/admin/collect/sources
func (h *CollectHandler) ListSources(c *gin.Context) {
	sources, err := h.Sources.List(c.Request.Context())
	if err != nil {
		respondCollectError(c, "list sources", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": sources})
}

// POST /api/v1/admin/collect/sources
func (h *CollectHandler) CreateSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	src, err := h.Sources.Create(c.Request.Context(), req.input(0))
	if err != nil {
		respondCollectError(c, "create source", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": src})
}

// PUT /api/v1/admin/collect/sources/:id
func (h *CollectHandler) UpdateSource(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	src, err := h.Sources.Save(c.Request.Context(), req.input(id))
	if err != nil {
		respondCollectError(c, "update source", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": src})
}

// DELETE /api/v1/admin/collect/sources/:id
func (h *CollectHandler) DeleteSource(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.Sources.Delete(c.Request.Context(), id); err != nil {
		respondCollectError(c, "delete source", err)
		return
	}
	h.TypeBinds.Invalidate(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type jobRequest struct {
	Name                *string `json:"name"`
	DomainURL           *string `json:"domain_url"`
	APIPass             *string `json:"api_pass"`
	CollectTime         *int    `json:"collect_time"`
	IntervalSeconds     *int    `json:"interval_seconds"`
	PushWorkers         *int    `json:"push_workers"`
	PushIntervalSeconds *int    `json:"push_interval_seconds"`
	MaxWorkers          *int    `json:"max_workers"`
	Cron                *string `json:"cron"`
	Status              *int    `json:"status"`
	SourceIDs           []uint  `json:"source_ids"`
}

func (r jobRequest) input(id uint) services.JobInput {
	return services.JobInput{
		ID:                  id,
		Name:                r.Name,
		DomainURL:           r.DomainURL,
		APIPass:             r.APIPass,
		CollectTime:         r.CollectTime,
		IntervalSeconds:     r.IntervalSeconds,
		PushWorkers:         r.PushWorkers,
		PushIntervalSeconds: r.PushIntervalSeconds,
		MaxWorkers:          r.MaxWorkers,
		Cron:                r.Cron,
		Status:              r.Status,
		SourceIDs:           r.SourceIDs,
	}
}

// GET /api/v1/admin/collect/jobs
func (h *CollectHandler) ListJobs(c *gin.Context) {
	jobs, err := h.Jobs.List(c.Request.Context())
	if err != nil {
		respondCollectError(c, "list jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": jobs})
}

// GET /api/v1/admin/collect/jobs/:id
func (h *CollectHandler) GetJob(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	job, err := h.Jobs.Get(c.Request.Context(), id)
	if err != nil {
		respondCollectError(c, "load job", err)
		return
	}
	if job.SourceIDs, err = h.Jobs.SourceIDs(c.Request.Context(), id); err != nil {
		respondCollectError(c, "load job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
}

// POST /api/v1/admin/collect/jobs
func (h *CollectHandler) CreateJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	job, err := h.Jobs.Create(c.Request.Context(), req.input(0))
	if err != nil {
		respondCollectError(c, "create job", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": job})
}

// PUT /api/v1/admin/collect/jobs/:id
func (h *CollectHandler) UpdateJob(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	job, err := h.Jobs.Save(c.Request.Context(), req.input(id))
	if err != nil {
		respondCollectError(c, "update job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
}

// DELETE /api/v1/admin/collect/jobs/:id
func (h *CollectHandler) DeleteJob(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.Jobs.Delete(c.Request.Context(), id); err != nil {
		respondCollectError(c, "delete job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type createRunRequest struct {
	SourceIDs []uint `json:"source_ids"`
}

// POST /api/v1/admin/collect/jobs/:id/run
func (h *CollectHandler) CreateRun(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req createRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
			return
		}
	}
	if csv := c.Query("source_ids"); csv != "" && len(req.SourceIDs) == 0 {
		req.SourceIDs = parseIDList(csv)
	}

	run, err := h.Runs.CreateRun(c.Request.Context(), id, req.SourceIDs)
	if err != nil {
		respondCollectError(c, "create run", err)
		return
	}
	if h.Runner != nil {
		h.Runner.Kick()
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": run})
}

// GET /api/v1/admin/collect/runs?job_id=&status=&page=&page_size=
func (h *CollectHandler) ListRuns(c *gin.Context) {
	runs, total, err := h.Runs.ListRuns(c.Request.Context(), services.RunListFilter{
		JobID:    queryUint(c, "job_id"),
		Status:   queryStatus(c),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	})
	if err != nil {
		respondCollectError(c, "list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": runs, "total": total})
}

// GET /api/v1/admin/collect/runs/:id
func (h *CollectHandler) GetRun(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	run, err := h.Runs.Get(c.Request.Context(), id)
	if err != nil {
		respondCollectError(c, "load run", err)
		return
	}
	stats, err := h.Runs.Tasks().Stats(c.Request.Context(), id)
	if err != nil {
		respondCollectError(c, "load run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": run, "stats": stats})
}

// POST /api/v1/admin/collect/runs/:id/cancel
func (h *CollectHandler) CancelRun(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.Runs.CancelRun(c.Request.Context(), id); err != nil {
		respondCollectError(c, "cancel run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DELETE /api/v1/admin/collect/runs/:id
func (h *CollectHandler) DeleteRun(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.Runs.DeleteRun(c.Request.Context(), id); err != nil {
		respondCollectError(c, "delete run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /api/v1/admin/collect/runner/run-once
func (h *CollectHandler) RunCollectorOnce(c *gin.Context) {
	if h.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "collector runner is disabled"})
		return
	}
	if err := h.Runner.RunOnce(c.Request.Context()); err != nil {
		respondCollectError(c, "run collector", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
