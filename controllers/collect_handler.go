package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
)

// CollectHandler serves the worker queue, the ingest endpoints and the collect admin API.
type CollectHandler struct {
	Sources   *services.CollectSourceService
	Jobs      *services.CollectJobService
	Runs      *services.CollectRunService
	Pull      *services.CollectPullService
	Settings  *services.SettingsService
	TypeBinds *services.TypeBindService
	Vods      *services.ReceiveVodService
	Articles  *services.ReceiveArticleService
	Runner    *services.CollectorRunner
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	id64, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid " + name})
		return 0, false
	}
	return uint(id64), true
}

func queryUint(c *gin.Context, name string) uint {
	id64, err := strconv.ParseUint(strings.TrimSpace(c.Query(name)), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id64)
}

func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.Query(name)))
	if err != nil {
		return 0
	}
	return n
}

// queryStatus returns nil when the status filter is absent or not a number.
func queryStatus(c *gin.Context) *int {
	raw := strings.TrimSpace(c.Query("status"))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func parseIDList(csv string) []uint {
	var ids []uint
	for _, p := range strings.Split(csv, ",") {
		if id64, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64); err == nil && id64 > 0 {
			ids = append(ids, uint(id64))
		}
	}
	return ids
}
