package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const settingsBodyLimit = 1 << 20

// GET /api/v1/admin/collect/settings
func (h *CollectHandler) GetCollectSettings(c *gin.Context) {
	cs, err := h.Settings.Collect(c.Request.Context())
	if err != nil {
		respondCollectError(c, "load settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cs})
}

// PUT /api/v1/admin/collect/settings
func (h *CollectHandler) SaveCollectSettings(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, settingsBodyLimit))
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	cs, err := h.Settings.SaveCollect(c.Request.Context(), body)
	if err != nil {
		respondCollectError(c, "save settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cs})
}
