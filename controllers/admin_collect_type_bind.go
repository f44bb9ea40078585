package controllers

import (
	"net/http"

	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/admin/collect/sources/:id/type-binds
func (h *CollectHandler) ListTypeBinds(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	binds, err := h.TypeBinds.List(c.Request.Context(), id)
	if err != nil {
		respondCollectError(c, "list type binds", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": binds})
}

// PUT /api/v1/admin/collect/sources/:id/type-binds
func (h *CollectHandler) SaveTypeBinds(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var items []services.TypeBindInput
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if err := h.TypeBinds.SaveBatch(c.Request.Context(), id, items); err != nil {
		respondCollectError(c, "save type binds", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DELETE /api/v1/admin/collect/sources/:id/type-binds/:remoteTypeId
func (h *CollectHandler) DeleteTypeBind(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	remoteID, ok := parseUintParam(c, "remoteTypeId")
	if !ok {
		return
	}
	if err := h.TypeBinds.Delete(c.Request.Context(), id, int(remoteID)); err != nil {
		respondCollectError(c, "delete type bind", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GET /api/v1/admin/collect/sources/:id/remote-types
func (h *CollectHandler) RemoteTypes(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	src, err := h.Sources.Get(c.Request.Context(), id)
	if err != nil {
		respondCollectError(c, "load source", err)
		return
	}
	types, err := h.TypeBinds.FetchRemoteTypes(c.Request.Context(), src.BaseURL)
	if err != nil {
		respondCollectError(c, "fetch remote types", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": types})
}
