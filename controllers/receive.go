package controllers

import (
	"log"
	"net/http"

	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
)

// POST /api/receive/vod (JSON or form)
func (h *CollectHandler) ReceiveVod(c *gin.Context) {
	var payload services.VodPayload
	if err := c.ShouldBind(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid request body"})
		return
	}
	res, err := h.Vods.Receive(c.Request.Context(), &payload)
	if err != nil {
		log.Printf("receive vod %q failed: %v", payload.VodName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "internal error"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/receive/art (JSON or form)
func (h *CollectHandler) ReceiveArticle(c *gin.Context) {
	var payload services.ArticlePayload
	if err := c.ShouldBind(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid request body"})
		return
	}
	res, err := h.Articles.Receive(c.Request.Context(), &payload)
	if err != nil {
		log.Printf("receive article %q failed: %v", payload.ArtName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "internal error"})
		return
	}
	c.JSON(http.StatusOK, res)
}
