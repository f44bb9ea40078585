package routes

import (
	"vodcms-collect-api/controllers"
	"vodcms-collect-api/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, h *controllers.CollectHandler, workerToken string) {
	// Worker queue protocol
	queue := router.Group("/collector/queue")
	queue.Use(middleware.CollectorAuth(workerToken))
	{
		queue.POST("/pull", h.QueuePull)
		queue.POST("/report", h.QueueReport)
		queue.GET("/tasks", h.QueueTasks)
		queue.GET("/task-stats/:runId", h.QueueTaskStats)
		queue.GET("/records", h.QueueRecordExists)
	}

	// Ingestion, authenticated by the interface pass in the body
	receive := router.Group("/api/receive")
	{
		receive.POST("/vod", h.ReceiveVod)
		receive.POST("/art", h.ReceiveArticle)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"message": "Collect API is running",
			})
		})

		admin := v1.Group("/admin/collect")
		admin.Use(middleware.AuthMiddleware(), middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.GET("/sources", h.ListSources)
			admin.POST("/sources", h.CreateSource)
			admin.PUT("/sources/:id", h.UpdateSource)
			admin.DELETE("/sources/:id", h.DeleteSource)
			admin.GET("/sources/:id/type-binds", h.ListTypeBinds)
			admin.PUT("/sources/:id/type-binds", h.SaveTypeBinds)
			admin.DELETE("/sources/:id/type-binds/:remoteTypeId", h.DeleteTypeBind)
			admin.GET("/sources/:id/remote-types", h.RemoteTypes)

			admin.GET("/jobs", h.ListJobs)
			admin.POST("/jobs", h.CreateJob)
			admin.GET("/jobs/:id", h.GetJob)
			admin.PUT("/jobs/:id", h.UpdateJob)
			admin.DELETE("/jobs/:id", h.DeleteJob)
			admin.POST("/jobs/:id/run", h.CreateRun)

			admin.GET("/runs", h.ListRuns)
			admin.GET("/runs/:id", h.GetRun)
			admin.POST("/runs/:id/cancel", h.CancelRun)
			admin.DELETE("/runs/:id", h.DeleteRun)
			admin.GET("/tasks", h.QueueTasks)
			admin.POST("/runner/run-once", h.RunCollectorOnce)

			admin.GET("/settings", h.GetCollectSettings)
			admin.PUT("/settings", h.SaveCollectSettings)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"success": false, "error": "Endpoint not found"})
	})
}
