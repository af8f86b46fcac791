package api

import (
	"github.com/gin-gonic/gin"

	"github.com/solarops/activity/internal/handlers"
)

func registerActivityRoutes(api *gin.RouterGroup, handler *handlers.ActivityHandler) {
	group := api.Group("/activity")
	{
		group.GET("", handler.Snapshot)
		group.GET("/categories", handler.Categories)
		group.GET("/watermarks", handler.Watermarks)
		group.POST("/categories/:category/seen", handler.MarkSeen)
		group.POST("/hidden", handler.Hide)
		group.POST("/hidden/batch", handler.HideBatch)
	}
}
