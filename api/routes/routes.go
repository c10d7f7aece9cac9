package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/batchsheet-processor/api/handlers"
	"github.com/feichai0017/batchsheet-processor/api/middleware"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowedOrigins []string, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.CORS(allowedOrigins))

	r.GET("/health", h.Health.Check)

	v1 := r.Group("/api/v1")

	// 文档处理路由组
	docs := v1.Group("/documents")
	{
		docs.POST("/upload", h.Document.Upload)
		docs.POST("/batch", h.Document.UploadBatch)
		docs.GET("", h.Document.List)
		docs.GET("/export", h.Document.Export)
		docs.GET("/:id", h.Document.Get)
		docs.GET("/:id/download", h.Document.Download)
	}
}
