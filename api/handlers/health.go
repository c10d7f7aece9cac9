package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/batchsheet-processor/internal/service/document"
)

type HealthHandler struct {
	service document.DocumentService
}

func NewHealthHandler(service document.DocumentService) *HealthHandler {
	return &HealthHandler{service: service}
}

// Check reports whether the document store answers.
func (h *HealthHandler) Check(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
