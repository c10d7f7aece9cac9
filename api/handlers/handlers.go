package handlers

import (
	"github.com/feichai0017/batchsheet-processor/internal/service/document"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	Health   *HealthHandler
}

func NewHandlers(
	documentService document.DocumentService,
	maxUploadBytes int64,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, maxUploadBytes, log),
		Health:   NewHealthHandler(documentService),
	}
}
