package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	agentdoc "github.com/feichai0017/batchsheet-processor/internal/agent/document"
	"github.com/feichai0017/batchsheet-processor/internal/agent/metadata"
	"github.com/feichai0017/batchsheet-processor/internal/apperrors"
	"github.com/feichai0017/batchsheet-processor/internal/models"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

// ErrLeaseLost is returned when a terminal write finds the document no longer
// held by the caller. The result is discarded.
var ErrLeaseLost = errors.New("lease lost before terminal write")

// Lifecycle performs the guarded status transitions of queued documents.
type Lifecycle struct {
	store  repository.DocumentStore
	logger logger.Logger
	now    func() time.Time
}

func NewLifecycle(store repository.DocumentStore, log logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:  store,
		logger: log.Named("lifecycle"),
		now:    time.Now,
	}
}

// Claim moves id to processing under owner's lease.
func (l *Lifecycle) Claim(ctx context.Context, id, owner string, ttl time.Duration) (*models.Document, error) {
	doc, err := l.store.Claim(ctx, id, owner, ttl)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Document claimed",
		logger.DocumentID(id),
		logger.String("owner", owner),
		logger.Int("attempt", doc.Attempts),
	)
	return doc, nil
}

// Complete records a successful extraction on a document held by owner.
func (l *Lifecycle) Complete(ctx context.Context, doc *models.Document, owner string, res *agentdoc.ExtractionResult, fields metadata.Fields, extra map[string]string) (*models.Document, error) {
	if err := models.ValidateTransition(doc.ProcessingStatus, models.StatusCompleted); err != nil {
		return nil, err
	}
	patch := CompletedPatch(res, fields, extra, l.now())
	patch.ClearLease = true
	patch.IfStatus = models.StatusPtr(models.StatusProcessing)
	patch.IfLeaseOwner = models.StringPtr(owner)

	updated, err := l.update(ctx, doc.ID, patch)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Document completed",
		logger.DocumentID(doc.ID),
		logger.Status(string(models.StatusCompleted)),
		logger.Int("pages", updated.PageCount),
	)
	return updated, nil
}

// Fail records message as the processing error of a document held by owner.
func (l *Lifecycle) Fail(ctx context.Context, doc *models.Document, owner, message string) (*models.Document, error) {
	if err := models.ValidateTransition(doc.ProcessingStatus, models.StatusFailed); err != nil {
		return nil, err
	}
	patch := FailedPatch(message, l.now())
	patch.ClearLease = true
	patch.IfStatus = models.StatusPtr(models.StatusProcessing)
	patch.IfLeaseOwner = models.StringPtr(owner)

	updated, err := l.update(ctx, doc.ID, patch)
	if err != nil {
		return nil, err
	}
	l.logger.Warn("Document failed",
		logger.DocumentID(doc.ID),
		logger.Status(string(models.StatusFailed)),
		logger.String("reason", message),
	)
	return updated, nil
}

func (l *Lifecycle) update(ctx context.Context, id string, patch models.Patch) (*models.Document, error) {
	updated, err := l.store.Update(ctx, id, patch)
	if errors.Is(err, repository.ErrConflict) {
		return nil, fmt.Errorf("document %s: %w", id, ErrLeaseLost)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return updated, nil
}

// CompletedPatch is the terminal write for a successful extraction.
func CompletedPatch(res *agentdoc.ExtractionResult, fields metadata.Fields, extra map[string]string, now time.Time) models.Patch {
	meta := map[string]interface{}{
		"strategy":    res.Strategy,
		"charCount":   res.CharCount,
		"ocrFallback": res.OCRFallback,
	}
	if res.FallbackError != "" {
		meta["fallbackError"] = res.FallbackError
	}
	if res.Title != "" {
		meta["pdfTitle"] = res.Title
	}
	for k, v := range extra {
		meta[k] = v
	}

	text := res.Text
	pages := res.PageCount
	return models.Patch{
		Status:        models.StatusPtr(models.StatusCompleted),
		ExtractedText: &text,
		JobNumber:     fields.JobNumber,
		FormulaID:     fields.FormulaID,
		ProductName:   fields.ProductName,
		PageCount:     &pages,
		ProcessedAt:   &now,
		Metadata:      meta,
	}
}

func FailedPatch(message string, now time.Time) models.Patch {
	if message == "" {
		message = "processing failed"
	}
	return models.Patch{
		Status:          models.StatusPtr(models.StatusFailed),
		ProcessingError: &message,
		ProcessedAt:     &now,
	}
}

// FailureMessage is the human-readable processing error recorded for err:
// the message of the underlying cause when err is an application error.
func FailureMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Cause != nil {
			return appErr.Cause.Error()
		}
		return appErr.Message
	}
	return err.Error()
}
