package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	agentdoc "github.com/feichai0017/batchsheet-processor/internal/agent/document"
	"github.com/feichai0017/batchsheet-processor/internal/agent/metadata"
	"github.com/feichai0017/batchsheet-processor/internal/apperrors"
	"github.com/feichai0017/batchsheet-processor/internal/models"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
	"github.com/feichai0017/batchsheet-processor/internal/utils/validator"
	"github.com/feichai0017/batchsheet-processor/pkg/converters"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/queue"
	"github.com/feichai0017/batchsheet-processor/pkg/storage"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 500
	maxExportRows      = 10000
)

type ServiceConfig struct {
	// PersistImages stores fast-path images so they can be downloaded later.
	PersistImages bool
	AcceptPDF     bool
	// QueueImages sends images through the worker instead of the fast path.
	QueueImages      bool
	StoragePrefix    string
	SignedURLTTL     time.Duration
	BatchConcurrency int
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		PersistImages:    true,
		AcceptPDF:        true,
		StoragePrefix:    "batch-sheets",
		SignedURLTTL:     60 * time.Second,
		BatchConcurrency: 4,
	}
}

// Dependencies are the collaborators of the service. Validator and Notifier may be nil.
type Dependencies struct {
	Store     repository.DocumentStore
	Blobs     storage.Storage
	Extractor agentdoc.TextExtractor
	Metadata  *metadata.Extractor
	Notifier  queue.Notifier
	Validator *validator.DocumentValidator
}

type Service struct {
	store     repository.DocumentStore
	blobs     storage.Storage
	extractor agentdoc.TextExtractor
	metadata  *metadata.Extractor
	notifier  queue.Notifier
	validator *validator.DocumentValidator
	logger    logger.Logger
	config    *ServiceConfig
	now       func() time.Time
}

func NewService(deps Dependencies, cfg *ServiceConfig, log logger.Logger) *Service {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if deps.Metadata == nil {
		deps.Metadata = metadata.NewExtractor()
	}
	if deps.Notifier == nil {
		deps.Notifier = queue.NoopNotifier{}
	}
	return &Service{
		store:     deps.Store,
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		metadata:  deps.Metadata,
		notifier:  deps.Notifier,
		validator: deps.Validator,
		logger:    log.Named("document-service"),
		config:    cfg,
		now:       time.Now,
	}
}

var _ DocumentService = (*Service)(nil)

// Ingest 处理单个上传文件
//
// On an OCR failure in the fast path the failed document is returned together
// with the error.
func (s *Service) Ingest(ctx context.Context, in UploadInput) (*IngestResult, error) {
	if strings.TrimSpace(in.Filename) == "" {
		return nil, apperrors.InvalidInput("filename is required")
	}
	contentType := resolveContentType(in.ContentType, in.Data)
	kind, err := agentdoc.KindFromContentType(contentType)
	if err != nil {
		s.logger.Info("Upload rejected",
			logger.String("filename", in.Filename),
			logger.String("contentType", contentType),
		)
		return nil, err
	}
	if kind == agentdoc.KindPDF && !s.config.AcceptPDF {
		return nil, apperrors.UnsupportedMediaType(contentType)
	}
	if err := s.validate(in); err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:               uuid.NewString(),
		Filename:         in.Filename,
		ContentType:      contentType,
		FileType:         fileType(kind),
		FileSize:         int64(len(in.Data)),
		ProcessingStatus: models.StatusPending,
		UploadedAt:       s.now().UTC(),
		Metadata:         map[string]interface{}{},
	}

	s.logger.Info("Starting file processing",
		logger.DocumentID(doc.ID),
		logger.String("filename", in.Filename),
		logger.String("contentType", contentType),
		logger.Int64("size", doc.FileSize),
	)

	if kind == agentdoc.KindImage && !s.config.QueueImages {
		return s.ingestImmediate(ctx, doc, in.Data)
	}
	return s.ingestQueued(ctx, doc, in.Data)
}

// ingestImmediate extracts in-request and writes the document in its terminal state.
// A recognition failure fails the whole request and leaves nothing behind.
func (s *Service) ingestImmediate(ctx context.Context, doc *models.Document, data []byte) (*IngestResult, error) {
	// The caller hanging up must not leave a half-processed upload behind.
	ctx = context.WithoutCancel(ctx)

	// only the terminal state is persisted
	doc.ProcessingStatus = models.StatusProcessing
	res, err := s.extractor.Extract(ctx, data, agentdoc.KindImage)
	if err != nil {
		s.logger.Warn("Image recognition failed",
			logger.String("filename", doc.Filename),
			logger.Error(err),
		)
		if !errors.Is(err, apperrors.ErrOCRFailure) {
			err = apperrors.OCRFailure(err)
		}
		return nil, err
	}

	var key string
	if s.config.PersistImages {
		if key, err = s.putBlob(ctx, doc, data); err != nil {
			return nil, err
		}
	}

	fields := s.metadata.Extract(res.Text)
	patch := CompletedPatch(res, fields, ExtraFields(s.metadata.ExtractAll(res.Text)), s.now().UTC())
	if err := models.ValidateTransition(doc.ProcessingStatus, *patch.Status); err != nil {
		return nil, fmt.Errorf("failed to complete document: %w", err)
	}
	patch.Apply(doc)

	if err := s.store.Insert(ctx, doc); err != nil {
		s.deleteOrphan(ctx, key)
		s.logger.Error("Failed to save document", logger.DocumentID(doc.ID), logger.Error(err))
		return nil, apperrors.StoreUnavailable(err)
	}

	s.logger.Info("Document processed in request",
		logger.DocumentID(doc.ID),
		logger.Status(string(doc.ProcessingStatus)),
	)
	return &IngestResult{Document: doc}, nil
}

// ingestQueued stores the upload and leaves a pending document for the worker.
func (s *Service) ingestQueued(ctx context.Context, doc *models.Document, data []byte) (*IngestResult, error) {
	key, err := s.putBlob(ctx, doc, data)
	if err != nil {
		return nil, err
	}

	if err := s.store.Insert(ctx, doc); err != nil {
		s.deleteOrphan(ctx, key)
		s.logger.Error("Failed to save document", logger.DocumentID(doc.ID), logger.Error(err))
		return nil, apperrors.StoreUnavailable(err)
	}

	if err := s.notifier.NotifyQueued(ctx, doc.ID); err != nil {
		s.logger.Warn("Failed to notify workers, polling will pick the document up",
			logger.DocumentID(doc.ID),
			logger.Error(err),
		)
	}

	s.logger.Info("Document queued", logger.DocumentID(doc.ID))
	return &IngestResult{Document: doc, Queued: true}, nil
}

func (s *Service) putBlob(ctx context.Context, doc *models.Document, data []byte) (string, error) {
	key := storage.ObjectKey(s.config.StoragePrefix, doc.ID, safeName(doc.Filename))
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), doc.ContentType); err != nil {
		s.logger.Error("Failed to store file",
			logger.DocumentID(doc.ID),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", apperrors.UploadFailure(err)
	}
	doc.FilePath = models.StringPtr(key)
	doc.FileURL = models.StringPtr(DownloadPath(doc.ID))
	return key, nil
}

func (s *Service) deleteOrphan(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to delete orphaned file", logger.String("key", key), logger.Error(err))
	}
}

func (s *Service) validate(in UploadInput) error {
	if s.validator == nil {
		return nil
	}
	result := s.validator.ValidateFile(in.Filename, in.Data)
	if result.IsValid {
		return nil
	}
	if result.HasCode(validator.CodeInvalidFileType) || result.HasCode(validator.CodeInvalidMimeType) {
		return apperrors.New(apperrors.CodeUnsupportedMediaType, result.Message(), nil)
	}
	return apperrors.InvalidInput(result.Message())
}

// IngestBatch 并发处理多个文件; one failing file does not stop the others.
func (s *Service) IngestBatch(ctx context.Context, inputs []UploadInput) []BatchItem {
	items := make([]BatchItem, len(inputs))

	var g errgroup.Group
	limit := s.config.BatchConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			res, err := s.Ingest(ctx, in)
			items[i] = BatchItem{Filename: in.Filename, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	s.logger.Info("Batch ingested",
		logger.Int("files", len(inputs)),
		logger.Int("failed", failed),
	)
	return items
}

func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("document")
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return doc, nil
}

// Search lists documents newest first.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]*models.Document, error) {
	filter, err := q.filter(maxSearchLimit)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return docs, nil
}

// DownloadURL returns a short-lived URL for the stored original of id.
func (s *Service) DownloadURL(ctx context.Context, id string) (string, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.FilePath == nil {
		return "", apperrors.NotFound("file")
	}
	url, err := s.blobs.SignedURL(ctx, *doc.FilePath, s.config.SignedURLTTL)
	if err != nil {
		return "", apperrors.New(apperrors.CodeStoreUnavailable, "failed to sign download url", err)
	}
	return url, nil
}

// Export writes the documents matching q as an XLSX workbook and returns the row count.
func (s *Service) Export(ctx context.Context, q SearchQuery, w io.Writer) (int, error) {
	q.Limit = maxExportRows
	filter, err := q.filter(maxExportRows)
	if err != nil {
		return 0, err
	}
	docs, err := s.store.List(ctx, filter)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	if err := converters.WriteXLSX(w, docs); err != nil {
		return 0, fmt.Errorf("failed to export documents: %w", err)
	}
	return len(docs), nil
}

func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

func (q SearchQuery) filter(maxLimit int) (models.DocumentFilter, error) {
	filter := models.DocumentFilter{
		JobNumber:    strings.TrimSpace(q.JobNumber),
		FormulaID:    strings.TrimSpace(q.FormulaID),
		TextContains: strings.TrimSpace(q.Text),
		Order:        models.NewestFirst,
		Limit:        q.Limit,
	}
	if q.Status != "" {
		status, err := models.ParseStatus(q.Status)
		if err != nil {
			return filter, apperrors.InvalidInput(err.Error())
		}
		filter.Statuses = []models.ProcessingStatus{status}
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultSearchLimit
	case filter.Limit > maxLimit:
		filter.Limit = maxLimit
	}
	return filter, nil
}

// DownloadPath is the API route that serves the stored original of id.
func DownloadPath(id string) string {
	return "/api/v1/documents/" + id + "/download"
}

// resolveContentType trusts the declared type unless it is missing or generic.
func resolveContentType(declared string, data []byte) string {
	ct := strings.TrimSpace(declared)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	ct = strings.ToLower(ct)
	if ct == "" || ct == "application/octet-stream" {
		ct, _, _ = strings.Cut(mimetype.Detect(data).String(), ";")
	}
	return ct
}

func fileType(kind agentdoc.Kind) models.FileType {
	if kind == agentdoc.KindPDF {
		return models.PDF
	}
	return models.Image
}

// ExtraFields keeps matches of custom rules; the three known fields have columns.
func ExtraFields(all map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range all {
		switch k {
		case metadata.FieldJobNumber, metadata.FieldFormulaID, metadata.FieldProductName:
			continue
		}
		out[k] = v
	}
	return out
}

func safeName(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
