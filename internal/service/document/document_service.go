package document

import (
	"context"
	"io"

	"github.com/feichai0017/batchsheet-processor/internal/models"
)

// DocumentService is the ingestion and query surface used by the HTTP layer.
type DocumentService interface {
	// Ingest accepts one upload. Images are extracted in-request; PDFs are
	// stored and left pending for the worker.
	Ingest(ctx context.Context, in UploadInput) (*IngestResult, error)
	IngestBatch(ctx context.Context, inputs []UploadInput) []BatchItem
	Get(ctx context.Context, id string) (*models.Document, error)
	Search(ctx context.Context, q SearchQuery) ([]*models.Document, error)
	DownloadURL(ctx context.Context, id string) (string, error)
	Export(ctx context.Context, q SearchQuery, w io.Writer) (int, error)
	Health(ctx context.Context) error
}

type UploadInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

type IngestResult struct {
	Document *models.Document
	Queued   bool
}

type BatchItem struct {
	Filename string
	Result   *IngestResult
	Err      error
}

type SearchQuery struct {
	Text      string
	JobNumber string
	FormulaID string
	Status    string
	Limit     int
}
