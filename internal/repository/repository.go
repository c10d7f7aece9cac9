// Package repository persists documents and arbitrates worker claims.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/feichai0017/batchsheet-processor/internal/models"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict means an update guard no longer held.
	ErrConflict = errors.New("document changed concurrently")
	// ErrNotClaimable means the document is neither pending nor holding an expired lease.
	ErrNotClaimable = errors.New("document not claimable")
)

type DocumentStore interface {
	Insert(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	// Update applies patch if its guards hold and returns the updated row.
	Update(ctx context.Context, id string, patch models.Patch) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]*models.Document, error)
	// ListClaimable returns pending documents and processing documents whose lease
	// expired before now, oldest upload first.
	ListClaimable(ctx context.Context, now time.Time, limit int) ([]*models.Document, error)
	// Claim atomically moves a claimable document to processing under owner's lease.
	Claim(ctx context.Context, id, owner string, ttl time.Duration) (*models.Document, error)
	Ping(ctx context.Context) error
	Close()
}
