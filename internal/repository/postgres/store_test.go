package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/batchsheet-processor/internal/models"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_x\\y`, escapeLike(`50% off_x\y`))
}

func TestSetBuilder(t *testing.T) {
	b := &setBuilder{}
	b.set("page_count", 3)
	b.setIf("job_number", nil)
	b.setIf("formula_id", models.StringPtr("202076"))
	assert.Equal(t, []string{"page_count = $1", "formula_id = $2"}, b.sets)
	assert.Equal(t, []interface{}{3, "202076"}, b.args)
}

// Runs against a real database when TEST_DATABASE_URL is set.
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, url, 4)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(ctx, pool, logger.NewNop()))
	s := New(pool, logger.NewNop())
	defer s.Close()

	id := uuid.NewString()
	require.NoError(t, s.Insert(ctx, &models.Document{
		ID:               id,
		Filename:         "sheet.pdf",
		ContentType:      "application/pdf",
		FileType:         models.PDF,
		ProcessingStatus: models.StatusPending,
		UploadedAt:       time.Now().UTC(),
	}))

	doc, err := s.Claim(ctx, id, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.ProcessingStatus)

	_, err = s.Claim(ctx, id, "w2", time.Minute)
	assert.True(t, errors.Is(err, repository.ErrNotClaimable))

	_, err = s.Update(ctx, id, models.Patch{
		Status:       models.StatusPtr(models.StatusFailed),
		IfLeaseOwner: models.StringPtr("w2"),
	})
	assert.True(t, errors.Is(err, repository.ErrConflict))

	now := time.Now().UTC()
	doc, err = s.Update(ctx, id, models.Patch{
		Status:        models.StatusPtr(models.StatusCompleted),
		ExtractedText: models.StringPtr("Job # 1"),
		JobNumber:     models.StringPtr("1"),
		ProcessedAt:   &now,
		Metadata:      map[string]interface{}{"strategy": "pdf-text"},
		ClearLease:    true,
		IfStatus:      models.StatusPtr(models.StatusProcessing),
		IfLeaseOwner:  models.StringPtr("w1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pdf-text", doc.Metadata["strategy"])

	found, err := s.List(ctx, models.DocumentFilter{TextContains: "job #", JobNumber: "1"})
	require.NoError(t, err)
	assert.NotEmpty(t, found)

	_, err = s.Get(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}
