package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/batchsheet-processor/internal/models"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newDoc(id string, status models.ProcessingStatus, uploaded time.Time) *models.Document {
	return &models.Document{
		ID:               id,
		Filename:         id + ".pdf",
		ContentType:      "application/pdf",
		FileType:         models.PDF,
		ProcessingStatus: status,
		UploadedAt:       uploaded,
		Metadata:         map[string]interface{}{},
	}
}

func TestStore_InsertGetIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc := newDoc("a", models.StatusPending, base)
	require.NoError(t, s.Insert(ctx, doc))

	doc.Filename = "mutated"
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.Filename)

	got.Metadata["x"] = 1
	again, _ := s.Get(ctx, "a")
	assert.Empty(t, again.Metadata)

	assert.Error(t, s.Insert(ctx, newDoc("a", models.StatusPending, base)))

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestStore_UpdateGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, newDoc("a", models.StatusPending, base)))
	_, err := s.Claim(ctx, "a", "w1", time.Minute)
	require.NoError(t, err)

	_, err = s.Update(ctx, "a", models.Patch{
		Status:       models.StatusPtr(models.StatusCompleted),
		IfStatus:     models.StatusPtr(models.StatusProcessing),
		IfLeaseOwner: models.StringPtr("w2"),
	})
	assert.True(t, errors.Is(err, repository.ErrConflict))

	doc, err := s.Update(ctx, "a", models.Patch{
		Status:        models.StatusPtr(models.StatusCompleted),
		ExtractedText: models.StringPtr("text"),
		ClearLease:    true,
		IfStatus:      models.StatusPtr(models.StatusProcessing),
		IfLeaseOwner:  models.StringPtr("w1"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.ProcessingStatus)
	assert.Nil(t, doc.LeaseOwner)

	_, err = s.Update(ctx, "a", models.Patch{IfStatus: models.StatusPtr(models.StatusProcessing)})
	assert.True(t, errors.Is(err, repository.ErrConflict))

	_, err = s.Update(ctx, "missing", models.Patch{})
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestStore_ListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newDoc("a", models.StatusCompleted, base)
	a.JobNumber = models.StringPtr("554992")
	a.ExtractedText = models.StringPtr("Clear Coat batch")
	b := newDoc("b", models.StatusCompleted, base.Add(time.Hour))
	b.ProductName = models.StringPtr("CLEAR primer")
	c := newDoc("c", models.StatusPending, base.Add(2*time.Hour))
	for _, d := range []*models.Document{a, b, c} {
		require.NoError(t, s.Insert(ctx, d))
	}

	all, err := s.List(ctx, models.DocumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	oldest, err := s.List(ctx, models.DocumentFilter{Order: models.OldestFirst, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(oldest))

	byText, err := s.List(ctx, models.DocumentFilter{TextContains: "clear"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(byText))

	byName, err := s.List(ctx, models.DocumentFilter{TextContains: "C.PDF"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(byName))

	byJob, err := s.List(ctx, models.DocumentFilter{JobNumber: "554992"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(byJob))

	pending, err := s.List(ctx, models.DocumentFilter{Statuses: []models.ProcessingStatus{models.StatusPending}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(pending))
}

func TestStore_ClaimAndReclaim(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := base
	s.SetClock(func() time.Time { return now })
	require.NoError(t, s.Insert(ctx, newDoc("a", models.StatusPending, base)))

	doc, err := s.Claim(ctx, "a", "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.ProcessingStatus)
	assert.Equal(t, 1, doc.Attempts)

	_, err = s.Claim(ctx, "a", "w2", time.Minute)
	assert.True(t, errors.Is(err, repository.ErrNotClaimable))

	claimable, err := s.ListClaimable(ctx, now, 5)
	require.NoError(t, err)
	assert.Empty(t, claimable)

	now = now.Add(2 * time.Minute)
	claimable, err = s.ListClaimable(ctx, now, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(claimable))

	doc, err = s.Claim(ctx, "a", "w2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "w2", *doc.LeaseOwner)
	assert.Equal(t, 2, doc.Attempts)
}

func TestStore_ClaimTerminalRejected(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert(context.Background(), newDoc("a", models.StatusFailed, base)))
	_, err := s.Claim(context.Background(), "a", "w1", time.Minute)
	assert.True(t, errors.Is(err, repository.ErrNotClaimable))
}

func TestStore_ConcurrentClaimsSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, newDoc("a", models.StatusPending, base)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Claim(ctx, "a", fmt.Sprintf("w%d", i), time.Minute); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_Unavailable(t *testing.T) {
	s := New()
	s.SetUnavailable(errors.New("connection refused"))
	_, err := s.ListClaimable(context.Background(), base, 5)
	assert.EqualError(t, err, "connection refused")
	assert.Error(t, s.Ping(context.Background()))

	s.SetUnavailable(nil)
	assert.NoError(t, s.Ping(context.Background()))
}

func ids(docs []*models.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
