// Package memory is a map-backed document store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/batchsheet-processor/internal/models"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
)

type Store struct {
	mu   sync.RWMutex
	docs map[string]*models.Document
	now  func() time.Time

	unavailable error
	writes      int
}

func New() *Store {
	return &Store{
		docs: make(map[string]*models.Document),
		now:  time.Now,
	}
}

// SetClock replaces the time source used for leases.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetUnavailable makes every call fail with err until cleared with nil.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	s.unavailable = err
	s.mu.Unlock()
}

// Writes counts successful mutations.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) Insert(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	s.docs[doc.ID] = doc.Clone()
	s.writes++
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, patch models.Patch) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.IfStatus != nil && doc.ProcessingStatus != *patch.IfStatus {
		return nil, repository.ErrConflict
	}
	if patch.IfLeaseOwner != nil && (doc.LeaseOwner == nil || *doc.LeaseOwner != *patch.IfLeaseOwner) {
		return nil, repository.ErrConflict
	}
	patch.Apply(doc)
	s.writes++
	return doc.Clone(), nil
}

func (s *Store) List(ctx context.Context, filter models.DocumentFilter) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []*models.Document
	for _, doc := range s.docs {
		if matches(doc, filter) {
			out = append(out, doc.Clone())
		}
	}
	sortByUpload(out, filter.Order)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListClaimable(ctx context.Context, now time.Time, limit int) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []*models.Document
	for _, doc := range s.docs {
		if doc.ProcessingStatus == models.StatusPending || doc.LeaseExpired(now) {
			out = append(out, doc.Clone())
		}
	}
	sortByUpload(out, models.OldestFirst)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Claim(ctx context.Context, id, owner string, ttl time.Duration) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	now := s.now()
	if doc.ProcessingStatus != models.StatusPending && !doc.LeaseExpired(now) {
		return nil, repository.ErrNotClaimable
	}

	expires := now.Add(ttl)
	doc.ProcessingStatus = models.StatusProcessing
	doc.LeaseOwner = models.StringPtr(owner)
	doc.LeaseExpiresAt = &expires
	doc.Attempts++
	s.writes++
	return doc.Clone(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *Store) Close() {}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.unavailable
}

func matches(doc *models.Document, f models.DocumentFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if doc.ProcessingStatus == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.JobNumber != "" && (doc.JobNumber == nil || *doc.JobNumber != f.JobNumber) {
		return false
	}
	if f.FormulaID != "" && (doc.FormulaID == nil || *doc.FormulaID != f.FormulaID) {
		return false
	}
	if f.TextContains != "" {
		q := strings.ToLower(f.TextContains)
		if !containsFold(doc.ExtractedText, q) &&
			!strings.Contains(strings.ToLower(doc.Filename), q) &&
			!containsFold(doc.ProductName, q) {
			return false
		}
	}
	return true
}

func containsFold(s *string, lowerQuery string) bool {
	return s != nil && strings.Contains(strings.ToLower(*s), lowerQuery)
}

func sortByUpload(docs []*models.Document, order models.SortOrder) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if !a.UploadedAt.Equal(b.UploadedAt) {
			if order == models.OldestFirst {
				return a.UploadedAt.Before(b.UploadedAt)
			}
			return a.UploadedAt.After(b.UploadedAt)
		}
		// stable tie-break on id
		if order == models.OldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}
