package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	allowed := [][2]ProcessingStatus{
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusProcessing},
	}
	for _, tr := range allowed {
		assert.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	rejected := [][2]ProcessingStatus{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusCompleted, StatusFailed},
		{StatusCompleted, StatusPending},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusProcessing},
		{StatusProcessing, StatusPending},
		{"archived", StatusPending},
	}
	for _, tr := range rejected {
		assert.Error(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("failed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, s)
	assert.True(t, s.Terminal())

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestCheckInvariants(t *testing.T) {
	now := time.Now()
	ok := []*Document{
		{ID: "a", ProcessingStatus: StatusPending},
		{ID: "b", ProcessingStatus: StatusProcessing},
		{ID: "c", ProcessingStatus: StatusCompleted, ExtractedText: StringPtr("x"), ProcessedAt: &now},
		{ID: "d", ProcessingStatus: StatusFailed, ProcessingError: StringPtr("boom"), ProcessedAt: &now},
	}
	for _, d := range ok {
		assert.NoError(t, CheckInvariants(d), d.ID)
	}

	bad := []*Document{
		{ID: "e", ProcessingStatus: StatusFailed},
		{ID: "f", ProcessingStatus: StatusCompleted, ProcessingError: StringPtr("boom")},
		{ID: "g", ProcessingStatus: StatusProcessing, ExtractedText: StringPtr("x")},
		{ID: "h", ProcessingStatus: StatusPending, ProcessedAt: &now},
		{ID: "i", ProcessingStatus: "queued"},
	}
	for _, d := range bad {
		assert.Error(t, CheckInvariants(d), d.ID)
	}
}

func TestPatchApplyAndClone(t *testing.T) {
	expires := time.Now().Add(time.Minute)
	doc := &Document{
		ID:               "doc",
		ProcessingStatus: StatusProcessing,
		LeaseOwner:       StringPtr("worker-1"),
		LeaseExpiresAt:   &expires,
		Metadata:         map[string]interface{}{"source": "upload"},
	}
	snapshot := doc.Clone()

	pages := 3
	Patch{
		Status:        StatusPtr(StatusCompleted),
		ExtractedText: StringPtr("text"),
		PageCount:     &pages,
		Metadata:      map[string]interface{}{"ocrFallback": true},
		ClearLease:    true,
	}.Apply(doc)

	assert.Equal(t, StatusCompleted, doc.ProcessingStatus)
	assert.Equal(t, 3, doc.PageCount)
	assert.Nil(t, doc.LeaseOwner)
	assert.Equal(t, true, doc.Metadata["ocrFallback"])
	assert.Equal(t, "upload", doc.Metadata["source"])

	// the clone is unaffected
	assert.Equal(t, StatusProcessing, snapshot.ProcessingStatus)
	assert.Equal(t, "worker-1", *snapshot.LeaseOwner)
	assert.NotContains(t, snapshot.Metadata, "ocrFallback")
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	assert.True(t, (&Document{ProcessingStatus: StatusProcessing, LeaseExpiresAt: &past}).LeaseExpired(now))
	assert.True(t, (&Document{ProcessingStatus: StatusProcessing}).LeaseExpired(now))
	assert.False(t, (&Document{ProcessingStatus: StatusProcessing, LeaseExpiresAt: &future}).LeaseExpired(now))
	assert.False(t, (&Document{ProcessingStatus: StatusPending, LeaseExpiresAt: &past}).LeaseExpired(now))
}
