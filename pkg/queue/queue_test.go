package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuedTaskRoundTrip(t *testing.T) {
	task := NewQueuedTask("doc-1", time.Unix(0, 0))
	assert.Equal(t, "queued:doc-1", task.ID)
	assert.Equal(t, TaskTypeDocumentQueued, task.Type)

	data, err := json.Marshal(task)
	require.NoError(t, err)
	id, err := DocumentIDFromPayload(data)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)
}

func TestDocumentIDFromPayload_Invalid(t *testing.T) {
	_, err := DocumentIDFromPayload([]byte("not json"))
	assert.ErrorContains(t, err, "failed to unmarshal task")

	_, err = DocumentIDFromPayload([]byte(`{"payload":{}}`))
	assert.ErrorContains(t, err, "missing documentId")
}
