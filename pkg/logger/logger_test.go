package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	log, err := NewLogger(
		WithLevel("debug"),
		WithEncoding("console"),
		WithOutputPaths([]string{path}),
		WithService("worker"),
	)
	require.NoError(t, err)
	log.Debug("hello", DocumentID("doc-1"), Status("pending"))
	assert.NoError(t, log.Named("poller").Sync())
	assert.FileExists(t, path)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"), WithOutputPaths([]string{"stdout"}))
	assert.Error(t, err)
}

func TestTestLogger_ChildrenShareEntries(t *testing.T) {
	log := NewTestLogger()
	child := log.Named("worker").With(DocumentID("abc"))

	child.Warn("lease expired")
	log.Info("tick")

	entries := log.GetEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "worker", entries[0].Logger)
	assert.Len(t, entries[0].Fields, 1)
	assert.True(t, log.HasMessage("WARN", "lease expired"))
	assert.False(t, log.HasMessage("ERROR", "lease expired"))

	log.Clear()
	assert.Empty(t, log.GetEntries())
}

func TestFromContext(t *testing.T) {
	log := NewTestLogger()
	ctx := ContextWithRequestID(context.Background(), "req-42")

	FromContext(ctx, log).Info("upload")

	entries := log.GetEntries()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Fields, 1)
	assert.Equal(t, "request_id", entries[0].Fields[0].Key)
	assert.Equal(t, "req-42", entries[0].Fields[0].String)
}
