package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/batchsheet-processor/config"
	"github.com/feichai0017/batchsheet-processor/pkg/lock"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/queue"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Storage.Backend = "memory"
	return cfg
}

func TestBuild_MemoryBackends(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(), logger.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.NoError(t, app.Store.Ping(context.Background()))
	assert.NotNil(t, app.Blobs)
	assert.NotNil(t, app.Factory.Extractor())
	assert.IsType(t, queue.NoopNotifier{}, app.Notifier())
	assert.IsType(t, lock.NoopGuard{}, app.Guard())
}

func TestBuild_UnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "floppy"
	_, err := Build(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.Database.Driver = "sqlite"
	_, err = Build(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.OCR.Engine = "abacus"
	_, err = Build(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}
