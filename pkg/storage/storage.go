package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/storage/memory"
	"github.com/feichai0017/batchsheet-processor/pkg/storage/minio"
	"github.com/feichai0017/batchsheet-processor/pkg/storage/s3"
)

type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// Storage holds original uploads.
type Storage interface {
	// Put stores r under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// SignedURL returns a time-limited download URL for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// NewStorage creates the backend named by storageType.
func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, log)
	case StorageTypeMemory:
		return memory.New("memory://blobs"), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ObjectKey builds the blob key of a document: <prefix>/<id>/<filename>.
func ObjectKey(prefix, id, filename string) string {
	if prefix == "" {
		return id + "/" + filename
	}
	return prefix + "/" + id + "/" + filename
}
