package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	agentdoc "github.com/feichai0017/batchsheet-processor/internal/agent/document"
	"github.com/feichai0017/batchsheet-processor/internal/agent/metadata"
	"github.com/feichai0017/batchsheet-processor/internal/apperrors"
	"github.com/feichai0017/batchsheet-processor/internal/models"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
	"github.com/feichai0017/batchsheet-processor/internal/service/document"
	"github.com/feichai0017/batchsheet-processor/pkg/lock"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/storage"
)

type PollerConfig struct {
	WorkerID    string
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	LeaseTTL    time.Duration
	// TempDir holds downloaded files while they are processed. Empty means os.TempDir.
	TempDir string
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:    30 * time.Second,
		BatchSize:   5,
		MaxAttempts: 3,
		LeaseTTL:    10 * time.Minute,
	}
}

// PollerDeps are the collaborators of a Poller. Guard and Metadata may be nil.
type PollerDeps struct {
	Store     repository.DocumentStore
	Blobs     storage.Storage
	Extractor agentdoc.TextExtractor
	Metadata  *metadata.Extractor
	Guard     lock.Guard
}

// Poller drains pending documents from the store, one at a time.
type Poller struct {
	store     repository.DocumentStore
	lifecycle *document.Lifecycle
	blobs     storage.Storage
	extractor agentdoc.TextExtractor
	metadata  *metadata.Extractor
	guard     lock.Guard
	config    PollerConfig
	logger    logger.Logger
	wake      chan struct{}
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ Worker = (*Poller)(nil)
	_ Waker  = (*Poller)(nil)
)

func NewPoller(deps PollerDeps, cfg PollerConfig, log logger.Logger) (*Poller, error) {
	if deps.Store == nil || deps.Blobs == nil || deps.Extractor == nil {
		return nil, errors.New("store, blob storage and extractor are required")
	}
	if cfg.Interval <= 0 || cfg.BatchSize <= 0 || cfg.MaxAttempts <= 0 || cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("invalid poller config: %+v", cfg)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}
	if deps.Metadata == nil {
		deps.Metadata = metadata.NewExtractor()
	}
	if deps.Guard == nil {
		deps.Guard = lock.NoopGuard{}
	}

	log = log.Named("poller").With(logger.String("worker", cfg.WorkerID))
	return &Poller{
		store:     deps.Store,
		lifecycle: document.NewLifecycle(deps.Store, log),
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		metadata:  deps.Metadata,
		guard:     deps.Guard,
		config:    cfg,
		logger:    log,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Wake triggers a poll before the next tick. It never blocks.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run polls once immediately, then on every tick or wake-up until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Worker started",
		logger.Duration("interval", p.config.Interval),
		logger.Int("batchSize", p.config.BatchSize),
	)
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("Worker stopped")
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	n, err := p.PollOnce(ctx)
	if err != nil {
		p.logger.Error("Poll failed", logger.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("Poll finished", logger.Int("processed", n))
	}
}

// PollOnce processes up to BatchSize claimable documents, oldest upload first,
// and returns how many it took to a terminal state.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	docs, err := p.store.ListClaimable(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	if len(docs) == 0 {
		p.logger.Debug("No pending documents")
		return 0, nil
	}

	processed := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		if p.processOne(ctx, doc) {
			processed++
		}
	}
	return processed, nil
}

func (p *Poller) processOne(ctx context.Context, candidate *models.Document) bool {
	owner := p.config.WorkerID
	log := p.logger.With(logger.DocumentID(candidate.ID))

	acquired, err := p.guard.Acquire(ctx, candidate.ID, owner, p.config.LeaseTTL)
	if err != nil {
		log.Warn("In-flight guard unavailable, relying on store claim", logger.Error(err))
		acquired = true
	}
	if !acquired {
		log.Debug("Document in flight on another worker")
		return false
	}
	defer func() {
		if err := p.guard.Release(context.WithoutCancel(ctx), candidate.ID, owner); err != nil {
			log.Warn("Failed to release in-flight guard", logger.Error(err))
		}
	}()

	doc, err := p.lifecycle.Claim(ctx, candidate.ID, owner, p.config.LeaseTTL)
	switch {
	case errors.Is(err, repository.ErrNotClaimable), errors.Is(err, repository.ErrNotFound):
		log.Debug("Document claimed elsewhere", logger.Error(err))
		return false
	case err != nil:
		log.Error("Failed to claim document", logger.Error(err))
		return false
	}

	if doc.Attempts > p.config.MaxAttempts {
		p.fail(ctx, log, doc, fmt.Sprintf("processing abandoned after %d attempts", doc.Attempts-1))
		return true
	}

	start := time.Now()
	res, err := p.extract(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Processing interrupted, lease will expire", logger.Error(err))
			return false
		}
		p.fail(ctx, log, doc, document.FailureMessage(err))
		return true
	}

	fields := p.metadata.Extract(res.Text)
	if _, err := p.lifecycle.Complete(ctx, doc, owner, res, fields, document.ExtraFields(p.metadata.ExtractAll(res.Text))); err != nil {
		log.Error("Failed to record result", logger.Error(err))
		return false
	}
	log.Info("Document processed",
		logger.String("strategy", res.Strategy),
		logger.Duration("elapsed", time.Since(start)),
	)
	return true
}

func (p *Poller) fail(ctx context.Context, log logger.Logger, doc *models.Document, message string) {
	if _, err := p.lifecycle.Fail(ctx, doc, p.config.WorkerID, message); err != nil {
		log.Error("Failed to record failure", logger.Error(err), logger.String("reason", message))
	}
}

// extract downloads the stored original to a temp file and runs the extractor on it.
// The temp file is removed before returning.
func (p *Poller) extract(ctx context.Context, doc *models.Document) (*agentdoc.ExtractionResult, error) {
	if doc.FilePath == nil {
		return nil, errors.New("document has no stored file")
	}
	kind, err := agentdoc.KindFromContentType(doc.ContentType)
	if err != nil {
		return nil, err
	}

	path, err := p.download(ctx, *doc.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Failed to remove temp file", logger.String("path", path), logger.Error(err))
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read temp file: %w", err)
	}
	return p.extractor.Extract(ctx, data, kind)
}

func (p *Poller) download(ctx context.Context, key string) (string, error) {
	rc, err := p.blobs.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.config.TempDir, "batchsheet-*"+filepath.Ext(key))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return f.Name(), nil
}

// Start runs the poll loop in the background until Stop or ctx cancellation.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("poller already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit. It is safe to call more than once.
func (p *Poller) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
