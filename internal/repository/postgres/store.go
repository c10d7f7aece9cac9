// Package postgres is the PostgreSQL document store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feichai0017/batchsheet-processor/internal/models"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

const columns = `id, filename, content_type, file_type, file_size, job_number, formula_id, product_name,
	extracted_text, file_path, file_url, page_count, processing_status, processing_error, uploaded_at,
	processed_at, metadata, lease_owner, lease_expires_at, attempts`

type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

func NewPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool, log logger.Logger) *Store {
	return &Store{pool: pool, logger: log.Named("postgres")}
}

func (s *Store) Insert(ctx context.Context, doc *models.Document) error {
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO documents (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		doc.ID, doc.Filename, doc.ContentType, string(doc.FileType), doc.FileSize,
		doc.JobNumber, doc.FormulaID, doc.ProductName, doc.ExtractedText, doc.FilePath, doc.FileURL,
		doc.PageCount, string(doc.ProcessingStatus), doc.ProcessingError, doc.UploadedAt, doc.ProcessedAt,
		metadata, doc.LeaseOwner, doc.LeaseExpiresAt, doc.Attempts,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+columns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *Store) Update(ctx context.Context, id string, patch models.Patch) (*models.Document, error) {
	b := &setBuilder{}
	if patch.Status != nil {
		b.set("processing_status", string(*patch.Status))
	}
	b.setIf("job_number", patch.JobNumber)
	b.setIf("formula_id", patch.FormulaID)
	b.setIf("product_name", patch.ProductName)
	b.setIf("extracted_text", patch.ExtractedText)
	b.setIf("file_path", patch.FilePath)
	b.setIf("file_url", patch.FileURL)
	b.setIf("processing_error", patch.ProcessingError)
	if patch.PageCount != nil {
		b.set("page_count", *patch.PageCount)
	}
	if patch.ProcessedAt != nil {
		b.set("processed_at", *patch.ProcessedAt)
	}
	if patch.Metadata != nil {
		b.args = append(b.args, patch.Metadata)
		b.sets = append(b.sets, fmt.Sprintf("metadata = metadata || $%d::jsonb", len(b.args)))
	}
	if patch.ClearLease {
		b.sets = append(b.sets, "lease_owner = NULL", "lease_expires_at = NULL")
	}
	if len(b.sets) == 0 {
		return s.Get(ctx, id)
	}

	b.args = append(b.args, id)
	where := []string{fmt.Sprintf("id = $%d", len(b.args))}
	if patch.IfStatus != nil {
		b.args = append(b.args, string(*patch.IfStatus))
		where = append(where, fmt.Sprintf("processing_status = $%d", len(b.args)))
	}
	if patch.IfLeaseOwner != nil {
		b.args = append(b.args, *patch.IfLeaseOwner)
		where = append(where, fmt.Sprintf("lease_owner = $%d", len(b.args)))
	}

	query := `UPDATE documents SET ` + strings.Join(b.sets, ", ") +
		` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ` + columns
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, b.args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// distinguish a missing row from a failed guard
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, repository.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context, filter models.DocumentFilter) ([]*models.Document, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("processing_status = ANY($%d)", len(args)))
	}
	if filter.JobNumber != "" {
		args = append(args, filter.JobNumber)
		where = append(where, fmt.Sprintf("job_number = $%d", len(args)))
	}
	if filter.FormulaID != "" {
		args = append(args, filter.FormulaID)
		where = append(where, fmt.Sprintf("formula_id = $%d", len(args)))
	}
	if filter.TextContains != "" {
		args = append(args, "%"+escapeLike(filter.TextContains)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(extracted_text ILIKE $%d OR filename ILIKE $%d OR product_name ILIKE $%d)", n, n, n))
	}

	query := `SELECT ` + columns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.Order == models.OldestFirst {
		query += ` ORDER BY uploaded_at ASC, id ASC`
	} else {
		query += ` ORDER BY uploaded_at DESC, id DESC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.query(ctx, query, args...)
}

func (s *Store) ListClaimable(ctx context.Context, now time.Time, limit int) ([]*models.Document, error) {
	return s.query(ctx, `SELECT `+columns+` FROM documents
		WHERE processing_status = 'pending'
		   OR (processing_status = 'processing' AND (lease_expires_at IS NULL OR lease_expires_at <= $1))
		ORDER BY uploaded_at ASC, id ASC
		LIMIT $2`, now, limit)
}

func (s *Store) Claim(ctx context.Context, id, owner string, ttl time.Duration) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `UPDATE documents
		SET processing_status = 'processing',
		    lease_owner = $2,
		    lease_expires_at = now() + make_interval(secs => $3),
		    attempts = attempts + 1
		WHERE id = $1
		  AND (processing_status = 'pending'
		       OR (processing_status = 'processing' AND (lease_expires_at IS NULL OR lease_expires_at <= now())))
		RETURNING `+columns, id, owner, ttl.Seconds())
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, repository.ErrNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("claim document: %w", err)
	}
	return doc, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var (
		d        models.Document
		fileType string
		status   string
	)
	err := row.Scan(&d.ID, &d.Filename, &d.ContentType, &fileType, &d.FileSize,
		&d.JobNumber, &d.FormulaID, &d.ProductName, &d.ExtractedText, &d.FilePath, &d.FileURL,
		&d.PageCount, &status, &d.ProcessingError, &d.UploadedAt, &d.ProcessedAt,
		&d.Metadata, &d.LeaseOwner, &d.LeaseExpiresAt, &d.Attempts)
	if err != nil {
		return nil, err
	}
	d.FileType = models.FileType(fileType)
	d.ProcessingStatus = models.ProcessingStatus(status)
	return &d, nil
}

type setBuilder struct {
	sets []string
	args []interface{}
}

func (b *setBuilder) set(col string, v interface{}) {
	b.args = append(b.args, v)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (b *setBuilder) setIf(col string, v *string) {
	if v != nil {
		b.set(col, *v)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
