package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const defaultListLimit = 100

// DocumentRepository implements port.DocumentRepository
type DocumentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sql.DB, logger *zap.Logger) port.DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new document
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		INSERT INTO documents (
			id, doc_type, company_id, sequence_number, stage, version,
			created_by, body, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		doc.ID,
		string(doc.Type),
		doc.CompanyID,
		doc.SequenceNumber,
		doc.Stage.String(),
		doc.Version,
		doc.CreatedBy,
		string(body),
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create document",
			zap.String("document_id", doc.ID),
			zap.String("type", string(doc.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// GetByID returns nil, nil when no document has the id
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	var body string
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT body FROM documents WHERE id = ?`, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	return decodeDocument(body)
}

// Update stores doc if the stored version still equals expectedVersion.
// doc.Version is bumped only when the write lands.
func (r *DocumentRepository) Update(ctx context.Context, doc *entity.Document, expectedVersion int64) error {
	next := *doc
	next.Version = expectedVersion + 1
	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		UPDATE documents
		SET stage = ?, version = ?, body = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		next.Stage.String(),
		next.Version,
		string(body),
		next.UpdatedAt,
		doc.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update document",
			zap.String("document_id", doc.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return port.ErrVersionConflict
	}

	doc.Version = next.Version
	return nil
}

// List returns documents matching the filter, newest first
func (r *DocumentRepository) List(ctx context.Context, filter port.DocumentFilter) ([]*entity.Document, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Type != "" {
		conds = append(conds, "doc_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.CompanyID != "" {
		conds = append(conds, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.Stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, filter.Stage.String())
	}

	query := "SELECT body FROM documents"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, sequence_number DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func decodeDocument(body string) (*entity.Document, error) {
	var doc entity.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &doc, nil
}

// SequenceCounter implements port.SequenceCounter on the sequence_counters table
type SequenceCounter struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSequenceCounter creates a new sequence counter
func NewSequenceCounter(db *sql.DB, logger *zap.Logger) port.SequenceCounter {
	return &SequenceCounter{
		db:     db,
		logger: logger,
	}
}

// Next increments and returns the counter for (docType, scope). Called inside
// the transaction that inserts the document, a rolled back insert also rolls
// back the number.
func (c *SequenceCounter) Next(ctx context.Context, docType entity.DocumentType, scope string) (int64, error) {
	query := `
		INSERT INTO sequence_counters (doc_type, scope, value) VALUES (?, ?, 1)
		ON CONFLICT (doc_type, scope) DO UPDATE SET value = value + 1
		RETURNING value
	`

	var value int64
	if err := sqlite.ExecutorFor(ctx, c.db).QueryRowContext(ctx, query, string(docType), scope).Scan(&value); err != nil {
		c.logger.Error("Failed to allocate sequence number",
			zap.String("type", string(docType)),
			zap.String("scope", scope),
			zap.Error(err))
		return 0, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	return value, nil
}

// Verify interface compliance
var (
	_ port.DocumentRepository = (*DocumentRepository)(nil)
	_ port.SequenceCounter    = (*SequenceCounter)(nil)
)
