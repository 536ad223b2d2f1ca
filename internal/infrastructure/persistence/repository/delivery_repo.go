package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DeliveryRepository implements port.DeliveryRepository
type DeliveryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeliveryRepository creates a new delivery record repository
func NewDeliveryRepository(db *sql.DB, logger *zap.Logger) port.DeliveryRepository {
	return &DeliveryRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a delivery record and sets its ID
func (r *DeliveryRepository) Create(ctx context.Context, rec *entity.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (
			event_id, event_type, document_id, target_role,
			owner_id, channel, endpoint,
			status, error_message, attempts, last_attempt_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var errorMessage sql.NullString
	if rec.ErrorMessage != "" {
		errorMessage = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}
	var lastAttempt sql.NullTime
	if rec.LastAttemptAt != nil {
		lastAttempt = sql.NullTime{Time: *rec.LastAttemptAt, Valid: true}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		rec.EventID,
		rec.EventType,
		rec.DocumentID,
		rec.TargetRole,
		rec.OwnerID,
		rec.Channel,
		rec.Endpoint,
		rec.Status,
		errorMessage,
		rec.Attempts,
		lastAttempt,
		rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create delivery record",
			zap.String("event_id", rec.EventID),
			zap.String("owner_id", rec.OwnerID),
			zap.Error(err))
		return fmt.Errorf("failed to create delivery record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListRetryable returns FAILED records with fewer than maxAttempts attempts,
// oldest first
func (r *DeliveryRepository) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*entity.DeliveryRecord, error) {
	query := `
		SELECT id, event_id, event_type, document_id, target_role,
			owner_id, channel, endpoint,
			status, error_message, attempts, last_attempt_at, created_at
		FROM delivery_records
		WHERE status = ? AND attempts < ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query,
		entity.DeliveryStatusFailed, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable deliveries: %w", err)
	}
	defer rows.Close()

	var records []*entity.DeliveryRecord
	for rows.Next() {
		var (
			rec          entity.DeliveryRecord
			errorMessage sql.NullString
			lastAttempt  sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.EventType,
			&rec.DocumentID,
			&rec.TargetRole,
			&rec.OwnerID,
			&rec.Channel,
			&rec.Endpoint,
			&rec.Status,
			&errorMessage,
			&rec.Attempts,
			&lastAttempt,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		rec.ErrorMessage = errorMessage.String
		if lastAttempt.Valid {
			t := lastAttempt.Time
			rec.LastAttemptAt = &t
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// MarkAttempt records one more attempt with its resulting status
func (r *DeliveryRepository) MarkAttempt(ctx context.Context, id int64, status, errorMsg string) error {
	var errorMessage sql.NullString
	if errorMsg != "" {
		errorMessage = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE delivery_records
		SET status = ?, error_message = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ?`,
		status, errorMessage, time.Now(), id,
	)
	if err != nil {
		r.logger.Error("Failed to mark delivery attempt",
			zap.Int64("id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to mark delivery attempt: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.DeliveryRepository = (*DeliveryRepository)(nil)
