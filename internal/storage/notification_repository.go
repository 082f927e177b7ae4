package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

// NotificationRepository persists the append-only dedup records.
type NotificationRepository struct {
	db *PostgresDB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *PostgresDB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// HasBeenSent reports whether a notification for (entityID, emailType) was
// already recorded.
func (r *NotificationRepository) HasBeenSent(ctx context.Context, entityID string, emailType types.EmailType) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM notification_records
			WHERE subject_entity_id = $1 AND email_type = $2
		)
	`

	err := r.db.Pool().QueryRow(ctx, query, entityID, emailType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check notification record: %w", err)
	}

	return exists, nil
}

// RecordSent appends the dedup marker for a confirmed send. Records are never
// overwritten; a concurrent duplicate insert is treated as already recorded.
func (r *NotificationRepository) RecordSent(ctx context.Context, entityID string, emailType types.EmailType, sentAt time.Time) error {
	query := `
		INSERT INTO notification_records (id, subject_entity_id, email_type, sent_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Pool().Exec(ctx, query, uuid.New().String(), entityID, emailType, sentAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("failed to record notification: %w", err)
	}

	return nil
}

// Count returns the total number of notifications ever sent.
func (r *NotificationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM notification_records`

	err := r.db.Pool().QueryRow(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	return count, nil
}

// CountByMonth returns sent counts for the twelve months of the given year,
// indexed 0 (January) through 11.
func (r *NotificationRepository) CountByMonth(ctx context.Context, year int) ([12]int64, error) {
	var counts [12]int64
	query := `
		SELECT EXTRACT(MONTH FROM sent_at)::int AS month, COUNT(*)
		FROM notification_records
		WHERE EXTRACT(YEAR FROM sent_at)::int = $1
		GROUP BY month
	`

	rows, err := r.db.Pool().Query(ctx, query, year)
	if err != nil {
		return counts, fmt.Errorf("failed to count notifications by month: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var month int
		var count int64
		if err := rows.Scan(&month, &count); err != nil {
			return counts, fmt.Errorf("failed to scan monthly count: %w", err)
		}
		if month >= 1 && month <= 12 {
			counts[month-1] = count
		}
	}

	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("error iterating monthly counts: %w", err)
	}

	return counts, nil
}

// ListRecent returns the most recent records for an email type, newest first.
func (r *NotificationRepository) ListRecent(ctx context.Context, emailType types.EmailType, limit int) ([]*models.NotificationRecord, error) {
	query := `
		SELECT id, subject_entity_id, email_type, sent_at
		FROM notification_records
		WHERE email_type = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, emailType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var records []*models.NotificationRecord
	for rows.Next() {
		var rec models.NotificationRecord
		if err := rows.Scan(&rec.ID, &rec.SubjectEntityID, &rec.EmailType, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return records, nil
}
