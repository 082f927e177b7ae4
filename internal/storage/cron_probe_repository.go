package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

// CronProbeRepository persists per-emailType run checkpoints.
type CronProbeRepository struct {
	db *PostgresDB
}

// NewCronProbeRepository creates a new cron probe repository
func NewCronProbeRepository(db *PostgresDB) *CronProbeRepository {
	return &CronProbeRepository{db: db}
}

// Get returns the probe for an email type, or nil when no run was recorded yet.
func (r *CronProbeRepository) Get(ctx context.Context, emailType types.EmailType) (*models.CronProbe, error) {
	query := `
		SELECT email_type, last_ran_at, sent_count, failed_count, duration_ms
		FROM cron_probes
		WHERE email_type = $1
	`

	var probe models.CronProbe
	err := r.db.Pool().QueryRow(ctx, query, emailType).Scan(
		&probe.EmailType,
		&probe.LastRanAt,
		&probe.SentCount,
		&probe.FailedCount,
		&probe.DurationMs,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cron probe: %w", err)
	}

	return &probe, nil
}

// Upsert writes the run checkpoint, one logical row per email type.
func (r *CronProbeRepository) Upsert(ctx context.Context, probe *models.CronProbe) error {
	query := `
		INSERT INTO cron_probes (email_type, last_ran_at, sent_count, failed_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email_type) DO UPDATE
		SET last_ran_at = EXCLUDED.last_ran_at,
			sent_count = EXCLUDED.sent_count,
			failed_count = EXCLUDED.failed_count,
			duration_ms = EXCLUDED.duration_ms
	`

	_, err := r.db.Pool().Exec(ctx, query,
		probe.EmailType,
		probe.LastRanAt,
		probe.SentCount,
		probe.FailedCount,
		probe.DurationMs,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert cron probe: %w", err)
	}

	return nil
}

// Count returns the number of email types that have recorded at least one run.
func (r *CronProbeRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM cron_probes`

	err := r.db.Pool().QueryRow(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cron probes: %w", err)
	}

	return count, nil
}
