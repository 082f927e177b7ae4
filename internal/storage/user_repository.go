package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

const userColumns = `id, email, talent_layer_id, address, is_email_verified,
		weekly_tx_count, weekly_tx_window_start, status, created_at, updated_at`

// UserRepository handles user data persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user in PENDING state
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Status == "" {
		user.Status = types.StatusPending
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.WeeklyTxWindowStart.IsZero() {
		user.WeeklyTxWindowStart = now
	}

	query := `
		INSERT INTO users (id, email, talent_layer_id, address, is_email_verified,
			weekly_tx_count, weekly_tx_window_start, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.Email,
		user.TalentLayerID,
		user.Address,
		user.IsEmailVerified,
		user.WeeklyTxCount,
		user.WeeklyTxWindowStart,
		user.Status,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if conflict := translateUniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return r.getOne(ctx, query, id)
}

// GetByAddress retrieves the VALIDATED user linked to a wallet address.
// Addresses are stored lowercased.
func (r *UserRepository) GetByAddress(ctx context.Context, address string) (*models.User, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM users WHERE address = $1 AND status = $2`, userColumns)
	return r.getOne(ctx, query, strings.ToLower(address), types.StatusValidated)
}

// GetByTalentLayerID retrieves the VALIDATED user linked to an external
// identity id.
func (r *UserRepository) GetByTalentLayerID(ctx context.Context, talentLayerID string) (*models.User, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM users WHERE talent_layer_id = $1 AND status = $2`, userColumns)
	return r.getOne(ctx, query, talentLayerID, types.StatusValidated)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	err := r.db.Pool().QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.Email,
		&user.TalentLayerID,
		&user.Address,
		&user.IsEmailVerified,
		&user.WeeklyTxCount,
		&user.WeeklyTxWindowStart,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", fmt.Sprintf("%v", args[0]))
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// ClaimProfile links a wallet address and external identity id to a PENDING
// user and promotes it to VALIDATED. Partial unique indexes guarantee at most
// one VALIDATED user per address and per talent layer id; violations are
// translated into domain conflicts.
func (r *UserRepository) ClaimProfile(ctx context.Context, userID, address, talentLayerID string) (*models.User, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET address = $2, talent_layer_id = $3, status = $4, updated_at = $5
		WHERE id = $1
		RETURNING %s
	`, userColumns)

	var user models.User
	err := r.db.Pool().QueryRow(ctx, query,
		userID,
		strings.ToLower(address),
		talentLayerID,
		types.StatusValidated,
		time.Now(),
	).Scan(
		&user.ID,
		&user.Email,
		&user.TalentLayerID,
		&user.Address,
		&user.IsEmailVerified,
		&user.WeeklyTxCount,
		&user.WeeklyTxWindowStart,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", userID)
		}
		if conflict := translateUniqueViolation(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("failed to claim profile: %w", err)
	}

	return &user, nil
}

// SetEmailVerified marks the user's email as verified
func (r *UserRepository) SetEmailVerified(ctx context.Context, userID string) error {
	query := `UPDATE users SET is_email_verified = TRUE, updated_at = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set email verified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("user", userID)
	}

	return nil
}

// ResetQuotaWindow zeroes the weekly counter and restarts the window, but
// only when the stored window start is at or before cutoff. The condition
// makes the reset idempotent and safe under concurrent callers.
func (r *UserRepository) ResetQuotaWindow(ctx context.Context, userID string, cutoff, windowStart time.Time) (bool, error) {
	query := `
		UPDATE users
		SET weekly_tx_count = 0, weekly_tx_window_start = $3, updated_at = $3
		WHERE id = $1 AND weekly_tx_window_start <= $2
	`

	result, err := r.db.Pool().Exec(ctx, query, userID, cutoff, windowStart)
	if err != nil {
		return false, fmt.Errorf("failed to reset quota window: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// IncrementWeeklyTxCount bumps the weekly counter by one. The increment is a
// single conditional UPDATE keyed by user id, so concurrent requests for the
// same user serialize on the row and no update is lost.
func (r *UserRepository) IncrementWeeklyTxCount(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET weekly_tx_count = weekly_tx_count + 1, updated_at = $2
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to increment weekly tx count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("user", userID)
	}

	return nil
}

// translateUniqueViolation maps a Postgres unique violation to the domain
// conflict error, naming the offending field.
func translateUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}

	field := "data"
	switch {
	case strings.Contains(pgErr.ConstraintName, "address"):
		field = "address"
	case strings.Contains(pgErr.ConstraintName, "talent_layer"):
		field = "talentLayerId"
	case strings.Contains(pgErr.ConstraintName, "email"):
		field = "email"
	}

	return apperrors.NewProfileConflictError(field)
}
