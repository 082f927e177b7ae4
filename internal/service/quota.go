// Package service implements the delegated relay admission and submission
// flow and the notification dispatch pipeline.
package service

import (
	"context"
	"time"

	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/models"
)

// quotaWindow is the fixed length of a delegated-transaction counting window.
const quotaWindow = 7 * 24 * time.Hour

// QuotaStore is the persistence surface the tracker needs. Implemented by
// storage.UserRepository.
type QuotaStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ResetQuotaWindow(ctx context.Context, userID string, cutoff, windowStart time.Time) (bool, error)
	IncrementWeeklyTxCount(ctx context.Context, userID string) error
}

// QuotaTracker enforces the weekly delegated-transaction ceiling. Windows
// roll forward lazily on first use after expiry; the reset is a conditional
// update so concurrent callers cannot double-reset.
type QuotaTracker struct {
	store   QuotaStore
	ceiling int
	now     func() time.Time
}

// NewQuotaTracker creates a tracker with the given ceiling. ceiling <= 0
// disables the quota entirely.
func NewQuotaTracker(store QuotaStore, ceiling int) *QuotaTracker {
	return &QuotaTracker{
		store:   store,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// CheckOrReset re-reads the user, rolling the window if it expired, and
// returns the user's effective count for this window. A count at or above
// the ceiling yields a quota error.
func (t *QuotaTracker) CheckOrReset(ctx context.Context, userID string) error {
	if t.ceiling <= 0 {
		return nil
	}

	user, err := t.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	now := t.now()
	count := user.WeeklyTxCount

	if now.Sub(user.WeeklyTxWindowStart) >= quotaWindow {
		reset, err := t.store.ResetQuotaWindow(ctx, userID, user.WeeklyTxWindowStart, now)
		if err != nil {
			return err
		}
		if reset {
			logging.FromContext(ctx).WithField("user_id", userID).Debug("Weekly quota window rolled")
			count = 0
		} else {
			// Lost the race to another request; re-read for the fresh count.
			user, err = t.store.GetByID(ctx, userID)
			if err != nil {
				return err
			}
			count = user.WeeklyTxCount
		}
	}

	if count >= t.ceiling {
		return apperrors.NewQuotaExceededError(count, t.ceiling)
	}

	return nil
}

// Increment counts one successfully submitted transaction against the
// current window. Callers invoke this only after the relay confirms
// submission.
func (t *QuotaTracker) Increment(ctx context.Context, userID string) error {
	if t.ceiling <= 0 {
		return nil
	}
	return t.store.IncrementWeeklyTxCount(ctx, userID)
}
