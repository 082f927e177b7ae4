package models

import (
	"time"

	"github.com/marketplace-relay/internal/types"
)

// NotificationRecord is the append-only dedup marker proving that the
// notification for (SubjectEntityID, EmailType) was already sent. Records are
// never overwritten.
type NotificationRecord struct {
	ID              string          `json:"id" db:"id"`
	SubjectEntityID string          `json:"subjectEntityId" db:"subject_entity_id"`
	EmailType       types.EmailType `json:"emailType" db:"email_type"`
	SentAt          time.Time       `json:"sentAt" db:"sent_at"`
}

// CronProbe is the per-emailType checkpoint of the last scheduled dispatch
// run, upserted once per run and used to compute the next lookback window.
type CronProbe struct {
	EmailType   types.EmailType `json:"emailType" db:"email_type"`
	LastRanAt   time.Time       `json:"lastRanAt" db:"last_ran_at"`
	SentCount   int             `json:"sentCount" db:"sent_count"`
	FailedCount int             `json:"failedCount" db:"failed_count"`
	DurationMs  int64           `json:"durationMs" db:"duration_ms"`
}
