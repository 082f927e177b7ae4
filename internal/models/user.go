// Package models provides data models for the relay and notification system.
package models

import (
	"time"

	"github.com/marketplace-relay/internal/types"
)

// User represents a marketplace user. Quota fields are owned exclusively by
// the quota tracker; address/talentLayerId/status transitions are owned by
// the profile-claiming flow.
type User struct {
	ID                  string           `json:"id" db:"id"`
	Email               string           `json:"email" db:"email"`
	TalentLayerID       *string          `json:"talentLayerId,omitempty" db:"talent_layer_id"`
	Address             *string          `json:"address,omitempty" db:"address"`
	IsEmailVerified     bool             `json:"isEmailVerified" db:"is_email_verified"`
	WeeklyTxCount       int              `json:"weeklyTxCount" db:"weekly_tx_count"`
	WeeklyTxWindowStart time.Time        `json:"weeklyTxWindowStart" db:"weekly_tx_window_start"`
	Status              types.UserStatus `json:"status" db:"status"`
	CreatedAt           time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time        `json:"updatedAt" db:"updated_at"`
}

// HasAddress reports whether the user has a linked wallet address.
func (u *User) HasAddress() bool {
	return u.Address != nil && *u.Address != ""
}
