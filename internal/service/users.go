package service

import (
	"context"
	"strings"
	"time"

	"github.com/marketplace-relay/internal/adapter"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

// UserLifecycleStore is the persistence surface for account management.
// Implemented by storage.UserRepository.
type UserLifecycleStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	ClaimProfile(ctx context.Context, userID, address, talentLayerID string) (*models.User, error)
	SetEmailVerified(ctx context.Context, userID string) error
}

// UserService manages the account lifecycle: signup creates a pending
// account, validation binds it to an on-chain identity once ownership is
// proven by signature.
type UserService struct {
	store UserLifecycleStore
}

// NewUserService creates a user service.
func NewUserService(store UserLifecycleStore) *UserService {
	return &UserService{store: store}
}

// Register creates a pending account for the given email.
func (s *UserService) Register(ctx context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.NewInvalidInputError("a valid email is required")
	}

	now := time.Now()
	user := &models.User{
		Email:               email,
		Status:              types.StatusPending,
		WeeklyTxWindowStart: now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// ValidateProfile proves address ownership and binds the account to its
// on-chain identity. Only one validated account may hold a given address or
// identity; conflicts surface as 409s from storage.
func (s *UserService) ValidateProfile(ctx context.Context, userID, address, talentLayerID, signature string) (*models.User, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidInputError("userId is required")
	}
	if talentLayerID == "" {
		return nil, apperrors.NewInvalidInputError("talentLayerId is required")
	}

	recovered, err := adapter.RecoverAddress(adapter.ConnectMessage(address), signature)
	if err != nil || !strings.EqualFold(recovered.Hex(), address) {
		return nil, apperrors.NewInvalidSignatureError()
	}

	return s.store.ClaimProfile(ctx, userID, strings.ToLower(address), talentLayerID)
}

// VerifyEmail marks the account's email as verified.
func (s *UserService) VerifyEmail(ctx context.Context, userID string) error {
	return s.store.SetEmailVerified(ctx, userID)
}
