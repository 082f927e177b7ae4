package service

import (
	"context"
	"strings"

	"github.com/marketplace-relay/internal/adapter"
	"github.com/marketplace-relay/internal/config"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

// UserStore is the persistence surface the authorizer needs. Implemented by
// storage.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AdmissionRequest carries everything needed to admit one delegated action.
// UserID is empty for platform mints, which are not bound to a marketplace
// account. ClaimedIdentityID is the on-chain profile id the caller wants the
// relay to act as; it must be the id bound to the account.
type AdmissionRequest struct {
	Action            types.ActionKind
	ChainID           types.ChainID
	ClaimedAddress    string
	UserID            string
	ClaimedIdentityID string
	Signature         string
}

// Authorizer runs the fixed admission sequence in front of every delegated
// submission: feature flag, address allow-list, signature and profile
// ownership proof, email verification, weekly quota. Every rejection maps to a 401 with a
// stable code so callers can distinguish causes without leaking internals.
type Authorizer struct {
	users UserStore
	quota *QuotaTracker
	relay *config.RelayConfig
}

// NewAuthorizer creates an authorizer.
func NewAuthorizer(users UserStore, quota *QuotaTracker, relay *config.RelayConfig) *Authorizer {
	return &Authorizer{
		users: users,
		quota: quota,
		relay: relay,
	}
}

// Admit runs all admission checks in order and returns the bound user, or
// nil for account-less platform mints. The checks are ordered cheapest
// first; the quota read is last so disabled features never touch storage.
func (a *Authorizer) Admit(ctx context.Context, req AdmissionRequest) (*models.User, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"action":  string(req.Action),
		"address": req.ClaimedAddress,
	})

	if err := a.checkFeatureFlag(req.Action); err != nil {
		logger.Warn("Delegation rejected: feature disabled")
		return nil, err
	}

	if err := a.checkAllowList(req.ClaimedAddress); err != nil {
		logger.Warn("Delegation rejected: address not allow-listed")
		return nil, err
	}

	if err := a.checkSignature(req.ClaimedAddress, req.Signature); err != nil {
		logger.Warn("Delegation rejected: signature does not recover claimed address")
		return nil, err
	}

	if req.UserID == "" {
		// Platform mints carry no account; identity is the signature alone.
		return nil, nil
	}

	user, err := a.users.GetByID(ctx, req.UserID)
	if err != nil {
		if apperrors.Categorize(err).Category == apperrors.CategoryNotFound {
			return nil, apperrors.NewUnauthorizedError("unknown user")
		}
		return nil, err
	}

	if user.Address == nil || !strings.EqualFold(*user.Address, req.ClaimedAddress) {
		logger.Warn("Delegation rejected: signer is not the account owner")
		return nil, apperrors.NewInvalidSignatureError()
	}

	// The relay wallet is a delegate for many profiles; the caller may only
	// act as the profile bound to their own account.
	if req.ClaimedIdentityID != "" {
		if user.TalentLayerID == nil || *user.TalentLayerID != req.ClaimedIdentityID {
			logger.WithField("claimed_identity", req.ClaimedIdentityID).Warn("Delegation rejected: claimed profile is not bound to the account")
			return nil, apperrors.NewInvalidSignatureError()
		}
	}

	if !user.IsEmailVerified {
		logger.Warn("Delegation rejected: email not verified")
		return nil, apperrors.NewEmailNotVerifiedError()
	}

	if err := a.quota.CheckOrReset(ctx, user.ID); err != nil {
		return nil, err
	}

	return user, nil
}

func (a *Authorizer) checkFeatureFlag(action types.ActionKind) error {
	switch action {
	case types.ActionMintPlatform:
		if !a.relay.DelegateMint {
			return apperrors.NewFeatureDisabledError(string(action))
		}
	default:
		if !a.relay.DelegateEnabled {
			return apperrors.NewFeatureDisabledError(string(action))
		}
	}
	return nil
}

// checkAllowList admits any address when the list is empty; a configured
// list is exhaustive.
func (a *Authorizer) checkAllowList(address string) error {
	if len(a.relay.AllowedAddresses) == 0 {
		return nil
	}
	for _, allowed := range a.relay.AllowedAddresses {
		if strings.EqualFold(allowed, address) {
			return nil
		}
	}
	return apperrors.NewDelegationNotAllowedError(address)
}

func (a *Authorizer) checkSignature(claimedAddress, signature string) error {
	recovered, err := adapter.RecoverAddress(adapter.ConnectMessage(claimedAddress), signature)
	if err != nil {
		return apperrors.NewInvalidSignatureError()
	}
	if !strings.EqualFold(recovered.Hex(), claimedAddress) {
		return apperrors.NewInvalidSignatureError()
	}
	return nil
}
