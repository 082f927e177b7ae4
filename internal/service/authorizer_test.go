package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-relay/internal/adapter"
	"github.com/marketplace-relay/internal/config"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

type authFixture struct {
	authorizer *Authorizer
	store      *mockQuotaStore
	address    string
	signature  string
}

func newAuthFixture(t *testing.T, relay *config.RelayConfig, user *models.User) *authFixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	signature, err := adapter.SignMessage(key, adapter.ConnectMessage(address))
	require.NoError(t, err)

	if user != nil {
		user.Address = &address
	}

	store := &mockQuotaStore{user: user, resetResult: true}
	quota := NewQuotaTracker(store, relay.WeeklyTxCeiling)

	return &authFixture{
		authorizer: NewAuthorizer(store, quota, relay),
		store:      store,
		address:    address,
		signature:  signature,
	}
}

func verifiedUser() *models.User {
	return &models.User{
		ID:                  "user-1",
		Email:               "seller@example.com",
		IsEmailVerified:     true,
		Status:              types.StatusValidated,
		WeeklyTxWindowStart: time.Now().Add(-time.Hour),
	}
}

func enabledRelay() *config.RelayConfig {
	return &config.RelayConfig{
		DelegateEnabled: true,
		DelegateMint:    true,
		WeeklyTxCeiling: 50,
	}
}

func assertRejectedWith(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.Categorize(err).Code)
	assert.Equal(t, 401, apperrors.GetHTTPStatusCode(err))
}

func TestAdmit_Success(t *testing.T) {
	f := newAuthFixture(t, enabledRelay(), verifiedUser())

	user, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      f.signature,
	})

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)
}

func TestAdmit_FeatureDisabled(t *testing.T) {
	relay := enabledRelay()
	relay.DelegateEnabled = false
	f := newAuthFixture(t, relay, verifiedUser())

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeFeatureDisabled)
}

func TestAdmit_MintFlagIndependent(t *testing.T) {
	relay := enabledRelay()
	relay.DelegateEnabled = false
	f := newAuthFixture(t, relay, nil)

	// Platform minting has its own flag and is not bound to an account.
	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionMintPlatform,
		ClaimedAddress: f.address,
		Signature:      f.signature,
	})

	assert.NoError(t, err)
}

func TestAdmit_AddressNotAllowListed(t *testing.T) {
	relay := enabledRelay()
	relay.AllowedAddresses = []string{"0x000000000000000000000000000000000000dEaD"}
	f := newAuthFixture(t, relay, verifiedUser())

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeDelegationNotAllowed)
}

func TestAdmit_AllowListIsCaseInsensitive(t *testing.T) {
	relay := enabledRelay()
	f := newAuthFixture(t, relay, verifiedUser())
	relay.AllowedAddresses = []string{"0X" + f.address[2:]}

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      f.signature,
	})

	assert.NoError(t, err)
}

func TestAdmit_InvalidSignature(t *testing.T) {
	f := newAuthFixture(t, enabledRelay(), verifiedUser())

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      "0xdeadbeef",
	})

	assertRejectedWith(t, err, apperrors.CodeInvalidSignature)
}

func TestAdmit_SignerIsNotAccountOwner(t *testing.T) {
	user := verifiedUser()
	f := newAuthFixture(t, enabledRelay(), user)

	// Bind the account to a different wallet than the one that signed.
	other := "0x000000000000000000000000000000000000dEaD"
	user.Address = &other
	f.store.user = user

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeInvalidSignature)
}

func TestAdmit_ClaimedProfileMustBeBoundToAccount(t *testing.T) {
	user := verifiedUser()
	profileID := "5"
	user.TalentLayerID = &profileID
	f := newAuthFixture(t, enabledRelay(), user)

	// Authenticated as user-1, but asking the relay to act as profile 999.
	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:            types.ActionCreateProposal,
		ClaimedAddress:    f.address,
		UserID:            "user-1",
		ClaimedIdentityID: "999",
		Signature:         f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeInvalidSignature)
}

func TestAdmit_ClaimedProfileMatches(t *testing.T) {
	user := verifiedUser()
	profileID := "5"
	user.TalentLayerID = &profileID
	f := newAuthFixture(t, enabledRelay(), user)

	admitted, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:            types.ActionCreateProposal,
		ClaimedAddress:    f.address,
		UserID:            "user-1",
		ClaimedIdentityID: "5",
		Signature:         f.signature,
	})

	require.NoError(t, err)
	assert.Equal(t, "user-1", admitted.ID)
}

func TestAdmit_ClaimedProfileOnUnboundAccount(t *testing.T) {
	// Account never claimed an on-chain profile; it cannot act as any.
	f := newAuthFixture(t, enabledRelay(), verifiedUser())

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:            types.ActionMintReview,
		ClaimedAddress:    f.address,
		UserID:            "user-1",
		ClaimedIdentityID: "5",
		Signature:         f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeInvalidSignature)
}

func TestAdmit_EmailNotVerified(t *testing.T) {
	user := verifiedUser()
	user.IsEmailVerified = false
	f := newAuthFixture(t, enabledRelay(), user)

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeEmailNotVerified)
}

func TestAdmit_QuotaExceeded(t *testing.T) {
	user := verifiedUser()
	user.WeeklyTxCount = 50
	f := newAuthFixture(t, enabledRelay(), user)

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionMintReview,
		ClaimedAddress: f.address,
		UserID:         "user-1",
		Signature:      f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeQuotaExceeded)
}

func TestAdmit_UnknownUser(t *testing.T) {
	f := newAuthFixture(t, enabledRelay(), verifiedUser())

	_, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionCreateProposal,
		ClaimedAddress: f.address,
		UserID:         "user-unknown",
		Signature:      f.signature,
	})

	assertRejectedWith(t, err, apperrors.CodeUnauthorized)
}

func TestAdmit_PlatformMintSkipsAccountChecks(t *testing.T) {
	// No account at all: the signature alone admits a platform mint.
	f := newAuthFixture(t, enabledRelay(), nil)

	user, err := f.authorizer.Admit(context.Background(), AdmissionRequest{
		Action:         types.ActionMintPlatform,
		ClaimedAddress: f.address,
		Signature:      f.signature,
	})

	require.NoError(t, err)
	assert.Nil(t, user)
}
