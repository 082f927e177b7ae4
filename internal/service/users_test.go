package service

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-relay/internal/adapter"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

type mockUserLifecycleStore struct {
	created  *models.User
	claimed  bool
	verified bool
}

func (m *mockUserLifecycleStore) Create(ctx context.Context, user *models.User) error {
	user.ID = "user-1"
	m.created = user
	return nil
}

func (m *mockUserLifecycleStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	return nil, apperrors.NewNotFoundError("user", id)
}

func (m *mockUserLifecycleStore) ClaimProfile(ctx context.Context, userID, address, talentLayerID string) (*models.User, error) {
	m.claimed = true
	return &models.User{
		ID:            userID,
		Address:       &address,
		TalentLayerID: &talentLayerID,
		Status:        types.StatusValidated,
	}, nil
}

func (m *mockUserLifecycleStore) SetEmailVerified(ctx context.Context, userID string) error {
	m.verified = true
	return nil
}

func TestRegister(t *testing.T) {
	store := &mockUserLifecycleStore{}
	users := NewUserService(store)

	user, err := users.Register(context.Background(), "  Carol@Example.com ")
	require.NoError(t, err)

	assert.Equal(t, "carol@example.com", user.Email)
	assert.Equal(t, types.StatusPending, user.Status)
	require.NotNil(t, store.created)
}

func TestRegister_RejectsBadEmail(t *testing.T) {
	users := NewUserService(&mockUserLifecycleStore{})

	_, err := users.Register(context.Background(), "not-an-email")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.Categorize(err).Code)
}

func TestValidateProfile(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	signature, err := adapter.SignMessage(key, adapter.ConnectMessage(address))
	require.NoError(t, err)

	store := &mockUserLifecycleStore{}
	users := NewUserService(store)

	user, err := users.ValidateProfile(context.Background(), "user-1", address, "42", signature)
	require.NoError(t, err)

	assert.True(t, store.claimed)
	assert.Equal(t, types.StatusValidated, user.Status)
}

func TestValidateProfile_WrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	// Signature covers a different address than the one being claimed.
	signature, err := adapter.SignMessage(key, adapter.ConnectMessage("0x000000000000000000000000000000000000dEaD"))
	require.NoError(t, err)

	store := &mockUserLifecycleStore{}
	users := NewUserService(store)

	_, err = users.ValidateProfile(context.Background(), "user-1", address, "42", signature)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidSignature, apperrors.Categorize(err).Code)
	assert.False(t, store.claimed)
}
