package service

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-relay/internal/adapter"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/types"
)

type mockSubmitter struct {
	submits   int
	submitErr error
	hash      string
	mintFee   *big.Int
	lastValue *big.Int
	lastArgs  []interface{}
}

func (m *mockSubmitter) Submit(ctx context.Context, action types.ActionKind, value *big.Int, args ...interface{}) (string, error) {
	m.submits++
	m.lastValue = value
	m.lastArgs = args
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return m.hash, nil
}

func (m *mockSubmitter) MintFee(ctx context.Context) (*big.Int, error) {
	return m.mintFee, nil
}

func (m *mockSubmitter) ProposalOracleSignature(profileID, serviceID *big.Int, cid string) ([]byte, error) {
	return []byte{0x01}, nil
}

type mockFeeSource struct {
	fee   *big.Int
	reads int
}

func (m *mockFeeSource) PlatformPostingFee(ctx context.Context, chainID types.ChainID, platformID string) (*big.Int, error) {
	m.reads++
	return m.fee, nil
}

type delegateFixture struct {
	service   *DelegateService
	store     *mockQuotaStore
	submitter *mockSubmitter
	fees      *mockFeeSource
	address   string
	signature string
}

func newDelegateFixture(t *testing.T) *delegateFixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	signature, err := adapter.SignMessage(key, adapter.ConnectMessage(address))
	require.NoError(t, err)

	user := verifiedUser()
	profileID := "5"
	user.TalentLayerID = &profileID
	user.Address = &address

	relay := enabledRelay()
	relay.PlatformID = "4"

	store := &mockQuotaStore{user: user, resetResult: true}
	quota := NewQuotaTracker(store, relay.WeeklyTxCeiling)
	submitter := &mockSubmitter{hash: "0xabc123", mintFee: big.NewInt(0)}
	fees := &mockFeeSource{fee: big.NewInt(12345)}

	return &delegateFixture{
		service: NewDelegateService(
			map[types.ChainID]TxSubmitter{types.ChainPolygon: submitter},
			NewAuthorizer(store, quota, relay),
			quota,
			fees,
			relay,
		),
		store:     store,
		submitter: submitter,
		fees:      fees,
		address:   address,
		signature: signature,
	}
}

func (f *delegateFixture) proposalRequest() CreateProposalRequest {
	return CreateProposalRequest{
		ChainID:        types.ChainPolygon,
		UserID:         "user-1",
		Address:        f.address,
		Signature:      f.signature,
		ProfileID:      "5",
		ServiceID:      "12",
		RateToken:      "0x0000000000000000000000000000000000000000",
		RateAmount:     "1000000000000000000",
		CID:            "QmProposalData",
		ExpirationDate: "1700000000",
	}
}

func (f *delegateFixture) reviewRequest() MintReviewRequest {
	return MintReviewRequest{
		ChainID:   types.ChainPolygon,
		UserID:    "user-1",
		Address:   f.address,
		Signature: f.signature,
		ProfileID: "5",
		ServiceID: "12",
		CID:       "QmReviewData",
		Rating:    5,
	}
}

func TestCreateProposal_CountsExactlyOneSubmission(t *testing.T) {
	f := newDelegateFixture(t)

	result, err := f.service.CreateProposal(context.Background(), f.proposalRequest())

	require.NoError(t, err)
	assert.Equal(t, "0xabc123", result.TxHash)
	assert.Equal(t, 1, f.submitter.submits)
	assert.Equal(t, 1, f.store.increments, "a submitted transaction is charged exactly once")
}

func TestCreateProposal_FailedSubmitIsNotCharged(t *testing.T) {
	f := newDelegateFixture(t)
	f.submitter.submitErr = apperrors.NewRPCUnavailableError(fmt.Errorf("connection refused"))

	_, err := f.service.CreateProposal(context.Background(), f.proposalRequest())

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeRPCUnavailable, apperrors.Categorize(err).Code)
	assert.Equal(t, 1, f.submitter.submits)
	assert.Equal(t, 0, f.store.increments, "nothing was relayed, nothing is charged")
}

func TestCreateProposal_ForwardsFreshPostingFee(t *testing.T) {
	f := newDelegateFixture(t)

	_, err := f.service.CreateProposal(context.Background(), f.proposalRequest())

	require.NoError(t, err)
	assert.Equal(t, 1, f.fees.reads)
	require.NotNil(t, f.submitter.lastValue)
	assert.Equal(t, "12345", f.submitter.lastValue.String())
	assert.Len(t, f.submitter.lastArgs, 8, "createProposal carries eight arguments")
}

func TestCreateProposal_RejectsForeignProfile(t *testing.T) {
	f := newDelegateFixture(t)

	// Valid signature over the caller's own wallet, but the proposal names
	// a profile id belonging to someone else.
	req := f.proposalRequest()
	req.ProfileID = "999"

	_, err := f.service.CreateProposal(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidSignature, apperrors.Categorize(err).Code)
	assert.Equal(t, 0, f.submitter.submits, "nothing may reach the chain for a foreign profile")
	assert.Equal(t, 0, f.store.increments)
}

func TestMintReview_CountsExactlyOneSubmission(t *testing.T) {
	f := newDelegateFixture(t)

	result, err := f.service.MintReview(context.Background(), f.reviewRequest())

	require.NoError(t, err)
	assert.Equal(t, "0xabc123", result.TxHash)
	assert.Equal(t, 1, f.store.increments)
}

func TestMintReview_RejectsForeignProfile(t *testing.T) {
	f := newDelegateFixture(t)

	req := f.reviewRequest()
	req.ProfileID = "999"

	_, err := f.service.MintReview(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidSignature, apperrors.Categorize(err).Code)
	assert.Equal(t, 0, f.submitter.submits)
	assert.Equal(t, 0, f.store.increments)
}

func TestMintReview_FailedSubmitIsNotCharged(t *testing.T) {
	f := newDelegateFixture(t)
	f.submitter.submitErr = apperrors.NewContractRevertError("execution reverted", nil)

	_, err := f.service.MintReview(context.Background(), f.reviewRequest())

	require.Error(t, err)
	assert.Equal(t, 0, f.store.increments)
}
