package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marketplace-relay/internal/config"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/types"
)

// TxSubmitter is the chain-facing surface the delegate service needs.
// Implemented by adapter.RelaySigner.
type TxSubmitter interface {
	Submit(ctx context.Context, action types.ActionKind, value *big.Int, args ...interface{}) (string, error)
	MintFee(ctx context.Context) (*big.Int, error)
	ProposalOracleSignature(profileID, serviceID *big.Int, cid string) ([]byte, error)
}

// FeeSource resolves a platform's proposal posting fee. Implemented by
// adapter.SubgraphClient.
type FeeSource interface {
	PlatformPostingFee(ctx context.Context, chainID types.ChainID, platformID string) (*big.Int, error)
}

// DelegateService submits contract calls from the server-held wallet on
// behalf of admitted users. Only the three allow-listed actions exist; fees
// are read immediately before each submission so the relayed value matches
// what the contract will charge.
type DelegateService struct {
	signers    map[types.ChainID]TxSubmitter
	authorizer *Authorizer
	quota      *QuotaTracker
	subgraph   FeeSource
	relay      *config.RelayConfig
}

// NewDelegateService creates the delegated submission service. signers is
// keyed by chain id, one relay signer per enabled chain.
func NewDelegateService(
	signers map[types.ChainID]TxSubmitter,
	authorizer *Authorizer,
	quota *QuotaTracker,
	subgraph FeeSource,
	relay *config.RelayConfig,
) *DelegateService {
	return &DelegateService{
		signers:    signers,
		authorizer: authorizer,
		quota:      quota,
		subgraph:   subgraph,
		relay:      relay,
	}
}

// MintPlatformRequest asks the relay to mint a platform identity.
type MintPlatformRequest struct {
	ChainID   types.ChainID `json:"chainId"`
	Address   string        `json:"address"`
	Signature string        `json:"signature"`
	Name      string        `json:"platformName"`
}

// CreateProposalRequest asks the relay to post a proposal on a service.
type CreateProposalRequest struct {
	ChainID        types.ChainID `json:"chainId"`
	UserID         string        `json:"userId"`
	Address        string        `json:"address"`
	Signature      string        `json:"signature"`
	ProfileID      string        `json:"profileId"`
	ServiceID      string        `json:"serviceId"`
	RateToken      string        `json:"rateToken"`
	RateAmount     string        `json:"rateAmount"`
	CID            string        `json:"cid"`
	ExpirationDate string        `json:"expirationDate"`
}

// MintReviewRequest asks the relay to mint a review on a finished service.
type MintReviewRequest struct {
	ChainID   types.ChainID `json:"chainId"`
	UserID    string        `json:"userId"`
	Address   string        `json:"address"`
	Signature string        `json:"signature"`
	ProfileID string        `json:"profileId"`
	ServiceID string        `json:"serviceId"`
	CID       string        `json:"cid"`
	Rating    int64         `json:"rating"`
}

// DelegateResult carries the submitted transaction hash.
type DelegateResult struct {
	TxHash string `json:"id"`
}

// MintPlatform admits and relays a platform identity mint. The mint fee is
// read from the contract just before submission and forwarded as the call
// value.
func (s *DelegateService) MintPlatform(ctx context.Context, req MintPlatformRequest) (*DelegateResult, error) {
	if req.Name == "" {
		return nil, apperrors.NewInvalidInputError("platformName is required")
	}

	if _, err := s.authorizer.Admit(ctx, AdmissionRequest{
		Action:         types.ActionMintPlatform,
		ChainID:        req.ChainID,
		ClaimedAddress: req.Address,
		Signature:      req.Signature,
	}); err != nil {
		return nil, err
	}

	signer, err := s.signerFor(req.ChainID)
	if err != nil {
		return nil, err
	}

	fee, err := signer.MintFee(ctx)
	if err != nil {
		return nil, err
	}

	hash, err := signer.Submit(ctx, types.ActionMintPlatform, fee, req.Name, common.HexToAddress(req.Address))
	if err != nil {
		return nil, err
	}

	return &DelegateResult{TxHash: hash}, nil
}

// CreateProposal admits and relays a proposal creation. The platform's
// posting fee is forwarded as the call value and the call is co-signed by
// the relay's oracle key.
func (s *DelegateService) CreateProposal(ctx context.Context, req CreateProposalRequest) (*DelegateResult, error) {
	profileID, err := parseBigInt("profileId", req.ProfileID)
	if err != nil {
		return nil, err
	}
	serviceID, err := parseBigInt("serviceId", req.ServiceID)
	if err != nil {
		return nil, err
	}
	rateAmount, err := parseBigInt("rateAmount", req.RateAmount)
	if err != nil {
		return nil, err
	}
	expiration, err := parseBigInt("expirationDate", req.ExpirationDate)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(req.RateToken) {
		return nil, apperrors.NewInvalidInputError("rateToken is not a valid address")
	}
	if req.CID == "" {
		return nil, apperrors.NewInvalidInputError("cid is required")
	}

	user, err := s.authorizer.Admit(ctx, AdmissionRequest{
		Action:            types.ActionCreateProposal,
		ChainID:           req.ChainID,
		ClaimedAddress:    req.Address,
		UserID:            req.UserID,
		ClaimedIdentityID: req.ProfileID,
		Signature:         req.Signature,
	})
	if err != nil {
		return nil, err
	}

	signer, err := s.signerFor(req.ChainID)
	if err != nil {
		return nil, err
	}

	postingFee, err := s.subgraph.PlatformPostingFee(ctx, req.ChainID, s.relay.PlatformID)
	if err != nil {
		return nil, err
	}

	oracleSig, err := signer.ProposalOracleSignature(profileID, serviceID, req.CID)
	if err != nil {
		return nil, err
	}

	platformID, err := parseBigInt("platform id", s.relay.PlatformID)
	if err != nil {
		return nil, err
	}

	hash, err := signer.Submit(ctx, types.ActionCreateProposal, postingFee,
		profileID,
		serviceID,
		common.HexToAddress(req.RateToken),
		rateAmount,
		platformID,
		req.CID,
		expiration,
		oracleSig,
	)
	if err != nil {
		return nil, err
	}

	s.countSubmission(ctx, user.ID)

	return &DelegateResult{TxHash: hash}, nil
}

// MintReview admits and relays a review mint.
func (s *DelegateService) MintReview(ctx context.Context, req MintReviewRequest) (*DelegateResult, error) {
	profileID, err := parseBigInt("profileId", req.ProfileID)
	if err != nil {
		return nil, err
	}
	serviceID, err := parseBigInt("serviceId", req.ServiceID)
	if err != nil {
		return nil, err
	}
	if req.Rating < 0 || req.Rating > 5 {
		return nil, apperrors.NewInvalidInputError("rating must be between 0 and 5")
	}
	if req.CID == "" {
		return nil, apperrors.NewInvalidInputError("cid is required")
	}

	user, err := s.authorizer.Admit(ctx, AdmissionRequest{
		Action:            types.ActionMintReview,
		ChainID:           req.ChainID,
		ClaimedAddress:    req.Address,
		UserID:            req.UserID,
		ClaimedIdentityID: req.ProfileID,
		Signature:         req.Signature,
	})
	if err != nil {
		return nil, err
	}

	signer, err := s.signerFor(req.ChainID)
	if err != nil {
		return nil, err
	}

	hash, err := signer.Submit(ctx, types.ActionMintReview, nil,
		profileID,
		serviceID,
		req.CID,
		big.NewInt(req.Rating),
	)
	if err != nil {
		return nil, err
	}

	s.countSubmission(ctx, user.ID)

	return &DelegateResult{TxHash: hash}, nil
}

func (s *DelegateService) signerFor(chainID types.ChainID) (TxSubmitter, error) {
	signer, ok := s.signers[chainID]
	if !ok {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("chain %d is not enabled", chainID))
	}
	return signer, nil
}

// countSubmission charges a submitted transaction against the user's weekly
// quota. The transaction is already on its way, so a failed count is logged
// rather than surfaced: the user must not receive an error for a relay that
// succeeded.
func (s *DelegateService) countSubmission(ctx context.Context, userID string) {
	if err := s.quota.Increment(ctx, userID); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("user_id", userID).Error("Failed to count delegated transaction")
	}
}

func parseBigInt(field, value string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%s must be a non-negative integer", field))
	}
	return parsed, nil
}
