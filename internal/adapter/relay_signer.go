package adapter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/marketplace-relay/internal/config"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/types"
)

// RelaySigner holds the server-controlled credential for one chain and
// submits allow-listed write calls on behalf of admitted users. It returns
// the transaction hash without waiting for confirmation; confirmation, when
// needed, is the caller's responsibility.
type RelaySigner struct {
	chainID  *big.Int
	chainCfg config.ChainConfig
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	address  common.Address
	timeout  time.Duration
}

// NewRelaySigner creates a signer for one chain from the hex-encoded relay key.
func NewRelaySigner(chain types.ChainID, chainCfg config.ChainConfig, privateKeyHex string, timeout time.Duration) (*RelaySigner, error) {
	if chainCfg.RPCURL == "" {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %d", chain)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay private key: %w", err)
	}

	client, err := ethclient.Dial(chainCfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC %s: %w", chainCfg.RPCURL, err)
	}

	return &RelaySigner{
		chainID:  big.NewInt(int64(chain)),
		chainCfg: chainCfg,
		client:   client,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		timeout:  timeout,
	}, nil
}

// Address returns the relay wallet address.
func (s *RelaySigner) Address() common.Address {
	return s.address
}

// Submit packs and sends exactly one write call for an allow-listed action,
// attaching value as the on-chain fee. It returns the transaction hash as
// soon as the node accepts the transaction.
func (s *RelaySigner) Submit(ctx context.Context, action types.ActionKind, value *big.Int, args ...interface{}) (string, error) {
	call, err := callFor(action)
	if err != nil {
		return "", apperrors.NewInternalError("relay misuse", err)
	}

	contractHex := call.contract(s.chainCfg)
	if !common.IsHexAddress(contractHex) {
		return "", apperrors.NewInternalError(
			fmt.Sprintf("no contract configured for action %s on chain %s", action, s.chainID), nil)
	}
	contract := common.HexToAddress(contractHex)

	input, err := call.abi.Pack(call.method, args...)
	if err != nil {
		return "", apperrors.NewInternalError("failed to pack contract call", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", apperrors.NewRPCUnavailableError(err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", apperrors.NewRPCUnavailableError(err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	msg := ethereum.CallMsg{
		From:  s.address,
		To:    &contract,
		Value: value,
		Data:  input,
	}

	gasLimit, err := s.client.EstimateGas(ctx, msg)
	if err != nil {
		return "", classifyCallError(err, string(action))
	}
	// Headroom over the estimate; unused gas is refunded.
	gasLimit += gasLimit / 5

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &contract,
		Value:    value,
		Data:     input,
	})

	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return "", apperrors.NewInternalError("failed to sign transaction", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", classifyCallError(err, string(action))
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"action": action,
		"tx":     signedTx.Hash().Hex(),
		"to":     contract.Hex(),
	}).Info("Relay transaction submitted")

	return signedTx.Hash().Hex(), nil
}

// MintFee reads the current platform mint fee from the identity contract.
// Called immediately before submission so the fee is never stale.
func (s *RelaySigner) MintFee(ctx context.Context) (*big.Int, error) {
	contractHex := s.chainCfg.PlatformIDContract
	if !common.IsHexAddress(contractHex) {
		return nil, apperrors.NewInternalError("no platform identity contract configured", nil)
	}
	contract := common.HexToAddress(contractHex)

	input, err := parsedPlatformIDABI.Pack("mintFee")
	if err != nil {
		return nil, apperrors.NewInternalError("failed to pack mintFee call", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	output, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, apperrors.NewRPCUnavailableError(err)
	}

	results, err := parsedPlatformIDABI.Unpack("mintFee", output)
	if err != nil || len(results) != 1 {
		return nil, apperrors.NewInternalError("failed to decode mintFee result", err)
	}

	fee, ok := results[0].(*big.Int)
	if !ok {
		return nil, apperrors.NewInternalError("unexpected mintFee result type", nil)
	}

	return fee, nil
}

// ProposalOracleSignature produces the server-side signature the service
// registry verifies on proposal creation, over
// keccak256("createProposal" || profileId || serviceId || cid).
func (s *RelaySigner) ProposalOracleSignature(profileID, serviceID *big.Int, cid string) ([]byte, error) {
	digest := crypto.Keccak256(
		[]byte("createProposal"),
		math.U256Bytes(new(big.Int).Set(profileID)),
		math.U256Bytes(new(big.Int).Set(serviceID)),
		[]byte(cid),
	)

	return SignDigest(s.key, digest)
}

// Close releases the underlying RPC connection.
func (s *RelaySigner) Close() {
	s.client.Close()
}

// classifyCallError maps node errors to the relay failure taxonomy. Revert
// reasons mentioning access control map to the fatal role misconfiguration.
func classifyCallError(err error, action string) error {
	msg := err.Error()

	if strings.Contains(msg, "execution reverted") {
		reason := ""
		if idx := strings.Index(msg, "execution reverted:"); idx >= 0 {
			reason = strings.TrimSpace(msg[idx+len("execution reverted:"):])
		}

		lower := strings.ToLower(reason)
		if strings.Contains(lower, "accesscontrol") || strings.Contains(lower, "missing role") {
			return apperrors.NewInsufficientRoleError(action)
		}

		return apperrors.NewContractRevertError(reason, err)
	}

	return apperrors.NewRPCUnavailableError(err)
}
