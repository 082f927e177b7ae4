// Package adapter provides blockchain and indexing-service access for the
// relay and the notification dispatcher.
package adapter

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMalformedSignature marks a signature that cannot be decoded or is not
// the expected 65 bytes.
var ErrMalformedSignature = errors.New("malformed signature")

// ConnectMessage builds the canonical message a user signs to prove address
// ownership. The scheme binds nothing but the address; replay concerns are
// the caller's to weigh.
func ConnectMessage(address string) string {
	return "connect with " + address
}

// RecoverAddress recovers the address that produced an EIP-191 personal
// signature over message. It accepts a hex-encoded (0x-prefixed or bare) or
// raw 65-byte signature and normalizes recovery ids of 27/28. Fully offline;
// no network access.
func RecoverAddress(message string, signature string) (common.Address, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}

	hash := accounts.TextHash([]byte(message))
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// SignMessage produces an EIP-191 personal signature over message with the
// recovery id offset to the 27/28 convention expected by contracts and
// RecoverAddress.
func SignMessage(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27

	return "0x" + hex.EncodeToString(sig), nil
}

// SignDigest signs a pre-computed 32-byte digest, returning the raw 65-byte
// signature with the recovery id offset to 27/28. Used for the server-side
// oracle signature embedded in proposal submissions.
func SignDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[64] += 27

	return sig, nil
}

// decodeSignature normalizes a signature into the 65-byte [R || S || V] form
// with V in {0, 1} that go-ethereum's recovery expects.
func decodeSignature(signature string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex encoded", ErrMalformedSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}

	// Clients produce V as 27/28 per the Ethereum JSON-RPC convention.
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] != 0 && normalized[64] != 1 {
		return nil, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, sig[64])
	}

	return normalized, nil
}
