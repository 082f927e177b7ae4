package adapter

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/marketplace-relay/internal/config"
	"github.com/marketplace-relay/internal/types"
)

// Minimal ABI fragments for the three allow-listed write functions and the
// mint fee read. Argument order and selectors are fixed by the deployed
// contracts and must match exactly.

const platformIDABI = `[
	{"type":"function","name":"mintForAddress","stateMutability":"payable",
		"inputs":[{"name":"_platformName","type":"string"},{"name":"_platformAddress","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"mintFee","stateMutability":"view",
		"inputs":[],
		"outputs":[{"name":"","type":"uint256"}]}
]`

const serviceRegistryABI = `[
	{"type":"function","name":"createProposal","stateMutability":"payable",
		"inputs":[
			{"name":"_profileId","type":"uint256"},
			{"name":"_serviceId","type":"uint256"},
			{"name":"_rateToken","type":"address"},
			{"name":"_rateAmount","type":"uint256"},
			{"name":"_platformId","type":"uint256"},
			{"name":"_dataUri","type":"string"},
			{"name":"_expirationDate","type":"uint256"},
			{"name":"_signature","type":"bytes"}],
		"outputs":[]}
]`

const reviewABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable",
		"inputs":[
			{"name":"_profileId","type":"uint256"},
			{"name":"_serviceId","type":"uint256"},
			{"name":"_dataUri","type":"string"},
			{"name":"_rating","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]}
]`

// contractCall describes one allow-listed delegated action: which ABI it
// uses, the method name, and which per-chain contract address it targets.
type contractCall struct {
	abi      *abi.ABI
	method   string
	contract func(config.ChainConfig) string
}

var (
	parsedPlatformIDABI      abi.ABI
	parsedServiceRegistryABI abi.ABI
	parsedReviewABI          abi.ABI

	allowedCalls map[types.ActionKind]contractCall
)

func init() {
	parsedPlatformIDABI = mustParseABI(platformIDABI)
	parsedServiceRegistryABI = mustParseABI(serviceRegistryABI)
	parsedReviewABI = mustParseABI(reviewABI)

	allowedCalls = map[types.ActionKind]contractCall{
		types.ActionMintPlatform: {
			abi:      &parsedPlatformIDABI,
			method:   "mintForAddress",
			contract: func(c config.ChainConfig) string { return c.PlatformIDContract },
		},
		types.ActionCreateProposal: {
			abi:      &parsedServiceRegistryABI,
			method:   "createProposal",
			contract: func(c config.ChainConfig) string { return c.ServiceRegistry },
		},
		types.ActionMintReview: {
			abi:      &parsedReviewABI,
			method:   "mint",
			contract: func(c config.ChainConfig) string { return c.ReviewContract },
		},
	}
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded ABI: %v", err))
	}
	return parsed
}

// callFor returns the allow-listed call for an action, or an error for any
// action outside the fixed set.
func callFor(action types.ActionKind) (contractCall, error) {
	call, ok := allowedCalls[action]
	if !ok {
		return contractCall{}, fmt.Errorf("action %q is not an allow-listed contract call", action)
	}
	return call, nil
}
