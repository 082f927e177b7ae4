package adapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"time"

	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/retry"
	"github.com/marketplace-relay/internal/storage"
	"github.com/marketplace-relay/internal/types"
)

// SubgraphClient queries the external indexing service for domain events,
// mail preferences and platform fees. Responses are treated as eventually
// consistent and possibly empty. Reads are idempotent, so they go through a
// bounded retry; preference lookups are cached, fee reads feed transaction
// values and never are.
type SubgraphClient struct {
	endpoints  map[types.ChainID]string
	httpClient *http.Client
	cache      *storage.CacheService
	retryCfg   *retry.Config
}

// NewSubgraphClient creates a new subgraph client. cache may be nil to
// disable caching.
func NewSubgraphClient(endpoints map[types.ChainID]string, cache *storage.CacheService) *SubgraphClient {
	return &SubgraphClient{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
		retryCfg:   retry.DefaultConfig(),
	}
}

// Proposal represents a proposal as indexed by the subgraph.
type Proposal struct {
	ID          string `json:"id"`
	RateToken   string `json:"rateToken"`
	RateAmount  string `json:"rateAmount"`
	Description struct {
		About string `json:"about"`
	} `json:"description"`
	Seller struct {
		ID      string `json:"id"`
		Address string `json:"address"`
		Handle  string `json:"handle"`
	} `json:"seller"`
	Service struct {
		ID          string `json:"id"`
		Description struct {
			Title string `json:"title"`
		} `json:"description"`
		Platform struct {
			Name string `json:"name"`
		} `json:"platform"`
		Buyer struct {
			ID      string `json:"id"`
			Address string `json:"address"`
			Handle  string `json:"handle"`
		} `json:"buyer"`
	} `json:"service"`
}

const proposalFields = `
	id
	rateToken
	rateAmount
	description { about }
	seller { id address handle }
	service {
		id
		description { title }
		platform { name }
		buyer { id address handle }
	}`

// AcceptedProposals returns proposals validated after the watermark for the
// given platform.
func (c *SubgraphClient) AcceptedProposals(ctx context.Context, chainID types.ChainID, platformID string, since time.Time) ([]Proposal, error) {
	query := fmt.Sprintf(`query AcceptedProposals($platformId: ID!, $since: BigInt!) {
		proposals(where: {status: "Validated", platform: $platformId, updatedAt_gt: $since}, orderBy: updatedAt) {%s
		}
	}`, proposalFields)

	return c.queryProposals(ctx, chainID, query, platformID, since)
}

// PendingProposals returns proposals created after the watermark for the
// given platform.
func (c *SubgraphClient) PendingProposals(ctx context.Context, chainID types.ChainID, platformID string, since time.Time) ([]Proposal, error) {
	query := fmt.Sprintf(`query PendingProposals($platformId: ID!, $since: BigInt!) {
		proposals(where: {status: "Pending", platform: $platformId, createdAt_gt: $since}, orderBy: createdAt) {%s
		}
	}`, proposalFields)

	return c.queryProposals(ctx, chainID, query, platformID, since)
}

func (c *SubgraphClient) queryProposals(ctx context.Context, chainID types.ChainID, query, platformID string, since time.Time) ([]Proposal, error) {
	var result struct {
		Proposals []Proposal `json:"proposals"`
	}

	variables := map[string]interface{}{
		"platformId": platformID,
		"since":      fmt.Sprintf("%d", since.Unix()),
	}

	if err := c.query(ctx, chainID, "proposals", query, variables, &result); err != nil {
		return nil, err
	}

	return result.Proposals, nil
}

// MailPreferences returns, for each distinct address, whether the owner
// opted into the preference field (e.g. activeOnProposalValidated). One bulk
// query per call; results are cached briefly.
func (c *SubgraphClient) MailPreferences(ctx context.Context, chainID types.ChainID, emailType types.EmailType, field string, addresses []string) (map[string]bool, error) {
	normalized := normalizeAddresses(addresses)
	if len(normalized) == 0 {
		return map[string]bool{}, nil
	}

	cacheKey := ""
	if c.cache != nil {
		cacheKey = c.cache.PreferencesKey(chainID, emailType, hashAddresses(normalized))
		cached := map[string]bool{}
		if c.cache.Get(ctx, cacheKey, &cached) {
			return cached, nil
		}
	}

	// The preference field is part of the query shape, not user data; it
	// comes from the fixed per-category configuration.
	query := fmt.Sprintf(`query MailPreferences($addresses: [String!]!) {
		userDescriptions(where: {user_: {address_in: $addresses}, %s: true}) {
			user { address }
		}
	}`, field)

	var result struct {
		UserDescriptions []struct {
			User struct {
				Address string `json:"address"`
			} `json:"user"`
		} `json:"userDescriptions"`
	}

	variables := map[string]interface{}{"addresses": normalized}
	if err := c.query(ctx, chainID, "userDescriptions", query, variables, &result); err != nil {
		return nil, err
	}

	optedIn := make(map[string]bool, len(result.UserDescriptions))
	for _, desc := range result.UserDescriptions {
		optedIn[strings.ToLower(desc.User.Address)] = true
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, optedIn)
	}

	return optedIn, nil
}

// PlatformPostingFee returns the platform's proposal posting fee in wei.
// Missing platforms and unset fees read as zero. The fee is forwarded as a
// transaction value, so every call queries the subgraph; serving a cached
// fee would relay the wrong value after a platform changes it.
func (c *SubgraphClient) PlatformPostingFee(ctx context.Context, chainID types.ChainID, platformID string) (*big.Int, error) {
	query := `query PlatformFees($id: ID!) {
		platform(id: $id) { proposalPostingFee }
	}`

	var result struct {
		Platform *struct {
			ProposalPostingFee string `json:"proposalPostingFee"`
		} `json:"platform"`
	}

	variables := map[string]interface{}{"id": platformID}
	if err := c.query(ctx, chainID, "platform", query, variables, &result); err != nil {
		return nil, err
	}

	fee := big.NewInt(0)
	if result.Platform != nil && result.Platform.ProposalPostingFee != "" {
		if parsed, ok := new(big.Int).SetString(result.Platform.ProposalPostingFee, 10); ok {
			fee = parsed
		}
	}

	return fee, nil
}

// graphqlRequest is the standard GraphQL POST body.
type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query executes a GraphQL query with bounded retry and decodes data into dest.
func (c *SubgraphClient) query(ctx context.Context, chainID types.ChainID, name, query string, variables map[string]interface{}, dest interface{}) error {
	endpoint, ok := c.endpoints[chainID]
	if !ok || endpoint == "" {
		return apperrors.NewSubgraphError(name, fmt.Errorf("no subgraph endpoint configured for chain %d", chainID))
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return apperrors.NewInternalError("failed to marshal subgraph query", err)
	}

	err = retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		return c.doQuery(ctx, endpoint, body, dest)
	})
	if err != nil {
		return apperrors.NewSubgraphError(name, err)
	}

	return nil
}

func (c *SubgraphClient) doQuery(ctx context.Context, endpoint string, body []byte, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("subgraph returned status %d: %s", resp.StatusCode, string(payload))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode subgraph response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph error: %s", envelope.Errors[0].Message)
	}

	if len(envelope.Data) == 0 {
		return fmt.Errorf("subgraph response contained no data")
	}

	return json.Unmarshal(envelope.Data, dest)
}

func normalizeAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var normalized []string
	for _, addr := range addresses {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		normalized = append(normalized, addr)
	}
	sort.Strings(normalized)
	return normalized
}

func hashAddresses(addresses []string) string {
	sum := sha256.Sum256([]byte(strings.Join(addresses, ",")))
	return hex.EncodeToString(sum[:8])
}
