package mail

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/marketplace-relay/internal/adapter"
	"github.com/marketplace-relay/internal/config"
	apperrors "github.com/marketplace-relay/internal/errors"
)

// Web3Provider delivers messages through the encrypted mail gateway. The
// gateway resolves wallet addresses to opted-in inboxes, so recipients here
// are addresses, not email addresses. Each request is authenticated with a
// platform signature over the payload.
type Web3Provider struct {
	gatewayURL string
	httpClient *http.Client
	signer     *ecdsa.PrivateKey
	address    string
}

// NewWeb3Provider creates a gateway-backed provider from the mail
// configuration.
func NewWeb3Provider(cfg *config.MailConfig) (*Web3Provider, error) {
	if cfg.Web3GatewayURL == "" {
		return nil, fmt.Errorf("web3 mail gateway URL is not configured")
	}

	key, err := crypto.HexToECDSA(cfg.Web3PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid web3 mail platform key: %w", err)
	}

	return &Web3Provider{
		gatewayURL: cfg.Web3GatewayURL,
		httpClient: &http.Client{Timeout: cfg.SendTimeout},
		signer:     key,
		address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Name implements Provider.
func (p *Web3Provider) Name() string { return "web3mail" }

type gatewayRequest struct {
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Content   string   `json:"content"`
	Sender    string   `json:"sender"`
	Signature string   `json:"signature"`
}

// Send implements Provider.
func (p *Web3Provider) Send(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return apperrors.NewInvalidInputError("message has no recipients")
	}

	signature, err := adapter.SignMessage(p.signer, msg.Subject+"\n"+msg.Body)
	if err != nil {
		return apperrors.NewProviderError(p.Name(), err)
	}

	payload := gatewayRequest{
		To:        msg.Recipients,
		Subject:   msg.Subject,
		Content:   msg.Body,
		Sender:    p.address,
		Signature: signature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewProviderError(p.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewProviderError(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.NewProviderError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.NewProviderError(p.Name(), fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(detail)))
	}

	return nil
}
