package service

import (
	"context"
	"strings"
	"time"

	"github.com/marketplace-relay/internal/adapter"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/types"
)

// EventSource fetches the raw events for one notification category since a
// watermark. Sources over-fetch on boundary overlap; dedup downstream keeps
// delivery single.
type EventSource interface {
	Fetch(ctx context.Context, emailType types.EmailType, since time.Time) ([]types.NotificationEvent, error)
}

// PreferenceFilter drops events whose recipients have not opted into the
// category.
type PreferenceFilter interface {
	Filter(ctx context.Context, emailType types.EmailType, events []types.NotificationEvent) ([]types.NotificationEvent, error)
}

// preferenceFields maps each category to its opt-in field on the indexed
// user description.
var preferenceFields = map[types.EmailType]string{
	types.EmailProposalValidated: "activeOnProposalValidated",
	types.EmailNewProposal:       "activeOnNewProposal",
}

// SubgraphSource reads events and recipient preferences from the indexing
// service for one chain and platform.
type SubgraphSource struct {
	client     *adapter.SubgraphClient
	chainID    types.ChainID
	platformID string
}

// NewSubgraphSource creates a source bound to one chain and platform.
func NewSubgraphSource(client *adapter.SubgraphClient, chainID types.ChainID, platformID string) *SubgraphSource {
	return &SubgraphSource{
		client:     client,
		chainID:    chainID,
		platformID: platformID,
	}
}

// Fetch implements EventSource.
func (s *SubgraphSource) Fetch(ctx context.Context, emailType types.EmailType, since time.Time) ([]types.NotificationEvent, error) {
	switch emailType {
	case types.EmailProposalValidated:
		proposals, err := s.client.AcceptedProposals(ctx, s.chainID, s.platformID, since)
		if err != nil {
			return nil, err
		}
		return sellerEvents(proposals), nil
	case types.EmailNewProposal:
		proposals, err := s.client.PendingProposals(ctx, s.chainID, s.platformID, since)
		if err != nil {
			return nil, err
		}
		return buyerEvents(proposals), nil
	default:
		return nil, apperrors.NewInvalidInputError("unknown email type " + string(emailType))
	}
}

// Filter implements PreferenceFilter with one bulk preference query per run.
func (s *SubgraphSource) Filter(ctx context.Context, emailType types.EmailType, events []types.NotificationEvent) ([]types.NotificationEvent, error) {
	field, ok := preferenceFields[emailType]
	if !ok {
		return nil, apperrors.NewInvalidInputError("unknown email type " + string(emailType))
	}

	addresses := make([]string, 0, len(events))
	for _, event := range events {
		addresses = append(addresses, event.RecipientAddress)
	}

	optedIn, err := s.client.MailPreferences(ctx, s.chainID, emailType, field, addresses)
	if err != nil {
		return nil, err
	}

	filtered := make([]types.NotificationEvent, 0, len(events))
	for _, event := range events {
		if optedIn[strings.ToLower(event.RecipientAddress)] {
			filtered = append(filtered, event)
		}
	}

	return filtered, nil
}

// sellerEvents notifies the proposal's seller that the buyer accepted.
func sellerEvents(proposals []adapter.Proposal) []types.NotificationEvent {
	events := make([]types.NotificationEvent, 0, len(proposals))
	for _, p := range proposals {
		events = append(events, types.NotificationEvent{
			EntityID:           p.ID,
			RecipientAddress:   p.Seller.Address,
			RecipientHandle:    p.Seller.Handle,
			ServiceID:          p.Service.ID,
			ServiceTitle:       p.Service.Description.Title,
			CounterpartyHandle: p.Service.Buyer.Handle,
			Amount:             p.RateAmount,
			About:              p.Description.About,
			PlatformName:       p.Service.Platform.Name,
		})
	}
	return events
}

// buyerEvents notifies the service's buyer that a proposal arrived.
func buyerEvents(proposals []adapter.Proposal) []types.NotificationEvent {
	events := make([]types.NotificationEvent, 0, len(proposals))
	for _, p := range proposals {
		events = append(events, types.NotificationEvent{
			EntityID:           p.ID,
			RecipientAddress:   p.Service.Buyer.Address,
			RecipientHandle:    p.Service.Buyer.Handle,
			ServiceID:          p.Service.ID,
			ServiceTitle:       p.Service.Description.Title,
			CounterpartyHandle: p.Seller.Handle,
			Amount:             p.RateAmount,
			About:              p.Description.About,
			PlatformName:       p.Service.Platform.Name,
		})
	}
	return events
}
