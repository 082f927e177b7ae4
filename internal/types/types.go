// Package types provides common type definitions for the delegation relay
// and notification dispatch subsystems.
package types

// ChainID represents supported blockchain networks, keyed by numeric network id.
type ChainID int64

const (
	// ChainPolygon represents the Polygon PoS network
	ChainPolygon ChainID = 137
	// ChainMumbai represents the Polygon Mumbai testnet
	ChainMumbai ChainID = 80001
	// ChainIExec represents the iExec sidechain used by the web3 mail gateway
	ChainIExec ChainID = 134
	// ChainLocal represents a local development network
	ChainLocal ChainID = 1337
)

// UserStatus represents the lifecycle state of a marketplace user.
type UserStatus string

const (
	// StatusPending represents a user created at signup, ownership unproven
	StatusPending UserStatus = "PENDING"
	// StatusValidated represents a user whose address ownership was proven by signature
	StatusValidated UserStatus = "VALIDATED"
)

// ActionKind identifies a delegated contract action.
type ActionKind string

const (
	// ActionMintPlatform mints a platform identity for an address
	ActionMintPlatform ActionKind = "mint-platform"
	// ActionCreateProposal posts a proposal against an open service
	ActionCreateProposal ActionKind = "create-proposal"
	// ActionMintReview mints a review for a finished service
	ActionMintReview ActionKind = "mint-review"
)

// EmailType identifies a notification category. One dispatch run covers
// exactly one email type, and dedup records are keyed by it.
type EmailType string

const (
	// EmailProposalValidated notifies a seller that their proposal was accepted
	EmailProposalValidated EmailType = "PROPOSAL_VALIDATED"
	// EmailNewProposal notifies a buyer that a new proposal was posted on their service
	EmailNewProposal EmailType = "NEW_PROPOSAL"
)

// NotificationMode selects the mail transport family.
type NotificationMode string

const (
	// ModeWeb3 routes mail through the encrypted, blockchain-gated gateway
	ModeWeb3 NotificationMode = "web3"
	// ModeWeb2 routes mail through plain SMTP
	ModeWeb2 NotificationMode = "web2"
)

// NotificationEvent is a single occurrence that may produce one email. The
// entity id doubles as the dedup key together with the email type.
type NotificationEvent struct {
	EntityID           string `json:"entityId"`
	RecipientAddress   string `json:"recipientAddress"`
	RecipientHandle    string `json:"recipientHandle"`
	ServiceID          string `json:"serviceId"`
	ServiceTitle       string `json:"serviceTitle"`
	CounterpartyHandle string `json:"counterpartyHandle"`
	Amount             string `json:"amount"`
	About              string `json:"about"`
	PlatformName       string `json:"platformName"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
