package mail

import (
	"context"
	"fmt"

	"github.com/marketplace-relay/internal/config"
	"github.com/marketplace-relay/internal/types"
)

// Provider delivers a rendered message to its recipients. Implementations
// must be safe for concurrent use; the dispatcher sends from a worker pool.
type Provider interface {
	// Name identifies the provider in logs and error details.
	Name() string
	// Send delivers the message. A non-nil error means the message may or
	// may not have reached the recipient; callers must treat delivery as
	// unconfirmed and not record it as sent.
	Send(ctx context.Context, msg Message) error
}

// NewProvider builds the provider selected by the mail configuration.
func NewProvider(cfg *config.MailConfig) (Provider, error) {
	switch cfg.Mode {
	case types.ModeWeb2:
		return NewSMTPProvider(cfg), nil
	case types.ModeWeb3:
		return NewWeb3Provider(cfg)
	default:
		return nil, fmt.Errorf("unknown mail mode %q", cfg.Mode)
	}
}
