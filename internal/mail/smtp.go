package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/marketplace-relay/internal/config"
	apperrors "github.com/marketplace-relay/internal/errors"
)

// SMTPProvider delivers messages over plain SMTP with optional auth.
type SMTPProvider struct {
	addr   string
	auth   smtp.Auth
	sender string
}

// NewSMTPProvider creates an SMTP provider from the mail configuration.
func NewSMTPProvider(cfg *config.MailConfig) *SMTPProvider {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}

	return &SMTPProvider{
		addr:   fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth:   auth,
		sender: cfg.SMTPSender,
	}
}

// Name implements Provider.
func (p *SMTPProvider) Name() string { return "smtp" }

// Send implements Provider. net/smtp has no context support, so the
// configured send timeout applies through the caller's context deadline
// only between messages, not within a single SMTP exchange.
func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.Recipients) == 0 {
		return apperrors.NewInvalidInputError("message has no recipients")
	}

	payload := buildRFC822(p.sender, msg)
	if err := smtp.SendMail(p.addr, p.auth, p.sender, msg.Recipients, payload); err != nil {
		return apperrors.NewProviderError(p.Name(), err)
	}

	return nil
}

func buildRFC822(sender string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
