package mail

import (
	"fmt"
	"strings"

	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/types"
)

// Renderer builds the subject and body for a notification event. Rendering
// is deterministic: the same event always yields the same message.
type Renderer struct {
	domain string
}

// NewRenderer creates a renderer. domain is the marketplace base URL used
// for links, without a trailing slash.
func NewRenderer(domain string) *Renderer {
	return &Renderer{domain: strings.TrimRight(domain, "/")}
}

// Render produces the message for a single event of the given type.
func (r *Renderer) Render(emailType types.EmailType, event types.NotificationEvent) (Message, error) {
	switch emailType {
	case types.EmailProposalValidated:
		return r.renderProposalValidated(event), nil
	case types.EmailNewProposal:
		return r.renderNewProposal(event), nil
	default:
		return Message{}, apperrors.NewInvalidInputError(fmt.Sprintf("unknown email type %q", emailType))
	}
}

func (r *Renderer) renderProposalValidated(event types.NotificationEvent) Message {
	subject := fmt.Sprintf("Your proposal on %s was accepted", event.ServiceTitle)
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"%s accepted your proposal for the work \"%s\".\n\n"+
			"Amount: %s\n\n"+
			"Open the work to get started:\n%s\n\n"+
			"— %s",
		event.RecipientHandle,
		event.CounterpartyHandle,
		event.ServiceTitle,
		event.Amount,
		r.serviceLink(event.ServiceID),
		event.PlatformName,
	)

	return Message{Subject: subject, Body: body}
}

func (r *Renderer) renderNewProposal(event types.NotificationEvent) Message {
	subject := fmt.Sprintf("New proposal on %s", event.ServiceTitle)
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"%s sent a proposal for your work \"%s\".\n\n"+
			"Amount: %s\n\n"+
			"%s\n\n"+
			"Review the proposal here:\n%s\n\n"+
			"— %s",
		event.RecipientHandle,
		event.CounterpartyHandle,
		event.ServiceTitle,
		event.Amount,
		event.About,
		r.serviceLink(event.ServiceID),
		event.PlatformName,
	)

	return Message{Subject: subject, Body: body}
}

func (r *Renderer) serviceLink(serviceID string) string {
	return fmt.Sprintf("%s/work/%s", r.domain, serviceID)
}
