package delivery

import (
	"context"
	"errors"

	"github.com/charlesng35/convene/pkg/mail"
)

// EmailTransport sends one message per recipient so addresses are never disclosed to other
// attendees.
type EmailTransport struct {
	mailer mail.Mailer
}

// NewEmailTransport wraps a mailer.
func NewEmailTransport(mailer mail.Mailer) (*EmailTransport, error) {
	if mailer == nil {
		return nil, errors.New("email transport: mailer is required")
	}
	return &EmailTransport{mailer: mailer}, nil
}

// Deliver sends content to the recipient's address.
func (t *EmailTransport) Deliver(ctx context.Context, recipient Recipient, content Content) error {
	return t.mailer.Send(ctx, mail.Message{
		To:      []string{recipient.Address},
		ReplyTo: content.ReplyTo,
		Subject: content.Subject,
		Body:    content.Body,
	})
}
