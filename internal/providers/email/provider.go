package email

import (
	"context"
	"errors"
)

var ErrNoRecipients = errors.New("email_no_recipients")

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

// NoOpProvider drops every message. It is used when SMTP is not configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}
