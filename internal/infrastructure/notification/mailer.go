// Package notification sends payment receipts to payers.
package notification

import (
	"context"
	"net/mail"
)

// Message is one outbound email
type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers email messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NopMailer drops every message. It is used when mail is disabled.
type NopMailer struct{}

// Send does nothing
func (NopMailer) Send(context.Context, Message) error { return nil }
