package email

import "context"

// Message is one outgoing email. HTML is optional; when set the message is
// sent as multipart/alternative with Text as the fallback part.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailSender delivers transactional email.
type EmailSender interface {
	Send(ctx context.Context, msg Message) error
}
