package email

import "context"

// Message is one rendered email. Template names the body it was rendered
// from and is empty for hand-built messages.
type Message struct {
	To       []string
	Subject  string
	HTML     string
	Template string
}

type Provider interface {
	Deliver(ctx context.Context, msg Message) error
}

// SendTemplate renders name with data and delivers the result through p.
func SendTemplate(ctx context.Context, p Provider, to []string, name string, data map[string]any) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	subject, body, err := Render(name, data)
	if err != nil {
		return err
	}
	return p.Deliver(ctx, Message{To: to, Subject: subject, HTML: body, Template: name})
}

// Discard drops every message. It stands in when SMTP is not configured.
type Discard struct{}

func (Discard) Deliver(context.Context, Message) error { return nil }
