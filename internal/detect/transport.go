package detect

import "context"

// Message is one outbound notification.
type Message struct {
	From       string
	Recipients []string
	Subject    string
	Body       string
}

// Transport delivers notifications to an external sink.
type Transport interface {
	// Name identifies the transport in logs and error artifacts.
	Name() string

	// Send delivers a single message.
	Send(ctx context.Context, msg Message) error
}
