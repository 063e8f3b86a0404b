package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"detectedits-go/internal/detect"
)

// SMTPOptions configures an SMTPTransport.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport sends each notification as a plain-text email over
// STARTTLS. It authenticates only when a username is configured.
type SMTPTransport struct {
	opts SMTPOptions
}

// NewSMTPTransport creates a transport for the given server.
func NewSMTPTransport(opts SMTPOptions) (*SMTPTransport, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp transport requires email.server to be set")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SMTPTransport{opts: opts}, nil
}

func (s *SMTPTransport) Name() string { return "smtp" }

// Send connects, delivers msg, and disconnects.
func (s *SMTPTransport) Send(ctx context.Context, msg detect.Message) error {
	m, err := BuildMail(msg)
	if err != nil {
		return err
	}

	clientOpts := []mail.Option{
		mail.WithPort(s.opts.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(s.opts.Timeout),
	}
	if s.opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.opts.Username),
			mail.WithPassword(s.opts.Password),
		)
	}

	client, err := mail.NewClient(s.opts.Host, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating smtp client for %s: %w", s.opts.Host, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending through %s:%d: %w", s.opts.Host, s.opts.Port, err)
	}
	return nil
}

// BuildMail converts msg into a plain-text email.
func BuildMail(msg detect.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", msg.From, err)
	}
	if err := m.To(msg.Recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// Close is a no-op; connections last a single Send.
func (s *SMTPTransport) Close() error {
	return nil
}

var _ Transport = (*SMTPTransport)(nil)
