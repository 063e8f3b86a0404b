package transport

import (
	"fmt"
	"time"

	"detectedits-go/internal/config"
	"detectedits-go/internal/detect"
)

// Transport is a detect.Transport holding resources that must be released.
type Transport interface {
	detect.Transport
	Close() error
}

// NewTransportFromConfig creates a Transport based on the transport config
// type. smtpPassword is the resolved mail server password.
func NewTransportFromConfig(cfg *config.Config, smtpPassword string) (Transport, error) {
	switch cfg.Transport.Type {
	case "", "smtp":
		return NewSMTPTransport(SMTPOptions{
			Host:     cfg.Email.Server.Host,
			Port:     cfg.Email.Server.Port,
			Username: cfg.Email.Server.Username,
			Password: smtpPassword,
			Timeout:  time.Duration(cfg.Service.TimeoutSeconds) * time.Second,
		})
	case "amqp":
		return NewAMQPTransport(cfg.Transport.AMQPURL, cfg.Transport.Exchange, cfg.Transport.RoutingKey)
	case "memory":
		return NewMemoryTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Transport.Type)
	}
}
