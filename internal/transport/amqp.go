package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"detectedits-go/internal/detect"
)

const confirmTimeout = 10 * time.Second

// AMQPTransport publishes each notification as a JSON message to a topic
// exchange and waits for the broker's publisher confirm. The connection is
// opened on the first Send so a broker outage surfaces as a send failure.
type AMQPTransport struct {
	url        string
	exchange   string
	routingKey string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// notification is the published message body.
type notification struct {
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// NewAMQPTransport creates a transport publishing to exchange with routingKey.
func NewAMQPTransport(url, exchange, routingKey string) (*AMQPTransport, error) {
	if url == "" || exchange == "" {
		return nil, fmt.Errorf("amqp transport requires amqp_url and exchange to be set")
	}
	if routingKey == "" {
		routingKey = "detectedits.additions"
	}
	return &AMQPTransport{url: url, exchange: exchange, routingKey: routingKey}, nil
}

func (a *AMQPTransport) Name() string { return "amqp" }

// Send publishes msg and blocks until the broker confirms it.
func (a *AMQPTransport) Send(ctx context.Context, msg detect.Message) error {
	body, err := EncodeNotification(msg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.connect(); err != nil {
		return err
	}

	deferred, err := a.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		a.exchange,
		a.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		a.reset()
		return fmt.Errorf("publishing to %s: %w", a.exchange, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("broker did not acknowledge notification")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// EncodeNotification renders the JSON body published for msg.
func EncodeNotification(msg detect.Message) ([]byte, error) {
	body, err := json.Marshal(notification{
		From:       msg.From,
		Recipients: msg.Recipients,
		Subject:    msg.Subject,
		Body:       msg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding notification: %w", err)
	}
	return body, nil
}

func (a *AMQPTransport) connect() error {
	if a.channel != nil && !a.channel.IsClosed() {
		return nil
	}
	a.reset()

	conn, err := amqp.Dial(a.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(a.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring exchange %s: %w", a.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("enabling publisher confirms: %w", err)
	}

	a.conn = conn
	a.channel = ch
	return nil
}

func (a *AMQPTransport) reset() {
	if a.channel != nil {
		a.channel.Close()
		a.channel = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// Close releases the broker connection, if one was opened.
func (a *AMQPTransport) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	return nil
}

var _ Transport = (*AMQPTransport)(nil)
