package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/streadway/amqp"
)

// Exchange receives every entitlement event; the routing key is the event type.
const Exchange = "entitlements"

// Connect dials RabbitMQ, retrying a few times while the broker starts
func Connect(url string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "events.Connect"
	var conn *amqp.Connection
	var err error

	for i := 0; i < retries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("%s: %w", op, err)
}

// AMQPPublisher publishes entitlement events to a topic exchange
type AMQPPublisher struct {
	mu sync.Mutex // amqp.Channel is not safe for concurrent publishes
	ch *amqp.Channel
}

// NewAMQPPublisher opens a channel and declares the exchange
func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	const op = "events.NewAMQPPublisher"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &AMQPPublisher{ch: ch}, nil
}

// Publish sends the event as persistent JSON
func (p *AMQPPublisher) Publish(ctx context.Context, event domain.EntitlementEvent) error {
	const op = "events.Publish"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.Publish(
		Exchange,
		event.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close closes the channel
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
