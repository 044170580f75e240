package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for the topic exchange.
const (
	RoutingBookIngested  = "book.ingested"
	RoutingTurnCompleted = "turn.completed"
)

// BookIngested is emitted when an uploaded book's text becomes available
// (or ingestion fails for good).
type BookIngested struct {
	BookID     string    `json:"bookId"`
	Status     string    `json:"status"`
	TotalPages int       `json:"totalPages,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// TurnCompleted is emitted after a chat turn finishes.
type TurnCompleted struct {
	BookID         string    `json:"bookId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	At             time.Time `json:"at"`
}

// Publisher pushes events to a RabbitMQ topic exchange. A nil *Publisher
// is valid and drops everything, so event publishing stays optional.
type Publisher struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher dials RabbitMQ and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{exchange: exchange, conn: conn, channel: ch}, nil
}

// BookIngested publishes a book.ingested event.
func (p *Publisher) BookIngested(ctx context.Context, event BookIngested) error {
	return p.publish(ctx, RoutingBookIngested, event)
}

// TurnCompleted publishes a turn.completed event.
func (p *Publisher) TurnCompleted(ctx context.Context, event TurnCompleted) error {
	return p.publish(ctx, RoutingTurnCompleted, event)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, event any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
