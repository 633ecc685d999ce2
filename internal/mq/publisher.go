package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/raven-tracer/internal/raven"
	"go.uber.org/zap"
)

// publishChannel is the part of *amqp.Channel the publisher uses
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes every observed reading to a topic exchange
type Publisher struct {
	channel          publishChannel
	exchange         string
	routingKeyPrefix string
	logger           *zap.Logger
	now              func() time.Time
}

// NewPublisher opens a channel and declares the exchange
func NewPublisher(conn *Connection, exchange, routingKeyPrefix string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return newPublisher(ch, exchange, routingKeyPrefix, logger), nil
}

func newPublisher(ch publishChannel, exchange, routingKeyPrefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		channel:          ch,
		exchange:         exchange,
		routingKeyPrefix: routingKeyPrefix,
		logger:           logger,
		now:              time.Now,
	}
}

// ReadingEvent is the message body published for a reading
type ReadingEvent struct {
	EventID     string      `json:"event_id"`
	PublishedAt time.Time   `json:"published_at"`
	Reading     raven.Event `json:"reading"`
}

var routingKeySuffixes = map[raven.Kind]string{
	raven.KindInstantaneousDemand:       "instantaneous_demand",
	raven.KindCurrentSummationDelivered: "current_summation_delivered",
	raven.KindConnectionStatus:          "connection_status",
	raven.KindTimeCluster:               "time_cluster",
}

// RoutingKey returns prefix.suffix for a reading kind, e.g. raven.reading.time_cluster
func RoutingKey(prefix string, kind raven.Kind) string {
	suffix, ok := routingKeySuffixes[kind]
	if !ok {
		suffix = strings.ToLower(kind.String())
	}
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

// Observe publishes r. Readings without an event form are ignored.
func (p *Publisher) Observe(ctx context.Context, r raven.Reading) error {
	payload, ok := raven.NewEvent(r)
	if !ok {
		return nil
	}

	event := ReadingEvent{
		EventID:     uuid.NewString(),
		PublishedAt: p.now().UTC(),
		Reading:     payload,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := RoutingKey(p.routingKeyPrefix, r.Kind())
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.EventID,
			Timestamp:    event.PublishedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published reading event",
		zap.String("routing_key", routingKey),
		zap.String("event_id", event.EventID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
