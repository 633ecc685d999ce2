package mq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/raven-tracer/internal/raven"
	"go.uber.org/zap"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	messages []published
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.messages = append(f.messages, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey("raven.reading", raven.KindInstantaneousDemand); got != "raven.reading.instantaneous_demand" {
		t.Errorf("Unexpected routing key %s", got)
	}
	if got := RoutingKey("", raven.KindTimeCluster); got != "time_cluster" {
		t.Errorf("Unexpected routing key %s", got)
	}
}

func TestPublisher_ObservePublishesEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "raventracer.readings.exchange", "raven.reading", zap.NewNop())
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	reading := raven.CurrentSummationDelivered{
		Summation:  12345678,
		AdapterMAC: "00:11:22:33:44:55",
		MeterMAC:   "13:AA:BB:CC:DD:EE",
	}
	if err := p.Observe(context.Background(), reading); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(ch.messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(ch.messages))
	}
	msg := ch.messages[0]
	if msg.exchange != "raventracer.readings.exchange" || msg.key != "raven.reading.current_summation_delivered" {
		t.Errorf("Unexpected destination %s / %s", msg.exchange, msg.key)
	}

	var event ReadingEvent
	if err := json.Unmarshal(msg.msg.Body, &event); err != nil {
		t.Fatalf("Failed to unmarshal body: %v", err)
	}
	if event.EventID == "" || event.EventID != msg.msg.MessageId {
		t.Errorf("Expected event id to match message id, got %q and %q", event.EventID, msg.msg.MessageId)
	}
	if event.Reading.RawValue == nil || *event.Reading.RawValue != 12345678 {
		t.Errorf("Expected raw summation in event, got %+v", event.Reading)
	}
}

func TestPublisher_IgnoresSkip(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "x", "raven.reading", zap.NewNop())

	if err := p.Observe(context.Background(), raven.Skip{Raw: "<bad"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ch.messages) != 0 {
		t.Errorf("Expected nothing published, got %d", len(ch.messages))
	}

	p.Close()
	if !ch.closed {
		t.Error("Expected channel to be closed")
	}
}
