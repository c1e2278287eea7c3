// Package kafka publishes decision events for downstream consumers
// (notifications, analytics, the dealer portal).
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// Producer emits one record per finalized decision, keyed by request id so
// a re-published decision lands in the same partition and consumers can
// deduplicate.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects a producer to the brokers. Records are produced
// idempotently; tracing propagates through kotel.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	tracer := kotel.NewTracer()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.WithHooks(kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.NewProducer: %w", err)
	}
	return &Producer{client: client, topic: topic}, nil
}

// PublishDecision produces the event synchronously. Failures are returned
// to the caller, who treats publishing as best-effort: the decision is
// already durable in the database.
func (p *Producer) PublishDecision(ctx domain.Context, ev domain.DecisionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=kafka.PublishDecision: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.RequestID),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=kafka.PublishDecision: %w", err)
	}
	slog.Debug("decision event published", "request_id", ev.RequestID, "topic", p.topic)
	return nil
}

// Close flushes and releases the client.
func (p *Producer) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("op=kafka.Close: %w", err)
	}
	p.client.Close()
	return nil
}
