// Package kafkabus publishes outbound events to the message bus and
// replays dead-letter topics. Records are JSON, keyed for per-entity
// ordering, produced synchronously with at-least-once delivery.
package kafkabus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// recordProducer is the slice of kgo.Client the publisher needs.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher implements interfaces.EventPublisher on franz-go.
type Publisher struct {
	client recordProducer
	logger *common.Logger
}

// NewPublisher connects a producer to the given brokers.
func NewPublisher(brokers []string, clientID string, logger *common.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if clientID == "" {
		clientID = "tally"
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus client: %w", err)
	}

	logger.Info().Strs("brokers", brokers).Msg("Bus publisher connected")
	return &Publisher{client: client, logger: logger}, nil
}

// NewPublisherWithClient wires an existing client. Used by tests.
func NewPublisherWithClient(client recordProducer, logger *common.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

func (p *Publisher) publish(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug().Str("topic", topic).Str("key", key).Msg("Event published")
	return nil
}

// PublishChange publishes a position change event keyed by account id.
func (p *Publisher) PublishChange(ctx context.Context, event *models.PositionChangeEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.publish(ctx, models.TopicPositionChange, event.AccountID, event)
}

// PublishSignOff publishes a client sign-off event keyed by client id.
func (p *Publisher) PublishSignOff(ctx context.Context, event *models.ClientSignOffEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.publish(ctx, models.TopicClientSignOff, event.ClientID, event)
}

// PublishAlert publishes a system alert keyed by source.
func (p *Publisher) PublishAlert(ctx context.Context, alert *models.Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	return p.publish(ctx, models.TopicSystemAlerts, alert.Source, alert)
}

// Close shuts down the underlying client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

// Compile-time check
var _ interfaces.EventPublisher = (*Publisher)(nil)
