package kafkabus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const replayBatchSize = 100

// dltConsumer is the slice of kgo.Client the replayer needs.
type dltConsumer interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// consumerFactory opens a consumer on a dead-letter topic. Each replay run
// uses a fresh group so it always starts from the earliest offset.
type consumerFactory func(group, dltTopic string) (dltConsumer, error)

// Replayer drains `<topic>.DLT` back onto its origin topic. Offsets are
// committed only after a whole batch lands, so a crash mid-batch redelivers
// rather than drops. Replay therefore inherits at-least-once semantics.
type Replayer struct {
	producer    recordProducer
	newConsumer consumerFactory
	logger      *common.Logger
	pollWait    time.Duration
}

// NewReplayer creates a Replayer producing through the given publisher's
// connection and consuming via fresh per-run clients on the same brokers.
func NewReplayer(brokers []string, publisher *Publisher, logger *common.Logger) *Replayer {
	return &Replayer{
		producer: publisher.client,
		logger:   logger,
		pollWait: 5 * time.Second,
		newConsumer: func(group, dltTopic string) (dltConsumer, error) {
			return kgo.NewClient(
				kgo.SeedBrokers(brokers...),
				kgo.ConsumerGroup(group),
				kgo.ConsumeTopics(dltTopic),
				kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
				kgo.DisableAutoCommit(),
			)
		},
	}
}

// NewReplayerWithClients wires fake clients. Used by tests.
func NewReplayerWithClients(producer recordProducer, factory consumerFactory, logger *common.Logger) *Replayer {
	return &Replayer{producer: producer, newConsumer: factory, logger: logger, pollWait: 50 * time.Millisecond}
}

// Replay moves every record currently on originalTopic's dead-letter topic
// back to originalTopic, preserving keys. Returns the number replayed.
func (r *Replayer) Replay(ctx context.Context, originalTopic string) (int, error) {
	dltTopic := models.DLTTopic(originalTopic)
	group := "tally-dlt-replay-" + uuid.New().String()

	consumer, err := r.newConsumer(group, dltTopic)
	if err != nil {
		return 0, fmt.Errorf("failed to open DLT consumer: %w", err)
	}
	defer consumer.Close()

	r.logger.Info().Str("topic", dltTopic).Str("group", group).Msg("DLT replay started")

	replayed := 0
	for {
		if err := ctx.Err(); err != nil {
			return replayed, fmt.Errorf("replay cancelled: %w", models.ErrCancelled)
		}

		// A bounded poll doubles as the drain check: an empty poll after
		// pollWait means the topic is exhausted.
		pollCtx, cancel := context.WithTimeout(ctx, r.pollWait)
		fetches := consumer.PollRecords(pollCtx, replayBatchSize)
		cancel()

		if fetches.IsClientClosed() {
			break
		}
		if err := firstFetchErr(fetches); err != nil {
			return replayed, fmt.Errorf("failed to poll %s: %w", dltTopic, err)
		}

		batch := fetches.Records()
		if len(batch) == 0 {
			break
		}

		republished := make([]*kgo.Record, 0, len(batch))
		for _, rec := range batch {
			republished = append(republished, &kgo.Record{
				Topic:   originalTopic,
				Key:     rec.Key,
				Value:   rec.Value,
				Headers: rec.Headers,
			})
		}

		// All-or-nothing per batch: no commit unless every record landed.
		if err := r.producer.ProduceSync(ctx, republished...).FirstErr(); err != nil {
			return replayed, fmt.Errorf("failed to republish batch to %s: %w", originalTopic, err)
		}
		if err := consumer.CommitRecords(ctx, batch...); err != nil {
			return replayed, fmt.Errorf("failed to commit replayed offsets: %w", err)
		}

		replayed += len(batch)
		r.logger.Debug().Int("batch", len(batch)).Int("total", replayed).Msg("DLT batch replayed")
	}

	r.logger.Info().Str("topic", dltTopic).Int("replayed", replayed).Msg("DLT replay complete")
	return replayed, nil
}

// firstFetchErr returns the first real fetch error, ignoring the context
// deadline that ends a drain poll.
func firstFetchErr(fetches kgo.Fetches) error {
	for _, fe := range fetches.Errors() {
		if fe.Err == context.DeadlineExceeded || fe.Err == context.Canceled {
			continue
		}
		return fe.Err
	}
	return nil
}

// Compile-time check
var _ interfaces.DLQReplayer = (*Replayer)(nil)
