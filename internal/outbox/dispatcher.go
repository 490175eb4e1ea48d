// Package outbox delivers run events recorded in the run_outbox table to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/runnerz/internal/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Store claims pending outbox rows and records their delivery outcome.
type Store interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, ids []int64, reason string) error
}

// Message represents a row fetched from run_outbox.
type Message struct {
	EventID      int64
	EventUUID    string
	AggregateID  int64
	EventType    string
	Topic        string
	PartitionKey string
	Payload      json.RawMessage
	Attempts     int
}

// Dispatcher drains the outbox table and delivers events to Kafka.
type Dispatcher struct {
	store            Store
	producer         messageWriter
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	claimLease       time.Duration
	now              func() time.Time
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher. Claimed rows that are neither
// published nor failed become claimable again after ten poll intervals.
func NewDispatcher(store Store, producer messageWriter, logger *slog.Logger, pollInterval time.Duration, batchSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:            store,
		producer:         producer,
		logger:           logger,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		claimLease:       10 * pollInterval,
		now:              time.Now,
		shutdownComplete: make(chan struct{}),
	}
}

// Start runs the polling loop until ctx is cancelled. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if _, err := d.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox dispatcher error", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

// ProcessBatch claims, delivers and settles one batch, returning how many
// events were published.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := d.store.Claim(ctx, d.batchSize, d.claimLease)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}
	recordClaimed(messages)

	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}

	if err := d.deliver(ctx, messages); err != nil {
		d.logger.Warn("outbox delivery failed; events will be retried",
			"events", len(messages), "error", err)
		recordRequeued(messages)
		if markErr := d.store.MarkFailed(ctx, ids, err.Error()); markErr != nil {
			return 0, markErr
		}
		return 0, nil
	}

	if err := d.store.MarkPublished(ctx, ids); err != nil {
		return 0, err
	}
	recordPublished(messages)
	return len(messages), nil
}

func (d *Dispatcher) deliver(ctx context.Context, messages []Message) error {
	batches := make(map[string][]kafka.Message)
	order := make([]string, 0)

	for _, msg := range messages {
		record := kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: msg.Payload,
			Time:  d.now().UTC(),
			Headers: []kafka.Header{
				{Key: events.HeaderEventType, Value: []byte(msg.EventType)},
				{Key: events.HeaderEventID, Value: []byte(msg.EventUUID)},
			},
		}
		if _, ok := batches[msg.Topic]; !ok {
			order = append(order, msg.Topic)
		}
		batches[msg.Topic] = append(batches[msg.Topic], record)
	}

	for _, topic := range order {
		if err := d.producer.WriteMessages(ctx, topic, batches[topic]...); err != nil {
			return err
		}
	}
	return nil
}
