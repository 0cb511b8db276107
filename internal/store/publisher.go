package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ismaiel54/lob-replay-sim/internal/msg"
	"go.uber.org/zap"
)

// Sink publishes a batch of outbox messages and reports one error per
// message; *msg.Producer satisfies it
type Sink interface {
	Publish(ctx context.Context, msgs []msg.Message) []error
}

// Publisher publishes outbox events to Kafka
type Publisher struct {
	store     *Store
	sink      Sink
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store *Store, sink Sink, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		store:     store,
		sink:      sink,
		logger:    logger,
		interval:  250 * time.Millisecond,
		batchSize: 100,
	}
}

// Run starts the publisher loop
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.publishBatch(ctx); err != nil {
				p.logger.Error("failed to publish batch", zap.Error(err))
			}
		}
	}
}

// Drain publishes until the outbox is empty or a batch makes no progress.
// It returns the number of events published.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := p.publishBatch(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}

// publishBatch publishes a batch of unpublished events
func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	events, err := p.store.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished events: %w", err)
	}

	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]msg.Message, len(events))
	for i, event := range events {
		msgs[i] = msg.Message{
			Topic:   event.Topic,
			Key:     event.Key,
			EventID: event.EventID,
			Value:   []byte(event.PayloadJSON),
		}
	}
	errs := p.sink.Publish(ctx, msgs)
	if len(errs) != len(msgs) {
		return 0, fmt.Errorf("sink returned %d results for %d messages", len(errs), len(msgs))
	}

	now := time.Now().UnixMilli()
	published := 0

	for i, event := range events {
		if errs[i] != nil {
			p.logger.Error("failed to produce event",
				zap.String("event_id", event.EventID),
				zap.String("run_id", event.RunID),
				zap.Error(errs[i]),
			)
			// retried on the next batch
			continue
		}

		if err := p.store.MarkPublished(ctx, event.EventID, now); err != nil {
			p.logger.Error("failed to mark event as published",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			// worst case we republish; consumers dedupe on event_id
			continue
		}

		published++
		p.logger.Debug("published outbox event",
			zap.String("event_id", event.EventID),
			zap.String("topic", event.Topic),
		)
	}

	if published > 0 {
		p.logger.Info("published outbox batch",
			zap.Int("published", published),
			zap.Int("total", len(events)),
		)
	}

	return published, nil
}
