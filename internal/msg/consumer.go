package msg

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by Run once Close has been called
var ErrClientClosed = errors.New("kafka client closed")

// Consumer reads fills and run summaries back as typed deliveries
type Consumer struct {
	client  *kgo.Client
	logger  *zap.Logger
	group   string
	handled atomic.Int64
	skipped atomic.Int64
}

// NewConsumer joins cfg.Group on every replay topic, starting from the
// earliest offset when the group has no commits
func NewConsumer(cfg *Config, logger *zap.Logger) (*Consumer, error) {
	opts := append(cfg.clientOpts(),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(Topics()...),
		kgo.DisableAutoCommit(), // commit once a poll is fully handled
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info("consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group", cfg.Group),
	)
	return &Consumer{client: client, logger: logger, group: cfg.Group}, nil
}

// Run decodes every record by topic and hands it to handle until ctx ends.
// Records that do not decode are logged and committed past. A handler error
// stops Run with the current poll uncommitted, so it is redelivered to the
// next member of the group.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, Delivery) error) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return ErrClientClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			d, err := Decode(r.Topic, r.Value)
			if err != nil {
				c.skipped.Add(1)
				c.logger.Warn("skipping undecodable record",
					zap.String("topic", r.Topic),
					zap.Int32("partition", r.Partition),
					zap.Int64("offset", r.Offset),
					zap.Error(err),
				)
				return
			}
			d.Partition, d.Offset = r.Partition, r.Offset
			if err := handle(ctx, d); err != nil {
				handleErr = fmt.Errorf("failed to handle %s: %w", d.EventID(), err)
				return
			}
			c.handled.Add(1)
		})
		if handleErr != nil {
			return handleErr
		}

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to commit offsets", zap.String("group", c.group), zap.Error(err))
		}
	}
}

// Stats reports how many records were handled and skipped
func (c *Consumer) Stats() (handled, skipped int64) {
	return c.handled.Load(), c.skipped.Load()
}

// Close leaves the group and closes the client
func (c *Consumer) Close() {
	c.client.Close()
	c.logger.Info("consumer closed",
		zap.String("group", c.group),
		zap.Int64("handled", c.handled.Load()),
		zap.Int64("skipped", c.skipped.Load()),
	)
}
