package msg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Producer publishes encoded replay messages with all-ISR acks
type Producer struct {
	client   *kgo.Client
	logger   *zap.Logger
	produced atomic.Int64
	failed   atomic.Int64
}

// NewProducer creates a producer for cfg's brokers
func NewProducer(cfg *Config, logger *zap.Logger) (*Producer, error) {
	opts := append(cfg.clientOpts(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordRetries(5),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info("producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("client_id", cfg.ClientID),
	)
	return &Producer{client: client, logger: logger}, nil
}

// Ping checks that at least one broker answers
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Publish produces msgs as one batch and waits for every ack. errs[i] is the
// outcome of msgs[i]; records within a run keep their order since they share
// a key.
func (p *Producer) Publish(ctx context.Context, msgs []Message) []error {
	errs := make([]error, len(msgs))
	var wg sync.WaitGroup
	for i, m := range msgs {
		rec := &kgo.Record{
			Topic:   m.Topic,
			Key:     []byte(m.Key),
			Value:   m.Value,
			Headers: []kgo.RecordHeader{{Key: HeaderEventID, Value: []byte(m.EventID)}},
		}
		wg.Add(1)
		p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
			defer wg.Done()
			if err != nil {
				p.failed.Add(1)
				errs[i] = fmt.Errorf("failed to produce %s: %w", m.EventID, err)
				return
			}
			p.produced.Add(1)
		})
	}
	wg.Wait()
	return errs
}

// Close closes the client and logs the totals. Publish waits for its own
// acks, so there is nothing left to flush.
func (p *Producer) Close() {
	p.client.Close()
	p.logger.Info("producer closed",
		zap.Int64("produced", p.produced.Load()),
		zap.Int64("failed", p.failed.Load()),
	)
}
