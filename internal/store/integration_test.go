//go:build integration
// +build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/lob-replay-sim/internal/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIntegration_PublishRunToKafka(t *testing.T) {
	if os.Getenv("INTEGRATION") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION=1 to run.")
	}

	store := openTemp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runID := uuid.NewString()
	_, err := store.SaveRun(ctx, NewRun(runID, "static", "tape.csv", 100, 0, replayed(t)))
	require.NoError(t, err)

	cfg := msg.LoadConfig()
	cfg.Group = "store-it-" + runID
	logger := zap.NewNop()
	producer, err := msg.NewProducer(cfg, logger)
	require.NoError(t, err)
	defer producer.Close()

	n, err := NewPublisher(store, producer, logger).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	consumer, err := msg.NewConsumer(cfg, logger)
	require.NoError(t, err)
	defer consumer.Close()

	found := make(chan msg.RunSummaryMsg, 1)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go consumer.Run(runCtx, func(_ context.Context, d msg.Delivery) error {
		if d.Summary != nil && d.RunID() == runID {
			select {
			case found <- *d.Summary:
			default:
			}
		}
		return nil
	})

	select {
	case s := <-found:
		assert.Equal(t, 515.0, s.Cash)
		assert.Equal(t, int64(-5), s.Inventory)
	case <-ctx.Done():
		t.Fatal("summary not consumed")
	}
}
