package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/ismaiel54/lob-replay-sim/internal/msg"
	"github.com/ismaiel54/lob-replay-sim/internal/replay"
	"github.com/ismaiel54/lob-replay-sim/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "store_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := Open(filepath.Join(tmpDir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ev(ts int64, kind book.Kind, oid int64, side book.Side, price book.Price, size book.Qty) book.Event {
	return book.Event{Timestamp: ts, Kind: kind, ID: book.MarketID(oid), Side: side, Price: price, Size: size}
}

// replayed runs the static 99/101 scenario: one bid fill and two ask fills
func replayed(t *testing.T) *replay.Engine {
	t.Helper()
	b := book.New(nil)
	b.Apply(ev(1, book.Add, 1, book.Buy, 99, 100))
	b.Apply(ev(2, book.Add, 2, book.Sell, 101, 100))

	e := replay.New(b, strategy.NewStatic(99, 101), replay.Config{QuoteSize: 10}, nil)
	require.NoError(t, e.Run([]book.Event{
		ev(3, book.ExecuteVisible, 1, book.Buy, 99, 5),
		ev(4, book.ExecuteVisible, 1, book.Buy, 99, 5),
		ev(5, book.ExecuteVisible, 2, book.Sell, 101, 5),
		ev(6, book.ExecuteVisible, 2, book.Sell, 101, 5),
	}))
	require.Len(t, e.Fills(), 3)
	return e
}

func TestSaveRun_RoundTrip(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	e := replayed(t)

	run := NewRun("run-1", "static", "tape.csv", 100, 0.5, e)
	res, err := store.SaveRun(ctx, run)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 4, res.Outbox, "three fills and a summary")

	rec, err := store.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "static", rec.Strategy)
	assert.Equal(t, int64(100), rec.PriceScale)
	assert.Equal(t, 0.5, rec.Sigma)
	assert.Equal(t, e.Summary(), rec.Summary)
	assert.Positive(t, rec.CreatedUnixMillis)

	quotes, err := store.QuoteLog(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, e.QuoteLog(), quotes)

	mids, err := store.Midprices(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, e.Midprices(), mids)

	fills, err := store.Fills(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, e.Fills(), fills)
}

func TestSaveRun_Idempotency(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	run := NewRun("run-dup", "static", "tape.csv", 100, 0, replayed(t))

	_, err := store.SaveRun(ctx, run)
	require.NoError(t, err)

	res, err := store.SaveRun(ctx, run)
	require.NoError(t, err)
	assert.True(t, res.Duplicate, "second save of the same run id is a duplicate")
	assert.Zero(t, res.Outbox)

	unpublished, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, unpublished, 4)

	fills, err := store.Fills(ctx, "run-dup")
	require.NoError(t, err)
	assert.Len(t, fills, 3)
}

func TestOutboxPayloads(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	_, err := store.SaveRun(ctx, NewRun("run-2", "static", "tape.csv", 100, 0, replayed(t)))
	require.NoError(t, err)

	events, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 4)

	for _, e := range events {
		assert.Equal(t, "run-2", e.Key, "every event of a run shares its partition key")
	}

	d, err := msg.Decode(events[0].Topic, []byte(events[0].PayloadJSON))
	require.NoError(t, err)
	require.NotNil(t, d.Fill)
	fill := *d.Fill
	assert.Equal(t, msg.TopicFills, events[0].Topic)
	assert.Equal(t, "run-2-fill-0", fill.EventID)
	assert.Equal(t, "BUY", fill.Side)
	assert.Equal(t, int64(99), fill.PriceTicks)
	assert.Equal(t, "0.99", fill.Price)
	assert.Equal(t, int64(5), fill.Qty)

	last := events[3]
	assert.Equal(t, msg.TopicSummaries, last.Topic)
	var summary msg.RunSummaryMsg
	require.NoError(t, json.Unmarshal([]byte(last.PayloadJSON), &summary))
	assert.Equal(t, "run-2-summary", summary.EventID)
	assert.Equal(t, 515.0, summary.Cash)
	assert.Equal(t, int64(-5), summary.Inventory)
	assert.Equal(t, 3, summary.Fills)
}

func TestRunNotFound(t *testing.T) {
	store := openTemp(t)
	_, err := store.Run(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

type fakeSink struct {
	fail    map[string]bool
	records []string
}

func (f *fakeSink) Publish(_ context.Context, msgs []msg.Message) []error {
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		if f.fail[m.EventID] {
			errs[i] = errors.New("broker unavailable")
			continue
		}
		f.records = append(f.records, m.Topic+"/"+m.EventID)
	}
	return errs
}

// shortSink drops results, as a broken sink would
type shortSink struct{}

func (shortSink) Publish(context.Context, []msg.Message) []error { return nil }

func TestOutboxPublisher(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	_, err := store.SaveRun(ctx, NewRun("run-3", "static", "tape.csv", 100, 0, replayed(t)))
	require.NoError(t, err)

	sink := &fakeSink{fail: map[string]bool{"run-3-fill-1": true}}
	pub := NewPublisher(store, sink, nil)

	n, err := pub.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"replay.fills/run-3-fill-0",
		"replay.fills/run-3-fill-2",
		"replay.summaries/run-3-summary",
	}, sink.records)

	unpublished, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	require.Len(t, unpublished, 1, "failed event stays in the outbox")
	assert.Equal(t, "run-3-fill-1", unpublished[0].EventID)

	delete(sink.fail, "run-3-fill-1")
	n, err = pub.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unpublished, err = store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, unpublished, 0, "should have no unpublished events after marking as published")
}

func TestOutboxPublisher_ShortResults(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	_, err := store.SaveRun(ctx, NewRun("run-4", "static", "tape.csv", 100, 0, replayed(t)))
	require.NoError(t, err)

	n, err := NewPublisher(store, shortSink{}, nil).Drain(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, n)

	unpublished, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, unpublished, 4, "nothing is marked without an ack")
}
