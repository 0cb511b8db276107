package tape

import (
	"bytes"
	"testing"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeIsConsistent(t *testing.T) {
	cfg := DefaultSynthConfig()
	cfg.Events = 5000
	events := Synthesize(cfg)
	require.Len(t, events, 5000)

	b := book.New(nil)
	for i, ev := range events {
		if i > 0 {
			require.GreaterOrEqual(t, ev.Timestamp, events[i-1].Timestamp)
		}
		_, err := b.ApplyChecked(ev)
		require.NoError(t, err, "event %d %+v", i, ev)
	}
	stats := b.Stats()
	assert.Zero(t, stats.Rejected)
	assert.Zero(t, stats.UnknownOrders)
	assert.Zero(t, stats.Underflows)
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	cfg := DefaultSynthConfig()
	cfg.Events = 500
	assert.Equal(t, Synthesize(cfg), Synthesize(cfg))

	other := cfg
	other.Seed++
	assert.NotEqual(t, Synthesize(cfg), Synthesize(other))
}

func TestSynthesizedTapeSurvivesCSV(t *testing.T) {
	cfg := DefaultSynthConfig()
	cfg.Events = 300
	events := Synthesize(cfg)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, ev := range events {
		require.NoError(t, w.Write(ev))
	}
	require.NoError(t, w.Flush())

	again, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, events, again)
}
