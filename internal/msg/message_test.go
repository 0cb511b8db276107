package msg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFill_KeysByRun(t *testing.T) {
	fills, _ := scenario("run-k")
	m, err := EncodeFill(fills[1])
	require.NoError(t, err)

	assert.Equal(t, TopicFills, m.Topic)
	assert.Equal(t, "run-k", m.Key)
	assert.Equal(t, "run-k-fill-1", m.EventID)
	assert.Contains(t, string(m.Value), `"side":"SELL"`)
}

func TestDecode_DispatchesByTopic(t *testing.T) {
	fills, summary := scenario("run-t")

	fm, err := EncodeFill(fills[0])
	require.NoError(t, err)
	d, err := Decode(fm.Topic, fm.Value)
	require.NoError(t, err)
	require.NotNil(t, d.Fill)
	assert.Nil(t, d.Summary)
	assert.Equal(t, fills[0], *d.Fill)
	assert.Equal(t, "run-t-fill-0", d.EventID())
	assert.Equal(t, "run-t", d.RunID())

	sm, err := EncodeSummary(summary)
	require.NoError(t, err)
	d, err = Decode(sm.Topic, sm.Value)
	require.NoError(t, err)
	require.NotNil(t, d.Summary)
	assert.Nil(t, d.Fill)
	assert.Equal(t, summary.Cash, d.Summary.Cash)
	assert.Equal(t, "run-t-summary", d.EventID())
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode("replay.quotes", []byte(`{"event_id":"x","run_id":"r"}`))
	assert.ErrorIs(t, err, ErrUnknownTopic)

	_, err = Decode(TopicFills, []byte(`{"event_id":`))
	assert.ErrorIs(t, err, ErrBadPayload)

	// well-formed json the ledger cannot place
	_, err = Decode(TopicFills, []byte(`{"qty":5}`))
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = Decode(TopicSummaries, []byte(`{"event_id":"run-x-summary"}`))
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestLedgerApplyDeliveries(t *testing.T) {
	l := NewLedger()
	fills, summary := scenario("run-f")

	var msgs []Message
	for _, f := range fills {
		m, err := EncodeFill(f)
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	m, err := EncodeSummary(summary)
	require.NoError(t, err)
	// the summary overtakes a redelivered fill
	msgs = append(msgs, m, msgs[0])

	applied := 0
	for _, m := range msgs {
		d, err := Decode(m.Topic, m.Value)
		require.NoError(t, err)
		if l.Apply(d) {
			applied++
		}
	}

	assert.Equal(t, 4, applied)
	assert.Equal(t, 1, l.Duplicates())
	reports := l.Check()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].OK(), "%v", reports[0].Problems)
	assert.False(t, l.Apply(Delivery{Topic: TopicFills}))
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_GROUP", "audit")
	t.Setenv("KAFKA_CLIENT_ID", "")

	cfg := LoadConfig()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, "lob-replay", cfg.ClientID)
	assert.Equal(t, "audit", cfg.Group)
}
