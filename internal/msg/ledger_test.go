package msg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// the 99/101 scenario: bid hit for 5, ask lifted twice for 5
func scenario(runID string) ([]FillMsg, RunSummaryMsg) {
	fills := []FillMsg{
		{EventID: runID + "-fill-0", RunID: runID, Seq: 0, Side: "BUY", PriceTicks: 99, Qty: 5, CashDelta: -495, Inventory: 5, Cash: -495},
		{EventID: runID + "-fill-1", RunID: runID, Seq: 1, Side: "SELL", PriceTicks: 101, Qty: 5, CashDelta: 505, Inventory: 0, Cash: 10},
		{EventID: runID + "-fill-2", RunID: runID, Seq: 2, Side: "SELL", PriceTicks: 101, Qty: 5, CashDelta: 505, Inventory: -5, Cash: 515},
	}
	summary := RunSummaryMsg{
		EventID: runID + "-summary", RunID: runID,
		Fills: 3, Inventory: -5, Cash: 515, FilledBuy: 5, FilledSell: 10,
	}
	return fills, summary
}

func TestLedgerAcceptsConsistentRun(t *testing.T) {
	l := NewLedger()
	fills, summary := scenario("run-a")
	// out of order delivery
	for i := len(fills) - 1; i >= 0; i-- {
		assert.True(t, l.AddFill(fills[i]))
	}
	assert.True(t, l.AddSummary(summary))

	reports := l.Check()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].OK(), "%v", reports[0].Problems)
	assert.Equal(t, 3, reports[0].Fills)
}

func TestLedgerDeduplicates(t *testing.T) {
	l := NewLedger()
	fills, summary := scenario("run-b")
	for _, f := range fills {
		l.AddFill(f)
	}
	assert.False(t, l.AddFill(fills[1]))
	l.AddSummary(summary)
	assert.False(t, l.AddSummary(summary))

	assert.Equal(t, 2, l.Duplicates())
	assert.True(t, l.Check()[0].OK())
}

func TestLedgerFlagsMissingFill(t *testing.T) {
	l := NewLedger()
	fills, summary := scenario("run-c")
	l.AddFill(fills[0])
	l.AddFill(fills[2])
	l.AddSummary(summary)

	r := l.Check()[0]
	assert.False(t, r.OK())
	assert.Contains(t, r.Problems, "fill seq 1 missing")
}

func TestLedgerFlagsCashMismatch(t *testing.T) {
	l := NewLedger()
	fills, summary := scenario("run-d")
	for _, f := range fills {
		l.AddFill(f)
	}
	summary.Cash = 500
	l.AddSummary(summary)

	r := l.Check()[0]
	assert.False(t, r.OK())
	require.Len(t, r.Problems, 1)
	assert.Contains(t, r.Problems[0], "summary cash")
}

func TestLedgerIncompleteRun(t *testing.T) {
	l := NewLedger()
	fills, _ := scenario("run-e")
	l.AddFill(fills[0])

	r := l.Check()[0]
	assert.False(t, r.Complete)
	assert.Empty(t, r.Problems)
	assert.False(t, r.OK())
}
