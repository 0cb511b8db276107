package book

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func add(ts int64, oid int64, side Side, price Price, size Qty) Event {
	return Event{Timestamp: ts, Kind: Add, ID: MarketID(oid), Side: side, Price: price, Size: size}
}

func ev(ts int64, kind Kind, oid int64, side Side, price Price, size Qty) Event {
	return Event{Timestamp: ts, Kind: kind, ID: MarketID(oid), Side: side, Price: price, Size: size}
}

// checkInvariants verifies top of book against the depth maps and the depth
// maps against the live records.
func checkInvariants(b *Book) error {
	for i := range b.depth {
		side := indexSide(i)
		want := Level{}
		for price, qty := range b.depth[i] {
			if qty <= 0 {
				return fmt.Errorf("%s depth at %d is %d", side, price, qty)
			}
			if want.Empty() || better(side, price, want.Price) {
				want = Level{Price: price, Qty: qty}
			}
		}
		if b.top[i] != want {
			return fmt.Errorf("%s top is %+v, depth says %+v", side, b.top[i], want)
		}

		sums := make(map[Price]Qty)
		agentSums := make(map[Price]Qty)
		for id, rec := range b.orders {
			if rec.Quantity <= 0 {
				return fmt.Errorf("order %s has quantity %d", id, rec.Quantity)
			}
			if rec.Side != side {
				continue
			}
			sums[rec.Price] += rec.Quantity
			if id.IsAgent() {
				agentSums[rec.Price] += rec.Quantity
			}
		}
		if len(sums) != len(b.depth[i]) {
			return fmt.Errorf("%s has %d priced records but %d depth levels", side, len(sums), len(b.depth[i]))
		}
		for price, qty := range sums {
			if b.depth[i][price] != qty {
				return fmt.Errorf("%s depth at %d is %d, records sum to %d", side, price, b.depth[i][price], qty)
			}
		}
		if len(agentSums) != len(b.agentDepth[i]) {
			return fmt.Errorf("%s agent depth has %d levels, records %d", side, len(b.agentDepth[i]), len(agentSums))
		}
		for price, qty := range agentSums {
			if b.agentDepth[i][price] != qty {
				return fmt.Errorf("%s agent depth at %d is %d, records sum to %d", side, price, b.agentDepth[i][price], qty)
			}
		}
	}
	return nil
}

func TestTopOfBookTransitions(t *testing.T) {
	b := New(nil)

	steps := []struct {
		name string
		ev   Event
		bid  Level
		ask  Level
	}{
		{"first bid", add(1, 100, Buy, 1832400, 100), Level{1832400, 100}, Level{}},
		{"first ask", add(2, 101, Sell, 1833000, 120), Level{1832400, 100}, Level{1833000, 120}},
		{"lower bid leaves top", add(3, 102, Buy, 1832200, 50), Level{1832400, 100}, Level{1833000, 120}},
		{"partial cancel shrinks top", ev(4, Cancel, 100, Buy, 1832400, 30), Level{1832400, 70}, Level{1833000, 120}},
		{"delete best ask empties side", ev(5, Delete, 101, Sell, 1833000, 0), Level{1832400, 70}, Level{}},
		{"new ask becomes best", add(6, 103, Sell, 1833200, 90), Level{1832400, 70}, Level{1833200, 90}},
		{"delete best bid promotes", ev(7, Delete, 100, Buy, 1832400, 0), Level{1832200, 50}, Level{1833200, 90}},
		{"hidden execution is a no-op", ev(8, ExecuteHidden, 9999, Buy, 0, 25), Level{1832200, 50}, Level{1833200, 90}},
	}

	for _, step := range steps {
		n := b.Apply(step.ev)
		assert.Equal(t, 1, n, step.name)
		assert.Equal(t, step.bid, b.BestBid(), step.name)
		assert.Equal(t, step.ask, b.BestAsk(), step.name)
		require.NoError(t, checkInvariants(b), step.name)
	}
}

func TestHigherBidWins(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 1832200, 50))
	b.Apply(add(1, 2, Buy, 1832400, 100))

	assert.Equal(t, Level{Price: 1832400, Qty: 100}, b.BestBid())
	assert.Equal(t, Qty(50), b.DepthAt(Buy, 1832200))
}

func TestPartialExecutionDoesNotPromote(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 10, Sell, 1832500, 80))
	n := b.Apply(ev(1, ExecuteVisible, 10, Sell, 1832500, 30))

	assert.Equal(t, 1, n)
	assert.Equal(t, Level{Price: 1832500, Qty: 50}, b.BestAsk())
}

func TestExecuteVisiblePromotesNextBest(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 1832400, 100))
	b.Apply(add(1, 2, Buy, 1832200, 50))
	b.Apply(ev(2, ExecuteVisible, 1, Buy, 1832400, 100))

	assert.Equal(t, Level{Price: 1832200, Qty: 50}, b.BestBid())
	_, live := b.Order(MarketID(1))
	assert.False(t, live, "fully executed order should be removed")
}

func TestDeleteLastOrderEmptiesSide(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Sell, 101, 10))
	b.Apply(ev(1, Delete, 1, Sell, 101, 10))

	assert.True(t, b.BestAsk().Empty())
	assert.Equal(t, NoPrice, b.BestAsk().Price)
	assert.Empty(t, b.Levels(Sell))
	assert.Equal(t, 0, b.Len())
}

func TestDeleteBelowTopKeepsTop(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 100, 10))
	b.Apply(add(1, 2, Buy, 98, 20))
	b.Apply(ev(2, Delete, 2, Buy, 98, 20))

	assert.Equal(t, Level{Price: 100, Qty: 10}, b.BestBid())
	assert.Equal(t, Qty(0), b.DepthAt(Buy, 98))
}

func TestOrderGrowth(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 100, 50))
	b.Apply(add(1, 1, Buy, 100, 25))

	rec, ok := b.Order(MarketID(1))
	require.True(t, ok)
	assert.Equal(t, Qty(75), rec.Quantity)
	assert.Equal(t, Level{Price: 100, Qty: 75}, b.BestBid())
	require.NoError(t, checkInvariants(b))
}

func TestUnknownOrderIsNoOp(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 100, 50))
	before := b.Snapshot()

	for _, kind := range []Kind{Cancel, ExecuteVisible, Delete} {
		n, err := b.ApplyChecked(ev(1, kind, 42, Buy, 100, 10))
		assert.Equal(t, 0, n, kind.String())
		assert.ErrorIs(t, err, ErrUnknownOrder, kind.String())
	}

	assert.Equal(t, before, b.Snapshot())
	assert.Equal(t, int64(3), b.Stats().UnknownOrders)
	assert.Equal(t, int64(3), b.Stats().Rejected)
	assert.Equal(t, 0, b.Apply(ev(2, Cancel, 42, Buy, 100, 10)))
}

func TestQuantityUnderflowClearsRecord(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Sell, 105, 10))
	b.Apply(add(1, 2, Sell, 105, 5))

	n, err := b.ApplyChecked(ev(2, Cancel, 1, Sell, 105, 15))
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ErrQuantityUnderflow)

	_, live := b.Order(MarketID(1))
	assert.False(t, live)
	assert.Equal(t, Level{Price: 105, Qty: 5}, b.BestAsk(), "other orders at the level survive")
	assert.Equal(t, int64(1), b.Stats().Underflows)
	require.NoError(t, checkInvariants(b))
}

func TestInvalidAddRejected(t *testing.T) {
	b := New(nil)

	n, err := b.ApplyChecked(add(0, 1, Buy, 100, 0))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrInvalidSize)

	n, err = b.ApplyChecked(add(0, 2, Buy, 0, 10))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	n, err = b.ApplyChecked(add(0, 3, Side(0), 100, 10))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrInvalidSide)

	n, err = b.ApplyChecked(ev(0, Kind(9), 4, Buy, 100, 10))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.Equal(t, 0, b.Len())
}

func TestPassThroughKindsDoNotChangeBook(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 99, 100))
	b.Apply(add(1, 2, Sell, 101, 100))
	before := b.Snapshot()
	bids, asks := b.Levels(Buy), b.Levels(Sell)

	for _, kind := range []Kind{ExecuteHidden, Cross, Halt} {
		assert.Equal(t, 1, b.Apply(ev(2, kind, 1, Buy, 99, 40)), kind.String())
	}

	assert.Equal(t, before, b.Snapshot())
	assert.Equal(t, bids, b.Levels(Buy))
	assert.Equal(t, asks, b.Levels(Sell))
}

func TestAgentQuotesShareTheBook(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 99, 100))
	b.Apply(add(1, 2, Sell, 103, 100))

	bidID, err := b.PlaceAgentQuote(Buy, 100, 10, 2)
	require.NoError(t, err)
	askID, err := b.PlaceAgentQuote(Sell, 102, 10, 2)
	require.NoError(t, err)

	assert.True(t, bidID.IsAgent())
	assert.NotEqual(t, bidID, askID)
	assert.NotEqual(t, MarketID(bidID.Seq), bidID, "agent and tape namespaces never collide")

	assert.Equal(t, Level{Price: 100, Qty: 10}, b.BestBid())
	assert.Equal(t, Level{Price: 102, Qty: 10}, b.BestAsk())
	assert.Equal(t, 101.0, b.Midprice())

	mid, ok := b.MidExternal()
	require.True(t, ok)
	assert.Equal(t, 101.0, mid, "external mid uses 99/103")

	assert.True(t, b.CancelAgentQuote(bidID, 3))
	assert.False(t, b.CancelAgentQuote(bidID, 3), "second cancel finds nothing")
	assert.False(t, b.CancelAgentQuote(MarketID(1), 3), "tape orders cannot be cancelled as agent quotes")
	assert.Equal(t, Level{Price: 99, Qty: 100}, b.BestBid())
	require.NoError(t, checkInvariants(b))
}

func TestMidExternalExcludesAgentAtSharedLevel(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 99, 100))
	b.Apply(add(1, 2, Sell, 101, 100))
	_, err := b.PlaceAgentQuote(Sell, 101, 10, 2)
	require.NoError(t, err)

	assert.Equal(t, Level{Price: 101, Qty: 110}, b.BestAsk())
	mid, ok := b.MidExternal()
	require.True(t, ok)
	assert.Equal(t, 100.0, mid)
}

func TestMidExternalUnavailableWithOnlyAgentLiquidity(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 99, 100))
	_, err := b.PlaceAgentQuote(Sell, 101, 10, 1)
	require.NoError(t, err)

	_, ok := b.MidExternal()
	assert.False(t, ok)
	assert.Equal(t, 100.0, b.Midprice())
}

func TestApplyInternalFill(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 99, 100))
	id, err := b.PlaceAgentQuote(Buy, 99, 10, 1)
	require.NoError(t, err)

	_, err = b.ApplyInternalFill(MarketID(1), 5, 2)
	assert.ErrorIs(t, err, ErrNotAgentOrder)

	n, err := b.ApplyInternalFill(id, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Level{Price: 99, Qty: 106}, b.BestBid())

	n, err = b.ApplyInternalFill(id, 6, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, live := b.Order(id)
	assert.False(t, live)

	n, err = b.ApplyInternalFill(id, 1, 4)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrUnknownOrder)
	require.NoError(t, checkInvariants(b))
}

func TestLevelsBestFirst(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 97, 1))
	b.Apply(add(0, 2, Buy, 99, 2))
	b.Apply(add(0, 3, Buy, 98, 3))
	b.Apply(add(0, 4, Sell, 103, 4))
	b.Apply(add(0, 5, Sell, 101, 5))

	assert.Equal(t, []Level{{99, 2}, {98, 3}, {97, 1}}, b.Levels(Buy))
	assert.Equal(t, []Level{{101, 5}, {103, 4}}, b.Levels(Sell))
}

func TestResetInvalidatesAgentIDs(t *testing.T) {
	b := New(nil)
	b.Apply(add(0, 1, Buy, 99, 100))
	id, err := b.PlaceAgentQuote(Buy, 98, 10, 1)
	require.NoError(t, err)

	b.Reset()
	_, live := b.Order(id)
	assert.False(t, live)
	assert.True(t, b.BestBid().Empty())
	assert.Equal(t, Stats{}, b.Stats())
}

func TestBookInvariantsHoldUnderRandomTape(t *testing.T) {
	kinds := []Kind{Add, Add, Add, Cancel, Delete, ExecuteVisible, ExecuteHidden, Cross, Halt}

	rapid.Check(t, func(t *rapid.T) {
		b := New(nil)
		var agentIDs []OrderID

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.IntRange(0, 9).Draw(t, "agent") == 0 {
				side := rapid.SampledFrom([]Side{Buy, Sell}).Draw(t, "agent_side")
				price := Price(rapid.IntRange(95, 105).Draw(t, "agent_price"))
				id, err := b.PlaceAgentQuote(side, price, Qty(rapid.IntRange(1, 20).Draw(t, "agent_size")), int64(i))
				if err != nil {
					t.Fatalf("place agent quote: %v", err)
				}
				agentIDs = append(agentIDs, id)
			} else if len(agentIDs) > 0 && rapid.IntRange(0, 9).Draw(t, "agent_fill") == 0 {
				id := rapid.SampledFrom(agentIDs).Draw(t, "agent_id")
				if rapid.Bool().Draw(t, "cancel") {
					b.CancelAgentQuote(id, int64(i))
				} else {
					b.ApplyInternalFill(id, Qty(rapid.IntRange(1, 20).Draw(t, "fill_size")), int64(i))
				}
			} else {
				e := Event{
					Timestamp: int64(i),
					Kind:      rapid.SampledFrom(kinds).Draw(t, "kind"),
					ID:        MarketID(int64(rapid.IntRange(0, 15).Draw(t, "oid"))),
					Side:      rapid.SampledFrom([]Side{Buy, Sell}).Draw(t, "side"),
					Price:     Price(rapid.IntRange(95, 105).Draw(t, "price")),
					Size:      Qty(rapid.IntRange(1, 60).Draw(t, "size")),
				}
				before := b.Snapshot()
				n := b.Apply(e)
				if n != 0 && n != 1 {
					t.Fatalf("apply returned %d", n)
				}
				if e.Kind == ExecuteHidden || e.Kind == Cross || e.Kind == Halt {
					if b.Snapshot() != before {
						t.Fatalf("%s changed the book", e.Kind)
					}
				}
			}
			if err := checkInvariants(b); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}
	})
}
