package book

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

var (
	ErrUnknownOrder      = errors.New("unknown order")
	ErrQuantityUnderflow = errors.New("quantity underflow")
	ErrInvalidSize       = errors.New("invalid size")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidSide       = errors.New("invalid side")
	ErrUnknownKind       = errors.New("unknown event kind")
	ErrNotAgentOrder     = errors.New("not an agent order")
)

// Stats counts what the book has seen since construction or the last Reset
type Stats struct {
	Processed     int64 `json:"processed"`
	Rejected      int64 `json:"rejected"`
	UnknownOrders int64 `json:"unknown_orders"`
	Underflows    int64 `json:"underflows"`
}

// Book is a level-1 order book. It keeps per-price aggregate depth on each
// side, one record per live order and the top of book for each side.
// A Book is not safe for concurrent use.
type Book struct {
	logger *zap.Logger

	orders     map[OrderID]OrderRecord
	depth      [2]map[Price]Qty
	agentDepth [2]map[Price]Qty
	top        [2]Level

	nextAgentSeq int64
	stats        Stats
}

// New creates an empty book. A nil logger disables diagnostics output.
func New(logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Book{logger: logger}
	b.Reset()
	return b
}

// Reset drops every order and all depth. Identifiers handed out before the
// reset, agent identifiers included, no longer refer to anything.
func (b *Book) Reset() {
	b.orders = make(map[OrderID]OrderRecord)
	for i := range b.depth {
		b.depth[i] = make(map[Price]Qty)
		b.agentDepth[i] = make(map[Price]Qty)
		b.top[i] = Level{}
	}
	b.nextAgentSeq = 0
	b.stats = Stats{}
}

// Apply applies one event and returns the number of events processed: 1 when
// the event was accepted, 0 when it was rejected. Rejections and
// inconsistencies are logged and counted, never fatal.
func (b *Book) Apply(ev Event) int {
	n, err := b.ApplyChecked(ev)
	if err != nil {
		b.logger.Warn("book event diagnostic",
			zap.Stringer("kind", ev.Kind),
			zap.Stringer("order_id", ev.ID),
			zap.Stringer("side", ev.Side),
			zap.Int64("price", int64(ev.Price)),
			zap.Int64("size", int64(ev.Size)),
			zap.Int64("ts", ev.Timestamp),
			zap.Int("processed", n),
			zap.Error(err),
		)
	}
	return n
}

// ApplyChecked is Apply with the diagnostic returned instead of logged.
// A quantity underflow still processes the event, so it returns 1 together
// with ErrQuantityUnderflow.
func (b *Book) ApplyChecked(ev Event) (int, error) {
	var (
		n   int
		err error
	)
	switch ev.Kind {
	case Add:
		n, err = b.add(ev)
	case Cancel, ExecuteVisible:
		n, err = b.reduce(ev)
	case Delete:
		n, err = b.delete(ev)
	case ExecuteHidden, Cross, Halt:
		n = 1
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownKind, int8(ev.Kind))
	}

	if n > 0 {
		b.stats.Processed += int64(n)
	} else {
		b.stats.Rejected++
	}
	switch {
	case errors.Is(err, ErrUnknownOrder):
		b.stats.UnknownOrders++
	case errors.Is(err, ErrQuantityUnderflow):
		b.stats.Underflows++
	}
	return n, err
}

func (b *Book) add(ev Event) (int, error) {
	if ev.Size <= 0 {
		return 0, fmt.Errorf("%w: add %s size %d", ErrInvalidSize, ev.ID, ev.Size)
	}

	side, price := ev.Side, ev.Price
	if rec, ok := b.orders[ev.ID]; ok {
		// Growth happens where the order already rests.
		if rec.Side != ev.Side || rec.Price != ev.Price {
			b.logger.Warn("order growth with mismatched side or price",
				zap.Stringer("order_id", ev.ID),
				zap.Int64("record_price", int64(rec.Price)),
				zap.Int64("event_price", int64(ev.Price)),
			)
		}
		side, price = rec.Side, rec.Price
		rec.Quantity += ev.Size
		b.orders[ev.ID] = rec
	} else {
		if side != Buy && side != Sell {
			return 0, fmt.Errorf("%w: add %s side %d", ErrInvalidSide, ev.ID, int8(side))
		}
		if price <= 0 {
			return 0, fmt.Errorf("%w: add %s price %d", ErrInvalidPrice, ev.ID, price)
		}
		b.orders[ev.ID] = OrderRecord{Side: side, Price: price, Quantity: ev.Size}
	}

	i := sideIndex(side)
	b.addDepth(i, price, ev.Size, ev.ID.IsAgent())

	top := b.top[i]
	if top.Empty() || better(side, price, top.Price) || price == top.Price {
		b.top[i] = Level{Price: price, Qty: b.depth[i][price]}
	}
	return 1, nil
}

// reduce handles partial cancels and visible executions, which are the same
// transition at level 1.
func (b *Book) reduce(ev Event) (int, error) {
	rec, ok := b.orders[ev.ID]
	if !ok {
		return 0, fmt.Errorf("%w: %s %s", ErrUnknownOrder, ev.Kind, ev.ID)
	}
	if ev.Size <= 0 {
		return 0, fmt.Errorf("%w: %s %s size %d", ErrInvalidSize, ev.Kind, ev.ID, ev.Size)
	}

	var err error
	amount := ev.Size
	if amount > rec.Quantity {
		err = fmt.Errorf("%w: %s %s size %d exceeds remaining %d",
			ErrQuantityUnderflow, ev.Kind, ev.ID, ev.Size, rec.Quantity)
		amount = rec.Quantity
	}

	rec.Quantity -= amount
	i := sideIndex(rec.Side)
	b.removeDepth(i, rec.Price, amount, ev.ID.IsAgent())
	if rec.Quantity <= 0 {
		delete(b.orders, ev.ID)
	} else {
		b.orders[ev.ID] = rec
	}

	if rec.Price == b.top[i].Price {
		b.refreshTop(i)
	}
	return 1, err
}

func (b *Book) delete(ev Event) (int, error) {
	rec, ok := b.orders[ev.ID]
	if !ok {
		return 0, fmt.Errorf("%w: %s %s", ErrUnknownOrder, ev.Kind, ev.ID)
	}

	i := sideIndex(rec.Side)
	b.removeDepth(i, rec.Price, rec.Quantity, ev.ID.IsAgent())
	delete(b.orders, ev.ID)
	b.refreshTop(i)
	return 1, nil
}

func (b *Book) addDepth(i int, price Price, qty Qty, agent bool) {
	b.depth[i][price] += qty
	if agent {
		b.agentDepth[i][price] += qty
	}
}

func (b *Book) removeDepth(i int, price Price, qty Qty, agent bool) {
	decrement(b.depth[i], price, qty)
	if agent {
		decrement(b.agentDepth[i], price, qty)
	}
}

func decrement(m map[Price]Qty, price Price, qty Qty) {
	left := m[price] - qty
	if left <= 0 {
		delete(m, price)
		return
	}
	m[price] = left
}

// refreshTop rescans one side for its extremal price
func (b *Book) refreshTop(i int) {
	side := indexSide(i)
	best := Level{}
	for price, qty := range b.depth[i] {
		if best.Empty() || better(side, price, best.Price) {
			best = Level{Price: price, Qty: qty}
		}
	}
	b.top[i] = best
}

// externalTop is the best level on one side once agent liquidity is removed
func (b *Book) externalTop(i int) Level {
	if len(b.agentDepth[i]) == 0 {
		return b.top[i]
	}
	side := indexSide(i)
	best := Level{}
	for price, qty := range b.depth[i] {
		ext := qty - b.agentDepth[i][price]
		if ext <= 0 {
			continue
		}
		if best.Empty() || better(side, price, best.Price) {
			best = Level{Price: price, Qty: ext}
		}
	}
	return best
}

// PlaceAgentQuote rests a new agent order and returns its identifier
func (b *Book) PlaceAgentQuote(side Side, price Price, size Qty, ts int64) (OrderID, error) {
	b.nextAgentSeq++
	id := OrderID{Origin: Agent, Seq: b.nextAgentSeq}
	_, err := b.ApplyChecked(Event{
		Timestamp: ts,
		Kind:      Add,
		ID:        id,
		Side:      side,
		Price:     price,
		Size:      size,
	})
	if err != nil {
		return OrderID{}, fmt.Errorf("failed to place agent quote: %w", err)
	}
	return id, nil
}

// CancelAgentQuote deletes a live agent order. It reports false when the
// identifier is not an agent order or is no longer live.
func (b *Book) CancelAgentQuote(id OrderID, ts int64) bool {
	if !id.IsAgent() {
		return false
	}
	rec, ok := b.orders[id]
	if !ok {
		return false
	}
	n := b.Apply(Event{
		Timestamp: ts,
		Kind:      Delete,
		ID:        id,
		Side:      rec.Side,
		Price:     rec.Price,
		Size:      rec.Quantity,
	})
	return n == 1
}

// ApplyInternalFill executes size shares of a resting agent order. The fill
// goes through the same transition as a tape execution so depth and top of
// book reflect the consumed agent liquidity.
func (b *Book) ApplyInternalFill(id OrderID, size Qty, ts int64) (int, error) {
	if !id.IsAgent() {
		return 0, fmt.Errorf("%w: %s", ErrNotAgentOrder, id)
	}
	rec, ok := b.orders[id]
	if !ok {
		b.stats.Rejected++
		b.stats.UnknownOrders++
		return 0, fmt.Errorf("%w: internal fill %s", ErrUnknownOrder, id)
	}
	return b.ApplyChecked(Event{
		Timestamp: ts,
		Kind:      ExecuteVisible,
		ID:        id,
		Side:      rec.Side,
		Price:     rec.Price,
		Size:      size,
	})
}

// BestBid returns the best bid level, empty when there are no bids
func (b *Book) BestBid() Level { return b.top[sideIndex(Buy)] }

// BestAsk returns the best ask level, empty when there are no asks
func (b *Book) BestAsk() Level { return b.top[sideIndex(Sell)] }

// Midprice averages the best bid and ask over all resting liquidity,
// including the agent's. An empty side contributes zero.
func (b *Book) Midprice() float64 {
	return float64(b.BestBid().Price+b.BestAsk().Price) / 2
}

// MidExternal is the midprice with the agent's own orders excluded. It
// reports false when excluding them leaves either side empty.
func (b *Book) MidExternal() (float64, bool) {
	bid := b.externalTop(sideIndex(Buy))
	ask := b.externalTop(sideIndex(Sell))
	if bid.Empty() || ask.Empty() {
		return 0, false
	}
	return float64(bid.Price+ask.Price) / 2, true
}

// Snapshot projects the top of book
func (b *Book) Snapshot() Snapshot {
	bid, ask := b.BestBid(), b.BestAsk()
	return Snapshot{
		BestBid:     bid.Price,
		BestBidSize: bid.Qty,
		BestAsk:     ask.Price,
		BestAskSize: ask.Qty,
		Mid:         b.Midprice(),
	}
}

// Order looks up a live order record
func (b *Book) Order(id OrderID) (OrderRecord, bool) {
	rec, ok := b.orders[id]
	return rec, ok
}

// Len returns the number of live orders
func (b *Book) Len() int { return len(b.orders) }

// DepthAt returns the aggregate quantity resting at a price
func (b *Book) DepthAt(side Side, price Price) Qty {
	return b.depth[sideIndex(side)][price]
}

// Levels returns every price level on one side, best first
func (b *Book) Levels(side Side) []Level {
	i := sideIndex(side)
	levels := make([]Level, 0, len(b.depth[i]))
	for price, qty := range b.depth[i] {
		levels = append(levels, Level{Price: price, Qty: qty})
	}
	slices.SortFunc(levels, func(x, y Level) int {
		if side == Buy {
			return cmp.Compare(y.Price, x.Price)
		}
		return cmp.Compare(x.Price, y.Price)
	})
	return levels
}

// Stats returns the diagnostic counters
func (b *Book) Stats() Stats { return b.stats }

func sideIndex(s Side) int {
	if s == Buy {
		return 0
	}
	return 1
}

func indexSide(i int) Side {
	if i == 0 {
		return Buy
	}
	return Sell
}

// better reports whether price p is strictly more aggressive than q on side s
func better(s Side, p, q Price) bool {
	if s == Buy {
		return p > q
	}
	return p < q
}
