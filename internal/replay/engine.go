// Package replay drives a market-making strategy through a recorded tape.
//
// The engine advances a level-1 book one event at a time, detects tape
// executions that cross the agent's resting quotes, realizes those fills as
// internal executions on the book and then asks the strategy for new quotes.
// Every event is fully processed before the next one is read; one Engine
// replays one tape on one goroutine.
package replay

import (
	"errors"
	"math"
	"slices"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/ismaiel54/lob-replay-sim/internal/strategy"
	"go.uber.org/zap"
)

// ErrNoStrategy is returned by Run when no strategy is configured
var ErrNoStrategy = errors.New("replay run requires a strategy")

const (
	// DefaultQuoteSize is the number of shares posted on each side
	DefaultQuoteSize book.Qty = 10
	// DefaultSessionSeconds is the trading session length, 6.5 hours
	DefaultSessionSeconds = 6.5 * 60 * 60
)

// Config holds engine parameters
type Config struct {
	QuoteSize      book.Qty
	SessionSeconds float64
}

// DefaultConfig returns the standard engine parameters
func DefaultConfig() Config {
	return Config{
		QuoteSize:      DefaultQuoteSize,
		SessionSeconds: DefaultSessionSeconds,
	}
}

// QuoteRow is one entry of the quote log. An absent side is book.NoPrice.
type QuoteRow struct {
	Timestamp int64      `json:"ts"`
	Bid       book.Price `json:"bid"`
	Ask       book.Price `json:"ask"`
	Mid       float64    `json:"mid"`
	Inventory int64      `json:"inventory"`
}

// Fill is one execution of an agent quote, from the agent's point of view
type Fill struct {
	Timestamp int64        `json:"ts"`
	OrderID   book.OrderID `json:"-"`
	Side      book.Side    `json:"side"`
	Price     book.Price   `json:"price"`
	Qty       book.Qty     `json:"qty"`
	CashDelta float64      `json:"cash_delta"`
	Inventory int64        `json:"inventory"`
	Cash      float64      `json:"cash"`
}

// Step is the outcome of applying one tape event
type Step struct {
	Events   int
	BuyFill  book.Qty
	SellFill book.Qty
	Fills    []Fill
}

// Progress is handed to the step observer after every event of a run
type Progress struct {
	Index     int
	Event     book.Event
	Snapshot  book.Snapshot
	Inventory int64
	Cash      float64
	Fills     []Fill
}

// Summary describes the replay state at a point in time
type Summary struct {
	Events        int     `json:"events"`
	EventsApplied int     `json:"events_applied"`
	Quotes        int     `json:"quotes"`
	Fills         int     `json:"fills"`
	Inventory     int64   `json:"inventory"`
	Cash          float64 `json:"cash"`
	FilledBuy     int64   `json:"filled_buy"`
	FilledSell    int64   `json:"filled_sell"`
	FinalMid      float64 `json:"final_mid"`
	MarkToMarket  float64 `json:"mark_to_market"`
}

type restingQuote struct {
	id   book.OrderID
	live bool
}

// Engine owns the agent's trading state and the replay control loop
type Engine struct {
	book     *book.Book
	strategy strategy.Strategy
	cfg      Config
	logger   *zap.Logger
	onStep   func(Progress)

	inventory     int64
	cash          float64
	filledBuy     int64
	filledSell    int64
	bid           restingQuote
	ask           restingQuote
	eventsSeen    int
	eventsApplied int
	quoteLog      []QuoteRow
	midprices     []float64
	fills         []Fill
}

// New creates an engine over b. The strategy may be nil and set later; Run
// refuses to start without one.
func New(b *book.Book, s strategy.Strategy, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QuoteSize <= 0 {
		cfg.QuoteSize = DefaultQuoteSize
	}
	if cfg.SessionSeconds <= 0 {
		cfg.SessionSeconds = DefaultSessionSeconds
	}
	return &Engine{
		book:     b,
		strategy: s,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetStrategy replaces the quoting strategy
func (e *Engine) SetStrategy(s strategy.Strategy) { e.strategy = s }

// OnStep registers fn to be called synchronously after every event of Run
func (e *Engine) OnStep(fn func(Progress)) { e.onStep = fn }

// Reset withdraws the agent's quotes from the book, restores every piece of
// replay state to its construction-time value and resets the strategy.
// Identifiers obtained before the reset must not be used afterwards.
func (e *Engine) Reset() {
	if e.bid.live {
		e.book.CancelAgentQuote(e.bid.id, 0)
	}
	if e.ask.live {
		e.book.CancelAgentQuote(e.ask.id, 0)
	}
	e.clear()
}

// ResetWithBook is Reset for a fresh book; nothing is cancelled on the old one
func (e *Engine) ResetWithBook(b *book.Book) {
	e.book = b
	e.clear()
}

func (e *Engine) clear() {
	e.inventory = 0
	e.cash = 0
	e.filledBuy = 0
	e.filledSell = 0
	e.bid = restingQuote{}
	e.ask = restingQuote{}
	e.eventsSeen = 0
	e.eventsApplied = 0
	e.quoteLog = nil
	e.midprices = nil
	e.fills = nil
	if e.strategy != nil {
		e.strategy.Reset()
	}
}

// ApplyEvent applies one tape event to the book and fills the agent's resting
// quotes it crosses. Only visible executions and crosses carry trades. An
// execution against resting buy liquidity is a market sell and can hit the
// agent's bid; one against resting sell liquidity can lift the agent's ask.
// Prices are compared in integer ticks and fills happen at the agent's price.
func (e *Engine) ApplyEvent(ev book.Event) Step {
	step := Step{Events: e.book.Apply(ev)}
	e.eventsSeen++

	if ev.Kind.Trades() {
		if ev.Side == book.Sell && e.ask.live {
			if rec, ok := e.book.Order(e.ask.id); ok && ev.Price >= rec.Price {
				e.hit(&e.ask, rec, min(rec.Quantity, ev.Size), ev.Timestamp, &step)
			}
		}
		if ev.Side == book.Buy && e.bid.live {
			if rec, ok := e.book.Order(e.bid.id); ok && ev.Price <= rec.Price {
				e.hit(&e.bid, rec, min(rec.Quantity, ev.Size), ev.Timestamp, &step)
			}
		}
	}

	e.eventsApplied += step.Events
	return step
}

func (e *Engine) hit(q *restingQuote, rec book.OrderRecord, qty book.Qty, ts int64, step *Step) {
	if qty <= 0 {
		return
	}
	n, err := e.book.ApplyInternalFill(q.id, qty, ts)
	if err != nil {
		e.logger.Warn("internal fill rejected",
			zap.Stringer("order_id", q.id),
			zap.Int64("qty", int64(qty)),
			zap.Error(err),
		)
	}
	if n == 0 {
		return
	}
	step.Events += n

	notional := float64(qty) * float64(rec.Price)
	var delta float64
	if rec.Side == book.Buy {
		delta = -notional
		e.inventory += int64(qty)
		e.filledBuy += int64(qty)
		step.BuyFill += qty
	} else {
		delta = notional
		e.inventory -= int64(qty)
		e.filledSell += int64(qty)
		step.SellFill += qty
	}
	e.cash += delta

	fill := Fill{
		Timestamp: ts,
		OrderID:   q.id,
		Side:      rec.Side,
		Price:     rec.Price,
		Qty:       qty,
		CashDelta: delta,
		Inventory: e.inventory,
		Cash:      e.cash,
	}
	e.fills = append(e.fills, fill)
	step.Fills = append(step.Fills, fill)

	if _, ok := e.book.Order(q.id); !ok {
		*q = restingQuote{}
	}

	e.logger.Debug("agent quote filled",
		zap.Stringer("order_id", fill.OrderID),
		zap.Stringer("side", fill.Side),
		zap.Int64("price", int64(fill.Price)),
		zap.Int64("qty", int64(fill.Qty)),
		zap.Int64("inventory", e.inventory),
		zap.Float64("cash", e.cash),
	)
}

// Run replays events in order. Each event is applied and matched, then the
// strategy is asked for quotes against the agent-free midprice. When that
// midprice is unavailable the existing quotes stay untouched for the step.
func (e *Engine) Run(events []book.Event) error {
	if e.strategy == nil {
		return ErrNoStrategy
	}

	for i, ev := range events {
		tau := math.Max(e.cfg.SessionSeconds-float64(ev.Timestamp)*1e-9, 0)
		step := e.ApplyEvent(ev)

		if mid, ok := e.book.MidExternal(); ok {
			e.updateQuotes(e.strategy.Quote(mid, e.inventory, tau), ev.Timestamp)
		}
		e.midprices = append(e.midprices, e.book.Midprice())

		if e.onStep != nil {
			e.onStep(Progress{
				Index:     i,
				Event:     ev,
				Snapshot:  e.book.Snapshot(),
				Inventory: e.inventory,
				Cash:      e.cash,
				Fills:     step.Fills,
			})
		}
	}
	return nil
}

// updateQuotes cancel-replaces each side independently and logs the quote
func (e *Engine) updateQuotes(q strategy.Quote, ts int64) {
	bid, hasBid := toTicks(q.Bid, q.HasBid)
	ask, hasAsk := toTicks(q.Ask, q.HasAsk)

	e.syncSide(&e.bid, book.Buy, bid, hasBid, ts)
	e.syncSide(&e.ask, book.Sell, ask, hasAsk, ts)

	e.quoteLog = append(e.quoteLog, QuoteRow{
		Timestamp: ts,
		Bid:       bid,
		Ask:       ask,
		Mid:       e.book.Midprice(),
		Inventory: e.inventory,
	})
}

func (e *Engine) syncSide(q *restingQuote, side book.Side, price book.Price, want bool, ts int64) {
	if q.live {
		rec, ok := e.book.Order(q.id)
		if ok && want && rec.Price == price {
			return
		}
		if ok {
			e.book.CancelAgentQuote(q.id, ts)
		}
		*q = restingQuote{}
	}
	if !want {
		return
	}

	id, err := e.book.PlaceAgentQuote(side, price, e.cfg.QuoteSize, ts)
	if err != nil {
		e.logger.Warn("failed to place agent quote",
			zap.Stringer("side", side),
			zap.Int64("price", int64(price)),
			zap.Error(err),
		)
		return
	}
	*q = restingQuote{id: id, live: true}
}

// toTicks rounds a strategy price to the nearest tick. Non-finite or
// non-positive prices withdraw the side.
func toTicks(p float64, present bool) (book.Price, bool) {
	if !present || math.IsNaN(p) || math.IsInf(p, 0) {
		return book.NoPrice, false
	}
	ticks := book.Price(math.Round(p))
	if ticks <= 0 {
		return book.NoPrice, false
	}
	return ticks, true
}

// Book returns the order book the engine drives
func (e *Engine) Book() *book.Book { return e.book }

// Inventory is the agent's signed share position
func (e *Engine) Inventory() int64 { return e.inventory }

// Cash is the accumulated trade proceeds in tick-shares
func (e *Engine) Cash() float64 { return e.cash }

// FilledBuy is the total quantity the agent's bids have been filled for
func (e *Engine) FilledBuy() int64 { return e.filledBuy }

// FilledSell is the total quantity the agent's asks have been filled for
func (e *Engine) FilledSell() int64 { return e.filledSell }

// EventsApplied counts tape and internal events the book accepted
func (e *Engine) EventsApplied() int { return e.eventsApplied }

// RestingBid returns the identifier of the agent's live bid, if any
func (e *Engine) RestingBid() (book.OrderID, bool) { return e.bid.id, e.bid.live }

// RestingAsk returns the identifier of the agent's live ask, if any
func (e *Engine) RestingAsk() (book.OrderID, bool) { return e.ask.id, e.ask.live }

// QuoteLog returns a copy of the quote updates made so far
func (e *Engine) QuoteLog() []QuoteRow { return slices.Clone(e.quoteLog) }

// Midprices returns a copy of the midprice recorded after each replayed event
func (e *Engine) Midprices() []float64 { return slices.Clone(e.midprices) }

// Fills returns a copy of the agent's executions in the order they occurred
func (e *Engine) Fills() []Fill { return slices.Clone(e.fills) }

// Summary reports the current replay totals, marking inventory at the last
// recorded midprice
func (e *Engine) Summary() Summary {
	var mid float64
	if n := len(e.midprices); n > 0 {
		mid = e.midprices[n-1]
	}
	return Summary{
		Events:        e.eventsSeen,
		EventsApplied: e.eventsApplied,
		Quotes:        len(e.quoteLog),
		Fills:         len(e.fills),
		Inventory:     e.inventory,
		Cash:          e.cash,
		FilledBuy:     e.filledBuy,
		FilledSell:    e.filledSell,
		FinalMid:      mid,
		MarkToMarket:  e.cash + float64(e.inventory)*mid,
	}
}
