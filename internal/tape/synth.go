package tape

import (
	"math/rand"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
)

// SynthConfig parameterizes a synthetic tape
type SynthConfig struct {
	Seed       int64
	Events     int
	StartPrice book.Price // initial midprice in ticks
	TickSize   book.Price // price grid step in ticks
	Levels     int        // how far from the mid new orders may rest, in grid steps
	MaxSize    book.Qty
	StartNanos int64
	MeanGapNs  int64 // mean spacing between events
}

// DefaultSynthConfig produces a short AMZN-like session opening
func DefaultSynthConfig() SynthConfig {
	return SynthConfig{
		Seed:       42,
		Events:     10000,
		StartPrice: 1832300,
		TickSize:   100,
		Levels:     5,
		MaxSize:    200,
		StartNanos: 34200 * 1_000_000_000,
		MeanGapNs:  50_000_000,
	}
}

type synthOrder struct {
	id    int64
	side  book.Side
	price book.Price
	qty   book.Qty
}

// Synthesize generates a self-consistent tape: every cancel, delete and
// execution refers to a live order and never exceeds its remaining size.
// Output is fully determined by the config.
func Synthesize(cfg SynthConfig) []book.Event {
	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.TickSize <= 0 {
		cfg.TickSize = 1
	}
	if cfg.Levels <= 0 {
		cfg.Levels = 1
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}

	var (
		live   []synthOrder
		nextID int64 = 1
		ts           = cfg.StartNanos
		mid          = cfg.StartPrice
		events       = make([]book.Event, 0, cfg.Events)
	)

	emit := func(kind book.Kind, o synthOrder, size book.Qty) {
		events = append(events, book.Event{
			Timestamp: ts,
			Kind:      kind,
			ID:        book.MarketID(o.id),
			Side:      o.side,
			Price:     o.price,
			Size:      size,
		})
	}

	for len(events) < cfg.Events {
		if cfg.MeanGapNs > 0 {
			ts += int64(rng.ExpFloat64() * float64(cfg.MeanGapNs))
		}

		r := rng.Intn(100)
		switch {
		case len(live) < 4 || r < 50:
			side := book.Buy
			if rng.Intn(2) == 0 {
				side = book.Sell
			}
			offset := book.Price(1+rng.Intn(cfg.Levels)) * cfg.TickSize
			price := mid - offset
			if side == book.Sell {
				price = mid + offset
			}
			if price <= 0 {
				continue
			}
			o := synthOrder{id: nextID, side: side, price: price, qty: book.Qty(1 + rng.Int63n(int64(cfg.MaxSize)))}
			nextID++
			live = append(live, o)
			emit(book.Add, o, o.qty)

		case r < 65:
			i := rng.Intn(len(live))
			o := &live[i]
			if o.qty < 2 {
				continue
			}
			cut := book.Qty(1 + rng.Int63n(int64(o.qty-1)))
			o.qty -= cut
			emit(book.Cancel, *o, cut)

		case r < 85:
			i := rng.Intn(len(live))
			emit(book.Delete, live[i], live[i].qty)
			live = append(live[:i], live[i+1:]...)

		default:
			side := book.Buy
			if rng.Intn(2) == 0 {
				side = book.Sell
			}
			i := best(live, side)
			if i < 0 {
				continue
			}
			o := &live[i]
			size := book.Qty(1 + rng.Int63n(int64(o.qty)))
			emit(book.ExecuteVisible, *o, size)
			o.qty -= size
			if o.qty == 0 {
				live = append(live[:i], live[i+1:]...)
			}
			// trades pull the mid toward the executed side
			if side == book.Buy {
				mid -= cfg.TickSize * book.Price(rng.Intn(2))
			} else {
				mid += cfg.TickSize * book.Price(rng.Intn(2))
			}
		}
	}
	return events
}

// best returns the index of the oldest order at the best price on side
func best(live []synthOrder, side book.Side) int {
	idx := -1
	for i, o := range live {
		if o.side != side {
			continue
		}
		if idx < 0 ||
			(side == book.Buy && o.price > live[idx].price) ||
			(side == book.Sell && o.price < live[idx].price) {
			idx = i
		}
	}
	return idx
}
