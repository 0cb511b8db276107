// Package strategy holds the quoting models driven by the replay engine.
// Prices are in ticks and time-to-close in seconds.
package strategy

// Quote is the pair of prices a strategy wants resting. A side without
// its Has flag set is withdrawn.
type Quote struct {
	Bid    float64
	Ask    float64
	HasBid bool
	HasAsk bool
}

// TwoSided builds a quote with both sides present
func TwoSided(bid, ask float64) Quote {
	return Quote{Bid: bid, Ask: ask, HasBid: true, HasAsk: true}
}

// Strategy maps market observations to desired quotes. Implementations must
// not read book state; everything they need is passed in.
type Strategy interface {
	Quote(mid float64, inventory int64, timeToClose float64) Quote
	// Reset clears any state kept between calls before a new replay
	Reset()
}

// Static always quotes the same prices
type Static struct {
	Bid float64
	Ask float64
}

// NewStatic creates a constant two-sided strategy
func NewStatic(bid, ask float64) *Static {
	return &Static{Bid: bid, Ask: ask}
}

// Quote ignores the market state and returns the configured prices
func (s *Static) Quote(float64, int64, float64) Quote {
	return TwoSided(s.Bid, s.Ask)
}

// Reset is a no-op; Static keeps no state
func (s *Static) Reset() {}
