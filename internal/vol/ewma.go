// Package vol estimates midprice volatility for run reports.
package vol

import (
	"errors"
	"fmt"
	"math"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
)

const (
	// DefaultAlpha is the RiskMetrics decay factor
	DefaultAlpha = 0.94
	// SecondsPerYear assumes 252 sessions of 6.5 hours
	SecondsPerYear = 252 * 6.5 * 60 * 60
)

var ErrTooFewPrices = errors.New("need at least two prices")

// EWMASigma returns the annualized exponentially weighted volatility of the
// log returns of prices, which are assumed to be sampled at uniform
// intervals. alpha weights the previous variance estimate.
func EWMASigma(prices []float64, alpha, secondsPerYear float64) (float64, error) {
	if len(prices) < 2 {
		return 0, ErrTooFewPrices
	}
	if alpha < 0 || alpha >= 1 {
		return 0, fmt.Errorf("alpha must be in [0, 1), got %g", alpha)
	}

	var variance float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			return 0, fmt.Errorf("non-positive price at index %d", i)
		}
		r := math.Log(prices[i] / prices[i-1])
		variance = alpha*variance + (1-alpha)*r*r
	}
	return math.Sqrt(variance * secondsPerYear), nil
}

// Positive drops the non-positive entries of a midprice series, such as the
// samples taken while one side of the book was empty
func Positive(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			out = append(out, p)
		}
	}
	return out
}

// TickSigma returns the exponentially weighted volatility of midprice
// changes in ticks per square root of a second, the unit the quoting model
// expects. Samples that share a timestamp with their predecessor are merged.
func TickSigma(ts []int64, mids []float64, alpha float64) (float64, error) {
	if len(ts) != len(mids) {
		return 0, fmt.Errorf("got %d timestamps for %d prices", len(ts), len(mids))
	}
	if len(mids) < 2 {
		return 0, ErrTooFewPrices
	}
	if alpha < 0 || alpha >= 1 {
		return 0, fmt.Errorf("alpha must be in [0, 1), got %g", alpha)
	}

	var variance float64
	samples := 0
	prevTs, prevMid := ts[0], mids[0]
	for i := 1; i < len(mids); i++ {
		dt := float64(ts[i]-prevTs) * 1e-9
		if dt <= 0 {
			continue
		}
		d := mids[i] - prevMid
		if samples == 0 {
			variance = d * d / dt
		} else {
			variance = alpha*variance + (1-alpha)*d*d/dt
		}
		samples++
		prevTs, prevMid = ts[i], mids[i]
	}
	if samples == 0 {
		return 0, ErrTooFewPrices
	}
	return math.Sqrt(variance), nil
}

// MidSeries replays events on a scratch book and samples the midprice after
// every event that leaves both sides populated
func MidSeries(events []book.Event) ([]int64, []float64) {
	b := book.New(nil)
	ts := make([]int64, 0, len(events))
	mids := make([]float64, 0, len(events))
	for _, ev := range events {
		b.Apply(ev)
		if mid, ok := b.MidExternal(); ok {
			ts = append(ts, ev.Timestamp)
			mids = append(mids, mid)
		}
	}
	return ts, mids
}
