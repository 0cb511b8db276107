// Package chaos perturbs a tape before replay so the book's tolerance of
// dropped messages and oversized reductions can be exercised.
package chaos

import (
	"math/rand"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"go.uber.org/zap"
)

// Counts reports how many faults a Perturb call injected
type Counts struct {
	Dropped    int `json:"dropped"`
	Inflated   int `json:"inflated"`
	Duplicated int `json:"duplicated"`
}

// Chaos provides deterministic fault injection
type Chaos struct {
	cfg    *Config
	rates  Rates
	logger *zap.Logger
	rng    *rand.Rand
}

// New creates a new Chaos instance. Profile values override the individual
// percentages when both are set.
func New(cfg *Config, logger *zap.Logger) *Chaos {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chaos{
		cfg:    cfg,
		rates:  Rates{Drop: cfg.DropPct, Inflate: cfg.InflatePct, Dup: cfg.DupPct},
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	if cfg.Profile != "" {
		r, err := ParseProfile(cfg.Profile)
		if err != nil {
			logger.Warn("failed to parse chaos profile", zap.Error(err))
		} else {
			if r.Drop > 0 {
				c.rates.Drop = r.Drop
			}
			if r.Inflate > 0 {
				c.rates.Inflate = r.Inflate
			}
			if r.Dup > 0 {
				c.rates.Dup = r.Dup
			}
		}
	}

	return c
}

// Rates returns the effective fault rates
func (c *Chaos) Rates() Rates {
	return c.rates
}

// Perturb returns a faulted copy of events. The input slice is not modified.
// With chaos disabled the events are returned as is, truncated to MaxEvents
// when that is set.
func (c *Chaos) Perturb(events []book.Event) ([]book.Event, Counts) {
	var counts Counts
	if c.cfg.MaxEvents > 0 && len(events) > c.cfg.MaxEvents {
		events = events[:c.cfg.MaxEvents]
	}
	if !c.cfg.Enabled {
		return events, counts
	}

	out := make([]book.Event, 0, len(events))
	for _, ev := range events {
		if c.hit(c.rates.Drop) {
			counts.Dropped++
			c.logger.Debug("chaos drop injected",
				zap.String("order_id", ev.ID.String()),
				zap.Stringer("kind", ev.Kind),
			)
			continue
		}
		if reduces(ev.Kind) && c.hit(c.rates.Inflate) {
			counts.Inflated++
			ev.Size = ev.Size*2 + 1
			c.logger.Debug("chaos inflate injected",
				zap.String("order_id", ev.ID.String()),
				zap.Int64("size", int64(ev.Size)),
			)
		}
		out = append(out, ev)
		if c.hit(c.rates.Dup) {
			counts.Duplicated++
			out = append(out, ev)
		}
	}

	c.logger.Info("chaos applied to tape",
		zap.Int("events_in", len(events)),
		zap.Int("events_out", len(out)),
		zap.Int("dropped", counts.Dropped),
		zap.Int("inflated", counts.Inflated),
		zap.Int("duplicated", counts.Duplicated),
	)
	return out, counts
}

func (c *Chaos) hit(pct int) bool {
	if pct <= 0 {
		return false
	}
	return c.rng.Intn(100) < pct
}

func reduces(k book.Kind) bool {
	return k == book.Cancel || k == book.ExecuteVisible
}
