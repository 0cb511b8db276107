package msg

import (
	"fmt"
	"math"
	"sort"
)

// cashTolerance absorbs float summation order differences
const cashTolerance = 1e-6

// Ledger collects published fills and summaries and checks that every
// completed run conserves inventory and cash. Messages are deduplicated by
// event id since the outbox delivers at least once.
type Ledger struct {
	seen       map[string]bool
	fills      map[string][]FillMsg
	summaries  map[string]RunSummaryMsg
	duplicates int
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		seen:      make(map[string]bool),
		fills:     make(map[string][]FillMsg),
		summaries: make(map[string]RunSummaryMsg),
	}
}

// AddFill records a fill; it reports false for a duplicate
func (l *Ledger) AddFill(f FillMsg) bool {
	if l.seen[f.EventID] {
		l.duplicates++
		return false
	}
	l.seen[f.EventID] = true
	l.fills[f.RunID] = append(l.fills[f.RunID], f)
	return true
}

// AddSummary records a summary; it reports false for a duplicate
func (l *Ledger) AddSummary(s RunSummaryMsg) bool {
	if l.seen[s.EventID] {
		l.duplicates++
		return false
	}
	l.seen[s.EventID] = true
	l.summaries[s.RunID] = s
	return true
}

// Apply records a decoded delivery; it reports false for a duplicate
func (l *Ledger) Apply(d Delivery) bool {
	switch {
	case d.Fill != nil:
		return l.AddFill(*d.Fill)
	case d.Summary != nil:
		return l.AddSummary(*d.Summary)
	}
	return false
}

// Duplicates counts redelivered messages
func (l *Ledger) Duplicates() int { return l.duplicates }

// RunReport is the verification outcome of one run
type RunReport struct {
	RunID    string
	Fills    int
	Complete bool // a summary was received
	Problems []string
}

// OK reports whether the run is complete and consistent
func (r RunReport) OK() bool { return r.Complete && len(r.Problems) == 0 }

// Check verifies every run seen so far, ordered by run id
func (l *Ledger) Check() []RunReport {
	ids := make(map[string]bool)
	for id := range l.fills {
		ids[id] = true
	}
	for id := range l.summaries {
		ids[id] = true
	}

	reports := make([]RunReport, 0, len(ids))
	for id := range ids {
		reports = append(reports, l.check(id))
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].RunID < reports[j].RunID })
	return reports
}

func (l *Ledger) check(runID string) RunReport {
	fills := append([]FillMsg(nil), l.fills[runID]...)
	sort.Slice(fills, func(i, j int) bool { return fills[i].Seq < fills[j].Seq })

	r := RunReport{RunID: runID, Fills: len(fills)}
	problem := func(format string, args ...any) {
		r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
	}

	var inventory, bought, sold int64
	var cash float64
	for i, f := range fills {
		if f.Seq != i {
			problem("fill seq %d missing", i)
			break
		}
		switch f.Side {
		case "BUY":
			inventory += f.Qty
			bought += f.Qty
		case "SELL":
			inventory -= f.Qty
			sold += f.Qty
		default:
			problem("fill %d has side %q", f.Seq, f.Side)
		}
		cash += f.CashDelta
		if f.Inventory != inventory {
			problem("fill %d reports inventory %d, running total %d", f.Seq, f.Inventory, inventory)
		}
		if notional := float64(f.Qty) * float64(f.PriceTicks); math.Abs(math.Abs(f.CashDelta)-notional) > cashTolerance {
			problem("fill %d cash delta %g does not match %d x %d", f.Seq, f.CashDelta, f.Qty, f.PriceTicks)
		}
	}

	s, ok := l.summaries[runID]
	if !ok {
		return r
	}
	r.Complete = true
	if s.Fills != len(fills) {
		problem("summary has %d fills, received %d", s.Fills, len(fills))
	}
	if s.Inventory != inventory {
		problem("summary inventory %d, fills sum to %d", s.Inventory, inventory)
	}
	if s.FilledBuy != bought || s.FilledSell != sold {
		problem("summary filled %d/%d, fills sum to %d/%d", s.FilledBuy, s.FilledSell, bought, sold)
	}
	if math.Abs(s.Cash-cash) > cashTolerance {
		problem("summary cash %g, fills sum to %g", s.Cash, cash)
	}
	return r
}
