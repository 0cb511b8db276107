package book

import "fmt"

// Price is a price expressed in integer ticks
type Price int64

// Qty is a share quantity
type Qty int64

// NoPrice marks an empty top level or an absent quote
const NoPrice Price = 0

// Side of an order
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int8(s))
	}
}

// Kind is the message type of a tape event. Values follow the LOBSTER codes.
type Kind int8

const (
	Add            Kind = 1 // new limit order
	Cancel         Kind = 2 // partial cancellation
	Delete         Kind = 3 // full deletion
	ExecuteVisible Kind = 4 // execution of a visible order
	ExecuteHidden  Kind = 5 // execution of a hidden order
	Cross          Kind = 6 // auction cross trade
	Halt           Kind = 7 // trading halt indicator
)

var kindNames = map[Kind]string{
	Add:            "ADD",
	Cancel:         "CANCEL",
	Delete:         "DELETE",
	ExecuteVisible: "EXECUTE_VISIBLE",
	ExecuteHidden:  "EXECUTE_HIDDEN",
	Cross:          "CROSS",
	Halt:           "HALT",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int8(k))
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Trades reports whether events of this kind carry a trade that can hit a resting quote
func (k Kind) Trades() bool {
	return k == ExecuteVisible || k == Cross
}

// Origin tags which namespace an order identifier belongs to
type Origin uint8

const (
	Market Origin = iota + 1
	Agent
)

func (o Origin) String() string {
	switch o {
	case Market:
		return "market"
	case Agent:
		return "agent"
	default:
		return "unknown"
	}
}

// OrderID identifies an order. Tape identifiers and agent identifiers share
// one map but never collide because the origin is part of the key.
type OrderID struct {
	Origin Origin
	Seq    int64
}

// MarketID wraps an identifier taken from the tape
func MarketID(seq int64) OrderID {
	return OrderID{Origin: Market, Seq: seq}
}

// IsAgent reports whether the identifier was allocated for the agent
func (id OrderID) IsAgent() bool {
	return id.Origin == Agent
}

func (id OrderID) String() string {
	return fmt.Sprintf("%s-%d", id.Origin, id.Seq)
}

// Event is one immutable tape message
type Event struct {
	Timestamp int64 // nanoseconds after midnight
	Kind      Kind
	ID        OrderID
	Side      Side
	Price     Price
	Size      Qty
}

// OrderRecord is the live state of one resting order
type OrderRecord struct {
	Side     Side
	Price    Price
	Quantity Qty
}

// Level is a price and the aggregate quantity resting at it
type Level struct {
	Price Price `json:"price"`
	Qty   Qty   `json:"qty"`
}

// Empty reports whether the level carries no liquidity
func (l Level) Empty() bool {
	return l.Qty == 0
}

// Snapshot is a read-only projection of the top of book
type Snapshot struct {
	BestBid     Price   `json:"best_bid"`
	BestBidSize Qty     `json:"best_bid_size"`
	BestAsk     Price   `json:"best_ask"`
	BestAskSize Qty     `json:"best_ask_size"`
	Mid         float64 `json:"mid"`
}
