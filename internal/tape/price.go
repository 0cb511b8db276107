package tape

import (
	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/shopspring/decimal"
)

// DefaultPriceScale is the number of ticks per dollar in LOBSTER files
const DefaultPriceScale = 10000

// ToDollars converts a tick price into dollars
func ToDollars(p book.Price, scale int64) decimal.Decimal {
	return decimal.NewFromInt(int64(p)).Div(decimal.NewFromInt(scale))
}

// FromDollars converts a dollar price into the nearest tick
func FromDollars(d decimal.Decimal, scale int64) book.Price {
	return book.Price(d.Mul(decimal.NewFromInt(scale)).Round(0).IntPart())
}

// AmountToDollars converts a tick-share amount such as cash or mark to
// market into dollars
func AmountToDollars(amount float64, scale int64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Div(decimal.NewFromInt(scale))
}
