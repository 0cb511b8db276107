package strategy

import (
	"errors"
	"fmt"
	"math"
)

// Params configures the Avellaneda-Stoikov model
type Params struct {
	Gamma float64 `yaml:"gamma"` // risk aversion
	Kappa float64 `yaml:"kappa"` // order book liquidity
	Sigma float64 `yaml:"sigma"` // mid volatility, ticks per sqrt(second)
	QMax  int64   `yaml:"qmax"`  // symmetric inventory limit
}

// Validate checks that the parameters describe a usable model
func (p Params) Validate() error {
	var errs []error
	if p.Gamma <= 0 {
		errs = append(errs, fmt.Errorf("gamma must be > 0, got %g", p.Gamma))
	}
	if p.Kappa <= 0 {
		errs = append(errs, fmt.Errorf("kappa must be > 0, got %g", p.Kappa))
	}
	if p.Sigma < 0 {
		errs = append(errs, fmt.Errorf("sigma must be >= 0, got %g", p.Sigma))
	}
	if p.QMax <= 0 {
		errs = append(errs, fmt.Errorf("qmax must be > 0, got %d", p.QMax))
	}
	return errors.Join(errs...)
}

// ReservationPrice is the inventory-adjusted indifference price
func ReservationPrice(mid float64, inventory int64, p Params, tau float64) float64 {
	return mid - float64(inventory)*p.Gamma*p.Sigma*p.Sigma*tau
}

// OptimalSpread is the total distance between bid and ask
func OptimalSpread(p Params, tau float64) float64 {
	return (2/p.Gamma)*math.Log(1+p.Gamma/p.Kappa) + p.Gamma*p.Sigma*p.Sigma*tau
}

// AvellanedaStoikov is the closed-form inventory-skew market maker from
// Avellaneda & Stoikov (2008). It keeps no state between quotes.
type AvellanedaStoikov struct {
	params Params
}

// NewAvellanedaStoikov validates params and builds the strategy
func NewAvellanedaStoikov(params Params) (*AvellanedaStoikov, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid avellaneda-stoikov params: %w", err)
	}
	return &AvellanedaStoikov{params: params}, nil
}

// Params returns the model parameters
func (a *AvellanedaStoikov) Params() Params { return a.params }

// Quote centres the spread on the reservation price. At the inventory limit
// the side that would grow the position is withdrawn.
func (a *AvellanedaStoikov) Quote(mid float64, inventory int64, timeToClose float64) Quote {
	tau := math.Max(timeToClose, 0)
	r := ReservationPrice(mid, inventory, a.params, tau)
	half := OptimalSpread(a.params, tau) / 2

	q := TwoSided(r-half, r+half)
	if inventory >= a.params.QMax {
		q.HasBid = false
	}
	if inventory <= -a.params.QMax {
		q.HasAsk = false
	}
	return q
}

func (a *AvellanedaStoikov) Reset() {}
