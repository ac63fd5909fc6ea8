// Package pairmath holds the pure arithmetic used to value a liquidity position in a
// two-asset constant-product pool: dollar prices implied by reserves, impermanent loss
// and the fee income earned by a constant share count between two observations.
//
// Every function refuses a zero denominator with ErrDivisionByZero instead of letting
// Inf or NaN leak into a report.
package pairmath

import (
	"errors"
	"fmt"
	"math"
)

// ErrDivisionByZero is returned when a reserve, supply or price used as a divisor is zero.
var ErrDivisionByZero = errors.New("division by zero")

// Position is the subset of a snapshot needed to attribute fees.
type Position struct {
	LiquidityTokenBalance     float64
	LiquidityTokenTotalSupply float64
	Reserve0                  float64
	Reserve1                  float64
}

// Fees is the reserve growth attributable to a position between two observations.
type Fees struct {
	Token0 float64
	Token1 float64
	USD    float64
}

// DollarPrices derives per-token USD prices from the pool's USD liquidity, assuming each
// side holds half of it: reserve0*p0 == reserve1*p1 == reserveUSD/2.
func DollarPrices(reserveUSD, reserve0, reserve1 float64) (float64, float64, error) {
	if reserve0 == 0 || reserve1 == 0 {
		return 0, 0, fmt.Errorf("dollar prices (reserve0=%g, reserve1=%g): %w", reserve0, reserve1, ErrDivisionByZero)
	}
	return reserveUSD / (2 * reserve0), reserveUSD / (2 * reserve1), nil
}

// ImpermanentLoss returns the fractional value lost by providing liquidity compared with
// holding both assets, given the old and new USD prices of each token. 0 means no loss,
// 0.8 means the position is worth 80% less than holding.
func ImpermanentLoss(p0Old, p1Old, p0New, p1New float64) (float64, error) {
	if p0Old == 0 || p1Old == 0 || p1New == 0 {
		return 0, fmt.Errorf("impermanent loss: %w", ErrDivisionByZero)
	}
	ratio := (p0New / p0Old) / (p1New / p1Old)
	if ratio == -1 {
		return 0, fmt.Errorf("impermanent loss (ratio -1): %w", ErrDivisionByZero)
	}
	return math.Abs(2*math.Sqrt(ratio)/(1+ratio) - 1), nil
}

// WindowFees measures the reserves accrued to prev's liquidity token balance between prev
// and next. The balance is held constant over the window, so the result is pure fee
// income; balance changes are handled by the caller starting a new window.
func WindowFees(prev, next Position, price0, price1 float64) (Fees, error) {
	if prev.LiquidityTokenTotalSupply == 0 || next.LiquidityTokenTotalSupply == 0 {
		return Fees{}, fmt.Errorf("window fees (supply prev=%g, next=%g): %w",
			prev.LiquidityTokenTotalSupply, next.LiquidityTokenTotalSupply, ErrDivisionByZero)
	}
	balance := prev.LiquidityTokenBalance
	sharePrev := balance / prev.LiquidityTokenTotalSupply
	shareNext := balance / next.LiquidityTokenTotalSupply

	fees0 := shareNext*next.Reserve0 - sharePrev*prev.Reserve0
	fees1 := shareNext*next.Reserve1 - sharePrev*prev.Reserve1
	return Fees{
		Token0: fees0,
		Token1: fees1,
		USD:    fees0*price0 + fees1*price1,
	}, nil
}

// ShareValue is the USD value of one liquidity token.
func ShareValue(reserveUSD, totalSupply float64) (float64, error) {
	if totalSupply == 0 {
		return 0, fmt.Errorf("share value: %w", ErrDivisionByZero)
	}
	return reserveUSD / totalSupply, nil
}

// PositionValue is the USD value of balance liquidity tokens.
func PositionValue(balance, totalSupply, reserveUSD float64) (float64, error) {
	if totalSupply == 0 {
		return 0, fmt.Errorf("position value: %w", ErrDivisionByZero)
	}
	return balance / totalSupply * reserveUSD, nil
}
