package risk

import "github.com/shopspring/decimal"

const (
	// payout ratio assumed for binary contracts
	kellyPayout   = 0.8
	kellyMaxShare = 0.25
	volDerate     = 0.8
	defaultWin    = 0.5
)

// kellyFraction is (b·p − q)/b clamped to [0, kellyMaxShare]
func kellyFraction(winRate float64) float64 {
	if winRate < 0 {
		winRate = 0
	}
	if winRate > 1 {
		winRate = 1
	}
	f := (kellyPayout*winRate - (1 - winRate)) / kellyPayout
	if f < 0 {
		return 0
	}
	if f > kellyMaxShare {
		return kellyMaxShare
	}
	return f
}

type sizingInput struct {
	requested   decimal.Decimal
	balance     decimal.Decimal
	winRate     float64
	defaultRisk float64
	highVol     bool
	minAmount   decimal.Decimal
}

// positionSize is the smallest of the requested, Kelly, fixed fractional and
// (in a high volatility regime) derated amounts, rounded down to cents and
// then raised to the minimum tradable amount
func positionSize(in sizingInput) decimal.Decimal {
	size := in.requested

	kelly := in.balance.Mul(decimal.NewFromFloat(kellyFraction(in.winRate)))
	size = decimal.Min(size, kelly)

	fixed := in.balance.Mul(decimal.NewFromFloat(in.defaultRisk))
	size = decimal.Min(size, fixed)

	if in.highVol {
		size = decimal.Min(size, in.requested.Mul(decimal.NewFromFloat(volDerate)))
	}

	size = size.RoundDown(2)
	if size.LessThan(in.minAmount) {
		size = in.minAmount
	}
	return size
}
