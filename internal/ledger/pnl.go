package ledger

import (
	"math"

	"papertrade/internal/domain"
)

// Margin returns the capital reserved for a position: notional divided by leverage.
func Margin(price, amount, leverage float64) float64 {
	return (price * amount) / leverage
}

// PnL returns the profit or loss of a position of the given side and size
// entered at entryPrice and valued at markPrice.
func PnL(side domain.Side, entryPrice, markPrice, size float64) float64 {
	priceDiff := markPrice - entryPrice
	if side == domain.SideShort {
		return -priceDiff * size
	}
	return priceDiff * size
}

// ROE returns the return on equity in percent. Zero margin yields zero.
func ROE(pnl, margin float64) float64 {
	if margin == 0 {
		return 0
	}
	return (pnl / margin) * 100
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
