package backtest

import (
	"fmt"
	"math"
)

// RiskManager validates order intents against the configured limits.
// It never mutates portfolio state; its only output is a Decision.
type RiskManager struct {
	limits         RiskLimits
	initialCapital float64
}

func NewRiskManager(limits RiskLimits, initialCapital float64) *RiskManager {
	return &RiskManager{limits: limits, initialCapital: initialCapital}
}

// Evaluate applies the limit checks in a fixed order so the first
// failing check always wins: position count, single-symbol exposure,
// daily loss. Sizing breaches shrink the order to fit; count and loss
// breaches hard-reject. Intents that reduce an existing position pass
// every check.
//
// refPrice is the price the order would execute near (the current
// bar's open); it anchors dollar sizing and exposure math.
func (r *RiskManager) Evaluate(intent OrderIntent, refPrice float64, snap PortfolioState) Decision {
	if refPrice <= 0 {
		return Decision{Reason: "no reference price"}
	}

	qty := r.sizeQty(intent, refPrice, snap)
	if qty <= 0 {
		return Decision{Reason: "sized to zero quantity"}
	}

	signed := qty
	if intent.Side == SideSell {
		signed = -qty
	}
	pos, held := snap.Positions[intent.Symbol]

	// Closing or reducing an existing position is always allowed
	// through, including while the daily loss limit is tripped.
	if held && opposes(pos.Qty, signed) && math.Abs(signed) <= math.Abs(pos.Qty)+qtyEpsilon {
		return Decision{Accept: true, Qty: qty}
	}

	if !held && r.limits.MaxPositions > 0 && len(snap.Positions) >= r.limits.MaxPositions {
		return Decision{Reason: fmt.Sprintf("max open positions (%d) reached", r.limits.MaxPositions)}
	}

	resized := false
	if r.limits.MaxExposurePct > 0 {
		maxValue := r.limits.MaxExposurePct * snap.Equity
		current := 0.0
		if held {
			current = math.Abs(pos.Qty) * refPrice
		}
		intended := current + qty*refPrice
		if intended > maxValue {
			allowed := math.Floor((maxValue - current) / refPrice)
			if allowed <= 0 {
				return Decision{Reason: fmt.Sprintf("exposure limit %.0f%% leaves no size for %s",
					r.limits.MaxExposurePct*100, intent.Symbol)}
			}
			qty = allowed
			resized = true
		}
	}

	if r.limits.MaxDailyLossPct > 0 {
		pnlToday := snap.Equity - snap.DayStartEquity
		if pnlToday < -r.limits.MaxDailyLossPct*r.initialCapital {
			return Decision{Reason: fmt.Sprintf("daily loss limit %.1f%% breached (%.2f today)",
				r.limits.MaxDailyLossPct*100, pnlToday)}
		}
	}

	return Decision{Accept: true, Qty: qty, Resized: resized}
}

// sizeQty resolves an intent to a whole-share quantity. Explicit share
// quantities win; a dollar size (explicit or from the sizing rule) is
// converted at the reference price.
func (r *RiskManager) sizeQty(intent OrderIntent, refPrice float64, snap PortfolioState) float64 {
	if intent.Qty > 0 {
		return math.Floor(intent.Qty)
	}
	dollars := intent.DollarSize
	if dollars <= 0 {
		switch r.limits.Sizing {
		case SizingFixedFractional:
			dollars = r.limits.SizeValue * snap.Equity
		default:
			dollars = r.limits.SizeValue
		}
	}
	if dollars <= 0 {
		return 0
	}
	return math.Floor(dollars / refPrice)
}

func opposes(a, b float64) bool {
	return (a > 0 && b < 0) || (a < 0 && b > 0)
}
