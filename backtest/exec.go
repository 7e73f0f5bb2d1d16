package backtest

import (
	"fmt"
	"math"
)

// ExecConfig tunes the simulated execution cost model. Rates are in
// basis points of notional, matching the broker fee schedules the tool
// is meant to approximate.
type ExecConfig struct {
	SlippageBps   float64 `json:"slippage_bps" yaml:"slippage_bps"`
	CommissionBps float64 `json:"commission_bps" yaml:"commission_bps"`
	// MaxVolumePct caps an order at a fraction of the bar's volume
	// (0 disables). A clipped order still fills completely at its
	// clipped quantity; there are no partial fills.
	MaxVolumePct float64 `json:"max_volume_pct" yaml:"max_volume_pct"`
}

// ExecutionSimulator turns accepted intents into fills at deterministic
// simulated prices: market orders at the bar's open plus slippage,
// limit orders at the limit price when the bar's range crosses it.
type ExecutionSimulator struct {
	cfg ExecConfig
}

func NewExecutionSimulator(cfg ExecConfig) *ExecutionSimulator {
	return &ExecutionSimulator{cfg: cfg}
}

// Execute returns a fill, or nil plus the reason there was none: an
// unmet limit price, volume clipping to zero, or a buy the available
// cash cannot cover. Cash protection lives here so the ledger only ever
// sees fills that keep cash non-negative.
func (e *ExecutionSimulator) Execute(intent OrderIntent, qty float64, bar Bar, cash float64) (*Fill, string) {
	if qty <= 0 {
		return nil, "zero quantity"
	}

	var price float64
	switch intent.Type {
	case OrderLimit:
		if intent.LimitPrice <= 0 {
			return nil, "limit order without limit price"
		}
		if intent.Side == SideBuy && bar.Low > intent.LimitPrice {
			return nil, fmt.Sprintf("limit %.2f not reached (low %.2f)", intent.LimitPrice, bar.Low)
		}
		if intent.Side == SideSell && bar.High < intent.LimitPrice {
			return nil, fmt.Sprintf("limit %.2f not reached (high %.2f)", intent.LimitPrice, bar.High)
		}
		price = intent.LimitPrice
	default:
		price = applySlippage(bar.Open, e.cfg.SlippageBps, intent.Side)
	}
	if price <= 0 {
		return nil, "no usable price"
	}

	if e.cfg.MaxVolumePct > 0 && bar.Volume > 0 {
		maxQty := math.Floor(bar.Volume * e.cfg.MaxVolumePct)
		if maxQty <= 0 {
			return nil, "volume cap leaves no size"
		}
		if qty > maxQty {
			qty = maxQty
		}
	}

	commission := price * qty * (e.cfg.CommissionBps / 10000.0)
	if intent.Side == SideBuy {
		if cost := price*qty + commission; cost > cash {
			return nil, fmt.Sprintf("insufficient cash: need %.2f, have %.2f", cost, cash)
		}
	}

	return &Fill{
		Intent:     intent,
		Price:      price,
		Qty:        qty,
		Time:       bar.Time,
		Commission: commission,
	}, ""
}

// applySlippage moves the execution price against the order: buys pay
// up, sells receive less.
func applySlippage(price, bps float64, side Side) float64 {
	if bps <= 0 {
		return price
	}
	adj := price * (bps / 10000.0)
	if side == SideBuy {
		return price + adj
	}
	return price - adj
}
