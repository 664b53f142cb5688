// Package advisor evaluates a fixed set of strategy functions against open
// positions and combines their opinions into one weighted recommendation per
// position.
package advisor

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradekeeper/internal/domain"
)

// Strategy is a pure mapping from a position and its recent price history to
// an opinion. Implementations must be deterministic and hold no mutable
// state; the same inputs always produce the same opinion.
type Strategy interface {
	// Name returns the unique identifier used to look up the strategy's
	// configured weight.
	Name() string

	// Evaluate forms an opinion on the position. prices is the recent price
	// window for the position's symbol, oldest first; it may be short or
	// empty early in the process lifetime.
	Evaluate(pos domain.Position, prices []decimal.Decimal) domain.Opinion
}

// Builtins returns the full fixed set of strategies. The set is closed:
// aggregation weights are configured against exactly these names.
func Builtins() []Strategy {
	return []Strategy{
		&momentum{},
		&meanReversion{},
		&drawdownGuard{},
		&profitTaker{},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// hold is the shared low-signal fallback opinion.
func hold(confidence float64, rationale string) domain.Opinion {
	return domain.Opinion{
		Action:     domain.ActionHold,
		Confidence: confidence,
		Urgency:    domain.UrgencyLow,
		Rationale:  rationale,
	}
}

// ---------------------------------------------------------------------------
// momentum
// ---------------------------------------------------------------------------

// momentum follows the recent price trend: a move in the position's favor
// suggests adding, a move against it suggests trimming.
type momentum struct{}

func (s *momentum) Name() string { return "momentum" }

func (s *momentum) Evaluate(pos domain.Position, prices []decimal.Decimal) domain.Opinion {
	if len(prices) < 2 {
		return hold(0.1, "insufficient price history")
	}
	first, last := prices[0], prices[len(prices)-1]
	if !first.IsPositive() {
		return hold(0.1, "no usable base price")
	}

	ret, _ := last.Sub(first).Div(first).Float64()
	if pos.Qty.Sign() < 0 {
		ret = -ret
	}

	switch {
	case ret > 0.005:
		op := domain.Opinion{
			Action:     domain.ActionIncrease,
			Confidence: clamp01(0.2 + ret*10),
			Urgency:    domain.UrgencyLow,
			Rationale:  fmt.Sprintf("trend %.2f%% in position's favor", ret*100),
		}
		if ret > 0.05 {
			op.Urgency = domain.UrgencyMedium
		}
		return op
	case ret < -0.005:
		op := domain.Opinion{
			Action:     domain.ActionReduce,
			Confidence: clamp01(0.2 - ret*10),
			Urgency:    domain.UrgencyMedium,
			Rationale:  fmt.Sprintf("trend %.2f%% against position", ret*100),
		}
		if ret < -0.05 {
			op.Urgency = domain.UrgencyHigh
		}
		return op
	default:
		return hold(0.4, "no meaningful trend")
	}
}

// ---------------------------------------------------------------------------
// mean-reversion
// ---------------------------------------------------------------------------

// meanReversion bets the price returns to its recent mean: a stretch in the
// position's favor is expected to revert, so trim into it.
type meanReversion struct{}

func (s *meanReversion) Name() string { return "mean-reversion" }

func (s *meanReversion) Evaluate(pos domain.Position, prices []decimal.Decimal) domain.Opinion {
	if len(prices) < 3 {
		return hold(0.1, "insufficient price history")
	}

	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(prices))))
	if !mean.IsPositive() {
		return hold(0.1, "no usable mean price")
	}

	last := prices[len(prices)-1]
	dev, _ := last.Sub(mean).Div(mean).Float64()
	if pos.Qty.Sign() < 0 {
		dev = -dev
	}

	switch {
	case dev > 0.02:
		return domain.Opinion{
			Action:     domain.ActionReduce,
			Confidence: clamp01(dev * 10),
			Urgency:    domain.UrgencyLow,
			Rationale:  fmt.Sprintf("price %.2f%% above recent mean, reversion likely", dev*100),
		}
	case dev < -0.02:
		return domain.Opinion{
			Action:     domain.ActionIncrease,
			Confidence: clamp01(-dev * 10),
			Urgency:    domain.UrgencyLow,
			Rationale:  fmt.Sprintf("price %.2f%% below recent mean", -dev*100),
		}
	default:
		return hold(0.3, "price near recent mean")
	}
}

// ---------------------------------------------------------------------------
// drawdown-guard
// ---------------------------------------------------------------------------

// drawdownGuard caps losses: the deeper the unrealized loss relative to cost
// basis, the harder it pushes to cut the position.
type drawdownGuard struct{}

func (s *drawdownGuard) Name() string { return "drawdown-guard" }

func (s *drawdownGuard) Evaluate(pos domain.Position, _ []decimal.Decimal) domain.Opinion {
	basis := pos.AvgEntryPrice.Mul(pos.Qty.Abs())
	if !basis.IsPositive() {
		return hold(0.2, "no cost basis")
	}

	lossFrac, _ := pos.UnrealizedPL.Div(basis).Float64()
	switch {
	case lossFrac <= -0.10:
		return domain.Opinion{
			Action:     domain.ActionClose,
			Confidence: 0.9,
			Urgency:    domain.UrgencyHigh,
			Rationale:  fmt.Sprintf("drawdown %.1f%% past hard stop", -lossFrac*100),
		}
	case lossFrac <= -0.05:
		return domain.Opinion{
			Action:     domain.ActionReduce,
			Confidence: 0.7,
			Urgency:    domain.UrgencyHigh,
			Rationale:  fmt.Sprintf("drawdown %.1f%%, de-risking", -lossFrac*100),
		}
	case lossFrac <= -0.02:
		return domain.Opinion{
			Action:     domain.ActionReduce,
			Confidence: 0.4,
			Urgency:    domain.UrgencyMedium,
			Rationale:  fmt.Sprintf("drawdown %.1f%%", -lossFrac*100),
		}
	default:
		return hold(0.5, "drawdown within tolerance")
	}
}

// ---------------------------------------------------------------------------
// profit-taker
// ---------------------------------------------------------------------------

// profitTaker locks in gains: past a target return it trims, past a larger
// one it closes out entirely.
type profitTaker struct{}

func (s *profitTaker) Name() string { return "profit-taker" }

func (s *profitTaker) Evaluate(pos domain.Position, _ []decimal.Decimal) domain.Opinion {
	basis := pos.AvgEntryPrice.Mul(pos.Qty.Abs())
	if !basis.IsPositive() {
		return hold(0.2, "no cost basis")
	}

	gainFrac, _ := pos.UnrealizedPL.Div(basis).Float64()
	switch {
	case gainFrac >= 0.20:
		return domain.Opinion{
			Action:     domain.ActionClose,
			Confidence: 0.8,
			Urgency:    domain.UrgencyMedium,
			Rationale:  fmt.Sprintf("gain %.1f%%, taking full profit", gainFrac*100),
		}
	case gainFrac >= 0.10:
		return domain.Opinion{
			Action:     domain.ActionReduce,
			Confidence: 0.6,
			Urgency:    domain.UrgencyMedium,
			Rationale:  fmt.Sprintf("gain %.1f%%, taking partial profit", gainFrac*100),
		}
	case gainFrac >= 0.05:
		return domain.Opinion{
			Action:     domain.ActionReduce,
			Confidence: 0.3,
			Urgency:    domain.UrgencyLow,
			Rationale:  fmt.Sprintf("gain %.1f%%", gainFrac*100),
		}
	default:
		return hold(0.4, "gain below profit target")
	}
}
