// Package domain defines the core types shared across the tradekeeper
// control-plane: order requests, admission decisions, positions, strategy
// opinions, and recommendations.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Orders and admission
// ---------------------------------------------------------------------------

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest is an incoming request to submit an order to the broker.
// A zero Price denotes a market order; a positive Price denotes a limit order.
type OrderRequest struct {
	UserID string          `json:"user_id"`
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
}

// Outcome classifies the result of an admission decision.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDuplicate   Outcome = "rejected-duplicate"
	OutcomeRateLimited Outcome = "rejected-rate-limited"
	OutcomeBrokerError Outcome = "broker-error"
)

// Decision is the outcome of running an order request through admission
// control. BrokerOrderID is set only when the order was accepted and placed.
type Decision struct {
	Outcome       Outcome   `json:"outcome"`
	Fingerprint   string    `json:"fingerprint"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Attempt is the immutable audit record of a single admission decision.
// Attempts are never mutated after creation; an expired attempt is simply
// superseded by a new one for the same fingerprint.
type Attempt struct {
	Fingerprint string    `json:"fingerprint"`
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Outcome     Outcome   `json:"outcome"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// PositionStatus marks a position as open or closed.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is the ledger's best-known view of one holding. Qty is signed:
// positive for long, negative for short. A CLOSED position has Qty zero and
// is immutable except for realized-P&L bookkeeping.
type Position struct {
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	RealizedPL    decimal.Decimal `json:"realized_pl"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	Status        PositionStatus  `json:"status"`
	Flagged       bool            `json:"flagged,omitempty"`
	ReconciledAt  time.Time       `json:"reconciled_at"`
}

// RecomputeUnrealized refreshes UnrealizedPL from the invariant
// (market price - avg entry price) x signed qty.
func (p *Position) RecomputeUnrealized() {
	p.UnrealizedPL = p.MarketPrice.Sub(p.AvgEntryPrice).Mul(p.Qty)
}

// PositionSnapshot is a broker-reported position, authoritative for quantity
// and prices.
type PositionSnapshot struct {
	Symbol        string
	Qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
	MarketPrice   decimal.Decimal
}

// AccountInfo is a broker-reported account summary.
type AccountInfo struct {
	Cash        decimal.Decimal `json:"cash"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
}

// PriceQuote is a single symbol's latest market price.
type PriceQuote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// ---------------------------------------------------------------------------
// Strategy opinions and recommendations
// ---------------------------------------------------------------------------

// Action is a strategy's suggested move for a position.
type Action string

const (
	ActionHold     Action = "HOLD"
	ActionIncrease Action = "INCREASE"
	ActionReduce   Action = "REDUCE"
	ActionClose    Action = "CLOSE"
)

// Urgency ranks how quickly an opinion should be acted on. The numeric
// ordering (LOW < MEDIUM < HIGH) is relied on when taking a maximum.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
)

// String returns the canonical label for the urgency level.
func (u Urgency) String() string {
	switch u {
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	default:
		return "LOW"
	}
}

// MarshalJSON encodes urgency as its label rather than the numeric rank.
func (u Urgency) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

// Opinion is one strategy's view of one position for one evaluation cycle.
// Opinions are ephemeral: recomputed wholesale each cycle, never persisted.
type Opinion struct {
	Strategy   string  `json:"strategy"`
	Symbol     string  `json:"symbol"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Urgency    Urgency `json:"urgency"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Recommendation is the weighted consensus of all strategy opinions for a
// position. It has no lifecycle beyond "most recent computation".
type Recommendation struct {
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	Urgency     Urgency   `json:"urgency"`
	Opinions    []Opinion `json:"opinions"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// HealthStatus is a component's self-reported condition.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Worse returns the worse of two statuses.
func (h HealthStatus) Worse(other HealthStatus) HealthStatus {
	if h.rank() >= other.rank() {
		return h
	}
	return other
}

func (h HealthStatus) rank() int {
	switch h {
	case HealthUnhealthy:
		return 2
	case HealthDegraded:
		return 1
	default:
		return 0
	}
}
