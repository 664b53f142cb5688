// Package ledger maintains the in-memory mirror of per-user positions,
// continuously reconciled against the broker's authoritative state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradekeeper/internal/broker"
	"tradekeeper/internal/domain"
)

// ErrInconsistentPosition marks broker data that violates local invariants.
// The affected position is flagged and left intact rather than overwritten.
var ErrInconsistentPosition = errors.New("inconsistent position state")

// book holds one user's positions. Each user has their own lock: reconciling
// user A never blocks reads or reconciliation for user B.
type book struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	account   *domain.AccountInfo
}

// Ledger is the best-known view of every user's open and closed positions.
// Quantity, average price, and market price are broker-owned and overwritten
// on reconcile; realized P&L history is locally owned and preserved.
type Ledger struct {
	broker           broker.Broker
	log              *slog.Logger
	books            sync.Map // userID -> *book
	failures         atomic.Int32
	failureThreshold int
	now              func() time.Time
}

// New creates a Ledger over the given broker. failureThreshold is the number
// of consecutive reconciliation failures before health degrades.
func New(b broker.Broker, failureThreshold int, log *slog.Logger) *Ledger {
	return &Ledger{
		broker:           b,
		failureThreshold: failureThreshold,
		log:              log.With("component", "ledger"),
		now:              time.Now,
	}
}

func (l *Ledger) book(userID string) *book {
	if b, ok := l.books.Load(userID); ok {
		return b.(*book)
	}
	b, _ := l.books.LoadOrStore(userID, &book{positions: make(map[string]*domain.Position)})
	return b.(*book)
}

// Reconcile overwrites the user's mirror with broker-authoritative state.
// The broker fetch happens before any lock is taken; the merge is built on a
// staged copy and swapped in whole, so a failure leaves the last-known-good
// state untouched. Running it twice against unchanged broker data yields an
// identical book.
func (l *Ledger) Reconcile(ctx context.Context, userID string) error {
	snaps, err := l.broker.GetPositions(ctx, userID)
	if err != nil {
		l.failures.Add(1)
		return fmt.Errorf("reconciling %s: %w", userID, err)
	}
	account, err := l.broker.GetAccount(ctx, userID)
	if err != nil {
		l.failures.Add(1)
		return fmt.Errorf("reconciling %s account: %w", userID, err)
	}

	now := l.now()
	b := l.book(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make(map[string]*domain.Position, len(b.positions))
	for symbol, pos := range b.positions {
		clone := *pos
		staged[symbol] = &clone
	}

	reported := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		if snap.Qty.IsZero() {
			continue // flat at the broker; the close pass below handles it
		}
		reported[snap.Symbol] = true

		if err := checkSnapshot(snap); err != nil {
			if pos, ok := staged[snap.Symbol]; ok {
				pos.Flagged = true
			}
			l.log.Error("broker snapshot failed invariant check",
				"user", userID, "symbol", snap.Symbol, "error", err)
			continue
		}

		pos, ok := staged[snap.Symbol]
		if !ok {
			pos = &domain.Position{UserID: userID, Symbol: snap.Symbol}
			staged[snap.Symbol] = pos
		}
		pos.Qty = snap.Qty
		pos.AvgEntryPrice = snap.AvgEntryPrice
		pos.MarketPrice = snap.MarketPrice
		pos.Status = domain.PositionOpen
		pos.Flagged = false
		pos.RecomputeUnrealized()
		pos.ReconciledAt = now
	}

	// Local OPEN positions the broker no longer reports are assumed closed;
	// realize the final P&L from the last known state.
	for _, pos := range staged {
		if pos.Status != domain.PositionOpen || reported[pos.Symbol] {
			continue
		}
		pos.RealizedPL = pos.RealizedPL.Add(pos.UnrealizedPL)
		pos.UnrealizedPL = decimal.Zero
		pos.Qty = decimal.Zero
		pos.Status = domain.PositionClosed
		pos.ReconciledAt = now
	}

	b.positions = staged
	b.account = account
	l.failures.Store(0)
	return nil
}

// checkSnapshot validates broker data against local invariants.
func checkSnapshot(snap domain.PositionSnapshot) error {
	if snap.AvgEntryPrice.IsNegative() {
		return fmt.Errorf("%w: negative avg entry price %s", ErrInconsistentPosition, snap.AvgEntryPrice)
	}
	if snap.MarketPrice.IsNegative() {
		return fmt.Errorf("%w: negative market price %s", ErrInconsistentPosition, snap.MarketPrice)
	}
	return nil
}

// UpdatePrices refreshes market prices and unrealized P&L across all users.
// Quantity and average entry are untouched; this is the cheap high-frequency
// sibling of Reconcile.
func (l *Ledger) UpdatePrices(quotes []domain.PriceQuote) {
	if len(quotes) == 0 {
		return
	}
	prices := make(map[string]decimal.Decimal, len(quotes))
	for _, q := range quotes {
		prices[q.Symbol] = q.Price
	}

	l.books.Range(func(_, v any) bool {
		b := v.(*book)
		b.mu.Lock()
		for _, pos := range b.positions {
			if pos.Status != domain.PositionOpen {
				continue
			}
			if price, ok := prices[pos.Symbol]; ok {
				pos.MarketPrice = price
				pos.RecomputeUnrealized()
			}
		}
		b.mu.Unlock()
		return true
	})
}

// ApplyFill folds a confirmed fill into the user's position ahead of the
// next reconcile. fillPrice must be positive.
func (l *Ledger) ApplyFill(userID, symbol string, side domain.Side, qty, fillPrice decimal.Decimal) error {
	if !fillPrice.IsPositive() || !qty.IsPositive() {
		return fmt.Errorf("%w: fill requires positive qty and price", ErrInconsistentPosition)
	}

	signed := qty
	if side == domain.SideSell {
		signed = signed.Neg()
	}

	now := l.now()
	b := l.book(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok || pos.Status == domain.PositionClosed {
		pos = &domain.Position{
			UserID: userID,
			Symbol: symbol,
			Status: domain.PositionOpen,
		}
		b.positions[symbol] = pos
	}

	oldQty := pos.Qty
	newQty := oldQty.Add(signed)

	if oldQty.Sign() != 0 && oldQty.Sign() != signed.Sign() {
		// Reducing or crossing: realize P&L on the closed portion.
		closed := decimal.Min(oldQty.Abs(), signed.Abs())
		diff := fillPrice.Sub(pos.AvgEntryPrice)
		if oldQty.Sign() < 0 {
			diff = diff.Neg()
		}
		pos.RealizedPL = pos.RealizedPL.Add(diff.Mul(closed))
	}

	switch {
	case newQty.IsZero():
		pos.Qty = decimal.Zero
		pos.UnrealizedPL = decimal.Zero
		pos.Status = domain.PositionClosed
	case oldQty.Sign() == 0 || oldQty.Sign() == signed.Sign():
		notional := pos.AvgEntryPrice.Mul(oldQty.Abs()).Add(fillPrice.Mul(signed.Abs()))
		pos.AvgEntryPrice = notional.Div(newQty.Abs())
		pos.Qty = newQty
	case oldQty.Sign() == newQty.Sign():
		pos.Qty = newQty
	default:
		pos.Qty = newQty
		pos.AvgEntryPrice = fillPrice
	}

	if pos.Status == domain.PositionOpen {
		pos.MarketPrice = fillPrice
		pos.RecomputeUnrealized()
	}
	pos.ReconciledAt = now
	return nil
}

// Positions returns a deep-copied snapshot of the user's positions, sorted
// by symbol. The copies carry their last-reconciled timestamps so stale data
// is labeled, never hidden.
func (l *Ledger) Positions(userID string) []domain.Position {
	b := l.book(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Account returns the last reconciled account snapshot for the user, if any.
func (l *Ledger) Account(userID string) (*domain.AccountInfo, bool) {
	b := l.book(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.account == nil {
		return nil, false
	}
	clone := *b.account
	return &clone, true
}

// OpenSymbols returns the distinct symbols held open by any user, sorted.
// The price-refresh loop quotes exactly this set.
func (l *Ledger) OpenSymbols() []string {
	seen := make(map[string]bool)
	l.books.Range(func(_, v any) bool {
		b := v.(*book)
		b.mu.Lock()
		for _, pos := range b.positions {
			if pos.Status == domain.PositionOpen {
				seen[pos.Symbol] = true
			}
		}
		b.mu.Unlock()
		return true
	})

	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ConsecutiveFailures returns the current reconcile failure streak.
func (l *Ledger) ConsecutiveFailures() int {
	return int(l.failures.Load())
}

// Health degrades once reconciliation has failed failureThreshold times in a
// row; a single transient failure is absorbed silently.
func (l *Ledger) Health() domain.HealthStatus {
	if int(l.failures.Load()) >= l.failureThreshold {
		return domain.HealthDegraded
	}
	return domain.HealthHealthy
}
