package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradekeeper/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

type simPosition struct {
	qty decimal.Decimal
	avg decimal.Decimal
}

type simAccount struct {
	cash      decimal.Decimal
	positions map[string]*simPosition
}

// SimulatorBroker implements the Broker interface entirely in memory for
// paper trading and tests. Orders fill immediately at the configured quote
// (market) or at the limit price; accounts are created lazily with the
// configured starting cash.
type SimulatorBroker struct {
	mu           sync.Mutex
	startingCash decimal.Decimal
	quotes       map[string]decimal.Decimal
	accounts     map[string]*simAccount
	failErr      error
}

// NewSimulatorBroker creates a SimulatorBroker whose accounts start with the
// given cash balance.
func NewSimulatorBroker(startingCash decimal.Decimal) *SimulatorBroker {
	return &SimulatorBroker{
		startingCash: startingCash,
		quotes:       make(map[string]decimal.Decimal),
		accounts:     make(map[string]*simAccount),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetQuote sets the simulated market price for a symbol.
func (b *SimulatorBroker) SetQuote(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	b.quotes[symbol] = price
	b.mu.Unlock()
}

// SeedPosition installs a broker-side position directly, bypassing order
// flow. Tests use it to stage authoritative broker state for reconciliation.
func (b *SimulatorBroker) SeedPosition(userID, symbol string, qty, avgPrice decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := b.account(userID)
	if qty.IsZero() {
		delete(acct.positions, symbol)
		return
	}
	acct.positions[symbol] = &simPosition{qty: qty, avg: avgPrice}
}

// Fail injects an error returned by every subsequent call; Fail(nil)
// restores normal operation.
func (b *SimulatorBroker) Fail(err error) {
	b.mu.Lock()
	b.failErr = err
	b.mu.Unlock()
}

// account returns the user's account, creating it lazily. Caller holds mu.
func (b *SimulatorBroker) account(userID string) *simAccount {
	acct, ok := b.accounts[userID]
	if !ok {
		acct = &simAccount{
			cash:      b.startingCash,
			positions: make(map[string]*simPosition),
		}
		b.accounts[userID] = acct
	}
	return acct
}

// PlaceOrder fills the order immediately and returns a generated order ID.
// Market orders require a quote for the symbol.
func (b *SimulatorBroker) PlaceOrder(_ context.Context, req domain.OrderRequest, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failErr != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, b.failErr)
	}

	fillPrice := req.Price
	if !fillPrice.IsPositive() {
		quote, ok := b.quotes[req.Symbol]
		if !ok {
			return "", fmt.Errorf("%w: no quote for %s", ErrUnavailable, req.Symbol)
		}
		fillPrice = quote
	}

	acct := b.account(req.UserID)
	pos, ok := acct.positions[req.Symbol]
	if !ok {
		pos = &simPosition{}
		acct.positions[req.Symbol] = pos
	}

	signedQty := req.Qty
	if req.Side == domain.SideSell {
		signedQty = signedQty.Neg()
		acct.cash = acct.cash.Add(fillPrice.Mul(req.Qty))
	} else {
		acct.cash = acct.cash.Sub(fillPrice.Mul(req.Qty))
	}

	newQty := pos.qty.Add(signedQty)
	switch {
	case newQty.IsZero():
		delete(acct.positions, req.Symbol)
	case pos.qty.Sign() == 0 || pos.qty.Sign() == signedQty.Sign():
		// Opening or extending: weighted average entry.
		notional := pos.avg.Mul(pos.qty.Abs()).Add(fillPrice.Mul(signedQty.Abs()))
		pos.avg = notional.Div(newQty.Abs())
		pos.qty = newQty
	case pos.qty.Sign() == newQty.Sign():
		// Reducing: average entry unchanged.
		pos.qty = newQty
	default:
		// Crossed through zero: remainder is a fresh position at fill price.
		pos.qty = newQty
		pos.avg = fillPrice
	}

	return uuid.NewString(), nil
}

// GetPositions returns snapshots of the user's non-flat positions, sorted by
// symbol for deterministic output.
func (b *SimulatorBroker) GetPositions(_ context.Context, userID string) ([]domain.PositionSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, b.failErr)
	}

	acct := b.account(userID)
	out := make([]domain.PositionSnapshot, 0, len(acct.positions))
	for symbol, pos := range acct.positions {
		market := pos.avg
		if quote, ok := b.quotes[symbol]; ok {
			market = quote
		}
		out = append(out, domain.PositionSnapshot{
			Symbol:        symbol,
			Qty:           pos.qty,
			AvgEntryPrice: pos.avg,
			MarketPrice:   market,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetAccount returns cash plus marked-to-market equity.
func (b *SimulatorBroker) GetAccount(_ context.Context, userID string) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, b.failErr)
	}

	acct := b.account(userID)
	equity := acct.cash
	for symbol, pos := range acct.positions {
		market := pos.avg
		if quote, ok := b.quotes[symbol]; ok {
			market = quote
		}
		equity = equity.Add(market.Mul(pos.qty))
	}
	return &domain.AccountInfo{
		Cash:        acct.cash,
		Equity:      equity,
		BuyingPower: acct.cash,
	}, nil
}

// GetQuotes returns configured quotes for the requested symbols; symbols
// without a quote are omitted.
func (b *SimulatorBroker) GetQuotes(_ context.Context, symbols []string) ([]domain.PriceQuote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, b.failErr)
	}

	now := time.Now()
	out := make([]domain.PriceQuote, 0, len(symbols))
	for _, symbol := range symbols {
		if price, ok := b.quotes[symbol]; ok {
			out = append(out, domain.PriceQuote{Symbol: symbol, Price: price, At: now})
		}
	}
	return out, nil
}
