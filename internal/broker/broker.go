// Package broker defines the Broker interface the control-plane submits
// orders through, with an Alpaca implementation and an in-memory simulator
// for paper trading and tests.
package broker

import (
	"context"
	"errors"

	"tradekeeper/internal/domain"
)

// ErrUnavailable wraps any transport or brokerage failure. Callers treat it
// as transient for reads (retried on the next cycle) and as a terminal,
// never-auto-retried failure for order placement.
var ErrUnavailable = errors.New("broker unavailable")

// Broker abstracts the external brokerage. It owns the authoritative order
// book and position state; the ledger only mirrors it.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// PlaceOrder submits an order and returns the broker's order ID.
	// clientOrderID is the caller-generated idempotency token attached to
	// the submission.
	PlaceOrder(ctx context.Context, req domain.OrderRequest, clientOrderID string) (string, error)

	// GetPositions returns the broker's current positions for the user.
	GetPositions(ctx context.Context, userID string) ([]domain.PositionSnapshot, error)

	// GetAccount returns a snapshot of the user's account metrics.
	GetAccount(ctx context.Context, userID string) (*domain.AccountInfo, error)

	// GetQuotes returns the latest market price for each symbol. Symbols the
	// broker has no data for are omitted from the result.
	GetQuotes(ctx context.Context, symbols []string) ([]domain.PriceQuote, error)
}
