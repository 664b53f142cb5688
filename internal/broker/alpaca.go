package broker

import (
	"context"
	"fmt"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradekeeper/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface against the Alpaca trading
// and market-data APIs. Alpaca credentials identify a single account, so the
// userID argument is accepted for interface symmetry and ignored.
type AlpacaBroker struct {
	trading *alpacaapi.Client
	data    *marketdata.Client
}

// NewAlpacaBroker creates an AlpacaBroker from API credentials. baseURL and
// dataURL may be empty to use the SDK defaults (paper trading endpoints are
// selected by baseURL).
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL string) *AlpacaBroker {
	tradingOpts := alpacaapi.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		tradingOpts.BaseURL = baseURL
	}

	dataOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}

	return &AlpacaBroker{
		trading: alpacaapi.NewClient(tradingOpts),
		data:    marketdata.NewClient(dataOpts),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// PlaceOrder submits a day order. A zero request price maps to a market
// order, a positive price to a limit order.
func (b *AlpacaBroker) PlaceOrder(_ context.Context, req domain.OrderRequest, clientOrderID string) (string, error) {
	qty := req.Qty
	por := alpacaapi.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpacaapi.Side(req.Side),
		Type:          alpacaapi.Market,
		TimeInForce:   alpacaapi.Day,
		ClientOrderID: clientOrderID,
	}
	if req.Price.IsPositive() {
		price := req.Price
		por.Type = alpacaapi.Limit
		por.LimitPrice = &price
	}

	order, err := b.trading.PlaceOrder(por)
	if err != nil {
		return "", fmt.Errorf("%w: placing %s %s %s: %v", ErrUnavailable, req.Side, req.Qty, req.Symbol, err)
	}
	return order.ID, nil
}

// GetPositions returns the account's current positions.
func (b *AlpacaBroker) GetPositions(_ context.Context, _ string) ([]domain.PositionSnapshot, error) {
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("%w: fetching positions: %v", ErrUnavailable, err)
	}

	out := make([]domain.PositionSnapshot, 0, len(positions))
	for _, p := range positions {
		snap := domain.PositionSnapshot{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
		}
		if p.CurrentPrice != nil {
			snap.MarketPrice = *p.CurrentPrice
		} else {
			snap.MarketPrice = p.AvgEntryPrice
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetAccount returns the account's financial snapshot.
func (b *AlpacaBroker) GetAccount(_ context.Context, _ string) (*domain.AccountInfo, error) {
	acct, err := b.trading.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("%w: fetching account: %v", ErrUnavailable, err)
	}
	return &domain.AccountInfo{
		Cash:        acct.Cash,
		Equity:      acct.Equity,
		BuyingPower: acct.BuyingPower,
	}, nil
}

// GetQuotes returns the latest trade price per symbol.
func (b *AlpacaBroker) GetQuotes(_ context.Context, symbols []string) ([]domain.PriceQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	trades, err := b.data.GetLatestTrades(symbols, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching quotes: %v", ErrUnavailable, err)
	}

	now := time.Now()
	out := make([]domain.PriceQuote, 0, len(trades))
	for symbol, trade := range trades {
		out = append(out, domain.PriceQuote{
			Symbol: symbol,
			Price:  decimal.NewFromFloat(trade.Price),
			At:     now,
		})
	}
	return out, nil
}
