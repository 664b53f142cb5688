package advisor

import (
	"sync"

	"github.com/shopspring/decimal"
)

// History tracks a bounded window of recent prices per symbol. The price
// refresh loop writes into it; strategy evaluation reads from it. Prices are
// kept oldest-first.
type History struct {
	mu       sync.Mutex
	capacity int
	prices   map[string][]decimal.Decimal
}

// NewHistory creates a History retaining at most capacity prices per symbol.
func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2
	}
	return &History{
		capacity: capacity,
		prices:   make(map[string][]decimal.Decimal),
	}
}

// Record appends a price observation for the symbol, evicting the oldest once
// the window is full.
func (h *History) Record(symbol string, price decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := append(h.prices[symbol], price)
	if len(window) > h.capacity {
		window = window[len(window)-h.capacity:]
	}
	h.prices[symbol] = window
}

// Prices returns a copy of the symbol's recorded prices, oldest first.
func (h *History) Prices(symbol string) []decimal.Decimal {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := h.prices[symbol]
	out := make([]decimal.Decimal, len(window))
	copy(out, window)
	return out
}
