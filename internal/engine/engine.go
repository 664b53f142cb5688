// Package engine coordinates order admission, position reconciliation, and
// signal evaluation across the trading system. It owns the background loops
// and exposes their read/write surface to the API layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradekeeper/internal/admission"
	"tradekeeper/internal/advisor"
	"tradekeeper/internal/broker"
	"tradekeeper/internal/config"
	"tradekeeper/internal/domain"
	"tradekeeper/internal/ledger"
	"tradekeeper/internal/util"
)

// ErrShuttingDown rejects new order intake once shutdown has begun.
var ErrShuttingDown = errors.New("engine shutting down")

// loopResult is what each background loop reports back after a cycle.
type loopResult struct {
	loop string
	err  error
}

// Engine wires the admission controller, position ledger, advisor, and
// broker client together and runs their periodic work.
type Engine struct {
	broker    broker.Broker
	admission *admission.Controller
	ledger    *ledger.Ledger
	advisor   *advisor.Advisor
	log       *slog.Logger
	pacer     *util.Pacer

	users          []string
	brokerTimeout  time.Duration
	reconcileEvery time.Duration
	priceEvery     time.Duration
	evaluateEvery  time.Duration
	sweepEvery     time.Duration
	autoExec       config.AutoExecuteConfig

	accepting atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	results   chan loopResult

	mu       sync.Mutex
	recs     map[string]map[string]domain.Recommendation // user -> symbol -> latest
	lastAuto map[string]time.Time                        // user|symbol -> consensus already acted on
}

// New creates an Engine over the given components. Call Start to begin the
// background loops.
func New(
	cfg *config.Config,
	b broker.Broker,
	ctrl *admission.Controller,
	led *ledger.Ledger,
	adv *advisor.Advisor,
	log *slog.Logger,
) *Engine {
	return &Engine{
		broker:         b,
		admission:      ctrl,
		ledger:         led,
		advisor:        adv,
		log:            log.With("component", "engine"),
		pacer:          util.NewPacer(cfg.Ledger.BrokerRatePerMin),
		users:          cfg.Trading.Users,
		brokerTimeout:  cfg.Trading.BrokerTimeout(),
		reconcileEvery: cfg.Ledger.ReconcileInterval(),
		priceEvery:     cfg.Ledger.PriceInterval(),
		evaluateEvery:  cfg.Advisor.EvaluateInterval(),
		sweepEvery:     cfg.Admission.SweepInterval(),
		autoExec:       cfg.Advisor.AutoExecute,
		results:        make(chan loopResult, 16),
		recs:           make(map[string]map[string]domain.Recommendation),
		lastAuto:       make(map[string]time.Time),
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start opens order intake and launches the background loops: per-user
// reconciliation, price refresh, signal evaluation, and cache sweeping. Each
// loop reports cycle results over a channel consumed by a monitor goroutine,
// so failures surface in one place.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.accepting.Store(true)

	e.wg.Add(1)
	go e.monitor(ctx)

	e.startLoop(ctx, "reconcile", e.reconcileEvery, e.reconcileAll)
	e.startLoop(ctx, "prices", e.priceEvery, e.refreshPrices)
	e.startLoop(ctx, "evaluate", e.evaluateEvery, e.evaluateAll)
	e.startLoop(ctx, "sweep", e.sweepEvery, func(ctx context.Context) error {
		e.admission.Sweep(ctx)
		return nil
	})

	e.log.Info("engine started",
		"users", len(e.users), "broker", e.broker.Name(),
		"auto_execute", e.autoExec.Enabled)
}

// Stop shuts the engine down: order intake closes first, so no admission is
// granted against a ledger that will no longer reconcile, then the loops are
// cancelled and drained. The context bounds how long to wait.
func (e *Engine) Stop(ctx context.Context) error {
	e.accepting.Store(false)
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping engine: %w", ctx.Err())
	}
}

// startLoop runs fn once immediately and then on every tick until ctx is
// cancelled, reporting each cycle's result to the monitor.
func (e *Engine) startLoop(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		report := func(err error) {
			select {
			case e.results <- loopResult{loop: name, err: err}:
			case <-ctx.Done():
			}
		}
		report(fn(ctx))

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report(fn(ctx))
			}
		}
	}()
}

// monitor is the single consumer of loop results.
func (e *Engine) monitor(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-e.results:
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				e.log.Warn("background cycle failed", "loop", res.loop, "error", res.err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Background cycles
// ---------------------------------------------------------------------------

// reconcileAll runs a full broker reconciliation for every managed user.
// Each user reconciles independently: one user's broker failure never blocks
// the others, and the failure is retried on the next cycle.
func (e *Engine) reconcileAll(ctx context.Context) error {
	var firstErr error
	for _, user := range e.users {
		if err := e.pacer.Wait(ctx); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, e.brokerTimeout)
		err := e.ledger.Reconcile(cctx, user)
		cancel()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// refreshPrices quotes every open symbol, feeds the ledger's market prices,
// and records the observations into the advisor's price history.
func (e *Engine) refreshPrices(ctx context.Context) error {
	symbols := e.ledger.OpenSymbols()
	if len(symbols) == 0 {
		return nil
	}
	if err := e.pacer.Wait(ctx); err != nil {
		return err
	}

	var quotes []domain.PriceQuote
	err := util.Retry(ctx, 2, 200*time.Millisecond, func() error {
		cctx, cancel := context.WithTimeout(ctx, e.brokerTimeout)
		defer cancel()
		var err error
		quotes, err = e.broker.GetQuotes(cctx, symbols)
		return err
	})
	if err != nil {
		return fmt.Errorf("refreshing prices: %w", err)
	}

	e.ledger.UpdatePrices(quotes)
	for _, q := range quotes {
		e.advisor.History().Record(q.Symbol, q.Price)
	}
	return nil
}

// evaluateAll recomputes recommendations for every user's open positions and
// feeds qualifying ones into the auto-execution gate.
func (e *Engine) evaluateAll(ctx context.Context) error {
	for _, user := range e.users {
		latest := make(map[string]domain.Recommendation)
		for _, pos := range e.ledger.Positions(user) {
			if pos.Status != domain.PositionOpen {
				continue
			}
			rec := e.advisor.Evaluate(pos)
			latest[pos.Symbol] = rec
			e.maybeAutoExecute(ctx, pos, rec)
		}
		e.mu.Lock()
		e.recs[user] = latest
		e.mu.Unlock()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Order path
// ---------------------------------------------------------------------------

// SubmitOrder runs the request through admission control and, if accepted,
// places it with the broker. Broker failures are reported as a distinct
// broker-error outcome and never retried automatically: the recorded
// fingerprint keeps an identical resubmission out for the rest of the dedup
// window, so a flaky broker cannot be turned into a duplicate fill.
func (e *Engine) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Decision, error) {
	if !e.accepting.Load() {
		return domain.Decision{}, ErrShuttingDown
	}

	dec, err := e.admission.Admit(ctx, req)
	if err != nil || dec.Outcome != domain.OutcomeAccepted {
		return dec, err
	}

	cctx, cancel := context.WithTimeout(ctx, e.brokerTimeout)
	defer cancel()
	orderID, err := e.broker.PlaceOrder(cctx, req, uuid.NewString())
	if err != nil {
		e.admission.RecordBrokerFailure(ctx, req, dec.Fingerprint)
		e.log.Error("broker rejected order",
			"user", req.UserID, "symbol", req.Symbol, "error", err)
		dec.Outcome = domain.OutcomeBrokerError
		dec.Reason = err.Error()
		return dec, nil
	}
	dec.BrokerOrderID = orderID

	if price := e.fillPrice(req); price.IsPositive() {
		if err := e.ledger.ApplyFill(req.UserID, req.Symbol, req.Side, req.Qty, price); err != nil {
			e.log.Warn("could not apply fill locally, reconcile will catch up",
				"user", req.UserID, "symbol", req.Symbol, "error", err)
		}
	}

	e.log.Info("order placed",
		"user", req.UserID, "symbol", req.Symbol, "side", req.Side,
		"qty", req.Qty, "broker_order_id", orderID)
	return dec, nil
}

// fillPrice picks the price to book a fill at ahead of the next reconcile:
// the limit price when there is one, otherwise the last observed market
// price. Zero means no usable price; the reconcile loop owns the truth.
func (e *Engine) fillPrice(req domain.OrderRequest) decimal.Decimal {
	if req.Price.IsPositive() {
		return req.Price
	}
	if prices := e.advisor.History().Prices(req.Symbol); len(prices) > 0 {
		return prices[len(prices)-1]
	}
	return decimal.Zero
}

// ---------------------------------------------------------------------------
// Auto-execution
// ---------------------------------------------------------------------------

// maybeAutoExecute submits an order from a consensus recommendation when the
// gate passes: auto-execution enabled, confidence above the configured
// threshold, urgency HIGH, and an actionable (non-HOLD) consensus. Each
// consensus fires at most once; success or failure, nothing is retried until
// the evaluation loop produces a fresh one. The order goes through the same
// admission path as a manual submission.
func (e *Engine) maybeAutoExecute(ctx context.Context, pos domain.Position, rec domain.Recommendation) {
	if !e.autoExec.Enabled ||
		rec.Action == domain.ActionHold ||
		rec.Confidence <= e.autoExec.Confidence ||
		rec.Urgency != domain.UrgencyHigh {
		return
	}

	key := rec.UserID + "|" + rec.Symbol
	e.mu.Lock()
	if last, ok := e.lastAuto[key]; ok && !rec.GeneratedAt.After(last) {
		e.mu.Unlock()
		return
	}
	e.lastAuto[key] = rec.GeneratedAt
	e.mu.Unlock()

	req, ok := orderFromConsensus(pos, rec)
	if !ok {
		return
	}

	dec, err := e.SubmitOrder(ctx, req)
	if err != nil {
		e.log.Warn("auto-execution rejected",
			"user", req.UserID, "symbol", req.Symbol, "error", err)
		return
	}
	e.log.Info("auto-execution decision",
		"user", req.UserID, "symbol", req.Symbol, "action", rec.Action,
		"confidence", rec.Confidence, "outcome", dec.Outcome)
}

// orderFromConsensus translates a consensus action into a market order
// against the current position: CLOSE flattens, REDUCE trims half, INCREASE
// adds half again.
func orderFromConsensus(pos domain.Position, rec domain.Recommendation) (domain.OrderRequest, bool) {
	exit := domain.SideSell
	add := domain.SideBuy
	if pos.Qty.Sign() < 0 {
		exit, add = domain.SideBuy, domain.SideSell
	}

	var side domain.Side
	var qty decimal.Decimal
	switch rec.Action {
	case domain.ActionClose:
		side, qty = exit, pos.Qty.Abs()
	case domain.ActionReduce:
		side, qty = exit, pos.Qty.Abs().Div(decimal.NewFromInt(2))
	case domain.ActionIncrease:
		side, qty = add, pos.Qty.Abs().Div(decimal.NewFromInt(2))
	default:
		return domain.OrderRequest{}, false
	}
	if !qty.IsPositive() {
		return domain.OrderRequest{}, false
	}

	return domain.OrderRequest{
		UserID: rec.UserID,
		Symbol: rec.Symbol,
		Side:   side,
		Qty:    qty,
	}, true
}

// ---------------------------------------------------------------------------
// Read surface
// ---------------------------------------------------------------------------

// Positions returns the user's current position snapshots.
func (e *Engine) Positions(userID string) []domain.Position {
	return e.ledger.Positions(userID)
}

// Account returns the user's last reconciled account snapshot.
func (e *Engine) Account(userID string) (*domain.AccountInfo, bool) {
	return e.ledger.Account(userID)
}

// Recommendations returns the latest recommendation per open position for
// the user, sorted by symbol. Between evaluation cycles the cached results
// are served; before the first cycle they are computed on the spot.
func (e *Engine) Recommendations(userID string) []domain.Recommendation {
	e.mu.Lock()
	cached := e.recs[userID]
	out := make([]domain.Recommendation, 0, len(cached))
	for _, rec := range cached {
		out = append(out, rec)
	}
	e.mu.Unlock()

	if len(out) == 0 {
		for _, pos := range e.ledger.Positions(userID) {
			if pos.Status == domain.PositionOpen {
				out = append(out, e.advisor.Evaluate(pos))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Attempts returns the user's recent admission audit records, newest first.
func (e *Engine) Attempts(ctx context.Context, userID string, limit int) ([]domain.Attempt, error) {
	return e.admission.Attempts(ctx, userID, limit)
}

// ComponentHealth reports each component's status keyed by name, with the
// aggregate under "engine": the worst of its children, or unhealthy once the
// engine has stopped taking orders.
func (e *Engine) ComponentHealth() map[string]domain.HealthStatus {
	admissionHealth := e.admission.Health()
	ledgerHealth := e.ledger.Health()

	overall := admissionHealth.Worse(ledgerHealth)
	if !e.accepting.Load() {
		overall = domain.HealthUnhealthy
	}
	return map[string]domain.HealthStatus{
		"admission": admissionHealth,
		"ledger":    ledgerHealth,
		"engine":    overall,
	}
}

// Health reports the aggregate engine status.
func (e *Engine) Health() domain.HealthStatus {
	return e.ComponentHealth()["engine"]
}
