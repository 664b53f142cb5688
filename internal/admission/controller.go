package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tradekeeper/internal/domain"
	"tradekeeper/internal/store"
)

var (
	// ErrInvalidRequest marks an order request that fails basic validation
	// before any admission state is consulted.
	ErrInvalidRequest = errors.New("invalid order request")
)

// Options carries the admission policy parameters.
type Options struct {
	DedupWindow  time.Duration
	AttemptGrace time.Duration
	RateLimit    int
	RateWindow   time.Duration
}

// Controller guards the path to the broker. The in-process cache is the
// authority for concurrent admissions within this process; the durable store,
// when present, extends dedup across restarts. A durable-store failure flips
// the controller to degraded and it continues on the in-process cache alone,
// failing closed rather than admitting unconditionally.
type Controller struct {
	cache    *store.MemoryStore
	durable  store.KV // optional; nil when no backend configured
	attempts store.AttemptStore
	limiter  *SlidingWindow
	opts     Options
	log      *slog.Logger

	degraded atomic.Bool
	now      func() time.Time // injectable for tests
}

// NewController creates a Controller. durable may be nil; attempts must not
// be. Zero window durations fall back to safe defaults: the fingerprint time
// bucket divides by the dedup window, so it must never be zero.
func NewController(durable store.KV, attempts store.AttemptStore, opts Options, log *slog.Logger) *Controller {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Minute
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	return &Controller{
		cache:    store.NewMemoryStore(),
		durable:  durable,
		attempts: attempts,
		limiter:  NewSlidingWindow(opts.RateLimit, opts.RateWindow),
		opts:     opts,
		log:      log.With("component", "admission"),
		now:      time.Now,
	}
}

// validate applies the input constraints: user and symbol present, a known
// side, positive quantity, non-negative price (zero denotes a market order).
func validate(req domain.OrderRequest) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	case req.Symbol == "":
		return fmt.Errorf("%w: missing symbol", ErrInvalidRequest)
	case req.Side != domain.SideBuy && req.Side != domain.SideSell:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidRequest, req.Side)
	case !req.Qty.IsPositive():
		return fmt.Errorf("%w: qty must be positive", ErrInvalidRequest)
	case req.Price.IsNegative():
		return fmt.Errorf("%w: price must be non-negative", ErrInvalidRequest)
	}
	return nil
}

// Admit decides whether the request may proceed. The fingerprint reservation
// is an atomic check-and-insert, so two concurrent identical requests resolve
// to exactly one accepted decision. A rate-limited rejection releases the
// reservation: the same order retried after the window clears must not be
// misclassified as a duplicate.
func (c *Controller) Admit(ctx context.Context, req domain.OrderRequest) (domain.Decision, error) {
	if err := validate(req); err != nil {
		return domain.Decision{}, err
	}

	now := c.now()
	fp := Fingerprint(req, now, c.opts.DedupWindow)

	reserved, err := c.cache.PutIfAbsent(ctx, fp, string(domain.OutcomeAccepted), c.opts.DedupWindow)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("reserving fingerprint: %w", err)
	}
	if !reserved {
		return c.decide(ctx, req, fp, now, domain.OutcomeDuplicate,
			"identical order already submitted within dedup window"), nil
	}

	// The durable store may hold fingerprints recorded before a restart.
	if c.durable != nil {
		if _, found, err := c.durable.Get(ctx, fp); err != nil {
			c.degrade(err)
		} else if found {
			return c.decide(ctx, req, fp, now, domain.OutcomeDuplicate,
				"identical order recorded before restart"), nil
		}
	}

	if !c.limiter.Allow(req.UserID, now) {
		if err := c.cache.Delete(ctx, fp); err != nil {
			c.log.Warn("releasing fingerprint after rate limit", "error", err)
		}
		return c.decide(ctx, req, fp, now, domain.OutcomeRateLimited,
			"admission quota exhausted, retry after window rolls over"), nil
	}

	if c.durable != nil {
		stored, err := c.durable.PutIfAbsent(ctx, fp, string(domain.OutcomeAccepted), c.opts.DedupWindow)
		if err != nil {
			c.degrade(err)
		} else if !stored {
			// Another process won the durable record between the Get above
			// and here; cross-restart dedup stays consistent.
			return c.decide(ctx, req, fp, now, domain.OutcomeDuplicate,
				"identical order recorded by another process"), nil
		}
	}

	return c.decide(ctx, req, fp, now, domain.OutcomeAccepted, ""), nil
}

// RecordBrokerFailure audits a broker-side failure for an already-admitted
// request. The fingerprint stays recorded: the broker may have received the
// order, and at-most-once wins over retryability for the rest of the window.
func (c *Controller) RecordBrokerFailure(ctx context.Context, req domain.OrderRequest, fp string) {
	c.saveAttempt(ctx, req, fp, domain.OutcomeBrokerError, c.now())
}

// decide builds the decision and writes the audit record.
func (c *Controller) decide(ctx context.Context, req domain.OrderRequest, fp string, now time.Time, outcome domain.Outcome, reason string) domain.Decision {
	c.saveAttempt(ctx, req, fp, outcome, now)
	return domain.Decision{
		Outcome:     outcome,
		Fingerprint: fp,
		Reason:      reason,
		DecidedAt:   now,
	}
}

func (c *Controller) saveAttempt(ctx context.Context, req domain.OrderRequest, fp string, outcome domain.Outcome, now time.Time) {
	attempt := domain.Attempt{
		Fingerprint: fp,
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Outcome:     outcome,
		SubmittedAt: now,
	}
	if err := c.attempts.SaveAttempt(ctx, attempt); err != nil {
		c.log.Warn("saving attempt", "fingerprint", fp, "error", err)
	}
}

func (c *Controller) degrade(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		c.log.Warn("durable store failing, continuing on in-process cache", "error", err)
	}
}

// Sweep reclaims expired fingerprints, stale rate-limit windows, and attempts
// past their audit retention. Liveness only; expiry is enforced at lookup.
func (c *Controller) Sweep(ctx context.Context) {
	now := c.now()

	if n, err := c.cache.Sweep(ctx); err == nil && n > 0 {
		c.log.Debug("swept fingerprint cache", "removed", n)
	}
	if c.durable != nil {
		if _, err := c.durable.Sweep(ctx); err != nil {
			c.degrade(err)
		}
	}
	c.limiter.Sweep(now)

	cutoff := now.Add(-c.opts.DedupWindow - c.opts.AttemptGrace)
	if n, err := c.attempts.PruneAttempts(ctx, cutoff); err != nil {
		c.log.Warn("pruning attempts", "error", err)
	} else if n > 0 {
		c.log.Debug("pruned attempts", "removed", n)
	}
}

// Attempts returns the newest audit records for a user.
func (c *Controller) Attempts(ctx context.Context, userID string, limit int) ([]domain.Attempt, error) {
	return c.attempts.ListAttempts(ctx, userID, limit)
}

// Health reports degraded once the durable store has failed; the in-process
// cache keeps dedup intact within this process either way.
func (c *Controller) Health() domain.HealthStatus {
	if c.degraded.Load() {
		return domain.HealthDegraded
	}
	return domain.HealthHealthy
}
