package advisor

import (
	"log/slog"
	"sort"
	"time"

	"tradekeeper/internal/config"
	"tradekeeper/internal/domain"
)

// conservativeOrder breaks score ties between consensus actions: when two
// actions aggregate to the same weight, the earlier (less aggressive) one
// wins. HOLD beats REDUCE beats INCREASE beats CLOSE.
var conservativeOrder = []domain.Action{
	domain.ActionHold,
	domain.ActionReduce,
	domain.ActionIncrease,
	domain.ActionClose,
}

// Advisor runs the strategy set against positions and aggregates their
// opinions into recommendations. It is safe for concurrent use.
type Advisor struct {
	strategies    []Strategy
	weights       map[string]float64
	minConfidence float64
	history       *History
	log           *slog.Logger
	now           func() time.Time
}

// New creates an Advisor over the built-in strategy set, weighted and
// thresholded per the given config.
func New(cfg config.AdvisorConfig, history *History, log *slog.Logger) *Advisor {
	return &Advisor{
		strategies:    Builtins(),
		weights:       cfg.Weights,
		minConfidence: cfg.MinConfidence,
		history:       history,
		log:           log.With("component", "advisor"),
		now:           time.Now,
	}
}

// History returns the price history tracker the advisor evaluates against.
func (a *Advisor) History() *History {
	return a.history
}

// Evaluate runs every strategy against the position and aggregates the
// resulting opinions into one recommendation.
func (a *Advisor) Evaluate(pos domain.Position) domain.Recommendation {
	prices := a.history.Prices(pos.Symbol)

	opinions := make([]domain.Opinion, 0, len(a.strategies))
	for _, s := range a.strategies {
		op := s.Evaluate(pos, prices)
		op.Strategy = s.Name()
		op.Symbol = pos.Symbol
		opinions = append(opinions, op)
	}
	return a.Aggregate(pos, opinions)
}

// Aggregate combines strategy opinions into a consensus recommendation.
// Each opinion contributes (configured strategy weight x confidence) to its
// action's score; the winning action has the highest score, ties broken
// conservative-first. Consensus confidence is the winner's score. Below the
// minimum-confidence threshold the action falls back to HOLD. Urgency is the
// maximum among opinions agreeing with the final action.
//
// The result depends only on the multiset of opinions: input order never
// changes the outcome.
func (a *Advisor) Aggregate(pos domain.Position, opinions []domain.Opinion) domain.Recommendation {
	// Accumulate in a fixed order so floating-point summation cannot vary
	// with input permutation.
	sorted := make([]domain.Opinion, len(opinions))
	copy(sorted, opinions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Strategy < sorted[j].Strategy })

	scores := make(map[domain.Action]float64, len(conservativeOrder))
	for _, op := range sorted {
		scores[op.Action] += a.weights[op.Strategy] * op.Confidence
	}

	action := domain.ActionHold
	best := -1.0
	for _, candidate := range conservativeOrder {
		if score := scores[candidate]; score > best {
			action = candidate
			best = score
		}
	}
	confidence := scores[action]

	if confidence < a.minConfidence {
		action = domain.ActionHold
	}

	urgency := domain.UrgencyLow
	for _, op := range sorted {
		if op.Action == action && op.Urgency > urgency {
			urgency = op.Urgency
		}
	}

	return domain.Recommendation{
		UserID:      pos.UserID,
		Symbol:      pos.Symbol,
		Action:      action,
		Confidence:  confidence,
		Urgency:     urgency,
		Opinions:    sorted,
		GeneratedAt: a.now(),
	}
}
