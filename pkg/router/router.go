// Package router implements the AdaptiveRouter (§4.7): the per-utterance
// decision of which backend mode to use, evaluated fresh at every
// utterance boundary against the cost ledger, the wall clock and an
// optional caller-supplied hint.
package router

import (
	"sync"

	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/clock"
	"github.com/aria-voice/aria-core/pkg/ledger"
)

// Reason names why a RoutingDecision picked its mode (§4.7).
type Reason string

const (
	ReasonUserPreference Reason = "user_preference"
	ReasonCostLimit      Reason = "cost_limit"
	ReasonTimeOfDay      Reason = "time_of_day"
	ReasonInteractionType Reason = "interaction_type"
	ReasonDefault        Reason = "default"
)

// InteractionHint is the caller's classification of the upcoming
// utterance, used only by step 4 of the decision function.
type InteractionHint string

const (
	InteractionSimple InteractionHint = "simple"
	InteractionNone   InteractionHint = ""
)

// Latency/cost estimates from §4.7. These feed telemetry only; they never
// gate the decision itself.
const (
	PremiumEstimatedLatencyMs   = 500
	EfficientEstimatedLatencyMs = 2000
	PremiumEstimatedCostUSD     = 0.12
	EfficientEstimatedCostUSD   = 0.004
)

// RoutingDecision is the per-utterance output of Route (§4.7).
type RoutingDecision struct {
	Mode            backend.Mode
	Reason          Reason
	EstimatedCost   float64
	EstimatedLatencyMs int
}

// Config holds the tunables from §6's configuration table that the
// decision function reads.
type Config struct {
	DefaultMode         backend.Mode
	BudgetThresholdPct  float64
	PeakHoursStart      int
	PeakHoursEnd        int
}

// DefaultConfig mirrors the §6 defaults: premium by default, 50% budget
// threshold, peak window [9, 17).
var DefaultConfig = Config{
	DefaultMode:        backend.ModePremium,
	BudgetThresholdPct: 50,
	PeakHoursStart:     9,
	PeakHoursEnd:       17,
}

// AdaptiveRouter evaluates the §4.7 decision function at each utterance
// boundary.
type AdaptiveRouter struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	costs  *ledger.Ledger
	forced *backend.Mode
}

// New builds a router over the given cost ledger and clock, using cfg for
// its tunables.
func New(costs *ledger.Ledger, c clock.Clock, cfg Config) *AdaptiveRouter {
	if c == nil {
		c = clock.System{}
	}
	return &AdaptiveRouter{cfg: cfg, clock: c, costs: costs}
}

// SetForcedMode pins every future Route call to mode until cleared (§4.3
// `set_forced_mode`). Passing nil clears it, returning routing to
// automatic behavior.
func (r *AdaptiveRouter) SetForcedMode(mode *backend.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced = mode
}

// Route evaluates the §4.7 decision function against the current ledger
// state, wall clock and hint.
func (r *AdaptiveRouter) Route(hint InteractionHint) RoutingDecision {
	r.mu.Lock()
	forced := r.forced
	r.mu.Unlock()

	if forced != nil {
		return r.decide(*forced, ReasonUserPreference)
	}

	now := r.clock.Now()
	if r.costs != nil && r.costs.DailyUsagePct(now) >= r.cfg.BudgetThresholdPct {
		return r.decide(backend.ModeEfficient, ReasonCostLimit)
	}

	hour := r.clock.HourOfDay()
	if hour < r.cfg.PeakHoursStart || hour >= r.cfg.PeakHoursEnd {
		return r.decide(backend.ModeEfficient, ReasonTimeOfDay)
	}

	if hint == InteractionSimple {
		return r.decide(backend.ModeEfficient, ReasonInteractionType)
	}

	return r.decide(r.cfg.DefaultMode, ReasonDefault)
}

func (r *AdaptiveRouter) decide(mode backend.Mode, reason Reason) RoutingDecision {
	d := RoutingDecision{Mode: mode, Reason: reason}
	if mode == backend.ModePremium {
		d.EstimatedCost = PremiumEstimatedCostUSD
		d.EstimatedLatencyMs = PremiumEstimatedLatencyMs
	} else {
		d.EstimatedCost = EfficientEstimatedCostUSD
		d.EstimatedLatencyMs = EfficientEstimatedLatencyMs
	}
	return d
}
