// Package ledger implements the append-only cost record described in §4.1:
// per-stage pricing, daily/monthly rolling-window aggregates and budget
// checks. It never mutates or deletes an entry except through an explicit
// retention trim.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/aria-voice/aria-core/pkg/clock"
)

// Mode is which backend produced a cost entry.
type Mode string

const (
	ModePremium   Mode = "premium"
	ModeEfficient Mode = "efficient"
)

// Units is the raw measurement passed to Record; only the fields relevant
// to the entry's stage need to be populated.
type Units struct {
	AudioInputSeconds  float64
	AudioOutputSeconds float64
	Minutes            float64 // transcription duration, in minutes
	InputTokens        int
	OutputTokens       int
	Characters         int
}

// Entry is one append-only cost record (§3).
type Entry struct {
	ID           string
	Timestamp    time.Time
	Mode         Mode
	Stage        Stage
	Amount       float64
	Tokens       int
	AudioSeconds float64
}

// Metrics is the snapshot returned by Ledger.Metrics.
type Metrics struct {
	Total          float64
	Today          float64
	Month          float64
	Count          int
	Avg            float64
	DailyRemaining float64
}

// DailyRetention is how long entries survive Trim (§3, §6: "keep 30 days").
const DailyRetention = 30 * 24 * time.Hour

const dayWindow = 24 * time.Hour

// Ledger is the single writer / multiple reader cost record. Writes are
// append-only so, under the single-event-loop concurrency model (§5), reads
// never race with the in-flight append.
type Ledger struct {
	mu      sync.RWMutex
	clock   clock.Clock
	price   pricing
	entries []Entry

	dailyBudget   float64
	monthlyBudget float64

	meterOnce     sync.Once
	costCounter   otelmetric.Float64Counter
	tokenCounter  otelmetric.Int64Counter
	audioCounter  otelmetric.Float64Counter
}

// New creates a Ledger with the fixed DefaultPricing table and the given
// daily/monthly budgets (§6 `daily_budget`/`monthly_budget`).
func New(c clock.Clock, dailyBudget, monthlyBudget float64) *Ledger {
	if c == nil {
		c = clock.System{}
	}
	return &Ledger{
		clock:         c,
		price:         DefaultPricing,
		dailyBudget:   dailyBudget,
		monthlyBudget: monthlyBudget,
	}
}

// ensureInstruments lazily creates the OTel counters on first use, mirroring
// the sync.Once-guarded meter-instrument pattern used elsewhere in the
// voice-agent ecosystem for token/cost telemetry. Absent a configured
// MeterProvider these are harmless no-op instruments.
func (l *Ledger) ensureInstruments() {
	l.meterOnce.Do(func() {
		m := otel.Meter("aria-core/ledger")
		l.costCounter, _ = m.Float64Counter("aria.cost.usd", otelmetric.WithDescription("Cumulative cost in USD by stage and mode"))
		l.tokenCounter, _ = m.Int64Counter("aria.llm.tokens", otelmetric.WithDescription("Cumulative LLM tokens by stage and mode"))
		l.audioCounter, _ = m.Float64Counter("aria.audio.seconds", otelmetric.WithDescription("Cumulative audio seconds processed by stage and mode"))
	})
}

// cost computes the dollar amount for one stage given raw units, reading
// only the price-table fields relevant to that stage.
func (l *Ledger) cost(mode Mode, stage Stage, u Units) float64 {
	switch stage {
	case StageRealtime:
		return u.AudioInputSeconds*l.price.StreamingAudioInputPerSecond +
			u.AudioOutputSeconds*l.price.StreamingAudioOutputPerSecond +
			float64(u.InputTokens)*l.price.StreamingTextInputPerToken +
			float64(u.OutputTokens)*l.price.StreamingTextOutputPerToken
	case StageTranscribe:
		return u.Minutes * l.price.TranscribePerMinute
	case StageReason:
		return float64(u.InputTokens)/1_000_000*l.price.ReasonInputPerMillionTokens +
			float64(u.OutputTokens)/1_000_000*l.price.ReasonOutputPerMillionTokens
	case StageSynthesize:
		return float64(u.Characters) / 1000 * l.price.SynthesizePer1000Chars
	default:
		return 0
	}
}

// Record prices `u` for the given mode/stage, appends the resulting Entry
// in wall-clock order and returns that Entry, whose Amount is the computed
// cost (§4.1).
func (l *Ledger) Record(mode Mode, stage Stage, u Units) Entry {
	amount := l.cost(mode, stage, u)

	entry := Entry{
		ID:           uuid.NewString(),
		Timestamp:    l.clock.Now(),
		Mode:         mode,
		Stage:        stage,
		Amount:       amount,
		Tokens:       u.InputTokens + u.OutputTokens,
		AudioSeconds: u.AudioInputSeconds + u.AudioOutputSeconds + u.Minutes*60,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.ensureInstruments()
	ctx := context.Background()
	attrs := []otelmetric.AddOption{attrStage(stage), attrMode(mode)}
	if l.costCounter != nil {
		l.costCounter.Add(ctx, amount, attrs...)
	}
	if l.tokenCounter != nil && entry.Tokens > 0 {
		l.tokenCounter.Add(ctx, int64(entry.Tokens), attrs...)
	}
	if l.audioCounter != nil && entry.AudioSeconds > 0 {
		l.audioCounter.Add(ctx, entry.AudioSeconds, attrs...)
	}

	return entry
}

// Metrics computes the §4.1 aggregate snapshot as of `now`.
func (l *Ledger) Metrics(now time.Time) Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var m Metrics
	var todaySum, monthSum float64
	dayStart := now.Add(-dayWindow)
	monthStart := now.Add(-30 * 24 * time.Hour)

	for _, e := range l.entries {
		m.Total += e.Amount
		m.Count++
		if !e.Timestamp.Before(dayStart) {
			todaySum += e.Amount
		}
		if !e.Timestamp.Before(monthStart) {
			monthSum += e.Amount
		}
	}

	m.Today = todaySum
	m.Month = monthSum
	if m.Count > 0 {
		m.Avg = m.Total / float64(m.Count)
	}
	m.DailyRemaining = l.dailyBudget - todaySum
	if m.DailyRemaining < 0 {
		m.DailyRemaining = 0
	}
	return m
}

// DailyUsagePct returns today's spend as a percentage of the daily budget
// (0 when no budget is configured).
func (l *Ledger) DailyUsagePct(now time.Time) float64 {
	if l.dailyBudget <= 0 {
		return 0
	}
	m := l.Metrics(now)
	return m.Today / l.dailyBudget * 100
}

// ExceededDaily reports whether today's spend is at or above the daily
// budget.
func (l *Ledger) ExceededDaily(now time.Time) bool {
	return l.Metrics(now).Today >= l.dailyBudget
}

// ExceededMonthly reports whether this month's (30-day rolling) spend is at
// or above the monthly budget.
func (l *Ledger) ExceededMonthly(now time.Time) bool {
	return l.Metrics(now).Month >= l.monthlyBudget
}

// Trim drops entries older than DailyRetention, as of `now` (§6: "on load
// the ledger must replay entries in timestamp order to maintain
// monotonicity" — Trim only ever removes from the front since entries are
// appended in order).
func (l *Ledger) Trim(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-DailyRetention)
	i := sort.Search(len(l.entries), func(i int) bool {
		return !l.entries[i].Timestamp.Before(cutoff)
	})
	removed := i
	l.entries = l.entries[i:]
	return removed
}

// Snapshot returns a copy of every entry, for external persistence.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Replay appends externally-persisted entries in timestamp order, as
// required when restoring a snapshot (§6). It does not re-derive cost; it
// trusts the persisted Amount.
func (l *Ledger) Replay(entries []Entry) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, sorted...)
}

func attrStage(s Stage) otelmetric.MeasurementOption {
	return otelmetric.WithAttributeSet(stageAttrSet(s))
}

func attrMode(m Mode) otelmetric.MeasurementOption {
	return otelmetric.WithAttributeSet(modeAttrSet(m))
}
