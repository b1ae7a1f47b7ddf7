// Package risk implements the circuit-breaker risk manager. It owns the
// RiskState exclusively: trade outcomes, rejection counts, equity and
// drawdown tracking, and per-trigger cooldowns. The breaker is advanced by
// the engine loop's own tick (every CanTrade call), never by self-scheduled
// timers, which keeps it deterministic under test.
package risk

import (
	"fmt"
	"sync"
	"time"
)

// Trigger identifies which limit tripped the breaker.
type Trigger string

const (
	TriggerNone              Trigger = ""
	TriggerConsecutiveLosses Trigger = "CONSECUTIVE_LOSSES"
	TriggerDailyTrades       Trigger = "DAILY_TRADES"
	TriggerRejections        Trigger = "ORDER_REJECTIONS"
	TriggerDailyLoss         Trigger = "DAILY_LOSS"
	TriggerDrawdown          Trigger = "DRAWDOWN"
)

// Limits defines the configurable breach thresholds and cooldowns.
type Limits struct {
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxDailyTrades       int     `yaml:"max_daily_trades"`
	MaxOrderRejections   int     `yaml:"max_order_rejections"`
	DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct"` // % of day-start equity
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`     // % off peak equity

	CooldownLosses    time.Duration `yaml:"cooldown_losses"`
	CooldownRejection time.Duration `yaml:"cooldown_rejection"`
	CooldownDailyLoss time.Duration `yaml:"cooldown_daily_loss"`
	CooldownDrawdown  time.Duration `yaml:"cooldown_drawdown"`
}

// DefaultLimits returns conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxConsecutiveLosses: 3,
		MaxDailyTrades:       30,
		MaxOrderRejections:   5,
		DailyLossLimitPct:    5.0,
		MaxDrawdownPct:       10.0,
		CooldownLosses:       30 * time.Minute,
		CooldownRejection:    10 * time.Minute,
		CooldownDailyLoss:    4 * time.Hour,
		CooldownDrawdown:     8 * time.Hour,
	}
}

// State is a read-only snapshot of the breaker.
type State struct {
	ConsecutiveLosses   int       `json:"consecutive_losses"`
	DailyTrades         int       `json:"daily_trades"`
	OrderRejections     int       `json:"order_rejections"`
	DailyLossAmount     float64   `json:"daily_loss_amount"`
	Equity              float64   `json:"equity"`
	PeakEquity          float64   `json:"peak_equity"`
	MaxDrawdownObserved float64   `json:"max_drawdown_observed"` // pct
	CooldownUntil       time.Time `json:"cooldown_until"`
	Tripped             bool      `json:"tripped"`
	Trigger             Trigger   `json:"trigger"`
}

// Manager is the circuit breaker. All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time

	consecutiveLosses int
	dailyTrades       int
	rejections        int

	dayStartEquity float64
	dailyLoss      float64 // positive = cumulative loss today
	equity         float64
	peakEquity     float64
	maxDrawdown    float64 // pct

	cooldownUntil time.Time
	tripped       bool
	trigger       Trigger

	currentDay time.Time // UTC midnight of the day the counters belong to
}

// New creates a breaker with the given limits and starting equity.
// nowFn is the clock; pass nil for time.Now.
func New(limits Limits, initialEquity float64, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	m := &Manager{
		limits:         limits,
		now:            nowFn,
		equity:         initialEquity,
		peakEquity:     initialEquity,
		dayStartEquity: initialEquity,
	}
	m.currentDay = dayOf(nowFn())
	return m
}

// CanTrade reports whether new entries and quoting are allowed right now.
// A detected breach (re)arms the cooldown for its trigger type. The string
// explains a false result.
func (m *Manager) CanTrade() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeRollover(now)

	if m.tripped {
		if now.Before(m.cooldownUntil) {
			return false, fmt.Sprintf("cooldown until %s (%s)",
				m.cooldownUntil.Format(time.RFC3339), m.trigger)
		}
		// Cooldown served: clear the trip and the counter that caused it,
		// so a stale counter does not instantly re-open the breaker.
		switch m.trigger {
		case TriggerConsecutiveLosses:
			m.consecutiveLosses = 0
		case TriggerRejections:
			m.rejections = 0
		}
		m.tripped = false
		m.trigger = TriggerNone
	}

	if t, reason := m.breach(); t != TriggerNone {
		m.trip(now, t)
		return false, reason
	}
	return true, ""
}

// breach returns the first standing breach condition. Caller holds the lock.
func (m *Manager) breach() (Trigger, string) {
	l := m.limits
	if l.MaxConsecutiveLosses > 0 && m.consecutiveLosses >= l.MaxConsecutiveLosses {
		return TriggerConsecutiveLosses,
			fmt.Sprintf("consecutive losses %d >= %d", m.consecutiveLosses, l.MaxConsecutiveLosses)
	}
	if l.MaxDailyTrades > 0 && m.dailyTrades >= l.MaxDailyTrades {
		return TriggerDailyTrades,
			fmt.Sprintf("daily trades %d >= %d", m.dailyTrades, l.MaxDailyTrades)
	}
	if l.MaxOrderRejections > 0 && m.rejections >= l.MaxOrderRejections {
		return TriggerRejections,
			fmt.Sprintf("order rejections %d >= %d", m.rejections, l.MaxOrderRejections)
	}
	if l.DailyLossLimitPct > 0 && m.dayStartEquity > 0 {
		lossPct := m.dailyLoss / m.dayStartEquity * 100
		if lossPct >= l.DailyLossLimitPct {
			return TriggerDailyLoss,
				fmt.Sprintf("daily loss %.2f%% >= %.2f%%", lossPct, l.DailyLossLimitPct)
		}
	}
	if l.MaxDrawdownPct > 0 && m.peakEquity > 0 {
		ddPct := (m.peakEquity - m.equity) / m.peakEquity * 100
		if ddPct >= l.MaxDrawdownPct {
			return TriggerDrawdown,
				fmt.Sprintf("drawdown %.2f%% >= %.2f%%", ddPct, l.MaxDrawdownPct)
		}
	}
	return TriggerNone, ""
}

func (m *Manager) trip(now time.Time, t Trigger) {
	var cd time.Duration
	switch t {
	case TriggerConsecutiveLosses:
		cd = m.limits.CooldownLosses
	case TriggerRejections:
		cd = m.limits.CooldownRejection
	case TriggerDailyLoss, TriggerDailyTrades:
		cd = m.limits.CooldownDailyLoss
	case TriggerDrawdown:
		cd = m.limits.CooldownDrawdown
	}
	m.tripped = true
	m.trigger = t
	m.cooldownUntil = now.Add(cd)
}

// RecordTrade records one realized trade outcome. Wins reset the
// consecutive-loss counter; losses increment it and add to the daily loss.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeRollover(m.now())
	m.dailyTrades++
	if pnl < 0 {
		m.consecutiveLosses++
		m.dailyLoss += -pnl
	} else {
		m.consecutiveLosses = 0
	}
	m.applyEquity(m.equity + pnl)
}

// RecordRejection counts one venue order rejection.
func (m *Manager) RecordRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRollover(m.now())
	m.rejections++
}

// UpdateEquity feeds the realized+unrealized equity stream into peak and
// drawdown tracking.
func (m *Manager) UpdateEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyEquity(equity)
}

// applyEquity updates equity, the peak, and the observed max drawdown.
// Caller holds the lock.
func (m *Manager) applyEquity(equity float64) {
	m.equity = equity
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.peakEquity > 0 {
		dd := (m.peakEquity - m.equity) / m.peakEquity * 100
		if dd > m.maxDrawdown {
			m.maxDrawdown = dd
		}
	}
}

// maybeRollover resets the daily counters exactly once when the UTC date
// changes. Caller holds the lock.
func (m *Manager) maybeRollover(now time.Time) {
	day := dayOf(now)
	if day.Equal(m.currentDay) {
		return
	}
	m.currentDay = day
	m.dailyTrades = 0
	m.dailyLoss = 0
	m.rejections = 0
	m.dayStartEquity = m.equity
}

// Snapshot returns a copy of the current risk state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		ConsecutiveLosses:   m.consecutiveLosses,
		DailyTrades:         m.dailyTrades,
		OrderRejections:     m.rejections,
		DailyLossAmount:     m.dailyLoss,
		Equity:              m.equity,
		PeakEquity:          m.peakEquity,
		MaxDrawdownObserved: m.maxDrawdown,
		CooldownUntil:       m.cooldownUntil,
		Tripped:             m.tripped,
		Trigger:             m.trigger,
	}
}

func dayOf(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
