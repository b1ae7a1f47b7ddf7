// Package engine runs the fixed-cadence decision loop: drain market data,
// compute indicators and microstructure, score, gate through risk, consult
// the advisor, execute, publish. One cycle at a time; ticks that land while
// a cycle is still running are skipped and counted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"perpenginev1/internal/advisor"
	"perpenginev1/internal/dashboard"
	"perpenginev1/internal/exchange"
	"perpenginev1/internal/feed"
	"perpenginev1/internal/indicator"
	"perpenginev1/internal/journal"
	"perpenginev1/internal/metrics"
	"perpenginev1/internal/model"
	"perpenginev1/internal/notification"
	"perpenginev1/internal/orderbook"
	"perpenginev1/internal/ringbuf"
	"perpenginev1/internal/risk"
	"perpenginev1/internal/scorer"
)

// Indicator periods. Standard settings; the weight set is what gets tuned,
// not the lookbacks.
const (
	rsiPeriod       = 14
	stochK          = 14
	stochD          = 3
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	superTrendLen   = 10
	superTrendMult  = 3.0
	chandelierLen   = 22
	chandelierMult  = 3.0
	linRegPeriod    = 20
	bollingerPeriod = 20
	bollingerMult   = 2.0
	keltnerPeriod   = 20
	keltnerMult     = 1.5
	divergenceLook  = 14
	regimePeriod    = 20
	regimeQuiet     = 0.5
	regimeVolatile  = 1.5
)

// Config tunes the loop cadence and candle windows.
type Config struct {
	Symbol         string
	Interval       time.Duration
	CandleInterval string // venue interval code for the working frame
	MTFInterval    string // slower frame feeding the trend label
	HistoryLimit   int
}

// Deps are the collaborators the loop drives. Journal, Publisher, and
// Advisor may be nil or disabled; the loop degrades to logging only.
type Deps struct {
	Ticks    *ringbuf.Ring
	Book     *orderbook.Analyzer
	Scorer   *scorer.Scorer
	Risk     *risk.Manager
	Advisor  *advisor.Client
	Exchange *exchange.Engine
	Journal  *journal.Journal
	Publish  *dashboard.Publisher
	Metrics  *metrics.Metrics
	Backfill *feed.Backfill
	Notify   *notification.Multi

	// SetMark propagates the freshest trade price to the venue. In sim mode
	// it drives fills; live venues ignore it.
	SetMark func(symbol string, price float64)

	// MakerStats reports the market maker's inventory and realized PnL for
	// the published snapshot. Optional.
	MakerStats func() (inventory, realized float64)
}

// Loop is the cycle driver. Run owns all state; nothing here is shared.
type Loop struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	work *window
	mtf  *window

	lastPrice    float64
	seenOverflow uint64
	wasBlocked   bool
	busy         atomic.Bool
}

// New creates the loop. nowFn may be nil for wall-clock time.
func New(cfg Config, deps Deps, log zerolog.Logger, nowFn func() time.Time) *Loop {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Loop{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "engine").Logger(),
		now:  nowFn,
		work: newWindow(intervalDuration(cfg.CandleInterval), cfg.HistoryLimit),
		mtf:  newWindow(intervalDuration(cfg.MTFInterval), cfg.HistoryLimit),
	}
}

// Warmup seeds both candle windows from the venue's history endpoint.
func (l *Loop) Warmup(ctx context.Context) error {
	cs, err := l.deps.Backfill.Candles(ctx, l.cfg.Symbol, l.cfg.CandleInterval, l.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("warmup %s/%s: %w", l.cfg.Symbol, l.cfg.CandleInterval, err)
	}
	l.work.seed(cs)

	mtf, err := l.deps.Backfill.Candles(ctx, l.cfg.Symbol, l.cfg.MTFInterval, l.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("warmup %s/%s: %w", l.cfg.Symbol, l.cfg.MTFInterval, err)
	}
	l.mtf.seed(mtf)

	if n := len(cs); n > 0 {
		l.lastPrice = cs[n-1].Close
	}
	l.log.Info().Int("candles", len(cs)).Int("mtf_candles", len(mtf)).Msg("warmup complete")
	return nil
}

// Seed loads both candle windows directly, bypassing the venue. Used by
// the replay harness; live runs go through Warmup.
func (l *Loop) Seed(work, mtf []model.Candle) {
	l.work.seed(work)
	l.mtf.seed(mtf)
	if n := len(work); n > 0 {
		l.lastPrice = work[n-1].Close
	}
}

// Run drives cycles at the configured cadence until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	tick := time.NewTicker(l.cfg.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if !l.busy.CompareAndSwap(false, true) {
				if l.deps.Metrics != nil {
					l.deps.Metrics.CyclesSkipped.Inc()
				}
				l.log.Warn().Msg("cycle still running, tick skipped")
				continue
			}
			go func() {
				defer l.busy.Store(false)
				l.Cycle(ctx)
			}()
		}
	}
}

// Cycle runs one full decision pass. Exported for tests and manual stepping.
func (l *Loop) Cycle(ctx context.Context) {
	started := l.now()
	defer func() {
		if l.deps.Metrics != nil {
			l.deps.Metrics.CyclesTotal.Inc()
			l.deps.Metrics.CycleDur.Observe(time.Since(started).Seconds())
		}
	}()

	// Freshest ticker wins; intermediate updates only advance the candles.
	l.drainTicks()
	if l.lastPrice == 0 {
		l.log.Warn().Msg("no price yet, cycle skipped")
		return
	}

	in := l.buildInputs()
	for _, ev := range l.deps.Book.Signals() {
		l.log.Debug().
			Str("event", string(ev.Type)).
			Str("side", string(ev.Side)).
			Float64("strength", ev.Strength).
			Msg(ev.Detail)
	}
	sig := l.deps.Scorer.Score(in)
	sig.TS = started
	if sig.Entry == 0 {
		sig.Entry = l.lastPrice
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
	}

	// Open positions are exit-evaluated before the fresh signal may act.
	l.evaluateExit(ctx, &sig)

	allowed, blockReason := l.deps.Risk.CanTrade()
	if l.deps.Metrics != nil {
		v := 0.0
		if !allowed {
			v = 1
		}
		l.deps.Metrics.RiskBreaker.Set(v)
	}
	if !allowed && !l.wasBlocked && l.deps.Notify != nil {
		l.deps.Notify.Send(ctx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "risk breaker tripped",
			Message: blockReason,
		})
	}
	l.wasBlocked = !allowed

	if allowed && sig.Action != model.ActionHold {
		if l.deps.Advisor != nil {
			sig = l.deps.Advisor.Advise(ctx, in, sig)
		}
		l.execute(ctx, sig)
	} else if !allowed && sig.Action != model.ActionHold {
		l.log.Info().Str("reason", blockReason).Str("action", string(sig.Action)).
			Msg("entry blocked by risk breaker")
	}

	l.publish(ctx, started, sig, in)

	l.log.Debug().
		Str("action", string(sig.Action)).
		Float64("score", sig.WeightedScore).
		Float64("confidence", sig.Confidence).
		Float64("price", l.lastPrice).
		Bool("risk_ok", allowed).
		Str("reason", sig.Reason).
		Msg("cycle")
}

// drainTicks consumes everything buffered since the last cycle. Every update
// advances the candle windows; only the newest moves the mark.
func (l *Loop) drainTicks() {
	for {
		t, ok := l.deps.Ticks.Pop()
		if !ok {
			break
		}
		l.work.apply(t)
		l.mtf.apply(t)
		l.lastPrice = t.LastPrice
	}
	if l.lastPrice > 0 {
		if l.deps.SetMark != nil {
			l.deps.SetMark(l.cfg.Symbol, l.lastPrice)
		}
		l.deps.Exchange.MarkPrice(l.cfg.Symbol, l.lastPrice)
	}
	if l.deps.Metrics != nil {
		if of := l.deps.Ticks.Overflow(); of > l.seenOverflow {
			l.deps.Metrics.TickOverflow.Add(float64(of - l.seenOverflow))
			l.seenOverflow = of
		}
	}
}

// buildInputs runs the indicator battery over the current windows and fuses
// in the microstructure snapshot.
func (l *Loop) buildInputs() scorer.Inputs {
	closes := model.Closes(l.work.candles)
	highs := model.Highs(l.work.candles)
	lows := model.Lows(l.work.candles)
	last := len(closes) - 1

	in := scorer.Inputs{
		Symbol: l.cfg.Symbol,
		Price:  l.lastPrice,
	}
	if last < 0 {
		return in
	}

	rsi := indicator.RSI(closes, rsiPeriod)
	k, _ := indicator.Stochastic(highs, lows, closes, stochK, stochD)
	_, _, hist := indicator.MACD(closes, macdFast, macdSlow, macdSignal)
	fast, _ := indicator.SuperTrend(highs, lows, closes, superTrendLen, superTrendMult)
	slow, _ := indicator.ChandelierExit(highs, lows, closes, chandelierLen, chandelierMult)
	_, r2 := indicator.LinReg(closes, linRegPeriod)

	in.RSI = rsi[last]
	in.StochK = k[last]
	in.MACDHist = hist[last]
	in.FastTrend = fast[last]
	in.SlowTrend = slow[last]
	in.RegR2 = r2[last]

	bbU, _, bbL := indicator.Bollinger(closes, bollingerPeriod, bollingerMult)
	kcU, _, kcL := indicator.Keltner(highs, lows, closes, keltnerPeriod, keltnerPeriod, keltnerMult)
	in.SqueezeOn = indicator.SqueezeOn(bbU, bbL, kcU, kcL, last)
	in.Divergence = indicator.Divergence(closes, rsi, divergenceLook)
	in.FVG = indicator.DetectFVG(highs, lows)

	in.Regime, in.VolatilityRatio = indicator.ClassifyRegime(closes, regimePeriod, regimeQuiet, regimeVolatile)
	in.TrendMTF = l.mtfTrend()

	if snap, ok := l.deps.Book.Snapshot(); ok {
		in.Micro = snap
		in.HasMicro = true
	}
	return in
}

// mtfTrend labels the slower frame from its SuperTrend direction.
func (l *Loop) mtfTrend() model.TrendLabel {
	highs := model.Highs(l.mtf.candles)
	lows := model.Lows(l.mtf.candles)
	closes := model.Closes(l.mtf.candles)
	if len(closes) == 0 {
		return model.TrendNeutral
	}
	trend, _ := indicator.SuperTrend(highs, lows, closes, superTrendLen, superTrendMult)
	switch trend[len(trend)-1] {
	case 1:
		return model.TrendUp
	case -1:
		return model.TrendDown
	default:
		return model.TrendNeutral
	}
}

// evaluateExit closes the tracked position when any exit rule fires and
// feeds the round trip back into risk and the journal.
func (l *Loop) evaluateExit(ctx context.Context, sig *model.TradeSignal) {
	pos, ok := l.deps.Exchange.Position(l.cfg.Symbol)
	if !ok {
		return
	}
	res, err := l.deps.Exchange.EvaluateExit(ctx, l.cfg.Symbol, sig)
	if err != nil {
		l.log.Error().Err(err).Msg("exit evaluation failed")
		if errors.Is(err, exchange.ErrOrderRejected) || errors.Is(err, exchange.ErrOrderTimeout) {
			l.deps.Risk.RecordRejection()
		}
		return
	}
	if res == nil {
		return
	}
	l.deps.Risk.RecordTrade(res.PnL)
	if l.deps.Metrics != nil {
		l.deps.Metrics.TradesClosed.WithLabelValues(res.Reason).Inc()
	}
	if l.deps.Journal != nil {
		if err := l.deps.Journal.RecordTrade(journal.Trade{
			Symbol:     res.Symbol,
			Side:       string(pos.Side),
			Qty:        res.Qty,
			EntryPrice: pos.AvgEntryPrice,
			ExitPrice:  res.ExitPrice,
			PnL:        res.PnL,
			Reason:     res.Reason,
			Strategy:   pos.Strategy,
			OpenedAt:   pos.OpenedAt,
			ClosedAt:   l.now(),
		}); err != nil {
			l.log.Error().Err(err).Msg("trade journaling failed")
		}
	}
	if l.deps.Notify != nil {
		level := notification.AlertInfo
		if res.PnL < 0 {
			level = notification.AlertWarning
		}
		l.deps.Notify.Send(ctx, notification.Alert{
			Level:   level,
			Title:   fmt.Sprintf("%s closed (%s)", res.Symbol, res.Reason),
			Message: fmt.Sprintf("qty %.4f exit %.2f pnl %+.2f", res.Qty, res.ExitPrice, res.PnL),
		})
	}
	l.log.Info().
		Str("reason", res.Reason).
		Float64("exit", res.ExitPrice).
		Float64("pnl", res.PnL).
		Msg("position closed")
}

// execute places the entry for an actionable signal.
func (l *Loop) execute(ctx context.Context, sig model.TradeSignal) {
	order, err := l.deps.Exchange.OpenFromSignal(ctx, sig)
	switch {
	case err == nil && order == nil:
		// No-op: flat HOLD or an add suppressed by position state.
	case errors.Is(err, exchange.ErrQtyTooSmall):
		l.log.Debug().Msg("entry skipped, size below venue minimum")
	case errors.Is(err, exchange.ErrOrderRejected), errors.Is(err, exchange.ErrOrderTimeout):
		l.deps.Risk.RecordRejection()
		if l.deps.Metrics != nil {
			l.deps.Metrics.OrdersTotal.WithLabelValues("rejected").Inc()
		}
		l.log.Warn().Err(err).Msg("entry order failed")
	case err != nil:
		l.log.Error().Err(err).Msg("entry order error")
	default:
		if l.deps.Metrics != nil {
			l.deps.Metrics.OrdersTotal.WithLabelValues(string(order.Status)).Inc()
		}
		l.log.Info().
			Str("side", string(order.Side)).
			Float64("qty", order.Qty).
			Float64("avg_price", order.AvgPrice).
			Msg("entry filled")
	}
}

// publish pushes the cycle outcome to the journal, risk equity stream,
// metrics, and the dashboard. All best-effort.
func (l *Loop) publish(ctx context.Context, ts time.Time, sig model.TradeSignal, in scorer.Inputs) {
	equity := l.deps.Exchange.Equity()
	l.deps.Risk.UpdateEquity(equity)

	if l.deps.Journal != nil {
		if err := l.deps.Journal.RecordSignal(sig); err != nil {
			l.log.Error().Err(err).Msg("signal journaling failed")
		}
	}

	riskState := l.deps.Risk.Snapshot()
	if l.deps.Metrics != nil {
		l.deps.Metrics.Equity.Set(equity)
		l.deps.Metrics.DrawdownPct.Set(riskState.MaxDrawdownObserved)
	}

	if l.deps.Publish == nil {
		return
	}
	snap := dashboard.Snapshot{
		TS:       ts,
		Symbol:   l.cfg.Symbol,
		Price:    l.lastPrice,
		Signal:   sig,
		Risk:     riskState,
		Balance:  l.deps.Exchange.Balance(),
		Equity:   equity,
		Realized: l.deps.Exchange.RealizedPnL(),
	}
	if in.HasMicro {
		micro := in.Micro
		snap.Micro = &micro
	}
	if l.deps.MakerStats != nil {
		snap.MakerInventory, snap.MakerPnL = l.deps.MakerStats()
		if l.deps.Metrics != nil {
			l.deps.Metrics.MakerPnL.Set(snap.MakerPnL)
		}
	}
	if pos, ok := l.deps.Exchange.Position(l.cfg.Symbol); ok {
		snap.Position = &pos
	}
	l.deps.Publish.Publish(ctx, snap)
}
