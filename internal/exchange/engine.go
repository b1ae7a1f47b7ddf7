package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"perpenginev1/internal/model"
)

// Config tunes the execution engine.
type Config struct {
	EntrySizeBps   float64       `yaml:"entry_size_bps" default:"100"` // of balance, scaled by confidence
	MinQty         float64       `yaml:"min_qty" default:"0.001"`
	TakerFeeBps    float64       `yaml:"taker_fee_bps" default:"5.5"`
	SlippageBps    float64       `yaml:"slippage_bps" default:"5"`
	StopLossPct    float64       `yaml:"stop_loss_pct" default:"1.5"`   // when the signal carries none
	TakeProfitPct  float64       `yaml:"take_profit_pct" default:"3"`   //
	MaxHold        time.Duration `yaml:"max_hold" default:"4h"`
	RiskBudgetPct  float64       `yaml:"risk_budget_pct" default:"2"`   // unrealized loss vs equity
	OrderTimeout   time.Duration `yaml:"order_timeout" default:"10s"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"500ms"`
	InitialBalance float64       `yaml:"initial_balance" default:"10000" validate:"gt=0"`
}

// Close reasons recorded on position exits.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonOpposite   = "opposite_signal"
	ReasonMaxHold    = "max_hold"
	ReasonRiskBudget = "risk_budget"
	ReasonShutdown   = "shutdown"
)

// CloseResult reports one completed position exit.
type CloseResult struct {
	Symbol    string
	Reason    string
	ExitPrice float64
	Qty       float64
	PnL       float64 // net of entry+exit fees
}

// Engine executes signals against a Venue and is the sole owner of position
// state, balance, and realized PnL.
type Engine struct {
	mu    sync.RWMutex
	cfg   Config
	venue Venue
	log   zerolog.Logger
	now   func() time.Time

	balance   float64
	realized  float64
	positions map[string]*model.Position
	entryFees map[string]float64
	marks     map[string]float64
}

// NewEngine creates an engine over venue. nowFn nil means time.Now.
func NewEngine(cfg Config, venue Venue, log zerolog.Logger, nowFn func() time.Time) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{
		cfg:       cfg,
		venue:     venue,
		log:       log.With().Str("component", "exchange").Logger(),
		now:       nowFn,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*model.Position),
		entryFees: make(map[string]float64),
		marks:     make(map[string]float64),
	}
}

// MarkPrice records the latest mark for a symbol. Unrealized PnL is always
// derived from the latest mark at read time.
func (e *Engine) MarkPrice(symbol string, price float64) {
	e.mu.Lock()
	e.marks[symbol] = price
	e.mu.Unlock()
}

// Position returns a copy of the open position for symbol.
func (e *Engine) Position(symbol string) (model.Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Balance returns the current cash balance.
func (e *Engine) Balance() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance
}

// RealizedPnL returns cumulative realized PnL net of fees.
func (e *Engine) RealizedPnL() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.realized
}

// Equity returns balance plus unrealized PnL at the latest marks.
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	eq := e.balance
	for sym, p := range e.positions {
		if mark, ok := e.marks[sym]; ok {
			eq += p.UnrealizedPnL(mark)
		}
	}
	return eq
}

// OpenFromSignal opens a position for an actionable signal, or adds to an
// existing same-direction position at a volume-weighted average entry.
// HOLD and opposite-direction signals are no-ops here; the opposite case is
// handled by exit evaluation.
func (e *Engine) OpenFromSignal(ctx context.Context, sig model.TradeSignal) (*model.Order, error) {
	if sig.Action == model.ActionHold {
		return nil, nil
	}
	e.mu.RLock()
	pos, open := e.positions[sig.Symbol]
	var posSide model.PositionSide
	if open {
		posSide = pos.Side
	}
	mark := e.marks[sig.Symbol]
	balance := e.balance
	e.mu.RUnlock()

	if open {
		sameDir := (posSide == model.PositionLong && sig.Action == model.ActionBuy) ||
			(posSide == model.PositionShort && sig.Action == model.ActionSell)
		if !sameDir {
			return nil, nil
		}
	}
	if mark <= 0 {
		return nil, fmt.Errorf("open %s: no mark price", sig.Symbol)
	}

	qty := balance * e.cfg.EntrySizeBps / 10000 * (0.5 + 0.5*sig.Confidence) / mark
	if qty < e.cfg.MinQty {
		return nil, fmt.Errorf("%w: %f < %f", ErrQtyTooSmall, qty, e.cfg.MinQty)
	}

	side := model.OrderSideBuy
	if sig.Action == model.ActionSell {
		side = model.OrderSideSell
	}
	order, err := e.placeAndAwait(ctx, OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Type:     model.OrderTypeMarket,
		Qty:      qty,
		Price:    mark,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	e.applyEntryFill(sig, side, order)
	e.log.Info().Str("symbol", sig.Symbol).Str("side", string(side)).
		Float64("qty", order.FilledQty).Float64("price", order.AvgPrice).
		Str("reason", sig.Reason).Msg("position opened")
	return order, nil
}

func (e *Engine) applyEntryFill(sig model.TradeSignal, side model.OrderSide, order *model.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()

	px, qty := order.AvgPrice, order.FilledQty
	fee := px * qty * e.cfg.TakerFeeBps / 10000
	e.balance -= fee

	if p, ok := e.positions[sig.Symbol]; ok {
		// Same-direction add: merge at the volume-weighted average entry.
		total := p.Qty + qty
		p.AvgEntryPrice = (p.AvgEntryPrice*p.Qty + px*qty) / total
		p.Qty = total
		e.entryFees[sig.Symbol] += fee
		return
	}

	posSide := model.PositionLong
	if side == model.OrderSideSell {
		posSide = model.PositionShort
	}
	sl, tp := sig.StopLoss, sig.TakeProfit
	if sl == 0 && e.cfg.StopLossPct > 0 {
		sl = stopLevel(px, e.cfg.StopLossPct, posSide, true)
	}
	if tp == 0 && e.cfg.TakeProfitPct > 0 {
		tp = stopLevel(px, e.cfg.TakeProfitPct, posSide, false)
	}
	e.positions[sig.Symbol] = &model.Position{
		Symbol:        sig.Symbol,
		Side:          posSide,
		Qty:           qty,
		AvgEntryPrice: px,
		StopLoss:      sl,
		TakeProfit:    tp,
		Strategy:      sig.Strategy,
		OpenedAt:      e.now(),
	}
	e.entryFees[sig.Symbol] = fee
}

// stopLevel places a protective level pct away from entry. loss=true means
// the adverse direction for the side.
func stopLevel(entry, pct float64, side model.PositionSide, loss bool) float64 {
	down := side == model.PositionLong
	if !loss {
		down = !down
	}
	if down {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

// EvaluateExit checks the open position for symbol against the exit
// conditions in precedence order: stop-loss/take-profit touch, opposite
// signal, maximum holding time, risk budget. The first condition that holds
// fully closes the position. sig may be nil when no fresh signal exists.
func (e *Engine) EvaluateExit(ctx context.Context, symbol string, sig *model.TradeSignal) (*CloseResult, error) {
	e.mu.RLock()
	p, ok := e.positions[symbol]
	if !ok {
		e.mu.RUnlock()
		return nil, nil
	}
	pos := *p
	mark := e.marks[symbol]
	equity := e.balance + pos.UnrealizedPnL(mark)
	e.mu.RUnlock()
	if mark <= 0 {
		return nil, nil
	}

	long := pos.Side == model.PositionLong

	// Stop-loss / take-profit touch closes at the touched level.
	if pos.StopLoss > 0 && ((long && mark <= pos.StopLoss) || (!long && mark >= pos.StopLoss)) {
		return e.closePosition(ctx, symbol, pos.StopLoss, ReasonStopLoss)
	}
	if pos.TakeProfit > 0 && ((long && mark >= pos.TakeProfit) || (!long && mark <= pos.TakeProfit)) {
		return e.closePosition(ctx, symbol, pos.TakeProfit, ReasonTakeProfit)
	}

	if sig != nil {
		opposite := (long && sig.Action == model.ActionSell) ||
			(!long && sig.Action == model.ActionBuy)
		if opposite {
			return e.closePosition(ctx, symbol, mark, ReasonOpposite)
		}
	}

	if e.cfg.MaxHold > 0 && e.now().Sub(pos.OpenedAt) >= e.cfg.MaxHold {
		return e.closePosition(ctx, symbol, mark, ReasonMaxHold)
	}

	if e.cfg.RiskBudgetPct > 0 && equity > 0 {
		lossPct := -pos.UnrealizedPnL(mark) / equity * 100
		if lossPct >= e.cfg.RiskBudgetPct {
			return e.closePosition(ctx, symbol, mark, ReasonRiskBudget)
		}
	}
	return nil, nil
}

// closePosition fully closes the position with a market order referenced at
// refPrice, and realizes PnL net of entry and exit fees.
func (e *Engine) closePosition(ctx context.Context, symbol string, refPrice float64, reason string) (*CloseResult, error) {
	e.mu.RLock()
	p, ok := e.positions[symbol]
	if !ok {
		e.mu.RUnlock()
		return nil, nil
	}
	pos := *p
	e.mu.RUnlock()

	side := model.OrderSideSell
	if pos.Side == model.PositionShort {
		side = model.OrderSideBuy
	}
	order, err := e.placeAndAwait(ctx, OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     model.OrderTypeMarket,
		Qty:      pos.Qty,
		Price:    refPrice,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", symbol, err)
	}

	e.mu.Lock()
	exitPx, qty := order.AvgPrice, order.FilledQty
	gross := (exitPx - pos.AvgEntryPrice) * qty
	if pos.Side == model.PositionShort {
		gross = -gross
	}
	exitFee := exitPx * qty * e.cfg.TakerFeeBps / 10000
	entryFee := e.entryFees[symbol]
	pnl := gross - entryFee - exitFee

	e.balance += gross - exitFee // entry fee was deducted at open
	e.realized += pnl
	delete(e.positions, symbol)
	delete(e.entryFees, symbol)
	e.mu.Unlock()

	e.log.Info().Str("symbol", symbol).Str("reason", reason).
		Float64("exit", exitPx).Float64("qty", qty).Float64("pnl", pnl).
		Msg("position closed")
	return &CloseResult{Symbol: symbol, Reason: reason, ExitPrice: exitPx, Qty: qty, PnL: pnl}, nil
}

// CloseAll flattens every open position at its latest mark. Used on
// shutdown; errors are collected, not short-circuited.
func (e *Engine) CloseAll(ctx context.Context) ([]CloseResult, error) {
	e.mu.RLock()
	symbols := make([]string, 0, len(e.positions))
	for sym := range e.positions {
		symbols = append(symbols, sym)
	}
	e.mu.RUnlock()

	var out []CloseResult
	var errs []error
	for _, sym := range symbols {
		e.mu.RLock()
		mark := e.marks[sym]
		e.mu.RUnlock()
		res, err := e.closePosition(ctx, sym, mark, ReasonShutdown)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, errors.Join(errs...)
}

// placeAndAwait places an order and polls it to a terminal state. An order
// still pending at the timeout is cancelled and reported as ErrOrderTimeout.
func (e *Engine) placeAndAwait(ctx context.Context, req OrderRequest) (*model.Order, error) {
	id, err := e.venue.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	order := &model.Order{
		ID: id, ClientID: req.ClientID, Symbol: req.Symbol,
		Side: req.Side, Type: req.Type, Qty: req.Qty, Price: req.Price,
		Status: model.OrderStatusPending, CreatedAt: e.now(),
	}

	deadline := time.NewTimer(e.cfg.OrderTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()

	for {
		upd, err := e.venue.GetOrderStatus(ctx, req.Symbol, id)
		if err != nil {
			return nil, err
		}
		order.Status = upd.Status
		order.FilledQty = upd.FilledQty
		order.AvgPrice = upd.AvgPrice
		order.UpdatedAt = e.now()

		if order.Status.Terminal() {
			if order.Status == model.OrderStatusRejected {
				return order, ErrOrderRejected
			}
			if order.Status == model.OrderStatusCancelled {
				return order, fmt.Errorf("order %s cancelled", id)
			}
			return order, nil
		}

		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-deadline.C:
			if cerr := e.venue.CancelOrder(ctx, req.Symbol, id); cerr != nil {
				e.log.Warn().Err(cerr).Str("order_id", id).Msg("cancel after timeout failed")
			}
			order.Status = model.OrderStatusTimeout
			return order, ErrOrderTimeout
		case <-poll.C:
		}
	}
}

// PlaceLimit places a resting limit order. Satisfies the market maker's
// venue surface; limit fills do not mutate the engine's position book, the
// maker tracks its own inventory.
func (e *Engine) PlaceLimit(ctx context.Context, symbol string, side model.OrderSide, price, qty float64) (string, error) {
	if qty < e.cfg.MinQty {
		return "", fmt.Errorf("%w: %f < %f", ErrQtyTooSmall, qty, e.cfg.MinQty)
	}
	return e.venue.PlaceOrder(ctx, OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     model.OrderTypeLimit,
		Qty:      qty,
		Price:    price,
		ClientID: uuid.NewString(),
	})
}

// Cancel cancels a resting order.
func (e *Engine) Cancel(ctx context.Context, symbol, orderID string) error {
	return e.venue.CancelOrder(ctx, symbol, orderID)
}

// UnrealizedPnL returns the open PnL for symbol at the latest mark.
func (e *Engine) UnrealizedPnL(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[symbol]
	if !ok {
		return 0
	}
	mark, ok := e.marks[symbol]
	if !ok {
		return 0
	}
	return p.UnrealizedPnL(mark)
}
