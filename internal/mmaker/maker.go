// Package mmaker implements the passive market-making engine. It quotes a
// ladder of resting limit orders around the weighted mid on its own refresh
// cadence, shrinks and skews quote size against accumulated inventory, and
// tracks the spread it captures as realized PnL.
package mmaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"perpenginev1/internal/model"
)

// Config holds the quoting parameters.
type Config struct {
	Symbol string `yaml:"symbol"`

	BaseSpreadBps float64 `yaml:"base_spread_bps" default:"4"`
	MinSpreadBps  float64 `yaml:"min_spread_bps" default:"2"`
	MaxSpreadBps  float64 `yaml:"max_spread_bps" default:"20"`

	SizeBps         float64 `yaml:"size_bps" default:"50"` // quote size as bps of balance
	MaxInventory    float64 `yaml:"max_inventory" default:"1"`
	InventorySizing float64 `yaml:"inventory_sizing" default:"0.7"` // shrink factor at full inventory

	Levels       int     `yaml:"levels" default:"3"`
	LevelStepBps float64 `yaml:"level_step_bps" default:"2"`
	MinQty       float64 `yaml:"min_qty" default:"0.001"`

	StaleAfter   time.Duration `yaml:"stale_after" default:"20s"`
	RefreshEvery time.Duration `yaml:"refresh_every" default:"5s"`
}

// Quote is one side/price/size the maker wants resting.
type Quote struct {
	Side  model.OrderSide
	Price float64
	Size  float64
}

// OrderPlacer is the venue subset the maker drives. The exchange engine
// satisfies it on both the live and the simulated path.
type OrderPlacer interface {
	PlaceLimit(ctx context.Context, symbol string, side model.OrderSide, price, qty float64) (string, error)
	Cancel(ctx context.Context, symbol, orderID string) error
}

// MarketView supplies the per-refresh market state the maker quotes from.
type MarketView interface {
	Mid() (float64, bool) // weighted mid, false when no book yet
	Balance() float64
	MicroScore() float64 // order-book health, [0,1]
}

type restingOrder struct {
	side     model.OrderSide
	price    float64
	size     float64
	placedAt time.Time
}

// Maker owns the quoting state: resting orders, signed inventory, average
// price, and captured spread. Safe for concurrent use.
type Maker struct {
	mu    sync.Mutex
	cfg   Config
	venue OrderPlacer
	now   func() time.Time

	resting   map[string]restingOrder
	inventory float64 // signed qty, + long
	avgPrice  float64
	realized  float64

	// OnQuote is called once per placed quote, outside the lock. Optional.
	OnQuote func()

	// Gate reports whether quoting is currently allowed. While it returns
	// false, Refresh pulls every resting quote and places nothing. Optional;
	// nil means always allowed.
	Gate func() bool
}

// New creates a maker quoting through venue. nowFn nil means time.Now.
func New(cfg Config, venue OrderPlacer, nowFn func() time.Time) *Maker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Maker{
		cfg:     cfg,
		venue:   venue,
		now:     nowFn,
		resting: make(map[string]restingOrder),
	}
}

// DynamicSpread returns the clamped quoting spread in bps for the given
// microstructure score. A degraded book widens the spread up to 2x base.
func (m *Maker) DynamicSpread(microScore float64) float64 {
	factor := 2 - clamp01(microScore)
	spread := m.cfg.BaseSpreadBps * factor
	if spread < m.cfg.MinSpreadBps {
		spread = m.cfg.MinSpreadBps
	}
	if spread > m.cfg.MaxSpreadBps {
		spread = m.cfg.MaxSpreadBps
	}
	return spread
}

// ComputeQuotes builds the desired ladder for the current market state.
// Pure with respect to everything except the maker's own inventory.
func (m *Maker) ComputeQuotes(mid, balance, microScore float64) []Quote {
	m.mu.Lock()
	inv := m.inventory
	m.mu.Unlock()

	if mid <= 0 || balance <= 0 {
		return nil
	}
	cfg := m.cfg
	spread := m.DynamicSpread(microScore)
	half := mid * spread / 2 / 10000
	step := mid * cfg.LevelStepBps / 10000

	baseSize := balance * cfg.SizeBps / 10000 / mid

	// Inventory pressure shrinks the side that would grow the position;
	// the reducing side keeps full size so quoting works the book back flat.
	pressure := 0.0
	if cfg.MaxInventory > 0 {
		pressure = clamp01(math.Abs(inv) / cfg.MaxInventory)
	}
	shrink := 1 - pressure*cfg.InventorySizing
	if shrink < 0.1 {
		shrink = 0.1
	}
	bidSize, askSize := baseSize, baseSize
	if inv > 0 {
		bidSize *= shrink
	} else if inv < 0 {
		askSize *= shrink
	}

	levels := cfg.Levels
	if levels < 1 {
		levels = 1
	}
	perBid := bidSize / float64(levels)
	perAsk := askSize / float64(levels)

	var out []Quote
	for i := 0; i < levels; i++ {
		off := float64(i) * step
		if perBid >= cfg.MinQty {
			out = append(out, Quote{Side: model.OrderSideBuy, Price: mid - half - off, Size: perBid})
		}
		if perAsk >= cfg.MinQty {
			out = append(out, Quote{Side: model.OrderSideSell, Price: mid + half + off, Size: perAsk})
		}
	}
	return out
}

// Refresh runs one quoting pass: cancel stale resting orders, then place the
// ladder for the current state. A closed gate flattens the book instead.
func (m *Maker) Refresh(ctx context.Context, mid, balance, microScore float64) error {
	if m.Gate != nil && !m.Gate() {
		return m.cancelAll(ctx)
	}
	if err := m.cancelStale(ctx); err != nil {
		return err
	}
	for _, q := range m.ComputeQuotes(mid, balance, microScore) {
		id, err := m.venue.PlaceLimit(ctx, m.cfg.Symbol, q.Side, q.Price, q.Size)
		if err != nil {
			return fmt.Errorf("place %s %f@%f: %w", q.Side, q.Size, q.Price, err)
		}
		m.mu.Lock()
		m.resting[id] = restingOrder{side: q.Side, price: q.Price, size: q.Size, placedAt: m.now()}
		m.mu.Unlock()
		if m.OnQuote != nil {
			m.OnQuote()
		}
	}
	return nil
}

// cancelAll pulls every resting quote regardless of age.
func (m *Maker) cancelAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.resting))
	for id := range m.resting {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.venue.Cancel(ctx, m.cfg.Symbol, id); err != nil {
			return fmt.Errorf("cancel %s: %w", id, err)
		}
		m.mu.Lock()
		delete(m.resting, id)
		m.mu.Unlock()
	}
	return nil
}

// cancelStale cancels every resting order older than the staleness timeout.
func (m *Maker) cancelStale(ctx context.Context) error {
	m.mu.Lock()
	cutoff := m.now().Add(-m.cfg.StaleAfter)
	var stale []string
	for id, o := range m.resting {
		if o.placedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.venue.Cancel(ctx, m.cfg.Symbol, id); err != nil {
			return fmt.Errorf("cancel %s: %w", id, err)
		}
		m.mu.Lock()
		delete(m.resting, id)
		m.mu.Unlock()
	}
	return nil
}

// OnFill records a fill on one of the maker's orders. Fills that grow the
// inventory update the volume-weighted average price; fills that reduce it
// realize the captured spread against that average.
func (m *Maker) OnFill(orderID string, side model.OrderSide, price, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resting, orderID)

	signed := qty
	if side == model.OrderSideSell {
		signed = -qty
	}

	switch {
	case m.inventory == 0 || sameSign(m.inventory, signed):
		total := math.Abs(m.inventory) + qty
		m.avgPrice = (m.avgPrice*math.Abs(m.inventory) + price*qty) / total
		m.inventory += signed
	default:
		reduce := math.Min(qty, math.Abs(m.inventory))
		if m.inventory > 0 {
			m.realized += (price - m.avgPrice) * reduce
		} else {
			m.realized += (m.avgPrice - price) * reduce
		}
		m.inventory += signed
		if m.inventory == 0 {
			m.avgPrice = 0
		} else if !sameSign(m.inventory-signed, m.inventory) && m.inventory != 0 {
			// Flipped through flat: the leftover opens at the fill price.
			m.avgPrice = price
		}
	}
}

// Inventory returns the signed inventory and its average price.
func (m *Maker) Inventory() (qty, avgPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory, m.avgPrice
}

// RealizedPnL returns the cumulative captured spread.
func (m *Maker) RealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realized
}

// RestingCount returns the number of orders the maker believes are resting.
func (m *Maker) RestingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resting)
}

// Run refreshes quotes on the maker's own cadence until ctx is cancelled.
// Refresh errors are returned to the caller's error channel semantics via
// the supplied onErr callback; a nil onErr drops them.
func (m *Maker) Run(ctx context.Context, view MarketView, onErr func(error)) {
	t := time.NewTicker(m.cfg.RefreshEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mid, ok := view.Mid()
			if !ok {
				continue
			}
			if err := m.Refresh(ctx, mid, view.Balance(), view.MicroScore()); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

func sameSign(a, b float64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
