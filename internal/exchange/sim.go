package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perpenginev1/internal/model"
)

// SimConfig tunes the execution simulator.
type SimConfig struct {
	SlippageBps float64 `yaml:"slippage_bps" default:"5"`
}

// FillFunc is notified of every simulated fill.
type FillFunc func(orderID string, side model.OrderSide, price, qty float64)

// Simulator is an in-process Venue. Market orders fill immediately at the
// mark shifted against the taker by the slippage fraction. Limit orders rest
// until the mark crosses them.
type Simulator struct {
	mu       sync.Mutex
	cfg      SimConfig
	orderSeq int
	mark     float64
	orders   map[string]*model.Order
	onFill   FillFunc
	now      func() time.Time
}

// NewSimulator creates a simulator. onFill may be nil. nowFn nil means
// time.Now.
func NewSimulator(cfg SimConfig, onFill FillFunc, nowFn func() time.Time) *Simulator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Simulator{
		cfg:    cfg,
		orders: make(map[string]*model.Order),
		onFill: onFill,
		now:    nowFn,
	}
}

// SetMark updates the simulated mark price and fills any resting limit
// orders the new mark crosses.
func (s *Simulator) SetMark(price float64) {
	s.mu.Lock()
	s.mark = price
	var fills []*model.Order
	for _, o := range s.orders {
		if o.Status != model.OrderStatusPending || o.Type != model.OrderTypeLimit {
			continue
		}
		crossed := (o.Side == model.OrderSideBuy && price <= o.Price) ||
			(o.Side == model.OrderSideSell && price >= o.Price)
		if crossed {
			s.fillLocked(o, o.Price)
			fills = append(fills, o)
		}
	}
	cb := s.onFill
	s.mu.Unlock()

	if cb != nil {
		for _, o := range fills {
			cb(o.ID, o.Side, o.AvgPrice, o.FilledQty)
		}
	}
}

// Mark returns the current simulated mark price.
func (s *Simulator) Mark() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mark
}

// PlaceOrder implements Venue. Market orders fill against req.Price when
// set, else the current mark, shifted against the taker.
func (s *Simulator) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	if req.Qty <= 0 {
		return "", fmt.Errorf("%w: qty %f", ErrOrderRejected, req.Qty)
	}

	s.mu.Lock()
	s.orderSeq++
	id := fmt.Sprintf("SIM-%d", s.orderSeq)
	o := &model.Order{
		ID:        id,
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Qty:       req.Qty,
		Price:     req.Price,
		Status:    model.OrderStatusPending,
		CreatedAt: s.now(),
	}
	s.orders[id] = o

	var filled bool
	if req.Type == model.OrderTypeMarket {
		ref := req.Price
		if ref <= 0 {
			ref = s.mark
		}
		if ref <= 0 {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: no mark price", ErrOrderRejected)
		}
		slip := ref * s.cfg.SlippageBps / 10000
		px := ref + slip
		if req.Side == model.OrderSideSell {
			px = ref - slip
		}
		s.fillLocked(o, px)
		filled = true
	}
	cb := s.onFill
	s.mu.Unlock()

	if filled && cb != nil {
		cb(o.ID, o.Side, o.AvgPrice, o.FilledQty)
	}
	return id, nil
}

// fillLocked marks an order fully filled at px. Caller holds the lock.
func (s *Simulator) fillLocked(o *model.Order, px float64) {
	o.Status = model.OrderStatusFilled
	o.FilledQty = o.Qty
	o.AvgPrice = px
	o.UpdatedAt = s.now()
}

// GetOrderStatus implements Venue.
func (s *Simulator) GetOrderStatus(_ context.Context, _ string, orderID string) (OrderUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return OrderUpdate{}, fmt.Errorf("order %s not found", orderID)
	}
	return OrderUpdate{Status: o.Status, FilledQty: o.FilledQty, AvgPrice: o.AvgPrice}, nil
}

// CancelOrder implements Venue. Terminal orders cancel as a no-op.
func (s *Simulator) CancelOrder(_ context.Context, _ string, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if o.Status == model.OrderStatusPending {
		o.Status = model.OrderStatusCancelled
		o.UpdatedAt = s.now()
	}
	return nil
}

// GetPosition implements Venue. The simulator holds no venue-side position
// book; the engine's local book is authoritative in simulation.
func (s *Simulator) GetPosition(context.Context, string) (*VenuePosition, error) {
	return nil, nil
}
