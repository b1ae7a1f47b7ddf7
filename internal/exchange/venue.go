// Package exchange owns order execution and position state. The same engine
// drives a live venue adapter or the built-in simulator through one Venue
// interface, so the decision pipeline upstream cannot tell the two apart.
package exchange

import (
	"context"
	"errors"

	"perpenginev1/internal/model"
)

var (
	// ErrOrderTimeout marks an order that reached no terminal state within
	// the bounded wait and was cancelled.
	ErrOrderTimeout = errors.New("exchange: order timed out")

	// ErrOrderRejected marks a venue-side rejection.
	ErrOrderRejected = errors.New("exchange: order rejected")

	// ErrQtyTooSmall marks a computed order size below the venue minimum.
	ErrQtyTooSmall = errors.New("exchange: quantity below minimum")
)

// OrderRequest describes one order to place. Price is the limit price for
// LIMIT orders; for MARKET orders it is a reference price the simulator
// fills against, and live venues ignore it.
type OrderRequest struct {
	Symbol   string
	Side     model.OrderSide
	Type     model.OrderType
	Qty      float64
	Price    float64
	ClientID string
}

// OrderUpdate is the polled view of an order's progress.
type OrderUpdate struct {
	Status    model.OrderStatus
	FilledQty float64
	AvgPrice  float64
}

// VenuePosition is the venue's own view of an open position, used for
// reconciliation against the engine's local book.
type VenuePosition struct {
	Side          model.PositionSide
	Qty           float64
	AvgPrice      float64
	UnrealizedPnL float64
}

// Venue is the order API surface. Implementations must be safe for
// concurrent use.
type Venue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderUpdate, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (*VenuePosition, error)
}
