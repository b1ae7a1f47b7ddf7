package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"perpenginev1/internal/model"
)

// LiveVenue talks to the venue's signed REST order API.
type LiveVenue struct {
	baseURL string
	client  *http.Client
	signer  *Signer
	log     zerolog.Logger
}

// NewLiveVenue creates a live adapter against baseURL.
func NewLiveVenue(baseURL string, signer *Signer, log zerolog.Logger) *LiveVenue {
	return &LiveVenue{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		signer:  signer,
		log:     log.With().Str("component", "venue").Logger(),
	}
}

// apiEnvelope is the common response wrapper. retCode 0 means success.
type apiEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// PlaceOrder submits an order and returns the venue order id.
func (v *LiveVenue) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	body := map[string]string{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        sideParam(req.Side),
		"orderType":   orderTypeParam(req.Type),
		"qty":         formatQty(req.Qty),
		"orderLinkId": req.ClientID,
	}
	if req.Type == model.OrderTypeLimit {
		body["price"] = formatQty(req.Price)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := v.post(ctx, "/v5/order/create", body, &result); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	v.log.Debug().Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Float64("qty", req.Qty).Str("order_id", result.OrderID).Msg("order placed")
	return result.OrderID, nil
}

// GetOrderStatus polls one order's current state.
func (v *LiveVenue) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderUpdate, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)

	var result struct {
		List []struct {
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := v.get(ctx, "/v5/order/realtime", q, &result); err != nil {
		return OrderUpdate{}, fmt.Errorf("order status: %w", err)
	}
	if len(result.List) == 0 {
		return OrderUpdate{}, fmt.Errorf("order status: order %s not found", orderID)
	}
	o := result.List[0]
	return OrderUpdate{
		Status:    mapOrderStatus(o.OrderStatus),
		FilledQty: parseFloat(o.CumExecQty),
		AvgPrice:  parseFloat(o.AvgPrice),
	}, nil
}

// CancelOrder cancels a resting order. Cancelling an already-terminal order
// is not an error.
func (v *LiveVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if err := v.post(ctx, "/v5/order/cancel", body, &struct{}{}); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// GetPosition fetches the venue-side position, nil when flat.
func (v *LiveVenue) GetPosition(ctx context.Context, symbol string) (*VenuePosition, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var result struct {
		List []struct {
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	}
	if err := v.get(ctx, "/v5/position/list", q, &result); err != nil {
		return nil, fmt.Errorf("position: %w", err)
	}
	if len(result.List) == 0 || parseFloat(result.List[0].Size) == 0 {
		return nil, nil
	}
	p := result.List[0]
	side := model.PositionLong
	if p.Side == "Sell" {
		side = model.PositionShort
	}
	return &VenuePosition{
		Side:          side,
		Qty:           parseFloat(p.Size),
		AvgPrice:      parseFloat(p.AvgPrice),
		UnrealizedPnL: parseFloat(p.UnrealisedPnl),
	}, nil
}

func (v *LiveVenue) post(ctx context.Context, path string, body map[string]string, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	v.signer.Apply(req, string(raw))
	return v.do(req, out)
}

func (v *LiveVenue) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	v.signer.Apply(req, q.Encode())
	return v.do(req, out)
}

func (v *LiveVenue) do(req *http.Request, out any) error {
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, raw)
	}
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("%w: retCode %d: %s", ErrOrderRejected, env.RetCode, env.RetMsg)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func sideParam(s model.OrderSide) string {
	if s == model.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func orderTypeParam(t model.OrderType) string {
	if t == model.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

func mapOrderStatus(s string) model.OrderStatus {
	switch s {
	case "Filled":
		return model.OrderStatusFilled
	case "Cancelled", "Deactivated":
		return model.OrderStatusCancelled
	case "Rejected":
		return model.OrderStatusRejected
	default:
		return model.OrderStatusPending
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
