// Package feed ingests market data: a websocket stream for tickers and
// order-book deltas, and a rate-limited REST backfill for candle history.
// Stream callbacks fire on the read goroutine; receivers own their state
// and must copy what they keep.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"perpenginev1/internal/model"
)

// StreamConfig configures the websocket stream.
type StreamConfig struct {
	URL          string        `yaml:"url" default:"wss://stream.bybit.com/v5/public/linear"`
	Symbol       string        `yaml:"symbol"`
	Depth        int           `yaml:"depth" default:"50"`
	PingInterval time.Duration `yaml:"ping_interval" default:"20s"`
}

// Stream maintains the websocket connection, resubscribing after every
// reconnect, and pushes parsed messages to the registered callbacks.
type Stream struct {
	cfg StreamConfig
	log zerolog.Logger

	OnTicker func(model.Ticker)
	OnBook   func(model.BookDelta)

	// OnReconnect is called once per reconnect attempt. Optional.
	OnReconnect func()
}

// NewStream creates a stream. Set the callbacks before calling Run.
func NewStream(cfg StreamConfig, log zerolog.Logger) *Stream {
	return &Stream{cfg: cfg, log: log.With().Str("component", "feed").Logger()}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff on any connection failure.
func (s *Stream) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever; ctx bounds the lifetime

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := bo.NextBackOff()
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("stream disconnected")
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.log.Info().Str("symbol", s.cfg.Symbol).Msg("stream connected and subscribed")

	// Server expects periodic pings to keep the subscription alive.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-t.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(raw)
	}
}

// subscribe sends the topic subscriptions. Called again after every
// reconnect so the new connection carries the same feeds.
func (s *Stream) subscribe(conn *websocket.Conn) error {
	req := map[string]any{
		"op": "subscribe",
		"args": []string{
			"tickers." + s.cfg.Symbol,
			fmt.Sprintf("orderbook.%d.%s", s.cfg.Depth, s.cfg.Symbol),
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// wsMessage is the common push envelope.
type wsMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

func (s *Stream) dispatch(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn().Err(err).Msg("malformed stream message")
		return
	}
	switch {
	case msg.Topic == "tickers."+s.cfg.Symbol:
		tk, err := parseTicker(s.cfg.Symbol, msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad ticker payload")
			return
		}
		if s.OnTicker != nil {
			s.OnTicker(tk)
		}
	case msg.Topic == fmt.Sprintf("orderbook.%d.%s", s.cfg.Depth, s.cfg.Symbol):
		delta, err := parseBookDelta(s.cfg.Symbol, msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad book payload")
			return
		}
		if s.OnBook != nil {
			s.OnBook(delta)
		}
	}
}

func parseTicker(symbol string, msg wsMessage) (model.Ticker, error) {
	var d struct {
		LastPrice    string `json:"lastPrice"`
		Volume24h    string `json:"volume24h"`
		Price24hPcnt string `json:"price24hPcnt"`
	}
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return model.Ticker{}, err
	}
	last, err := strconv.ParseFloat(d.LastPrice, 64)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("lastPrice %q: %w", d.LastPrice, err)
	}
	vol, _ := strconv.ParseFloat(d.Volume24h, 64)
	pct, _ := strconv.ParseFloat(d.Price24hPcnt, 64)
	return model.Ticker{
		Symbol:         symbol,
		LastPrice:      last,
		Volume24h:      vol,
		PriceChangePct: pct * 100,
		TS:             time.UnixMilli(msg.TS),
	}, nil
}

func parseBookDelta(symbol string, msg wsMessage) (model.BookDelta, error) {
	var d struct {
		Bids [][2]string `json:"b"`
		Asks [][2]string `json:"a"`
	}
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return model.BookDelta{}, err
	}
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return model.BookDelta{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return model.BookDelta{}, fmt.Errorf("asks: %w", err)
	}
	return model.BookDelta{
		Symbol:     symbol,
		Bids:       bids,
		Asks:       asks,
		IsSnapshot: msg.Type == "snapshot",
		TS:         time.UnixMilli(msg.TS),
	}, nil
}

// parseLevels decodes [price, size] string pairs. A zero size is a level
// removal and is passed through as-is.
func parseLevels(raw [][2]string) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", pair[1], err)
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}
