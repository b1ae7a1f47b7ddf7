// Package dashboard publishes engine state snapshots: to a redis channel
// for external consumers, and to local websocket clients. Publishing is
// best-effort; a dead redis trips a circuit breaker and never stalls the
// engine loop.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"perpenginev1/internal/model"
	"perpenginev1/internal/risk"
)

// Snapshot is the per-cycle engine state pushed to consumers.
type Snapshot struct {
	TS     time.Time `json:"ts"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`

	Signal model.TradeSignal             `json:"signal"`
	Risk   risk.State                    `json:"risk"`
	Micro  *model.MicrostructureSnapshot `json:"micro,omitempty"`

	Position *model.Position `json:"position,omitempty"`
	Balance  float64         `json:"balance"`
	Equity   float64         `json:"equity"`
	Realized float64         `json:"realized_pnl"`

	MakerInventory float64 `json:"maker_inventory"`
	MakerPnL       float64 `json:"maker_pnl"`
}

// Config tunes the publisher.
type Config struct {
	RedisAddr    string        `yaml:"redis_addr"`
	Channel      string        `yaml:"channel" default:"engine.snapshot"`
	MaxFailures  int           `yaml:"max_failures" default:"5"`
	ResetTimeout time.Duration `yaml:"reset_timeout" default:"10s"`
}

// Publisher pushes snapshots to redis and the local hub.
type Publisher struct {
	cfg     Config
	rdb     *goredis.Client
	breaker *circuitBreaker
	hub     *Hub
	log     zerolog.Logger

	// OnError is called once per failed redis publish. Optional.
	OnError func()
}

// NewPublisher creates a publisher. hub may be nil when no local dashboard
// is served; rdb may be nil when redis publishing is disabled.
func NewPublisher(cfg Config, rdb *goredis.Client, hub *Hub, log zerolog.Logger) *Publisher {
	p := &Publisher{
		cfg:     cfg,
		rdb:     rdb,
		breaker: newCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		hub:     hub,
		log:     log.With().Str("component", "publisher").Logger(),
	}
	p.breaker.onStateChange = func(from, to breakerState) {
		p.log.Warn().Stringer("from", from).Stringer("to", to).Msg("publish breaker state change")
	}
	return p
}

// Publish serializes the snapshot and pushes it everywhere. Failures are
// logged, never returned to the engine loop.
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}

	if p.hub != nil {
		p.hub.Broadcast(payload)
	}

	if p.rdb == nil {
		return
	}
	err = p.breaker.execute(func() error {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.rdb.Publish(cctx, p.cfg.Channel, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		return nil
	})
	if err != nil && err != ErrCircuitOpen {
		p.log.Warn().Err(err).Msg("snapshot publish failed")
	}
	if err != nil && p.OnError != nil {
		p.OnError()
	}
}
