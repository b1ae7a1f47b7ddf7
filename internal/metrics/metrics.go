// Package metrics exposes Prometheus instrumentation for the trading
// engine and a small HTTP server for /metrics, /healthz, and the dashboard
// websocket.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	CyclesSkipped prometheus.Counter
	CycleDur      prometheus.Histogram

	SignalsTotal *prometheus.CounterVec // label: action
	OrdersTotal  *prometheus.CounterVec // label: status
	TradesClosed *prometheus.CounterVec // label: reason

	Equity        prometheus.Gauge
	DrawdownPct   prometheus.Gauge
	RiskBreaker   prometheus.Gauge // 0=trading, 1=tripped
	MakerQuotes   prometheus.Counter
	MakerPnL      prometheus.Gauge
	WSReconnects  prometheus.Counter
	TickOverflow  prometheus.Counter
	PublishErrors prometheus.Counter
}

// New creates and registers the collectors on reg; nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Total decision cycles run",
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_cycles_skipped_total",
			Help: "Ticks skipped because the previous cycle was still running",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Full decision cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals produced (by action)",
		}, []string{"action"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders placed (by terminal status)",
		}, []string{"status"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Positions closed (by exit reason)",
		}, []string{"reason"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Balance plus unrealized PnL",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_drawdown_pct",
			Help: "Current drawdown off peak equity",
		}),
		RiskBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_risk_breaker_open",
			Help: "1 while the risk circuit breaker blocks trading",
		}),
		MakerQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_maker_quotes_total",
			Help: "Market-maker quotes placed",
		}),
		MakerPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_maker_realized_pnl",
			Help: "Cumulative spread captured by the market maker",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ws_reconnects_total",
			Help: "Market-data stream reconnects",
		}),
		TickOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tick_overflow_total",
			Help: "Ticker updates dropped by the ring buffer",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_publish_errors_total",
			Help: "Dashboard snapshot publish failures",
		}),
	}
	reg.MustRegister(
		m.CyclesTotal, m.CyclesSkipped, m.CycleDur,
		m.SignalsTotal, m.OrdersTotal, m.TradesClosed,
		m.Equity, m.DrawdownPct, m.RiskBreaker,
		m.MakerQuotes, m.MakerPnL,
		m.WSReconnects, m.TickOverflow, m.PublishErrors,
	)
	return m
}

// Server exposes /metrics, /healthz, and optionally the dashboard ws.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer builds the HTTP server. wsHandler is mounted at /ws when
// non-nil.
func NewServer(addr string, wsHandler http.HandlerFunc, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "ts": time.Now().UTC()})
	})
	if wsHandler != nil {
		mux.HandleFunc("/ws", wsHandler)
	}
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: log.With().Str("component", "metrics").Logger(),
	}
}

// Start launches the server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	_ = s.srv.Shutdown(ctx)
}
