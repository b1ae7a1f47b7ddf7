// Command engine runs the perpetual-futures trading engine: market-data
// feed, decision loop, optional market maker, and the metrics/dashboard
// server, against either the simulated or the live venue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"perpenginev1/config"
	"perpenginev1/internal/advisor"
	"perpenginev1/internal/dashboard"
	"perpenginev1/internal/engine"
	"perpenginev1/internal/exchange"
	"perpenginev1/internal/feed"
	"perpenginev1/internal/journal"
	"perpenginev1/internal/logger"
	"perpenginev1/internal/metrics"
	"perpenginev1/internal/mmaker"
	"perpenginev1/internal/model"
	"perpenginev1/internal/notification"
	"perpenginev1/internal/orderbook"
	"perpenginev1/internal/ringbuf"
	"perpenginev1/internal/risk"
	"perpenginev1/internal/scorer"
)

// makerView adapts the exchange engine and order-book analyzer to the
// maker's market view.
type makerView struct {
	exch *exchange.Engine
	book *orderbook.Analyzer
}

func (v makerView) Mid() (float64, bool) {
	snap, ok := v.book.Snapshot()
	if !ok || snap.WeightedMidPrice <= 0 {
		return 0, false
	}
	return snap.WeightedMidPrice, true
}

func (v makerView) Balance() float64 { return v.exch.Balance() }

func (v makerView) MicroScore() float64 {
	snap, ok := v.book.Snapshot()
	if !ok {
		return 0.5
	}
	return snap.MicrostructureScore
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config (empty = defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init("engine", cfg.LogLevel, cfg.LogConsole)
	log.Info().Str("mode", cfg.Mode).Str("symbol", cfg.Symbol).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- persistence ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Msg("journal directory")
		}
	}
	jnl, err := journal.Open(cfg.SQLitePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("journal open failed")
	}
	defer jnl.Close()

	// ---- dashboard: redis is optional, the hub always runs ----
	var rdb *goredis.Client
	if cfg.Dashboard.RedisAddr != "" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.Dashboard.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, snapshots stay local")
		}
		cancel()
		defer rdb.Close()
	}
	hub := dashboard.NewHub(log)
	publisher := dashboard.NewPublisher(cfg.Dashboard, rdb, hub, log)

	// ---- metrics + dashboard websocket ----
	prom := metrics.New(nil)
	publisher.OnError = prom.PublishErrors.Inc
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, hub.ServeWS, log)
	metricsSrv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsSrv.Stop(shutdownCtx)
		cancel()
	}()

	// ---- venue + trading core ----
	// The maker is built after the venue but receives simulator fills, so
	// the fill hook goes through a late-bound pointer.
	var maker *mmaker.Maker
	var sim *exchange.Simulator
	var venue exchange.Venue
	if cfg.Mode == "live" {
		signer := exchange.NewSigner(cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.RecvWindowMs, nil)
		venue = exchange.NewLiveVenue(cfg.Venue.BaseURL, signer, log)
	} else {
		onFill := func(orderID string, side model.OrderSide, price, qty float64) {
			if maker != nil {
				maker.OnFill(orderID, side, price, qty)
			}
		}
		sim = exchange.NewSimulator(cfg.Sim, onFill, nil)
		venue = sim
	}

	exch := exchange.NewEngine(cfg.Exchange, venue, log, nil)
	if cfg.MakerEnabled {
		maker = mmaker.New(cfg.Maker, exch, nil)
		maker.OnQuote = prom.MakerQuotes.Inc
	}
	riskMgr := risk.New(cfg.Risk, cfg.Exchange.InitialBalance, nil)
	if maker != nil {
		maker.Gate = func() bool {
			ok, _ := riskMgr.CanTrade()
			return ok
		}
	}
	score := scorer.New(cfg.Weights)
	brain := advisor.New(cfg.Advisor, score.Threshold(), log)
	notify := notification.NewMulti(cfg.Notify, log)

	// ---- market data ----
	ticks := ringbuf.New(cfg.Loop.TickBuffer)
	book := orderbook.New(cfg.Symbol, orderbook.DefaultConfig())
	stream := feed.NewStream(cfg.Stream, log)
	stream.OnTicker = func(t model.Ticker) { ticks.Push(t) }
	stream.OnBook = book.Update
	stream.OnReconnect = prom.WSReconnects.Inc
	backfill := feed.NewBackfill(cfg.Backfill, log)

	var makerStats func() (float64, float64)
	if maker != nil {
		makerStats = func() (float64, float64) {
			qty, _ := maker.Inventory()
			return qty, maker.RealizedPnL()
		}
	}

	loop := engine.New(engine.Config{
		Symbol:         cfg.Symbol,
		Interval:       cfg.Loop.Interval,
		CandleInterval: cfg.Loop.CandleInterval,
		MTFInterval:    cfg.Loop.MTFInterval,
		HistoryLimit:   cfg.Loop.HistoryLimit,
	}, engine.Deps{
		Ticks:      ticks,
		Book:       book,
		Scorer:     score,
		Risk:       riskMgr,
		Advisor:    brain,
		Exchange:   exch,
		Journal:    jnl,
		Publish:    publisher,
		Metrics:    prom,
		Backfill:   backfill,
		Notify:     notify,
		MakerStats: makerStats,
		SetMark: func(_ string, price float64) {
			if sim != nil {
				sim.SetMark(price)
			}
		},
	}, log, nil)

	if err := loop.Warmup(ctx); err != nil {
		log.Fatal().Err(err).Msg("candle warmup failed")
	}

	// ---- run ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	if maker != nil {
		g.Go(func() error {
			maker.Run(gctx, makerView{exch: exch, book: book}, func(err error) {
				log.Warn().Err(err).Msg("maker refresh failed")
			})
			return nil
		})
	}

	err = g.Wait()
	log.Info().Err(err).Msg("shutting down, flattening positions")

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, closeErr := exch.CloseAll(closeCtx)
	if closeErr != nil {
		log.Error().Err(closeErr).Msg("flatten incomplete")
		notify.Send(closeCtx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "shutdown flatten incomplete",
			Message: closeErr.Error(),
		})
	}
	for _, r := range results {
		log.Info().Str("symbol", r.Symbol).Str("reason", r.Reason).Float64("pnl", r.PnL).Msg("position flattened")
	}
	log.Info().Float64("balance", exch.Balance()).Float64("realized", exch.RealizedPnL()).Msg("stopped")
}
