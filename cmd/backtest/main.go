// Command backtest replays historical candles through the full decision
// pipeline (indicators, scorer, risk breaker, simulated venue) and prints a
// round-trip summary. One synthetic tick per candle close; order-book
// microstructure is unavailable offline, so wall and pressure factors stay
// neutral.
//
// Usage:
//
//	go run ./cmd/backtest -config config.yaml -candles 1000
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

	"perpenginev1/config"
	"perpenginev1/internal/engine"
	"perpenginev1/internal/exchange"
	"perpenginev1/internal/feed"
	"perpenginev1/internal/journal"
	"perpenginev1/internal/logger"
	"perpenginev1/internal/model"
	"perpenginev1/internal/orderbook"
	"perpenginev1/internal/ringbuf"
	"perpenginev1/internal/risk"
	"perpenginev1/internal/scorer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config (empty = defaults)")
	limit := flag.Int("candles", 1000, "candles to fetch and replay")
	dbPath := flag.String("db", "data/backtest.db", "sqlite path for replayed trades")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init("backtest", cfg.LogLevel, true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- fetch history ----
	backfill := feed.NewBackfill(cfg.Backfill, log)
	candles, err := backfill.Candles(ctx, cfg.Symbol, cfg.Loop.CandleInterval, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("candle fetch failed")
	}
	mtf, err := backfill.Candles(ctx, cfg.Symbol, cfg.Loop.MTFInterval, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("mtf candle fetch failed")
	}
	warm := cfg.Loop.HistoryLimit
	if len(candles) <= warm {
		log.Fatal().Int("got", len(candles)).Int("need", warm+1).Msg("not enough history to replay")
	}

	// ---- replayed clock ----
	clk := candles[warm-1].OpenTime
	now := func() time.Time { return clk }

	// ---- pipeline over the simulated venue ----
	if dir := filepath.Dir(*dbPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	jnl, err := journal.Open(*dbPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("journal open failed")
	}
	defer jnl.Close()

	sim := exchange.NewSimulator(cfg.Sim, nil, now)
	exch := exchange.NewEngine(cfg.Exchange, sim, log, now)
	ticks := ringbuf.New(16)

	loop := engine.New(engine.Config{
		Symbol:         cfg.Symbol,
		Interval:       cfg.Loop.Interval,
		CandleInterval: cfg.Loop.CandleInterval,
		MTFInterval:    cfg.Loop.MTFInterval,
		HistoryLimit:   cfg.Loop.HistoryLimit,
	}, engine.Deps{
		Ticks:    ticks,
		Book:     orderbook.New(cfg.Symbol, orderbook.DefaultConfig()),
		Scorer:   scorer.New(cfg.Weights),
		Risk:     risk.New(cfg.Risk, cfg.Exchange.InitialBalance, now),
		Exchange: exch,
		Journal:  jnl,
		SetMark:  func(_ string, p float64) { sim.SetMark(p) },
	}, log, now)

	// Seed with history up to the warmup cutoff; only slower-frame candles
	// from before the cutoff, so the trend label never sees the future.
	cutoff := candles[warm].OpenTime
	var mtfSeed []model.Candle
	for _, c := range mtf {
		if c.OpenTime.Before(cutoff) {
			mtfSeed = append(mtfSeed, c)
		}
	}
	loop.Seed(candles[:warm], mtfSeed)

	// ---- replay ----
	interval := time.Duration(0)
	if len(candles) > 1 {
		interval = candles[1].OpenTime.Sub(candles[0].OpenTime)
	}
	replayed := 0
	for _, c := range candles[warm:] {
		if ctx.Err() != nil {
			break
		}
		clk = c.OpenTime.Add(interval)
		ticks.Push(model.Ticker{Symbol: cfg.Symbol, LastPrice: c.Close, TS: c.OpenTime})
		loop.Cycle(ctx)
		replayed++
	}

	// Flatten whatever is still open at the end of the tape.
	if _, err := exch.CloseAll(ctx); err != nil {
		log.Warn().Err(err).Msg("final flatten incomplete")
	}

	printSummary(jnl, exch, cfg.Exchange.InitialBalance, replayed)
}

func printSummary(jnl *journal.Journal, exch *exchange.Engine, initial float64, replayed int) {
	trades, err := jnl.RecentTrades(10000)
	if err != nil {
		trades = nil
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades)) * 100
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║         BACKTEST COMPLETE            ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles replayed:  %-16d ║\n", replayed)
	fmt.Printf("║  Round trips:       %-16d ║\n", len(trades))
	fmt.Printf("║  Win rate:          %-15.1f%% ║\n", winRate)
	fmt.Printf("║  Realized PnL:      %-16.2f ║\n", exch.RealizedPnL())
	fmt.Printf("║  Final balance:     %-16.2f ║\n", exch.Balance())
	fmt.Printf("║  Return:            %-15.2f%% ║\n", (exch.Balance()-initial)/initial*100)
	fmt.Println("╚══════════════════════════════════════╝")
}
