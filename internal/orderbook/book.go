// Package orderbook maintains a live depth map from streaming deltas and
// derives a microstructure snapshot from it: spread, liquidity walls,
// imbalance, and distance-weighted pressure. The analyzer is mutated only
// by the feed callback that owns it; everyone else reads value copies.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"perpenginev1/internal/model"
)

// Config holds the analyzer's tuned heuristics. The wall and imbalance
// thresholds are deliberately configurable rather than derived.
type Config struct {
	Depth              int     // top N levels per side used for metrics
	WallBreakThreshold float64 // current wall below previous×threshold ⇒ broken
	WallDominance      float64 // one wall this many times the other ⇒ support/resistance
	DepthNorm          float64 // volume that maps the depth score to 1.0
	SpreadNormBps      float64 // spread that maps the spread score to 1.0
	WideSpreadBps      float64
	TightSpreadBps     float64
	ImbalanceThreshold float64
	PressureThreshold  float64
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{
		Depth:              20,
		WallBreakThreshold: 0.5,
		WallDominance:      1.5,
		DepthNorm:          500,
		SpreadNormBps:      10,
		WideSpreadBps:      8,
		TightSpreadBps:     1,
		ImbalanceThreshold: 0.3,
		PressureThreshold:  0.4,
	}
}

// Analyzer tracks both book sides and the latest derived snapshot.
type Analyzer struct {
	mu     sync.RWMutex
	symbol string
	cfg    Config

	bids map[float64]float64 // price → size
	asks map[float64]float64

	prevBidWall float64
	prevAskWall float64

	snap  model.MicrostructureSnapshot
	ready bool
}

// New creates an analyzer for one symbol.
func New(symbol string, cfg Config) *Analyzer {
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}
	return &Analyzer{
		symbol: symbol,
		cfg:    cfg,
		bids:   make(map[float64]float64, 256),
		asks:   make(map[float64]float64, 256),
	}
}

// Update applies one book delta. A snapshot delta clears and rebuilds both
// sides; an incremental delta upserts levels, removing any with size zero.
// The microstructure snapshot is recomputed wholesale after every update,
// except when the book is momentarily crossed (treated as stale and skipped).
func (a *Analyzer) Update(delta model.BookDelta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if delta.IsSnapshot {
		clear(a.bids)
		clear(a.asks)
	}
	applySide(a.bids, delta.Bids)
	applySide(a.asks, delta.Asks)

	a.recompute(delta.TS)
}

func applySide(side map[float64]float64, levels []model.PriceLevel) {
	for _, lv := range levels {
		if lv.Size == 0 {
			delete(side, lv.Price)
		} else {
			side[lv.Price] = lv.Size
		}
	}
}

// Snapshot returns a copy of the latest derived snapshot and whether one
// has been computed yet.
func (a *Analyzer) Snapshot() (model.MicrostructureSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap, a.ready
}

// recompute rebuilds the snapshot from the top N levels. Caller holds the lock.
func (a *Analyzer) recompute(ts time.Time) {
	bids := topLevels(a.bids, a.cfg.Depth, true)
	asks := topLevels(a.asks, a.cfg.Depth, false)
	if len(bids) == 0 || len(asks) == 0 {
		return
	}

	bestBid, bestAsk := bids[0], asks[0]
	if bestBid.Price >= bestAsk.Price {
		// Crossed book: stale intermediate state, keep the last snapshot.
		return
	}

	var bidVol, askVol float64
	bidWall, askWall := bids[0], asks[0]
	for _, lv := range bids {
		bidVol += lv.Size
		if lv.Size > bidWall.Size {
			bidWall = lv
		}
	}
	for _, lv := range asks {
		askVol += lv.Size
		if lv.Size > askWall.Size {
			askWall = lv
		}
	}

	// Microprice: best bid weighted by ask size and vice versa, so the mid
	// leans toward the thinner side.
	weightedMid := (bestBid.Price*bestAsk.Size + bestAsk.Price*bestBid.Size) /
		(bestBid.Size + bestAsk.Size)
	mid := (bestBid.Price + bestAsk.Price) / 2
	spreadBps := (bestAsk.Price - bestBid.Price) / mid * 10000

	status := a.wallStatus(bidWall.Size, askWall.Size)
	a.prevBidWall = bidWall.Size
	a.prevAskWall = askWall.Size

	imbalance := 0.0
	if bidVol+askVol > 0 {
		imbalance = (bidVol - askVol) / (bidVol + askVol)
	}

	pressure := pressureOf(bids, asks, mid)

	depthScore := clamp01((bidVol + askVol) / a.cfg.DepthNorm)
	balanceScore := 1 - abs(imbalance)
	liquidityScore := (depthScore + balanceScore) / 2

	spreadScore := clamp01(spreadBps / a.cfg.SpreadNormBps)
	wallBalance := 0.0
	if bidWall.Size+askWall.Size > 0 {
		wallBalance = abs(bidWall.Size-askWall.Size) / (bidWall.Size + askWall.Size)
	}
	microScore := (spreadScore + wallBalance + abs(pressure)) / 3

	a.snap = model.MicrostructureSnapshot{
		Symbol:              a.symbol,
		WeightedMidPrice:    weightedMid,
		BestBid:             bestBid.Price,
		BestAsk:             bestAsk.Price,
		SpreadBps:           spreadBps,
		BidWallSize:         bidWall.Size,
		AskWallSize:         askWall.Size,
		BidWallPrice:        bidWall.Price,
		AskWallPrice:        askWall.Price,
		WallStatus:          status,
		Imbalance:           imbalance,
		Pressure:            pressure,
		LiquidityScore:      liquidityScore,
		MicrostructureScore: microScore,
		TS:                  ts,
	}
	a.ready = true
}

// wallStatus compares the current walls to the previous recompute.
func (a *Analyzer) wallStatus(bidWall, askWall float64) model.WallStatus {
	if a.prevBidWall > 0 && bidWall < a.prevBidWall*a.cfg.WallBreakThreshold {
		return model.WallBidBroken
	}
	if a.prevAskWall > 0 && askWall < a.prevAskWall*a.cfg.WallBreakThreshold {
		return model.WallAskBroken
	}
	if askWall > 0 && bidWall > askWall*a.cfg.WallDominance {
		return model.WallBidSupport
	}
	if bidWall > 0 && askWall > bidWall*a.cfg.WallDominance {
		return model.WallAskResistance
	}
	return model.WallBalanced
}

// pressureOf computes the distance-weighted buy/sell pressure in [-1,1].
// Levels closer to mid carry more weight.
func pressureOf(bids, asks []model.PriceLevel, mid float64) float64 {
	if mid <= 0 {
		return 0
	}
	var wBid, wAsk float64
	for _, lv := range bids {
		dist := (mid - lv.Price) / mid
		wBid += lv.Size / (1 + dist*100)
	}
	for _, lv := range asks {
		dist := (lv.Price - mid) / mid
		wAsk += lv.Size / (1 + dist*100)
	}
	if wBid+wAsk == 0 {
		return 0
	}
	return (wBid - wAsk) / (wBid + wAsk)
}

// topLevels returns the best N levels of a side, bids descending by price,
// asks ascending.
func topLevels(side map[float64]float64, n int, descending bool) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(side))
	for p, s := range side {
		levels = append(levels, model.PriceLevel{Price: p, Size: s})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if len(levels) > n {
		levels = levels[:n]
	}
	return levels
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
