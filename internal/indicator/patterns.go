package indicator

// FairValueGap describes a three-candle imbalance: a price range the middle
// candle's move left unfilled by the adjacent wicks.
type FairValueGap struct {
	Exists  bool
	Bullish bool
	Top     float64
	Bottom  float64
}

// Contains reports whether price sits inside the gap zone.
func (g FairValueGap) Contains(price float64) bool {
	return g.Exists && price >= g.Bottom && price <= g.Top
}

// DetectFVG inspects the last three candles for a fair-value gap.
// Bullish: the latest low is above the high from two candles back.
// Bearish: the latest high is below the low from two candles back.
func DetectFVG(highs, lows []float64) FairValueGap {
	n := len(highs)
	if n < 3 {
		return FairValueGap{}
	}
	if lows[n-1] > highs[n-3] {
		return FairValueGap{Exists: true, Bullish: true, Top: lows[n-1], Bottom: highs[n-3]}
	}
	if highs[n-1] < lows[n-3] {
		return FairValueGap{Exists: true, Bullish: false, Top: lows[n-3], Bottom: highs[n-1]}
	}
	return FairValueGap{}
}

// Divergence compares price and RSI extremes over the lookback window.
// Returns +1 for bullish divergence (price made a lower low while RSI made
// a higher low), −1 for bearish (price higher high, RSI lower high), else 0.
func Divergence(closes, rsi []float64, lookback int) int {
	n := len(closes)
	if lookback < 2 || n < lookback || len(rsi) != n {
		return 0
	}

	start := n - lookback
	priceLowIdx, priceHighIdx := start, start
	for i := start; i < n-1; i++ {
		if closes[i] < closes[priceLowIdx] {
			priceLowIdx = i
		}
		if closes[i] > closes[priceHighIdx] {
			priceHighIdx = i
		}
	}

	last := n - 1
	if closes[last] < closes[priceLowIdx] && rsi[last] > rsi[priceLowIdx] {
		return 1
	}
	if closes[last] > closes[priceHighIdx] && rsi[last] < rsi[priceHighIdx] {
		return -1
	}
	return 0
}
